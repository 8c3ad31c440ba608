package fetcher

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Chain tries an ordered list of fetchers until one succeeds. A single call
// makes one pass over the chain; retrying across ticks is the scheduler's
// concern, not the adapter's.
type Chain struct {
	fetchers []QuoteFetcher
	logger   zerolog.Logger
}

// NewChain builds a fallback chain from ordered fetchers.
func NewChain(logger zerolog.Logger, fetchers ...QuoteFetcher) *Chain {
	return &Chain{
		fetchers: fetchers,
		logger:   logger.With().Str("component", "fetch_chain").Logger(),
	}
}

// Source names the chain after its members.
func (c *Chain) Source() string {
	names := make([]string, len(c.fetchers))
	for i, f := range c.fetchers {
		names[i] = f.Source()
	}
	return strings.Join(names, ">")
}

// FetchQuote returns the first successful quote in chain order.
func (c *Chain) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if len(c.fetchers) == 0 {
		return Quote{}, &FetchError{Source: "chain", Symbol: symbol, Err: errors.New("no sources configured")}
	}

	var failures []error
	for _, f := range c.fetchers {
		if ctx.Err() != nil {
			return Quote{}, ctx.Err()
		}

		quote, err := f.FetchQuote(ctx, symbol)
		if err == nil {
			return quote, nil
		}
		c.logger.Warn().Err(err).Str("symbol", symbol).Str("source", f.Source()).Msg("source failed, trying fallback")
		failures = append(failures, err)
	}

	return Quote{}, &FetchError{
		Source: c.Source(),
		Symbol: symbol,
		Err:    errors.Join(append([]error{ErrAllSourcesFailed}, failures...)...),
	}
}

var _ QuoteFetcher = (*Chain)(nil)
