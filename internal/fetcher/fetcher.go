package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single successful price observation from one source.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	Source string
	AsOf   time.Time
}

// QuoteFetcher retrieves the current price for one symbol from one source.
type QuoteFetcher interface {
	Source() string
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

// ErrAllSourcesFailed marks exhaustion of a fallback chain.
var ErrAllSourcesFailed = errors.New("all price sources failed")

// FetchError wraps a source-level failure with its origin.
type FetchError struct {
	Source string
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s from %s: %v", e.Symbol, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
