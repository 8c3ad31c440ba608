package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const nseSourceName = "nse"

// NSEOptions parameterise the exchange-native NSE quote fetcher.
type NSEOptions struct {
	BaseURL   string
	QuotePath string
	Timeout   time.Duration
	UserAgent string
}

// NSE fetches last traded prices from the NSE quote API.
type NSE struct {
	opts    NSEOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewNSE constructs an NSE fetcher.
func NewNSE(opts NSEOptions, logger zerolog.Logger) *NSE {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.nseindia.com/api"
	}
	if opts.QuotePath == "" {
		opts.QuotePath = "/quote-equity"
	}

	return &NSE{
		opts:    opts,
		logger:  logger.With().Str("component", "nse_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Source identifies this fetcher in price records.
func (n *NSE) Source() string { return nseSourceName }

// FetchQuote retrieves the last traded price for an NSE symbol.
func (n *NSE) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if symbol == "" {
		return Quote{}, &FetchError{Source: nseSourceName, Symbol: symbol, Err: errors.New("symbol is required")}
	}

	endpoint := fmt.Sprintf("%s%s?symbol=%s", n.baseURL, n.opts.QuotePath, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, &FetchError{Source: nseSourceName, Symbol: symbol, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(n.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "dipwatcher/1.0")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return Quote{}, &FetchError{Source: nseSourceName, Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, &FetchError{Source: nseSourceName, Symbol: symbol, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, &FetchError{
			Source: nseSourceName,
			Symbol: symbol,
			Err:    fmt.Errorf("nse api status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
		}
	}

	var parsed nseQuoteResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Quote{}, &FetchError{Source: nseSourceName, Symbol: symbol, Err: fmt.Errorf("decode quote: %w", err)}
	}

	price, err := decimal.NewFromString(parsed.PriceInfo.LastPrice.String())
	if err != nil {
		return Quote{}, &FetchError{Source: nseSourceName, Symbol: symbol, Err: fmt.Errorf("parse last price: %w", err)}
	}
	if price.Sign() <= 0 {
		return Quote{}, &FetchError{Source: nseSourceName, Symbol: symbol, Err: errors.New("last price missing or zero")}
	}

	return Quote{Symbol: symbol, Price: price, Source: nseSourceName, AsOf: time.Now().UTC()}, nil
}

type nseQuoteResponse struct {
	PriceInfo struct {
		LastPrice json.Number `json:"lastPrice"`
	} `json:"priceInfo"`
}

var _ QuoteFetcher = (*NSE)(nil)
