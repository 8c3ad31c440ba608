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

const yahooSourceName = "yahoo"

// YahooOptions parameterise the Yahoo Finance chart fetcher.
type YahooOptions struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	SymbolSuffix string // e.g. ".NS" when serving NSE symbols
}

// Yahoo fetches regular-market prices from the Yahoo Finance chart API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a Yahoo fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Source identifies this fetcher in price records.
func (y *Yahoo) Source() string { return yahooSourceName }

// FetchQuote retrieves the regular market price for a symbol, applying the
// configured exchange suffix before the request.
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if symbol == "" {
		return Quote{}, &FetchError{Source: yahooSourceName, Symbol: symbol, Err: errors.New("symbol is required")}
	}

	wire := y.normalize(symbol)
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", y.baseURL, url.PathEscape(wire))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, &FetchError{Source: yahooSourceName, Symbol: symbol, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "dipwatcher/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return Quote{}, &FetchError{Source: yahooSourceName, Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, &FetchError{Source: yahooSourceName, Symbol: symbol, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, &FetchError{
			Source: yahooSourceName,
			Symbol: symbol,
			Err:    fmt.Errorf("yahoo api status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
		}
	}

	var parsed yahooChartResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Quote{}, &FetchError{Source: yahooSourceName, Symbol: symbol, Err: fmt.Errorf("decode chart: %w", err)}
	}
	if parsed.Chart.Error != nil {
		return Quote{}, &FetchError{
			Source: yahooSourceName,
			Symbol: symbol,
			Err:    fmt.Errorf("yahoo api error: %s", parsed.Chart.Error.Description),
		}
	}
	if len(parsed.Chart.Result) == 0 {
		return Quote{}, &FetchError{Source: yahooSourceName, Symbol: symbol, Err: errors.New("empty chart result")}
	}

	price := decimal.NewFromFloat(parsed.Chart.Result[0].Meta.RegularMarketPrice)
	if price.Sign() <= 0 {
		return Quote{}, &FetchError{Source: yahooSourceName, Symbol: symbol, Err: errors.New("regular market price missing or zero")}
	}

	return Quote{Symbol: symbol, Price: price, Source: yahooSourceName, AsOf: time.Now().UTC()}, nil
}

func (y *Yahoo) normalize(symbol string) string {
	suffix := y.opts.SymbolSuffix
	if suffix == "" || strings.HasSuffix(symbol, suffix) {
		return symbol
	}
	return symbol + suffix
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				Currency           string  `json:"currency"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

var _ QuoteFetcher = (*Yahoo)(nil)
