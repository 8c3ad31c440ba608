package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const amfiSourceName = "amfi"

// AMFIOptions parameterise the mutual-fund NAV fetcher.
type AMFIOptions struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// AMFI serves mutual-fund NAVs from the AMFI NAVAll feed. The feed is one
// large semicolon-separated file covering every scheme, so a single download
// is cached and shared across all fund symbols on a tick.
type AMFI struct {
	opts   AMFIOptions
	logger zerolog.Logger
	client *http.Client

	mu        sync.Mutex
	navs      map[string]decimal.Decimal
	fetchedAt time.Time
}

// NewAMFI constructs an AMFI NAV fetcher.
func NewAMFI(opts AMFIOptions, logger zerolog.Logger) *AMFI {
	if opts.URL == "" {
		opts.URL = "https://www.amfiindia.com/spages/NAVAll.txt"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}

	return &AMFI{
		opts:   opts,
		logger: logger.With().Str("component", "amfi_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Source identifies this fetcher in price records.
func (a *AMFI) Source() string { return amfiSourceName }

// FetchQuote returns the NAV for an AMFI scheme code.
func (a *AMFI) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if symbol == "" {
		return Quote{}, &FetchError{Source: amfiSourceName, Symbol: symbol, Err: errors.New("scheme code is required")}
	}

	navs, err := a.table(ctx)
	if err != nil {
		return Quote{}, &FetchError{Source: amfiSourceName, Symbol: symbol, Err: err}
	}

	nav, ok := navs[symbol]
	if !ok {
		return Quote{}, &FetchError{Source: amfiSourceName, Symbol: symbol, Err: errors.New("scheme code not present in NAV feed")}
	}

	return Quote{Symbol: symbol, Price: nav, Source: amfiSourceName, AsOf: time.Now().UTC()}, nil
}

func (a *AMFI) table(ctx context.Context) (map[string]decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.navs != nil && time.Since(a.fetchedAt) < a.opts.CacheTTL {
		return a.navs, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.URL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("amfi feed status %d", resp.StatusCode)
	}

	navs, err := parseNAVFeed(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(navs) == 0 {
		return nil, errors.New("amfi feed contained no NAV rows")
	}

	a.navs = navs
	a.fetchedAt = time.Now()
	a.logger.Debug().Int("schemes", len(navs)).Msg("refreshed AMFI NAV table")
	return a.navs, nil
}

// parseNAVFeed reads the NAVAll format: scheme code; ISINs; name; NAV; date.
// Header lines, category banners, and blank lines carry no semicolons or a
// non-numeric NAV column and are skipped.
func parseNAVFeed(r io.Reader) (map[string]decimal.Decimal, error) {
	navs := make(map[string]decimal.Decimal)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ";")
		if len(fields) < 5 {
			continue
		}
		code := strings.TrimSpace(fields[0])
		navRaw := strings.TrimSpace(fields[4])
		if code == "" || navRaw == "" {
			continue
		}
		nav, err := decimal.NewFromString(navRaw)
		if err != nil || nav.Sign() <= 0 {
			continue
		}
		navs[code] = nav
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan NAV feed: %w", err)
	}
	return navs, nil
}

var _ QuoteFetcher = (*AMFI)(nil)
