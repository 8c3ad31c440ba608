package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNSEFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "INFY" {
			t.Fatalf("symbol query = %q, want INFY", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"priceInfo":{"lastPrice":1432.55}}`))
	}))
	defer srv.Close()

	n := NewNSE(NSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	quote, err := n.FetchQuote(context.Background(), "INFY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("1432.55")) {
		t.Fatalf("price = %s, want 1432.55", quote.Price)
	}
	if quote.Source != "nse" {
		t.Fatalf("source = %q, want nse", quote.Source)
	}
}

func TestNSEFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewNSE(NSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := n.FetchQuote(context.Background(), "INFY")
	if err == nil {
		t.Fatal("expected error on HTTP 503")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
}

func TestNSEFetchZeroPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"priceInfo":{"lastPrice":0}}`))
	}))
	defer srv.Close()

	n := NewNSE(NSEOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := n.FetchQuote(context.Background(), "INFY"); err == nil {
		t.Fatal("zero price should be rejected")
	}
}

func TestYahooFetchAppliesSuffix(t *testing.T) {
	var requestedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chart": map[string]any{
				"result": []map[string]any{
					{"meta": map[string]any{"symbol": "INFY.NS", "regularMarketPrice": 1431.9, "currency": "INR"}},
				},
			},
		})
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second, SymbolSuffix: ".NS"}, noopLogger())
	quote, err := y.FetchQuote(context.Background(), "INFY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(requestedPath, "/INFY.NS") {
		t.Fatalf("request path %q should carry the .NS suffix", requestedPath)
	}
	// The quote keeps the caller's symbol, not the wire symbol.
	if quote.Symbol != "INFY" {
		t.Fatalf("quote symbol = %q, want INFY", quote.Symbol)
	}
}

func TestYahooFetchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := y.FetchQuote(context.Background(), "NOPE"); err == nil {
		t.Fatal("chart error payload should surface as an error")
	}
}

const navFixture = `Scheme Code;ISIN Div Payout/ ISIN Growth;ISIN Div Reinvestment;Scheme Name;Net Asset Value;Date

Open Ended Schemes(Debt Scheme - Banking and PSU Fund)

119551;INF209KA12Z1;INF209KA13Z9;Some Debt Fund - Growth;103.2711;26-Aug-2026
120503;INF204K01YV6;-;Some Index Fund - Direct Plan;171.4801;26-Aug-2026
bogus line without separators
140228;INF204K01K15;-;Zero NAV Fund;0.0000;26-Aug-2026
`

func TestAMFIFetchAndCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(navFixture))
	}))
	defer srv.Close()

	a := NewAMFI(AMFIOptions{URL: srv.URL, Timeout: time.Second, CacheTTL: time.Minute}, noopLogger())

	quote, err := a.FetchQuote(context.Background(), "119551")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Price.Equal(decimal.RequireFromString("103.2711")) {
		t.Fatalf("nav = %s, want 103.2711", quote.Price)
	}

	// Second scheme within TTL must reuse the cached table.
	if _, err := a.FetchQuote(context.Background(), "120503"); err != nil {
		t.Fatalf("cached lookup failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("feed downloaded %d times, want 1", hits)
	}

	// Zero-NAV rows are dropped during parsing.
	if _, err := a.FetchQuote(context.Background(), "140228"); err == nil {
		t.Fatal("zero NAV scheme should not resolve")
	}
	if _, err := a.FetchQuote(context.Background(), "999999"); err == nil {
		t.Fatal("unknown scheme should not resolve")
	}
}

type stubFetcher struct {
	name  string
	quote Quote
	err   error
	calls int
}

func (s *stubFetcher) Source() string { return s.name }

func (s *stubFetcher) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	s.calls++
	if s.err != nil {
		return Quote{}, s.err
	}
	q := s.quote
	q.Symbol = symbol
	return q, nil
}

func TestChainFallsBackOnce(t *testing.T) {
	primary := &stubFetcher{name: "nse", err: errors.New("upstream 503")}
	fallback := &stubFetcher{name: "yahoo", quote: Quote{Price: decimal.NewFromInt(100), Source: "yahoo"}}

	chain := NewChain(noopLogger(), primary, fallback)
	quote, err := chain.FetchQuote(context.Background(), "INFY")
	if err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if quote.Source != "yahoo" {
		t.Fatalf("quote source = %q, want yahoo", quote.Source)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}
}

func TestChainExhaustion(t *testing.T) {
	primary := &stubFetcher{name: "nse", err: errors.New("timeout")}
	fallback := &stubFetcher{name: "yahoo", err: errors.New("rate limited")}

	chain := NewChain(noopLogger(), primary, fallback)
	_, err := chain.FetchQuote(context.Background(), "INFY")
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}
}

func TestChainPrimarySuccessSkipsFallback(t *testing.T) {
	primary := &stubFetcher{name: "nse", quote: Quote{Price: decimal.NewFromInt(50), Source: "nse"}}
	fallback := &stubFetcher{name: "yahoo"}

	chain := NewChain(noopLogger(), primary, fallback)
	if _, err := chain.FetchQuote(context.Background(), "INFY"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback should not be called when primary succeeds")
	}
}
