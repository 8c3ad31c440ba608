package health

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/storage"
)

type fakeHealthStore struct {
	alerts []storage.AlertRecord
	stats  storage.RecoveryStats
	points []storage.PricePoint
}

func (f *fakeHealthStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	return alert, nil
}

func (f *fakeHealthStore) MarkAlertNotified(context.Context, int64) error { return nil }

func (f *fakeHealthStore) ListRecentAlerts(_ context.Context, mkt string, limit int) ([]storage.AlertRecord, error) {
	var out []storage.AlertRecord
	for _, a := range f.alerts {
		if mkt == "" || a.Market == mkt {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeHealthStore) ListAlertsForSymbol(context.Context, string, string, time.Time) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (f *fakeHealthStore) CountAlerts(_ context.Context, mkt string, since time.Time) (int64, int64, error) {
	var total, critical int64
	for _, a := range f.alerts {
		if a.Market != mkt || a.Timestamp.Before(since) {
			continue
		}
		total++
		if a.Critical {
			critical++
		}
	}
	return total, critical, nil
}

func (f *fakeHealthStore) InsertRecovery(context.Context, storage.RecoveryRecord) error { return nil }

func (f *fakeHealthStore) PendingRecoveries(context.Context, string, string) ([]storage.RecoveryRecord, error) {
	return nil, nil
}

func (f *fakeHealthStore) UpdateTrough(context.Context, int64, decimal.Decimal) error { return nil }

func (f *fakeHealthStore) FinalizeRecovery(context.Context, storage.RecoveryRecord) error { return nil }

func (f *fakeHealthStore) ExpireRecoveries(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeHealthStore) RecoveryStats(context.Context, string, time.Time) (storage.RecoveryStats, error) {
	return f.stats, nil
}

func (f *fakeHealthStore) InsertPricePoint(context.Context, storage.PricePoint) error { return nil }

func (f *fakeHealthStore) ListPricePoints(context.Context, string, string, time.Time, time.Time) ([]storage.PricePoint, error) {
	return nil, nil
}

func (f *fakeHealthStore) ListRecentPricePoints(context.Context, string, time.Time) ([]storage.PricePoint, error) {
	return f.points, nil
}

func (f *fakeHealthStore) ActiveSymbols(context.Context, string) ([]storage.WatchlistSymbol, error) {
	return nil, nil
}

func (f *fakeHealthStore) CountActiveSymbols(context.Context, string) (int64, error) { return 0, nil }

var (
	_ storage.AlertStore      = (*fakeHealthStore)(nil)
	_ storage.RecoveryStore   = (*fakeHealthStore)(nil)
	_ storage.PricePointStore = (*fakeHealthStore)(nil)
	_ storage.WatchlistStore  = (*fakeHealthStore)(nil)
)

func newReporter(store *fakeHealthStore) *Reporter {
	return NewReporter(store, store, store, store, zerolog.Nop())
}

func series(symbol string, prices ...int64) []storage.PricePoint {
	now := time.Now()
	out := make([]storage.PricePoint, len(prices))
	for i, p := range prices {
		out[i] = storage.PricePoint{
			Symbol:    symbol,
			Market:    "NSE",
			Price:     decimal.NewFromInt(p),
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestAggregatesComputesRatesAndFrequency(t *testing.T) {
	store := &fakeHealthStore{
		alerts: []storage.AlertRecord{
			{Market: "NSE", Timestamp: time.Now().Add(-time.Hour)},
			{Market: "NSE", Timestamp: time.Now().Add(-2 * time.Hour)},
		},
		stats: storage.RecoveryStats{Recovered: 3, Expired: 1, MeanRecoverySeconds: 3600},
	}
	reporter := newReporter(store)

	agg, err := reporter.Aggregates(context.Background(), "NSE", 2*24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Aggregates: %v", err)
	}
	if agg.TotalAlerts != 2 {
		t.Fatalf("total alerts = %d, want 2", agg.TotalAlerts)
	}
	if agg.AlertFrequency != 1 {
		t.Fatalf("alert frequency = %f, want 1 per day", agg.AlertFrequency)
	}
	if agg.RecoveryRate != 0.75 {
		t.Fatalf("recovery rate = %f, want 0.75", agg.RecoveryRate)
	}
	if agg.MeanRecoverySeconds != 3600 {
		t.Fatalf("mean recovery = %f, want 3600", agg.MeanRecoverySeconds)
	}
}

func TestSentimentClassification(t *testing.T) {
	cases := []struct {
		name string
		agg  Aggregates
		want string
	}{
		{"fearfulOnCritical", Aggregates{TotalAlerts: 1, CriticalAlerts: 1}, "fearful"},
		{"bearishOnHighFrequency", Aggregates{TotalAlerts: 20, AlertFrequency: 6}, "bearish"},
		{"recoveringOnHighRecoveryRate", Aggregates{TotalAlerts: 3, RecoveryRate: 0.7}, "recovering"},
		{"cautiousOnSomeAlerts", Aggregates{TotalAlerts: 1, RecoveryRate: 0.2}, "cautious"},
		{"steadyWhenQuiet", Aggregates{}, "steady"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifySentiment(tc.agg); got != tc.want {
				t.Fatalf("classifySentiment = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAttentionFlagsDayDrop(t *testing.T) {
	store := &fakeHealthStore{points: series("TCS", 100, 98, 95)}
	reporter := newReporter(store)

	items, err := reporter.Attention(context.Background(), "NSE", time.Now())
	if err != nil {
		t.Fatalf("Attention: %v", err)
	}

	found := false
	for _, item := range items {
		if item.Symbol == "TCS" && item.Reason == "nearing drop threshold" {
			found = true
			if item.Severity != "watch" {
				t.Fatalf("5%% day drop severity = %q, want watch", item.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected a near-threshold item, got %+v", items)
	}
}

func TestAttentionElevatedOnDeepDrop(t *testing.T) {
	store := &fakeHealthStore{points: series("SBIN", 100, 95, 88)}
	reporter := newReporter(store)

	items, err := reporter.Attention(context.Background(), "NSE", time.Now())
	if err != nil {
		t.Fatalf("Attention: %v", err)
	}

	for _, item := range items {
		if item.Symbol == "SBIN" && item.Reason == "nearing drop threshold" {
			if item.Severity != "elevated" {
				t.Fatalf("12%% day drop severity = %q, want elevated", item.Severity)
			}
			return
		}
	}
	t.Fatalf("expected an elevated item, got %+v", items)
}

func TestAttentionIncludesRecentAlerts(t *testing.T) {
	store := &fakeHealthStore{
		alerts: []storage.AlertRecord{
			{Symbol: "INFY", Market: "NSE", Critical: true, DropPct: decimal.NewFromInt(22), Timestamp: time.Now().Add(-time.Hour)},
		},
	}
	reporter := newReporter(store)

	items, err := reporter.Attention(context.Background(), "NSE", time.Now())
	if err != nil {
		t.Fatalf("Attention: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Severity != "critical" || items[0].Reason != "recently alerted" {
		t.Fatalf("unexpected item %+v", items[0])
	}
}

func TestSeriesVolatilityFlatSeriesIsZero(t *testing.T) {
	if vol := seriesVolatility(series("X", 100, 100, 100, 100)); vol != 0 {
		t.Fatalf("flat series volatility = %f, want 0", vol)
	}
}

func TestSeriesVolatilityDetectsSwings(t *testing.T) {
	vol := seriesVolatility(series("X", 100, 105, 95, 104, 96))
	if vol < 2 {
		t.Fatalf("swinging series volatility = %f, want >= 2", vol)
	}
}
