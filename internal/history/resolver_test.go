package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/detector"
	"dipwatcher/internal/market"
	"dipwatcher/internal/storage"
)

type fakeSnapshotStore struct {
	snapshots []storage.DailySnapshot
}

func (f *fakeSnapshotStore) UpsertSnapshot(_ context.Context, snapshot storage.DailySnapshot) error {
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func (f *fakeSnapshotStore) SnapshotOnOrBefore(_ context.Context, symbol, market string, target, earliest time.Time) (storage.DailySnapshot, error) {
	var best storage.DailySnapshot
	found := false
	for _, s := range f.snapshots {
		if s.Symbol != symbol || s.Market != market {
			continue
		}
		if s.Date.After(target) || s.Date.Before(earliest) {
			continue
		}
		if !found || s.Date.After(best.Date) {
			best = s
			found = true
		}
	}
	if !found {
		return storage.DailySnapshot{}, storage.ErrNoSnapshot
	}
	return best, nil
}

var _ storage.SnapshotStore = (*fakeSnapshotStore)(nil)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestReferenceExactDay(t *testing.T) {
	store := &fakeSnapshotStore{snapshots: []storage.DailySnapshot{
		{Symbol: "NIFTY 50", Market: "NSE", Date: day(2026, time.March, 9), ClosePrice: decimal.NewFromInt(22000)},
	}}
	resolver := NewResolver(store, Options{}, zerolog.Nop())

	now := time.Date(2026, time.March, 10, 11, 30, 0, 0, time.UTC)
	ref, err := resolver.Reference(context.Background(), "NIFTY 50", "NSE", detector.TimeframeDay, now)
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if !ref.Equal(decimal.NewFromInt(22000)) {
		t.Fatalf("reference = %s, want 22000", ref)
	}
}

func TestReferenceFallsBackWithinTolerance(t *testing.T) {
	// Target lands on a Sunday; Friday's close is within the window.
	store := &fakeSnapshotStore{snapshots: []storage.DailySnapshot{
		{Symbol: "TCS", Market: "NSE", Date: day(2026, time.March, 6), ClosePrice: decimal.NewFromInt(4100)},
	}}
	resolver := NewResolver(store, Options{Tolerance: 5 * 24 * time.Hour}, zerolog.Nop())

	now := time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)
	ref, err := resolver.Reference(context.Background(), "TCS", "NSE", detector.TimeframeDay, now)
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if !ref.Equal(decimal.NewFromInt(4100)) {
		t.Fatalf("reference = %s, want 4100", ref)
	}
}

func TestReferencePrefersLatestInWindow(t *testing.T) {
	store := &fakeSnapshotStore{snapshots: []storage.DailySnapshot{
		{Symbol: "INFY", Market: "NSE", Date: day(2026, time.February, 5), ClosePrice: decimal.NewFromInt(1500)},
		{Symbol: "INFY", Market: "NSE", Date: day(2026, time.February, 9), ClosePrice: decimal.NewFromInt(1550)},
	}}
	resolver := NewResolver(store, Options{}, zerolog.Nop())

	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	ref, err := resolver.Reference(context.Background(), "INFY", "NSE", detector.TimeframeMonth, now)
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if !ref.Equal(decimal.NewFromInt(1550)) {
		t.Fatalf("reference = %s, want the most recent in-window close 1550", ref)
	}
}

func TestReferenceUnavailableOutsideTolerance(t *testing.T) {
	store := &fakeSnapshotStore{snapshots: []storage.DailySnapshot{
		{Symbol: "SBIN", Market: "NSE", Date: day(2026, time.January, 1), ClosePrice: decimal.NewFromInt(800)},
	}}
	resolver := NewResolver(store, Options{Tolerance: 5 * 24 * time.Hour}, zerolog.Nop())

	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	_, err := resolver.Reference(context.Background(), "SBIN", "NSE", detector.TimeframeWeek, now)
	if !errors.Is(err, detector.ErrNoReference) {
		t.Fatalf("expected ErrNoReference, got %v", err)
	}
}

func TestReferenceUsesMarketLocalDate(t *testing.T) {
	// Auckland sits ahead of UTC, so a UTC afternoon is already the next
	// local trading day. The target must follow the market's calendar,
	// which is also the date snapshots are keyed under.
	nzx, err := market.New(market.Options{
		ID:       "NZX",
		Currency: "NZ$",
		Timezone: "Pacific/Auckland",
		Open:     "10:00",
		Close:    "16:45",
	})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}

	store := &fakeSnapshotStore{snapshots: []storage.DailySnapshot{
		{Symbol: "FPH", Market: "NZX", Date: day(2026, time.March, 9), ClosePrice: decimal.NewFromInt(30)},
		{Symbol: "FPH", Market: "NZX", Date: day(2026, time.March, 10), ClosePrice: decimal.NewFromInt(31)},
	}}
	resolver := NewResolver(store, Options{Markets: []*market.Market{nzx}}, zerolog.Nop())

	// 2026-03-10 14:00 UTC is 2026-03-11 in Auckland, so one day back
	// lands on the local 10th, not the UTC 10th minus a day.
	now := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	ref, err := resolver.Reference(context.Background(), "FPH", "NZX", detector.TimeframeDay, now)
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if !ref.Equal(decimal.NewFromInt(31)) {
		t.Fatalf("reference = %s, want the market-local previous close 31", ref)
	}
}

func TestReferenceYearUsesCalendarArithmetic(t *testing.T) {
	store := &fakeSnapshotStore{snapshots: []storage.DailySnapshot{
		{Symbol: "NIFTY 50", Market: "NSE", Date: day(2025, time.March, 10), ClosePrice: decimal.NewFromInt(20000)},
	}}
	resolver := NewResolver(store, Options{}, zerolog.Nop())

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	ref, err := resolver.Reference(context.Background(), "NIFTY 50", "NSE", detector.TimeframeYear, now)
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if !ref.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("reference = %s, want 20000", ref)
	}
}
