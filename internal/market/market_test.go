package market

import (
	"testing"
	"time"
)

func nseMarket(t *testing.T) *Market {
	t.Helper()
	m, err := New(Options{
		ID:       "NSE",
		Currency: "₹",
		Timezone: "Asia/Kolkata",
		Open:     "09:15",
		Close:    "15:30",
	})
	if err != nil {
		t.Fatalf("build NSE market: %v", err)
	}
	return m
}

func TestIsOpenWithinSession(t *testing.T) {
	m := nseMarket(t)
	loc := m.Location()

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid session", time.Date(2025, 3, 12, 11, 0, 0, 0, loc), true},
		{"at the open bell", time.Date(2025, 3, 12, 9, 15, 0, 0, loc), true},
		{"before open", time.Date(2025, 3, 12, 9, 0, 0, 0, loc), false},
		{"at close", time.Date(2025, 3, 12, 15, 30, 0, 0, loc), false},
		{"saturday", time.Date(2025, 3, 15, 11, 0, 0, 0, loc), false},
		{"sunday", time.Date(2025, 3, 16, 11, 0, 0, 0, loc), false},
	}

	for _, tc := range cases {
		if got := m.IsOpen(tc.at); got != tc.want {
			t.Errorf("%s: IsOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsOpenConvertsTimezone(t *testing.T) {
	m := nseMarket(t)
	// 06:00 UTC is 11:30 IST, inside the session.
	at := time.Date(2025, 3, 12, 6, 0, 0, 0, time.UTC)
	if !m.IsOpen(at) {
		t.Fatal("expected market open for 06:00 UTC on a weekday")
	}
}

func TestNextTransitionDuringSession(t *testing.T) {
	m := nseMarket(t)
	loc := m.Location()

	at := time.Date(2025, 3, 12, 11, 0, 0, 0, loc)
	next := m.NextTransition(at)
	want := time.Date(2025, 3, 12, 15, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next transition = %v, want close %v", next, want)
	}
}

func TestNextTransitionOverWeekend(t *testing.T) {
	m := nseMarket(t)
	loc := m.Location()

	// Friday evening after close rolls to Monday's open.
	at := time.Date(2025, 3, 14, 18, 0, 0, 0, loc)
	next := m.NextTransition(at)
	want := time.Date(2025, 3, 17, 9, 15, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next transition = %v, want Monday open %v", next, want)
	}
}

func TestTradingDateUsesMarketLocalDay(t *testing.T) {
	m := nseMarket(t)
	// 20:00 UTC on March 12 is already March 13 in Kolkata.
	at := time.Date(2025, 3, 12, 20, 0, 0, 0, time.UTC)
	got := m.TradingDate(at)
	want := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("trading date = %v, want %v", got, want)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Options{ID: "X", Timezone: "Not/AZone", Open: "09:00", Close: "16:00"}); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
	if _, err := New(Options{ID: "X", Timezone: "UTC", Open: "16:00", Close: "09:00"}); err == nil {
		t.Fatal("expected error for close before open")
	}
	if _, err := New(Options{ID: "X", Timezone: "UTC", Open: "9am", Close: "16:00"}); err == nil {
		t.Fatal("expected error for malformed clock value")
	}
}

func TestParseSymbolType(t *testing.T) {
	if _, err := ParseSymbolType("STOCK"); err != nil {
		t.Fatalf("STOCK should parse: %v", err)
	}
	if _, err := ParseSymbolType("mutual_fund"); err != nil {
		t.Fatalf("lowercase should parse: %v", err)
	}
	if _, err := ParseSymbolType("BOND"); err == nil {
		t.Fatal("BOND should be rejected")
	}
}
