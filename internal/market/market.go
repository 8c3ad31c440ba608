package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SymbolType classifies a watched instrument.
type SymbolType string

const (
	TypeIndex      SymbolType = "INDEX"
	TypeStock      SymbolType = "STOCK"
	TypeMutualFund SymbolType = "MUTUAL_FUND"
)

// ParseSymbolType validates a symbol type string.
func ParseSymbolType(v string) (SymbolType, error) {
	switch SymbolType(strings.ToUpper(v)) {
	case TypeIndex:
		return TypeIndex, nil
	case TypeStock:
		return TypeStock, nil
	case TypeMutualFund:
		return TypeMutualFund, nil
	}
	return "", fmt.Errorf("unknown symbol type %q", v)
}

// Market models a trading venue with fixed weekday open hours in its own timezone.
type Market struct {
	ID       string
	Currency string

	location *time.Location
	weekdays map[time.Weekday]bool
	openMin  int
	closeMin int
}

// Options parameterise a market definition.
type Options struct {
	ID       string
	Currency string
	Timezone string
	Open     string // "HH:MM" wall clock in Timezone
	Close    string
	Weekdays []time.Weekday // defaults to Mon-Fri
}

// New builds a Market from options, validating timezone and clock values.
func New(opts Options) (*Market, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("market id is required")
	}

	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("market %s: load timezone %q: %w", opts.ID, opts.Timezone, err)
	}

	openMin, err := parseClock(opts.Open)
	if err != nil {
		return nil, fmt.Errorf("market %s: open time: %w", opts.ID, err)
	}
	closeMin, err := parseClock(opts.Close)
	if err != nil {
		return nil, fmt.Errorf("market %s: close time: %w", opts.ID, err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("market %s: close %s must be after open %s", opts.ID, opts.Close, opts.Open)
	}

	weekdays := opts.Weekdays
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	mask := make(map[time.Weekday]bool, len(weekdays))
	for _, d := range weekdays {
		mask[d] = true
	}

	return &Market{
		ID:       opts.ID,
		Currency: opts.Currency,
		location: loc,
		weekdays: mask,
		openMin:  openMin,
		closeMin: closeMin,
	}, nil
}

// Location returns the market timezone.
func (m *Market) Location() *time.Location {
	return m.location
}

// IsOpen reports whether the market trades at the given instant.
func (m *Market) IsOpen(now time.Time) bool {
	local := now.In(m.location)
	if !m.weekdays[local.Weekday()] {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= m.openMin && minutes < m.closeMin
}

// NextTransition returns the next open or close instant after now.
func (m *Market) NextTransition(now time.Time) time.Time {
	local := now.In(m.location)

	if m.IsOpen(now) {
		return m.clockOn(local, m.closeMin)
	}

	// Next open: today if before the bell, otherwise scan forward.
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		if !m.weekdays[day.Weekday()] {
			continue
		}
		open := m.clockOn(day, m.openMin)
		if open.After(now) {
			return open
		}
	}
	// Unreachable with a non-empty weekday mask.
	return m.clockOn(local.AddDate(0, 0, 7), m.openMin)
}

// TradingDate returns the market-local calendar date for a timestamp,
// normalised to midnight UTC for use as a snapshot key.
func (m *Market) TradingDate(now time.Time) time.Time {
	local := now.In(m.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func (m *Market) clockOn(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, m.location)
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour*60 + minute, nil
}
