package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one successful fetch, immutable once written.
type PricePoint struct {
	Symbol    string
	Market    string
	Price     decimal.Decimal
	Source    string
	Timestamp time.Time
}

// DailySnapshot is the canonical closing price for one trading day,
// one row per (symbol, market, date).
type DailySnapshot struct {
	Symbol     string
	Market     string
	Date       time.Time
	ClosePrice decimal.Decimal
}

// WatchlistSymbol is owned by the watchlist management layer; the core
// only reads active rows per market.
type WatchlistSymbol struct {
	Symbol   string
	Market   string
	Type     string
	Exchange string
	Active   bool
}

// AlertRecord captures a raised drop alert. Immutable after creation
// except the notified flag.
type AlertRecord struct {
	ID              int64
	Symbol          string
	Market          string
	ThresholdPct    decimal.Decimal
	Timeframe       string
	DropPct         decimal.Decimal
	Price           decimal.Decimal
	HistoricalPrice decimal.Decimal
	Timestamp       time.Time
	Critical        bool
	Notified        bool
	CreatedAt       time.Time
}

// CooldownKey identifies one suppression ledger entry.
type CooldownKey struct {
	Symbol       string
	Market       string
	ThresholdPct decimal.Decimal
	Timeframe    string
}

// CooldownEntry suppresses re-raising the same alert key while active.
// The historical reference at alert time is carried so the recovery
// stand-down rule can be evaluated without re-resolving history.
type CooldownEntry struct {
	CooldownKey
	HistoricalPrice decimal.Decimal
	LastAlertAt     time.Time
	Active          bool
}

// RecoveryState enumerates the recovery record lifecycle.
type RecoveryState string

const (
	RecoveryPending   RecoveryState = "pending"
	RecoveryRecovered RecoveryState = "recovered"
	RecoveryExpired   RecoveryState = "expired"
)

// RecoveryRecord tracks whether and how a symbol recovered after an alert.
type RecoveryRecord struct {
	AlertID         int64
	Symbol          string
	Market          string
	HistoricalPrice decimal.Decimal
	TroughPrice     decimal.Decimal
	RecoveryPrice   *decimal.Decimal
	RecoveredAt     *time.Time
	RecoveryPct     *decimal.Decimal
	DurationSeconds *int64
	State           RecoveryState
	CreatedAt       time.Time
}

// RecoveryStats aggregates recovery outcomes for health reporting.
type RecoveryStats struct {
	Total               int64
	Recovered           int64
	Expired             int64
	Pending             int64
	MeanRecoverySeconds float64
}
