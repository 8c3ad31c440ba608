package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/storage"
)

// Tracker maintains the pending -> recovered | expired lifecycle of
// recovery records opened when alerts fire.
type Tracker struct {
	store    storage.RecoveryStore
	fraction decimal.Decimal
	horizon  time.Duration
	logger   zerolog.Logger
}

// Options tune recovery criteria.
type Options struct {
	// RecoveryFraction of the historical reference the price must reach
	// to count as recovered. 1.0 means full recovery.
	RecoveryFraction decimal.Decimal
	// Horizon bounds how long a pending record is watched before it expires.
	Horizon time.Duration
}

// NewTracker constructs a Tracker.
func NewTracker(store storage.RecoveryStore, opts Options, logger zerolog.Logger) *Tracker {
	fraction := opts.RecoveryFraction
	if fraction.Sign() <= 0 {
		fraction = decimal.NewFromInt(1)
	}
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}

	return &Tracker{
		store:    store,
		fraction: fraction,
		horizon:  horizon,
		logger:   logger.With().Str("component", "recovery").Logger(),
	}
}

// Open creates a pending record for a freshly raised alert, with the
// alert price as the initial trough.
func (t *Tracker) Open(ctx context.Context, alert storage.AlertRecord) error {
	record := storage.RecoveryRecord{
		AlertID:         alert.ID,
		Symbol:          alert.Symbol,
		Market:          alert.Market,
		HistoricalPrice: alert.HistoricalPrice,
		TroughPrice:     alert.Price,
		State:           storage.RecoveryPending,
	}
	if err := t.store.InsertRecovery(ctx, record); err != nil {
		return fmt.Errorf("open recovery for alert %d: %w", alert.ID, err)
	}
	return nil
}

// Observe advances every pending record of a symbol with a new price:
// a lower price deepens the trough, a price at or past the recovery
// target finalizes the record. Finalized records are returned so the
// caller can announce them.
func (t *Tracker) Observe(ctx context.Context, symbol, mkt string, price decimal.Decimal, now time.Time) ([]storage.RecoveryRecord, error) {
	records, err := t.store.PendingRecoveries(ctx, symbol, mkt)
	if err != nil {
		return nil, fmt.Errorf("pending recoveries for %s/%s: %w", symbol, mkt, err)
	}

	var finalized []storage.RecoveryRecord
	for _, record := range records {
		trough := record.TroughPrice
		if price.LessThan(trough) {
			if err := t.store.UpdateTrough(ctx, record.AlertID, price); err != nil {
				return finalized, err
			}
			trough = price
		}

		target := record.HistoricalPrice.Mul(t.fraction)
		if price.LessThan(target) {
			continue
		}

		pct := price.Sub(trough).Div(trough).Mul(decimal.NewFromInt(100))
		duration := int64(now.Sub(record.CreatedAt) / time.Second)
		recoveredAt := now
		record.TroughPrice = trough
		record.RecoveryPrice = &price
		record.RecoveredAt = &recoveredAt
		record.RecoveryPct = &pct
		record.DurationSeconds = &duration
		record.State = storage.RecoveryRecovered

		if err := t.store.FinalizeRecovery(ctx, record); err != nil {
			return finalized, err
		}
		finalized = append(finalized, record)
		t.logger.Info().
			Str("symbol", symbol).
			Str("market", mkt).
			Int64("alert_id", record.AlertID).
			Str("recovery_pct", pct.StringFixed(2)).
			Msg("price recovered")
	}
	return finalized, nil
}

// Expire abandons pending records older than the horizon.
func (t *Tracker) Expire(ctx context.Context, mkt string, now time.Time) (int64, error) {
	expired, err := t.store.ExpireRecoveries(ctx, mkt, now.Add(-t.horizon))
	if err != nil {
		return 0, fmt.Errorf("expire recoveries for %s: %w", mkt, err)
	}
	if expired > 0 {
		t.logger.Info().Str("market", mkt).Int64("expired", expired).Msg("recovery records expired")
	}
	return expired, nil
}
