package alerting

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"dipwatcher/internal/market"
	"dipwatcher/internal/storage"
)

// Dispatcher formats and delivers alert and recovery messages, keeping
// delivery idempotent per alert id via the record's notified flag.
type Dispatcher struct {
	notifier Notifier
	alerts   storage.AlertStore
	logger   zerolog.Logger
}

// NewDispatcher constructs a Dispatcher. notifier may be nil when no
// channel is configured; Dispatch is then a logged no-op.
func NewDispatcher(notifier Notifier, alerts storage.AlertStore, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		alerts:   alerts,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch sends one alert. Re-invoking for an already-notified alert is
// a no-op. A send failure is returned for independent retry but never
// unwinds the alert record itself.
func (d *Dispatcher) Dispatch(ctx context.Context, alert storage.AlertRecord, mkt *market.Market) error {
	if alert.Notified {
		d.logger.Debug().Int64("alert_id", alert.ID).Msg("alert already notified, skipping")
		return nil
	}
	if d.notifier == nil {
		d.logger.Warn().Int64("alert_id", alert.ID).Msg("no notification channel configured")
		return nil
	}

	note := Notification{
		Kind:            "alert",
		Symbol:          alert.Symbol,
		Market:          alert.Market,
		Timeframe:       alert.Timeframe,
		DropPct:         alert.DropPct,
		ThresholdPct:    alert.ThresholdPct,
		Price:           alert.Price,
		HistoricalPrice: alert.HistoricalPrice,
		Critical:        alert.Critical,
		Timestamp:       alert.Timestamp,
	}
	if mkt != nil {
		note.Currency = mkt.Currency
		note.Location = mkt.Location()
	}

	if err := d.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("dispatch alert %d: %w", alert.ID, err)
	}

	if d.alerts != nil {
		if err := d.alerts.MarkAlertNotified(ctx, alert.ID); err != nil {
			// Delivery succeeded; a stale flag only risks one duplicate later.
			d.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("failed to mark alert notified")
		}
	}
	return nil
}

// DispatchRecovery announces a finalized recovery. Best effort, no ledger.
func (d *Dispatcher) DispatchRecovery(ctx context.Context, record storage.RecoveryRecord, mkt *market.Market) error {
	if d.notifier == nil {
		return nil
	}
	if record.RecoveryPrice == nil || record.RecoveryPct == nil || record.RecoveredAt == nil {
		return fmt.Errorf("dispatch recovery %d: record not finalized", record.AlertID)
	}

	note := Notification{
		Kind:            "recovery",
		Symbol:          record.Symbol,
		Market:          record.Market,
		Price:           *record.RecoveryPrice,
		HistoricalPrice: record.HistoricalPrice,
		RecoveryPct:     *record.RecoveryPct,
		Timestamp:       *record.RecoveredAt,
	}
	if mkt != nil {
		note.Currency = mkt.Currency
		note.Location = mkt.Location()
	}

	if err := d.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("dispatch recovery %d: %w", record.AlertID, err)
	}
	return nil
}
