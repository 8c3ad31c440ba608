package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        symbol,
        market,
        threshold_pct,
        timeframe,
        drop_pct,
        price,
        historical_price,
        alert_ts,
        critical,
        notified
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE
    )
    RETURNING id, created_at;`

	markAlertNotifiedSQL = `UPDATE alerts SET notified = TRUE WHERE id = $1;`

	listRecentAlertsSQL = `SELECT
        id,
        symbol,
        market,
        threshold_pct,
        timeframe,
        drop_pct,
        price,
        historical_price,
        alert_ts,
        critical,
        notified,
        created_at
    FROM alerts
    WHERE ($1 = '' OR market = $1)
    ORDER BY alert_ts DESC
    LIMIT $2;`

	listAlertsForSymbolSQL = `SELECT
        id,
        symbol,
        market,
        threshold_pct,
        timeframe,
        drop_pct,
        price,
        historical_price,
        alert_ts,
        critical,
        notified,
        created_at
    FROM alerts
    WHERE symbol = $1
      AND market = $2
      AND alert_ts >= $3
    ORDER BY alert_ts DESC;`

	countAlertsSQL = `SELECT
        COUNT(*),
        COUNT(*) FILTER (WHERE critical)
    FROM alerts
    WHERE market = $1
      AND alert_ts >= $2;`

	activeCooldownSQL = `SELECT
        symbol,
        market,
        threshold_pct,
        timeframe,
        historical_price,
        last_alert_at,
        active
    FROM cooldowns
    WHERE symbol = $1
      AND market = $2
      AND threshold_pct = $3
      AND timeframe = $4
      AND active;`

	activateCooldownSQL = `INSERT INTO cooldowns (
        symbol,
        market,
        threshold_pct,
        timeframe,
        historical_price,
        last_alert_at,
        active
    ) VALUES ($1,$2,$3,$4,$5,$6,TRUE)
    ON CONFLICT (symbol, market, threshold_pct, timeframe) DO UPDATE
    SET historical_price = EXCLUDED.historical_price,
        last_alert_at    = EXCLUDED.last_alert_at,
        active           = TRUE;`

	deactivateCooldownSQL = `UPDATE cooldowns
    SET active = FALSE
    WHERE symbol = $1
      AND market = $2
      AND threshold_pct = $3
      AND timeframe = $4;`

	activeCooldownsForSymbolSQL = `SELECT
        symbol,
        market,
        threshold_pct,
        timeframe,
        historical_price,
        last_alert_at,
        active
    FROM cooldowns
    WHERE symbol = $1
      AND market = $2
      AND active;`

	insertRecoverySQL = `INSERT INTO recoveries (
        alert_id,
        symbol,
        market,
        historical_price,
        trough_price,
        state
    ) VALUES ($1,$2,$3,$4,$5,'pending');`

	pendingRecoveriesSQL = `SELECT
        alert_id,
        symbol,
        market,
        historical_price,
        trough_price,
        recovery_price,
        recovered_at,
        recovery_pct,
        duration_seconds,
        state,
        created_at
    FROM recoveries
    WHERE symbol = $1
      AND market = $2
      AND state = 'pending'
    ORDER BY created_at;`

	updateTroughSQL = `UPDATE recoveries
    SET trough_price = $2
    WHERE alert_id = $1
      AND state = 'pending';`

	finalizeRecoverySQL = `UPDATE recoveries
    SET recovery_price   = $2,
        recovered_at     = $3,
        recovery_pct     = $4,
        duration_seconds = $5,
        state            = 'recovered'
    WHERE alert_id = $1
      AND state = 'pending';`

	expireRecoveriesSQL = `UPDATE recoveries
    SET state = 'expired'
    WHERE market = $1
      AND state = 'pending'
      AND created_at < $2;`

	recoveryStatsSQL = `SELECT
        COUNT(*),
        COUNT(*) FILTER (WHERE state = 'recovered'),
        COUNT(*) FILTER (WHERE state = 'expired'),
        COUNT(*) FILTER (WHERE state = 'pending'),
        COALESCE(AVG(duration_seconds) FILTER (WHERE state = 'recovered'), 0)
    FROM recoveries
    WHERE market = $1
      AND created_at >= $2;`
)

// AlertStore defines alert persistence and the notified flag.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	MarkAlertNotified(ctx context.Context, id int64) error
	ListRecentAlerts(ctx context.Context, market string, limit int) ([]AlertRecord, error)
	ListAlertsForSymbol(ctx context.Context, symbol, market string, since time.Time) ([]AlertRecord, error)
	CountAlerts(ctx context.Context, market string, since time.Time) (total, critical int64, err error)
}

// CooldownStore defines the suppression ledger.
type CooldownStore interface {
	ActiveCooldown(ctx context.Context, key CooldownKey) (CooldownEntry, bool, error)
	ActivateCooldown(ctx context.Context, entry CooldownEntry) error
	DeactivateCooldown(ctx context.Context, key CooldownKey) error
	ActiveCooldownsForSymbol(ctx context.Context, symbol, market string) ([]CooldownEntry, error)
}

// RecoveryStore defines recovery record persistence.
type RecoveryStore interface {
	InsertRecovery(ctx context.Context, record RecoveryRecord) error
	PendingRecoveries(ctx context.Context, symbol, market string) ([]RecoveryRecord, error)
	UpdateTrough(ctx context.Context, alertID int64, trough decimal.Decimal) error
	FinalizeRecovery(ctx context.Context, record RecoveryRecord) error
	ExpireRecoveries(ctx context.Context, market string, before time.Time) (int64, error)
	RecoveryStats(ctx context.Context, market string, since time.Time) (RecoveryStats, error)
}

// InsertAlert persists a new alert and returns it with id and created_at set.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.Market,
		alert.ThresholdPct.String(),
		alert.Timeframe,
		alert.DropPct.String(),
		alert.Price.String(),
		alert.HistoricalPrice.String(),
		alert.Timestamp,
		alert.Critical,
	)

	rec := alert
	rec.Notified = false
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// MarkAlertNotified flips the notified flag after a successful dispatch.
func (s *Store) MarkAlertNotified(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markAlertNotifiedSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark alert notified: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentAlerts lists most recent alerts, optionally filtered by market.
func (s *Store) ListRecentAlerts(ctx context.Context, market string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, market, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListAlertsForSymbol lists alerts for one symbol since an instant.
func (s *Store) ListAlertsForSymbol(ctx context.Context, symbol, market string, since time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsForSymbolSQL, symbol, market, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts for symbol: %w", queryErr)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// CountAlerts counts total and critical alerts for a market since an instant.
func (s *Store) CountAlerts(ctx context.Context, market string, since time.Time) (int64, int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, 0, err
	}
	var total, critical int64
	if scanErr := pool.QueryRow(ctx, countAlertsSQL, market, since).Scan(&total, &critical); scanErr != nil {
		return 0, 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return total, critical, nil
}

// ActiveCooldown looks up the active ledger entry for one key.
func (s *Store) ActiveCooldown(ctx context.Context, key CooldownKey) (CooldownEntry, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return CooldownEntry{}, false, err
	}

	row := pool.QueryRow(ctx, activeCooldownSQL, key.Symbol, key.Market, key.ThresholdPct.String(), key.Timeframe)
	entry, scanErr := scanCooldownRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return CooldownEntry{}, false, nil
		}
		return CooldownEntry{}, false, fmt.Errorf("active cooldown: %w", scanErr)
	}
	return entry, true, nil
}

// ActivateCooldown creates or re-arms the ledger entry for a key.
func (s *Store) ActivateCooldown(ctx context.Context, entry CooldownEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, activateCooldownSQL,
		entry.Symbol,
		entry.Market,
		entry.ThresholdPct.String(),
		entry.Timeframe,
		entry.HistoricalPrice.String(),
		entry.LastAlertAt,
	)
	if execErr != nil {
		return fmt.Errorf("activate cooldown: %w", execErr)
	}
	return nil
}

// DeactivateCooldown clears the ledger entry for a key.
func (s *Store) DeactivateCooldown(ctx context.Context, key CooldownKey) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, deactivateCooldownSQL, key.Symbol, key.Market, key.ThresholdPct.String(), key.Timeframe)
	if execErr != nil {
		return fmt.Errorf("deactivate cooldown: %w", execErr)
	}
	return nil
}

// ActiveCooldownsForSymbol lists active entries for one symbol.
func (s *Store) ActiveCooldownsForSymbol(ctx context.Context, symbol, market string) ([]CooldownEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, activeCooldownsForSymbolSQL, symbol, market)
	if queryErr != nil {
		return nil, fmt.Errorf("active cooldowns for symbol: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]CooldownEntry, 0)
	for rows.Next() {
		entry, scanErr := scanCooldownRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// InsertRecovery creates a pending recovery record for a new alert.
func (s *Store) InsertRecovery(ctx context.Context, record RecoveryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertRecoverySQL,
		record.AlertID,
		record.Symbol,
		record.Market,
		record.HistoricalPrice.String(),
		record.TroughPrice.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert recovery: %w", execErr)
	}
	return nil
}

// PendingRecoveries lists open recovery records for a symbol.
func (s *Store) PendingRecoveries(ctx context.Context, symbol, market string) ([]RecoveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pendingRecoveriesSQL, symbol, market)
	if queryErr != nil {
		return nil, fmt.Errorf("pending recoveries: %w", queryErr)
	}
	defer rows.Close()

	records := make([]RecoveryRecord, 0)
	for rows.Next() {
		record, scanErr := scanRecovery(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// UpdateTrough lowers the trough price of a pending recovery.
func (s *Store) UpdateTrough(ctx context.Context, alertID int64, trough decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateTroughSQL, alertID, trough.String()); execErr != nil {
		return fmt.Errorf("update trough: %w", execErr)
	}
	return nil
}

// FinalizeRecovery transitions a pending record to recovered.
func (s *Store) FinalizeRecovery(ctx context.Context, record RecoveryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if record.RecoveryPrice == nil || record.RecoveredAt == nil || record.RecoveryPct == nil || record.DurationSeconds == nil {
		return errors.New("finalize recovery: incomplete record")
	}

	_, execErr := pool.Exec(ctx, finalizeRecoverySQL,
		record.AlertID,
		record.RecoveryPrice.String(),
		*record.RecoveredAt,
		record.RecoveryPct.String(),
		*record.DurationSeconds,
	)
	if execErr != nil {
		return fmt.Errorf("finalize recovery: %w", execErr)
	}
	return nil
}

// ExpireRecoveries abandons pending records older than the horizon.
func (s *Store) ExpireRecoveries(ctx context.Context, market string, before time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, expireRecoveriesSQL, market, before)
	if execErr != nil {
		return 0, fmt.Errorf("expire recoveries: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// RecoveryStats aggregates recovery outcomes for a market.
func (s *Store) RecoveryStats(ctx context.Context, market string, since time.Time) (RecoveryStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return RecoveryStats{}, err
	}

	var stats RecoveryStats
	row := pool.QueryRow(ctx, recoveryStatsSQL, market, since)
	if scanErr := row.Scan(&stats.Total, &stats.Recovered, &stats.Expired, &stats.Pending, &stats.MeanRecoverySeconds); scanErr != nil {
		return RecoveryStats{}, fmt.Errorf("recovery stats: %w", scanErr)
	}
	return stats, nil
}

func scanAlerts(rows pgx.Rows) ([]AlertRecord, error) {
	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		var rec AlertRecord
		var thresholdStr, dropStr, priceStr, histStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&rec.Market,
			&thresholdStr,
			&rec.Timeframe,
			&dropStr,
			&priceStr,
			&histStr,
			&rec.Timestamp,
			&rec.Critical,
			&rec.Notified,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}
		if rec.DropPct, convErr = decimal.NewFromString(dropStr); convErr != nil {
			return nil, fmt.Errorf("parse drop pct: %w", convErr)
		}
		if rec.Price, convErr = decimal.NewFromString(priceStr); convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		if rec.HistoricalPrice, convErr = decimal.NewFromString(histStr); convErr != nil {
			return nil, fmt.Errorf("parse historical price: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanCooldownRow(row pgx.Row) (CooldownEntry, error) {
	var entry CooldownEntry
	var thresholdStr, histStr string
	if err := row.Scan(
		&entry.Symbol,
		&entry.Market,
		&thresholdStr,
		&entry.Timeframe,
		&histStr,
		&entry.LastAlertAt,
		&entry.Active,
	); err != nil {
		return CooldownEntry{}, err
	}

	var convErr error
	if entry.ThresholdPct, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
		return CooldownEntry{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}
	if entry.HistoricalPrice, convErr = decimal.NewFromString(histStr); convErr != nil {
		return CooldownEntry{}, fmt.Errorf("parse historical price: %w", convErr)
	}
	return entry, nil
}

func scanRecovery(rows pgx.Rows) (RecoveryRecord, error) {
	var record RecoveryRecord
	var histStr, troughStr string
	var recoveryStr, pctStr *string
	var state string

	if err := rows.Scan(
		&record.AlertID,
		&record.Symbol,
		&record.Market,
		&histStr,
		&troughStr,
		&recoveryStr,
		&record.RecoveredAt,
		&pctStr,
		&record.DurationSeconds,
		&state,
		&record.CreatedAt,
	); err != nil {
		return RecoveryRecord{}, err
	}
	record.State = RecoveryState(state)

	var convErr error
	if record.HistoricalPrice, convErr = decimal.NewFromString(histStr); convErr != nil {
		return RecoveryRecord{}, fmt.Errorf("parse historical price: %w", convErr)
	}
	if record.TroughPrice, convErr = decimal.NewFromString(troughStr); convErr != nil {
		return RecoveryRecord{}, fmt.Errorf("parse trough price: %w", convErr)
	}
	if recoveryStr != nil {
		price, err := decimal.NewFromString(*recoveryStr)
		if err != nil {
			return RecoveryRecord{}, fmt.Errorf("parse recovery price: %w", err)
		}
		record.RecoveryPrice = &price
	}
	if pctStr != nil {
		pct, err := decimal.NewFromString(*pctStr)
		if err != nil {
			return RecoveryRecord{}, fmt.Errorf("parse recovery pct: %w", err)
		}
		record.RecoveryPct = &pct
	}

	return record, nil
}
