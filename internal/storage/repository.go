package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoSnapshot indicates no daily snapshot matched the query window.
	ErrNoSnapshot = errors.New("storage: no snapshot in window")
)

const (
	insertPricePointSQL = `INSERT INTO price_points (
        symbol,
        market,
        price,
        source,
        observed_at
    ) VALUES ($1,$2,$3,$4,$5);`

	listPricePointsSQL = `SELECT
        symbol,
        market,
        price,
        source,
        observed_at
    FROM price_points
    WHERE symbol = $1
      AND market = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	listRecentPricePointsSQL = `SELECT
        symbol,
        market,
        price,
        source,
        observed_at
    FROM price_points
    WHERE market = $1
      AND observed_at >= $2
    ORDER BY symbol, observed_at;`

	upsertSnapshotSQL = `INSERT INTO daily_snapshots (
        symbol,
        market,
        snapshot_date,
        close_price
    ) VALUES ($1,$2,$3,$4)
    ON CONFLICT (symbol, market, snapshot_date) DO UPDATE
    SET close_price = EXCLUDED.close_price;`

	snapshotOnOrBeforeSQL = `SELECT
        symbol,
        market,
        snapshot_date,
        close_price
    FROM daily_snapshots
    WHERE symbol = $1
      AND market = $2
      AND snapshot_date <= $3
      AND snapshot_date >= $4
    ORDER BY snapshot_date DESC
    LIMIT 1;`

	activeWatchlistSQL = `SELECT
        symbol,
        market,
        symbol_type,
        exchange,
        active
    FROM watchlist
    WHERE market = $1
      AND active
    ORDER BY symbol;`

	countActiveWatchlistSQL = `SELECT COUNT(*) FROM watchlist WHERE market = $1 AND active;`
)

// PricePointStore defines append-only price history persistence.
type PricePointStore interface {
	InsertPricePoint(ctx context.Context, point PricePoint) error
	ListPricePoints(ctx context.Context, symbol, market string, from, to time.Time) ([]PricePoint, error)
	ListRecentPricePoints(ctx context.Context, market string, since time.Time) ([]PricePoint, error)
}

// SnapshotStore defines daily closing snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot DailySnapshot) error
	SnapshotOnOrBefore(ctx context.Context, symbol, market string, target, earliest time.Time) (DailySnapshot, error)
}

// WatchlistStore provides read-only access to the managed watchlist.
type WatchlistStore interface {
	ActiveSymbols(ctx context.Context, market string) ([]WatchlistSymbol, error)
	CountActiveSymbols(ctx context.Context, market string) (int64, error)
}

// Store aggregates access to all dipwatcher tables via one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertPricePoint appends one observation to the price history.
func (s *Store) InsertPricePoint(ctx context.Context, point PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertPricePointSQL,
		point.Symbol,
		point.Market,
		point.Price.String(),
		point.Source,
		point.Timestamp,
	)
	if execErr != nil {
		return fmt.Errorf("insert price point: %w", execErr)
	}
	return nil
}

// ListPricePoints returns observations for a symbol within a time window.
func (s *Store) ListPricePoints(ctx context.Context, symbol, market string, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSQL, symbol, market, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// ListRecentPricePoints returns all observations for a market since an instant.
func (s *Store) ListRecentPricePoints(ctx context.Context, market string, since time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPricePointsSQL, market, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent price points: %w", queryErr)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// UpsertSnapshot writes or refreshes one trading day's closing price.
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot DailySnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snapshot.Symbol,
		snapshot.Market,
		snapshot.Date,
		snapshot.ClosePrice.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// SnapshotOnOrBefore returns the closest snapshot with date <= target but
// no older than earliest. ErrNoSnapshot when nothing matches.
func (s *Store) SnapshotOnOrBefore(ctx context.Context, symbol, market string, target, earliest time.Time) (DailySnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return DailySnapshot{}, err
	}

	var snapshot DailySnapshot
	var closeStr string
	row := pool.QueryRow(ctx, snapshotOnOrBeforeSQL, symbol, market, target, earliest)
	if scanErr := row.Scan(&snapshot.Symbol, &snapshot.Market, &snapshot.Date, &closeStr); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return DailySnapshot{}, ErrNoSnapshot
		}
		return DailySnapshot{}, fmt.Errorf("snapshot on or before: %w", scanErr)
	}

	var convErr error
	snapshot.ClosePrice, convErr = decimal.NewFromString(closeStr)
	if convErr != nil {
		return DailySnapshot{}, fmt.Errorf("parse close price: %w", convErr)
	}
	return snapshot, nil
}

// ActiveSymbols lists the active watchlist rows for one market.
func (s *Store) ActiveSymbols(ctx context.Context, market string) ([]WatchlistSymbol, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, activeWatchlistSQL, market)
	if queryErr != nil {
		return nil, fmt.Errorf("list active watchlist: %w", queryErr)
	}
	defer rows.Close()

	symbols := make([]WatchlistSymbol, 0)
	for rows.Next() {
		var sym WatchlistSymbol
		if err := rows.Scan(&sym.Symbol, &sym.Market, &sym.Type, &sym.Exchange, &sym.Active); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return symbols, nil
}

// CountActiveSymbols counts the active watchlist rows for one market.
func (s *Store) CountActiveSymbols(ctx context.Context, market string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countActiveWatchlistSQL, market).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count watchlist: %w", scanErr)
	}
	return count, nil
}

func scanPricePoints(rows pgx.Rows) ([]PricePoint, error) {
	points := make([]PricePoint, 0)
	for rows.Next() {
		var point PricePoint
		var priceStr string
		if err := rows.Scan(&point.Symbol, &point.Market, &priceStr, &point.Source, &point.Timestamp); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price: %w", convErr)
		}
		point.Price = price
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}
