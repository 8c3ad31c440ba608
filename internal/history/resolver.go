package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/detector"
	"dipwatcher/internal/market"
	"dipwatcher/internal/storage"
)

// Resolver answers "what did this symbol close at, one timeframe ago"
// from daily snapshots. The tolerance window absorbs weekends and
// holidays where no snapshot was written.
type Resolver struct {
	snapshots storage.SnapshotStore
	tolerance time.Duration
	calendars map[string]*market.Market
	logger    zerolog.Logger
}

// Options tune resolution behaviour.
type Options struct {
	Tolerance time.Duration
	// Markets supplies each market's calendar so the target date is
	// computed in that market's trading day, not the UTC day.
	Markets []*market.Market
}

// NewResolver constructs a Resolver over the snapshot store.
func NewResolver(snapshots storage.SnapshotStore, opts Options, logger zerolog.Logger) *Resolver {
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * 24 * time.Hour
	}

	calendars := make(map[string]*market.Market, len(opts.Markets))
	for _, mkt := range opts.Markets {
		calendars[mkt.ID] = mkt
	}

	return &Resolver{
		snapshots: snapshots,
		tolerance: tolerance,
		calendars: calendars,
		logger:    logger.With().Str("component", "history").Logger(),
	}
}

// Reference returns the closing price of the most recent snapshot at or
// before now minus the timeframe's interval, within tolerance. Returns
// detector.ErrNoReference when nothing qualifies; missing data is never
// fabricated.
func (r *Resolver) Reference(ctx context.Context, symbol, mkt string, tf detector.Timeframe, now time.Time) (decimal.Decimal, error) {
	target := r.tradingDate(mkt, tf.Shift(now))
	earliest := target.Add(-r.tolerance)

	snapshot, err := r.snapshots.SnapshotOnOrBefore(ctx, symbol, mkt, target, earliest)
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshot) {
			return decimal.Decimal{}, detector.ErrNoReference
		}
		return decimal.Decimal{}, fmt.Errorf("resolve %s reference for %s/%s: %w", tf, symbol, mkt, err)
	}

	return snapshot.ClosePrice, nil
}

// tradingDate maps an instant to the market-local calendar date, matching
// the key snapshots are written under. Unknown markets fall back to the
// UTC date.
func (r *Resolver) tradingDate(mkt string, t time.Time) time.Time {
	if cal, ok := r.calendars[mkt]; ok {
		return cal.TradingDate(t)
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

var _ detector.ReferenceResolver = (*Resolver)(nil)
