package detector

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/storage"
)

// ErrNoReference indicates no historical snapshot exists within tolerance
// for a timeframe. The caller skips that timeframe rather than treating
// missing data as zero drop.
var ErrNoReference = errors.New("no historical reference within tolerance")

// DefaultLadder is the configured drop-percentage threshold set.
func DefaultLadder() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.NewFromInt(5),
		decimal.NewFromInt(10),
		decimal.NewFromInt(15),
		decimal.NewFromInt(20),
	}
}

// DropPercent computes (historical - price) / historical * 100.
func DropPercent(historical, price decimal.Decimal) decimal.Decimal {
	if historical.Sign() <= 0 {
		return decimal.Zero
	}
	return historical.Sub(price).Div(historical).Mul(decimal.NewFromInt(100))
}

// SelectThreshold returns the highest ladder value not exceeding drop.
// A single descending scan keeps the highest-wins tie-break obvious.
func SelectThreshold(drop decimal.Decimal, ladder []decimal.Decimal) (decimal.Decimal, bool) {
	selected := decimal.Zero
	found := false
	for _, threshold := range ladder {
		if drop.GreaterThanOrEqual(threshold) && (!found || threshold.GreaterThan(selected)) {
			selected = threshold
			found = true
		}
	}
	return selected, found
}

// ReferenceResolver supplies the historical reference price per timeframe.
type ReferenceResolver interface {
	Reference(ctx context.Context, symbol, market string, tf Timeframe, now time.Time) (decimal.Decimal, error)
}

// Options tune detection behaviour.
type Options struct {
	Ladder     []decimal.Decimal
	CriticalAt decimal.Decimal
}

// Detector evaluates drop thresholds per timeframe for one symbol at a time.
type Detector struct {
	resolver   ReferenceResolver
	cooldowns  *CooldownPolicy
	ladder     []decimal.Decimal
	criticalAt decimal.Decimal
	logger     zerolog.Logger
}

// New constructs a Detector.
func New(resolver ReferenceResolver, cooldowns *CooldownPolicy, opts Options, logger zerolog.Logger) *Detector {
	ladder := opts.Ladder
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	criticalAt := opts.CriticalAt
	if criticalAt.IsZero() {
		criticalAt = decimal.NewFromInt(20)
	}

	return &Detector{
		resolver:   resolver,
		cooldowns:  cooldowns,
		ladder:     ladder,
		criticalAt: criticalAt,
		logger:     logger.With().Str("component", "detector").Logger(),
	}
}

// Evaluate checks every timeframe for one symbol against its current price
// and returns at most one alert per timeframe, cooldown-filtered. A missing
// reference skips only its own timeframe.
func (d *Detector) Evaluate(ctx context.Context, symbol, mkt string, price decimal.Decimal, now time.Time) ([]storage.AlertRecord, error) {
	if price.Sign() <= 0 {
		return nil, errors.New("current price must be positive")
	}

	alerts := make([]storage.AlertRecord, 0)
	for _, tf := range Timeframes() {
		historical, err := d.resolver.Reference(ctx, symbol, mkt, tf, now)
		if err != nil {
			if errors.Is(err, ErrNoReference) {
				d.logger.Debug().Str("symbol", symbol).Str("timeframe", string(tf)).Msg("no reference, skipping timeframe")
				continue
			}
			d.logger.Error().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("reference lookup failed")
			continue
		}

		drop := DropPercent(historical, price)
		threshold, crossed := SelectThreshold(drop, d.ladder)
		if !crossed {
			continue
		}

		key := storage.CooldownKey{Symbol: symbol, Market: mkt, ThresholdPct: threshold, Timeframe: string(tf)}
		suppressed, err := d.cooldowns.Suppressed(ctx, key)
		if err != nil {
			d.logger.Error().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("cooldown lookup failed")
			continue
		}
		if suppressed {
			d.logger.Debug().
				Str("symbol", symbol).
				Str("timeframe", string(tf)).
				Str("threshold", threshold.String()).
				Msg("alert suppressed by active cooldown")
			continue
		}

		alerts = append(alerts, storage.AlertRecord{
			Symbol:          symbol,
			Market:          mkt,
			ThresholdPct:    threshold,
			Timeframe:       string(tf),
			DropPct:         drop,
			Price:           price,
			HistoricalPrice: historical,
			Timestamp:       now,
			Critical:        threshold.GreaterThanOrEqual(d.criticalAt),
		})
	}

	return alerts, nil
}
