package detector

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/storage"
)

// CooldownPolicy governs when a suppressed alert key stands down again.
// An entry clears on whichever comes first: the configured duration has
// elapsed, or the price recovered to the configured fraction of the
// historical reference recorded at alert time.
type CooldownPolicy struct {
	store            storage.CooldownStore
	duration         time.Duration
	recoveryFraction decimal.Decimal
	logger           zerolog.Logger
}

// CooldownOptions tune the stand-down rule.
type CooldownOptions struct {
	Duration         time.Duration
	RecoveryFraction decimal.Decimal
}

// NewCooldownPolicy constructs the suppression policy over a ledger store.
func NewCooldownPolicy(store storage.CooldownStore, opts CooldownOptions, logger zerolog.Logger) *CooldownPolicy {
	duration := opts.Duration
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	fraction := opts.RecoveryFraction
	if fraction.Sign() <= 0 {
		fraction = decimal.NewFromInt(1)
	}

	return &CooldownPolicy{
		store:            store,
		duration:         duration,
		recoveryFraction: fraction,
		logger:           logger.With().Str("component", "cooldown").Logger(),
	}
}

// Suppressed reports whether an active ledger entry blocks this key.
func (p *CooldownPolicy) Suppressed(ctx context.Context, key storage.CooldownKey) (bool, error) {
	_, active, err := p.store.ActiveCooldown(ctx, key)
	if err != nil {
		return false, err
	}
	return active, nil
}

// Arm activates the ledger entry for a freshly raised alert.
func (p *CooldownPolicy) Arm(ctx context.Context, key storage.CooldownKey, historical decimal.Decimal, now time.Time) error {
	return p.store.ActivateCooldown(ctx, storage.CooldownEntry{
		CooldownKey:     key,
		HistoricalPrice: historical,
		LastAlertAt:     now,
		Active:          true,
	})
}

// Sweep clears any of the symbol's active entries whose stand-down
// condition is met under the current price.
func (p *CooldownPolicy) Sweep(ctx context.Context, symbol, mkt string, price decimal.Decimal, now time.Time) error {
	entries, err := p.store.ActiveCooldownsForSymbol(ctx, symbol, mkt)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !p.cleared(entry, price, now) {
			continue
		}
		if err := p.store.DeactivateCooldown(ctx, entry.CooldownKey); err != nil {
			return err
		}
		p.logger.Debug().
			Str("symbol", symbol).
			Str("timeframe", entry.Timeframe).
			Str("threshold", entry.ThresholdPct.String()).
			Msg("cooldown cleared")
	}
	return nil
}

func (p *CooldownPolicy) cleared(entry storage.CooldownEntry, price decimal.Decimal, now time.Time) bool {
	if now.Sub(entry.LastAlertAt) >= p.duration {
		return true
	}
	target := entry.HistoricalPrice.Mul(p.recoveryFraction)
	return price.GreaterThanOrEqual(target)
}
