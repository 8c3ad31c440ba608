package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"dipwatcher/internal/alerting"
	"dipwatcher/internal/detector"
	"dipwatcher/internal/market"
	"dipwatcher/internal/storage"
)

// SimulateAlert feeds a synthetic price pair through detection and the
// notification channel without touching the database.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.Price <= 0 || opts.Historical <= 0 {
		return errors.New("--price and --historical must be positive")
	}
	tf, err := detector.ParseTimeframe(opts.Timeframe)
	if err != nil {
		return err
	}

	var mkt *market.Market
	for _, mc := range a.Config.Markets {
		if mc.ID != opts.Market {
			continue
		}
		mkt, err = market.New(market.Options{
			ID:       mc.ID,
			Currency: mc.Currency,
			Timezone: mc.Timezone,
			Open:     mc.Open,
			Close:    mc.Close,
		})
		if err != nil {
			return err
		}
	}
	if mkt == nil {
		return fmt.Errorf("unknown market %q", opts.Market)
	}

	resolver := &staticResolver{
		timeframe:  tf,
		historical: decimal.NewFromFloat(opts.Historical),
	}
	cooldowns := detector.NewCooldownPolicy(&noopCooldownStore{}, detector.CooldownOptions{}, a.Logger)
	det := detector.New(resolver, cooldowns, detector.Options{}, a.Logger)

	alerts, err := det.Evaluate(ctx, opts.Symbol, opts.Market, decimal.NewFromFloat(opts.Price), time.Now())
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no threshold crossed")
		return nil
	}

	notifier := a.newNotifier()
	if notifier == nil {
		for _, alert := range alerts {
			fmt.Fprintf(os.Stdout, "would alert: %s %s drop %s%% (threshold %s%%, critical=%v)\n",
				alert.Symbol, alert.Timeframe, formatDecimal(alert.DropPct, 2), formatDecimal(alert.ThresholdPct, 0), alert.Critical)
		}
		return nil
	}

	dispatcher := alerting.NewDispatcher(notifier, &noopAlertStore{}, a.Logger)
	for _, alert := range alerts {
		if err := dispatcher.Dispatch(ctx, alert, mkt); err != nil {
			return err
		}
	}
	return nil
}

// staticResolver serves one fixed reference for a single timeframe.
type staticResolver struct {
	timeframe  detector.Timeframe
	historical decimal.Decimal
}

func (s *staticResolver) Reference(_ context.Context, _, _ string, tf detector.Timeframe, _ time.Time) (decimal.Decimal, error) {
	if tf != s.timeframe {
		return decimal.Decimal{}, detector.ErrNoReference
	}
	return s.historical, nil
}

type noopCooldownStore struct{}

func (noopCooldownStore) ActiveCooldown(context.Context, storage.CooldownKey) (storage.CooldownEntry, bool, error) {
	return storage.CooldownEntry{}, false, nil
}

func (noopCooldownStore) ActivateCooldown(context.Context, storage.CooldownEntry) error { return nil }

func (noopCooldownStore) DeactivateCooldown(context.Context, storage.CooldownKey) error { return nil }

func (noopCooldownStore) ActiveCooldownsForSymbol(context.Context, string, string) ([]storage.CooldownEntry, error) {
	return nil, nil
}

type noopAlertStore struct{}

func (noopAlertStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	return alert, nil
}

func (noopAlertStore) MarkAlertNotified(context.Context, int64) error { return nil }

func (noopAlertStore) ListRecentAlerts(context.Context, string, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (noopAlertStore) ListAlertsForSymbol(context.Context, string, string, time.Time) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (noopAlertStore) CountAlerts(context.Context, string, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

var _ detector.ReferenceResolver = (*staticResolver)(nil)
var _ storage.CooldownStore = (*noopCooldownStore)(nil)
var _ storage.AlertStore = (*noopAlertStore)(nil)
