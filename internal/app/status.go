package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"dipwatcher/internal/health"
)

// Status prints the session state, alert aggregates, and attention list for
// every configured market.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot report status")
	}
	if closeStore != nil {
		defer closeStore()
	}

	markets, err := a.buildMarkets()
	if err != nil {
		return err
	}

	window := opts.Window
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}

	reporter := health.NewReporter(store, store, store, store, a.Logger)
	now := time.Now()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Market\tSession\tNext transition\tSymbols\tAlerts today\tCritical today")

	for _, mkt := range markets {
		session := "closed"
		if mkt.IsOpen(now) {
			session = "open"
		}

		total, err := store.CountActiveSymbols(ctx, mkt.ID)
		if err != nil {
			return err
		}
		alerts, critical, err := store.CountAlerts(ctx, mkt.ID, mkt.TradingDate(now))
		if err != nil {
			return err
		}

		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%d\n",
			mkt.ID,
			session,
			mkt.NextTransition(now).Format(time.RFC3339),
			total,
			alerts,
			critical,
		)
	}
	writer.Flush()

	for _, mkt := range markets {
		agg, err := reporter.Aggregates(ctx, mkt.ID, window, now)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "\n%s over the last %s: %d alerts (%d critical, %.1f/day), recovery rate %.0f%%, volatility %.2f%%, sentiment %s\n",
			agg.Market,
			window,
			agg.TotalAlerts,
			agg.CriticalAlerts,
			agg.AlertFrequency,
			agg.RecoveryRate*100,
			agg.Volatility,
			agg.Sentiment,
		)

		items, err := reporter.Attention(ctx, mkt.ID, now)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stdout, "nothing needs attention")
			continue
		}
		for _, item := range items {
			fmt.Fprintf(os.Stdout, "  [%s] %s: %s (%.2f)\n", item.Severity, item.Symbol, item.Reason, item.Detail)
		}
	}

	return nil
}
