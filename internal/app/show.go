package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Market, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tMarket\tTimeframe\tThreshold%\tDrop%\tPrice\tReference\tCritical\tNotified")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.Timestamp.UTC().Format(time.RFC3339),
			alert.Symbol,
			alert.Market,
			alert.Timeframe,
			formatDecimal(alert.ThresholdPct, 0),
			formatDecimal(alert.DropPct, 2),
			formatDecimal(alert.Price, 2),
			formatDecimal(alert.HistoricalPrice, 2),
			yesNo(alert.Critical),
			yesNo(alert.Notified),
		)
	}

	writer.Flush()
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
