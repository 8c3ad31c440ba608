package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"dipwatcher/internal/storage"
)

// Backfill rebuilds daily closing snapshots from the raw price point
// history. The last point of each market-local trading day wins, matching
// what the live service would have written.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("backfill range is empty; check --from/--to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot backfill")
	}
	if closeStore != nil {
		defer closeStore()
	}

	markets, err := a.buildMarkets()
	if err != nil {
		return err
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: snapshots will not be written")
	}

	written := 0
	for _, mkt := range markets {
		symbols, err := store.ActiveSymbols(ctx, mkt.ID)
		if err != nil {
			return err
		}

		for _, sym := range symbols {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			points, err := store.ListPricePoints(ctx, sym.Symbol, mkt.ID, from, to)
			if err != nil {
				return err
			}
			if len(points) == 0 {
				continue
			}

			// Last observation per trading day becomes the closing snapshot.
			closes := make(map[time.Time]storage.PricePoint)
			for _, point := range points {
				day := mkt.TradingDate(point.Timestamp)
				prev, ok := closes[day]
				if !ok || point.Timestamp.After(prev.Timestamp) {
					closes[day] = point
				}
			}

			days := make([]time.Time, 0, len(closes))
			for day := range closes {
				days = append(days, day)
			}
			sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

			for _, day := range days {
				point := closes[day]
				if opts.DryRun {
					a.Logger.Info().
						Str("symbol", sym.Symbol).
						Str("market", mkt.ID).
						Time("date", day).
						Str("close", point.Price.String()).
						Msg("would write snapshot")
					continue
				}

				snapshot := storage.DailySnapshot{
					Symbol:     sym.Symbol,
					Market:     mkt.ID,
					Date:       day,
					ClosePrice: point.Price,
				}
				if err := store.UpsertSnapshot(ctx, snapshot); err != nil {
					return err
				}
				written++
			}
		}
	}

	a.Logger.Info().Int("snapshots", written).Msg("backfill complete")
	return nil
}
