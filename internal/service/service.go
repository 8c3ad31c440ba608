package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dipwatcher/internal/alerting"
	"dipwatcher/internal/detector"
	"dipwatcher/internal/fetcher"
	"dipwatcher/internal/health"
	"dipwatcher/internal/market"
	"dipwatcher/internal/recovery"
	"dipwatcher/internal/scheduler"
	"dipwatcher/internal/storage"
)

// SourceMap routes each market and symbol type to its fallback chain.
type SourceMap map[string]map[market.SymbolType]fetcher.QuoteFetcher

// StatusCache receives latest-price and market-status write-throughs.
type StatusCache interface {
	SetLatestPrice(ctx context.Context, point storage.PricePoint) error
	SetMarketStatus(ctx context.Context, mkt string, status any) error
}

// Stores groups the persistence interfaces the pipeline writes through.
type Stores struct {
	Prices    storage.PricePointStore
	Snapshots storage.SnapshotStore
	Watchlist storage.WatchlistStore
	Alerts    storage.AlertStore
}

// Options tune pipeline behaviour.
type Options struct {
	FetchParallelism int
	DegradedAfter    int
}

// Service orchestrates the per-market monitoring pipeline: clock gate,
// fetch, persist, detect, dispatch, recover.
type Service struct {
	sched      *scheduler.Scheduler
	markets    []*market.Market
	sources    SourceMap
	stores     Stores
	detector   *detector.Detector
	cooldowns  *detector.CooldownPolicy
	tracker    *recovery.Tracker
	dispatcher *alerting.Dispatcher
	cache      StatusCache
	logger     zerolog.Logger

	fetchParallelism int
	degradedAfter    int

	// One guard per market: a tick still running when the next fires
	// skips that market only. Markets never block each other.
	guards      map[string]*atomic.Bool
	failStreaks map[string]*atomic.Int64
	inflight    sync.WaitGroup
}

// New constructs the monitoring service.
func New(sched *scheduler.Scheduler, markets []*market.Market, sources SourceMap, stores Stores, det *detector.Detector, cooldowns *detector.CooldownPolicy, tracker *recovery.Tracker, dispatcher *alerting.Dispatcher, priceCache StatusCache, opts Options, logger zerolog.Logger) *Service {
	parallelism := opts.FetchParallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	degradedAfter := opts.DegradedAfter
	if degradedAfter <= 0 {
		degradedAfter = 3
	}

	guards := make(map[string]*atomic.Bool, len(markets))
	streaks := make(map[string]*atomic.Int64, len(markets))
	for _, mkt := range markets {
		guards[mkt.ID] = &atomic.Bool{}
		streaks[mkt.ID] = &atomic.Int64{}
	}

	return &Service{
		sched:            sched,
		markets:          markets,
		sources:          sources,
		stores:           stores,
		detector:         det,
		cooldowns:        cooldowns,
		tracker:          tracker,
		dispatcher:       dispatcher,
		cache:            priceCache,
		logger:           logger.With().Str("component", "service").Logger(),
		fetchParallelism: parallelism,
		degradedAfter:    degradedAfter,
		guards:           guards,
		failStreaks:      streaks,
	}
}

// Run begins the recurring monitoring loop.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	err := s.sched.Run(ctx, s.Tick)
	// Let in-flight market pipelines drain before reporting shutdown.
	s.inflight.Wait()
	return err
}

// MarketByID resolves a configured market.
func (s *Service) MarketByID(id string) (*market.Market, bool) {
	for _, mkt := range s.markets {
		if mkt.ID == id {
			return mkt, true
		}
	}
	return nil, false
}

// Degraded reports whether a market has failed outright for several
// consecutive ticks.
func (s *Service) Degraded(mkt string) bool {
	streak, ok := s.failStreaks[mkt]
	return ok && streak.Load() >= int64(s.degradedAfter)
}

// Tick starts every market's pipeline and returns without waiting, so a
// slow market never delays another's cadence. The per-market guard skips
// a market whose previous tick is still running. A market failure never
// surfaces past its own pipeline.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	for _, mkt := range s.markets {
		s.inflight.Add(1)
		go func(mkt *market.Market) {
			defer s.inflight.Done()
			s.runMarket(ctx, mkt, now)
		}(mkt)
	}
	return nil
}

func (s *Service) runMarket(ctx context.Context, mkt *market.Market, now time.Time) {
	logger := s.logger.With().Str("market", mkt.ID).Logger()

	guard := s.guards[mkt.ID]
	if !guard.CompareAndSwap(false, true) {
		logger.Warn().Msg("previous tick still running, skipping market")
		return
	}
	defer guard.Store(false)

	if !mkt.IsOpen(now) {
		logger.Debug().Time("next_transition", mkt.NextTransition(now)).Msg("market closed")
		s.publishStatus(ctx, mkt, now, logger)
		return
	}

	symbols, err := s.stores.Watchlist.ActiveSymbols(ctx, mkt.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load watchlist")
		return
	}
	if len(symbols) == 0 {
		logger.Debug().Msg("no active symbols")
		s.publishStatus(ctx, mkt, now, logger)
		return
	}

	quotes := s.fetchQuotes(ctx, mkt, symbols)
	if len(quotes) == 0 {
		streak := s.failStreaks[mkt.ID].Add(1)
		logger.Error().Int64("consecutive_failures", streak).Msg("every symbol fetch failed this tick")
		if streak >= int64(s.degradedAfter) {
			logger.Warn().Msg("market degraded, will keep retrying on normal cadence")
		}
		return
	}
	s.failStreaks[mkt.ID].Store(0)

	// Per-symbol work is sequential with respect to that symbol's own
	// prior state; symbols are processed in watchlist order.
	for _, sym := range symbols {
		quote, ok := quotes[sym.Symbol]
		if !ok {
			continue
		}
		s.processSymbol(ctx, mkt, sym, quote, now, logger)
	}

	if _, err := s.tracker.Expire(ctx, mkt.ID, now); err != nil {
		logger.Error().Err(err).Msg("failed to expire recovery records")
	}

	s.publishStatus(ctx, mkt, now, logger)

	logger.Info().
		Int("symbols", len(symbols)).
		Int("fetched", len(quotes)).
		Msg("market tick complete")
}

// publishStatus refreshes the cached per-market status document consumed
// by the presentation layer. Best effort.
func (s *Service) publishStatus(ctx context.Context, mkt *market.Market, now time.Time, logger zerolog.Logger) {
	if s.cache == nil {
		return
	}

	status := health.MarketStatus{
		Market:         mkt.ID,
		Open:           mkt.IsOpen(now),
		NextTransition: mkt.NextTransition(now),
		Degraded:       s.Degraded(mkt.ID),
		UpdatedAt:      now,
	}

	if total, err := s.stores.Watchlist.CountActiveSymbols(ctx, mkt.ID); err == nil {
		status.WatchlistTotal = total
	}
	dayStart := mkt.TradingDate(now)
	if total, critical, err := s.stores.Alerts.CountAlerts(ctx, mkt.ID, dayStart); err == nil {
		status.AlertsToday = total
		status.CriticalToday = critical
	}

	if err := s.cache.SetMarketStatus(ctx, mkt.ID, status); err != nil {
		logger.Warn().Err(err).Msg("failed to cache market status")
	}
}

// fetchQuotes fetches all symbols with bounded parallelism. Individual
// failures are logged and dropped; the tick proceeds with what succeeded.
func (s *Service) fetchQuotes(ctx context.Context, mkt *market.Market, symbols []storage.WatchlistSymbol) map[string]fetcher.Quote {
	var mu sync.Mutex
	quotes := make(map[string]fetcher.Quote, len(symbols))

	var g errgroup.Group
	g.SetLimit(s.fetchParallelism)

	for _, sym := range symbols {
		g.Go(func() error {
			symType, err := market.ParseSymbolType(sym.Type)
			if err != nil {
				s.logger.Error().Err(err).Str("market", mkt.ID).Str("symbol", sym.Symbol).Msg("invalid watchlist row")
				return nil
			}

			chain, ok := s.sources[mkt.ID][symType]
			if !ok {
				s.logger.Error().Str("market", mkt.ID).Str("symbol", sym.Symbol).Str("type", sym.Type).Msg("no source chain configured")
				return nil
			}

			quote, err := chain.FetchQuote(ctx, sym.Symbol)
			if err != nil {
				s.logger.Warn().Err(err).Str("market", mkt.ID).Str("symbol", sym.Symbol).Msg("fetch failed, symbol skipped this tick")
				return nil
			}

			mu.Lock()
			quotes[sym.Symbol] = quote
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return quotes
}

func (s *Service) processSymbol(ctx context.Context, mkt *market.Market, sym storage.WatchlistSymbol, quote fetcher.Quote, now time.Time, logger zerolog.Logger) {
	point := storage.PricePoint{
		Symbol:    sym.Symbol,
		Market:    mkt.ID,
		Price:     quote.Price,
		Source:    quote.Source,
		Timestamp: now,
	}
	if err := s.stores.Prices.InsertPricePoint(ctx, point); err != nil {
		logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("failed to persist price point")
		return
	}

	snapshot := storage.DailySnapshot{
		Symbol:     sym.Symbol,
		Market:     mkt.ID,
		Date:       mkt.TradingDate(now),
		ClosePrice: quote.Price,
	}
	if err := s.stores.Snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
		logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("failed to upsert daily snapshot")
	}

	if err := s.cooldowns.Sweep(ctx, sym.Symbol, mkt.ID, quote.Price, now); err != nil {
		logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("cooldown sweep failed")
	}

	recovered, err := s.tracker.Observe(ctx, sym.Symbol, mkt.ID, quote.Price, now)
	if err != nil {
		logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("recovery tracking failed")
	}
	for _, record := range recovered {
		if err := s.dispatcher.DispatchRecovery(ctx, record, mkt); err != nil {
			logger.Error().Err(err).Int64("alert_id", record.AlertID).Msg("failed to announce recovery")
		}
	}

	candidates, err := s.detector.Evaluate(ctx, sym.Symbol, mkt.ID, quote.Price, now)
	if err != nil {
		logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("detection failed")
		return
	}

	for _, candidate := range candidates {
		record, err := s.stores.Alerts.InsertAlert(ctx, candidate)
		if err != nil {
			logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("failed to persist alert")
			continue
		}

		key := storage.CooldownKey{
			Symbol:       record.Symbol,
			Market:       record.Market,
			ThresholdPct: record.ThresholdPct,
			Timeframe:    record.Timeframe,
		}
		if err := s.cooldowns.Arm(ctx, key, record.HistoricalPrice, now); err != nil {
			logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("failed to arm cooldown")
		}

		if err := s.tracker.Open(ctx, record); err != nil {
			logger.Error().Err(err).Int64("alert_id", record.ID).Msg("failed to open recovery record")
		}

		logger.Info().
			Str("symbol", record.Symbol).
			Str("timeframe", record.Timeframe).
			Str("threshold", record.ThresholdPct.String()).
			Str("drop_pct", record.DropPct.StringFixed(2)).
			Bool("critical", record.Critical).
			Msg("alert raised")

		// Notification failure never unwinds the alert record.
		if err := s.dispatcher.Dispatch(ctx, record, mkt); err != nil {
			logger.Error().Err(err).Int64("alert_id", record.ID).Msg("failed to dispatch alert")
		}
	}

	if s.cache != nil {
		if err := s.cache.SetLatestPrice(ctx, point); err != nil {
			logger.Warn().Err(err).Str("symbol", sym.Symbol).Msg("failed to cache latest price")
		}
	}
}
