package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/alerting"
	"dipwatcher/internal/cache"
	"dipwatcher/internal/config"
	"dipwatcher/internal/detector"
	"dipwatcher/internal/fetcher"
	"dipwatcher/internal/history"
	"dipwatcher/internal/market"
	"dipwatcher/internal/recovery"
	"dipwatcher/internal/scheduler"
	"dipwatcher/internal/service"
	"dipwatcher/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) buildMarkets() ([]*market.Market, error) {
	markets := make([]*market.Market, 0, len(a.Config.Markets))
	for _, mc := range a.Config.Markets {
		mkt, err := market.New(market.Options{
			ID:       mc.ID,
			Currency: mc.Currency,
			Timezone: mc.Timezone,
			Open:     mc.Open,
			Close:    mc.Close,
		})
		if err != nil {
			return nil, err
		}
		markets = append(markets, mkt)
	}
	return markets, nil
}

// buildSources assembles one fallback chain per (market, symbol type) from
// the configured routing. The NSE and AMFI fetchers are shared; Yahoo is
// built per market so each gets its own symbol suffix.
func (a *App) buildSources() (service.SourceMap, error) {
	src := a.Config.Sources

	nse := fetcher.NewNSE(fetcher.NSEOptions{
		BaseURL:   src.NSE.BaseURL,
		QuotePath: src.NSE.QuotePath,
		Timeout:   src.NSE.Timeout,
		UserAgent: src.NSE.UserAgent,
	}, a.Logger)

	amfi := fetcher.NewAMFI(fetcher.AMFIOptions{
		URL:      src.AMFI.URL,
		Timeout:  src.AMFI.Timeout,
		CacheTTL: src.AMFI.CacheTTL,
	}, a.Logger)

	sources := make(service.SourceMap, len(a.Config.Markets))
	for _, mc := range a.Config.Markets {
		yahoo := fetcher.NewYahoo(fetcher.YahooOptions{
			BaseURL:      src.Yahoo.BaseURL,
			Timeout:      src.Yahoo.Timeout,
			UserAgent:    src.Yahoo.UserAgent,
			SymbolSuffix: mc.YahooSuffix,
		}, a.Logger)

		byName := map[string]fetcher.QuoteFetcher{
			"nse":   nse,
			"yahoo": yahoo,
			"amfi":  amfi,
		}

		chains := make(map[market.SymbolType]fetcher.QuoteFetcher, len(mc.Sources))
		for typeName, names := range mc.Sources {
			symType, err := market.ParseSymbolType(typeName)
			if err != nil {
				return nil, fmt.Errorf("market %s: %w", mc.ID, err)
			}

			ordered := make([]fetcher.QuoteFetcher, 0, len(names))
			for _, name := range names {
				f, ok := byName[name]
				if !ok {
					return nil, fmt.Errorf("market %s: unknown source %q", mc.ID, name)
				}
				ordered = append(ordered, f)
			}
			chains[symType] = fetcher.NewChain(a.Logger, ordered...)
		}
		sources[mc.ID] = chains
	}
	return sources, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required for the monitoring service")
	}
	defer closeStore()

	priceCache, err := cache.New(a.Config.Cache, a.Logger)
	if err != nil {
		return err
	}
	if priceCache != nil {
		defer priceCache.Close()
	}
	// A typed nil *cache.Cache must not become a non-nil interface value.
	var statusCache service.StatusCache
	if priceCache != nil {
		statusCache = priceCache
	}

	markets, err := a.buildMarkets()
	if err != nil {
		return err
	}
	sources, err := a.buildSources()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	resolver := history.NewResolver(store, history.Options{
		Tolerance: a.Config.Detection.Tolerance,
		Markets:   markets,
	}, a.Logger)

	cooldowns := detector.NewCooldownPolicy(store, detector.CooldownOptions{
		Duration:         a.Config.Cooldown.Duration,
		RecoveryFraction: decimal.NewFromFloat(a.Config.Cooldown.RecoveryFraction),
	}, a.Logger)

	ladder := make([]decimal.Decimal, 0, len(a.Config.Detection.Thresholds))
	for _, threshold := range a.Config.Detection.Thresholds {
		ladder = append(ladder, decimal.NewFromFloat(threshold))
	}
	det := detector.New(resolver, cooldowns, detector.Options{
		Ladder:     ladder,
		CriticalAt: decimal.NewFromFloat(a.Config.Detection.CriticalAt),
	}, a.Logger)

	tracker := recovery.NewTracker(store, recovery.Options{
		RecoveryFraction: decimal.NewFromFloat(a.Config.Recovery.Fraction),
		Horizon:          a.Config.Recovery.Horizon,
	}, a.Logger)

	var notifier alerting.Notifier
	if a.Config.Alerting.Enabled {
		notifier = a.newNotifier()
		if notifier == nil {
			a.Logger.Warn().Msg("alerting enabled but no channel configured")
		}
	}
	dispatcher := alerting.NewDispatcher(notifier, store, a.Logger)

	svc := service.New(sched, markets, sources, service.Stores{
		Prices:    store,
		Snapshots: store,
		Watchlist: store,
		Alerts:    store,
	}, det, cooldowns, tracker, dispatcher, statusCache, service.Options{
		FetchParallelism: a.Config.Scheduler.FetchParallelism,
		DegradedAfter:    a.Config.Scheduler.DegradedAfter,
	}, a.Logger)

	a.Logger.Info().Int("markets", len(markets)).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Market string
}

// StatusOptions configure the status command.
type StatusOptions struct {
	Window time.Duration
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	Market    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// SimulateOptions feed a synthetic evaluation through the detection and
// notification path.
type SimulateOptions struct {
	Symbol     string
	Market     string
	Price      float64
	Historical float64
	Timeframe  string
}

// BackfillOptions configure the snapshot rebuild job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
