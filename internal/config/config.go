package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dipwatcher/internal/logging"
	"dipwatcher/internal/storage"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig          `mapstructure:"app"`
	Logging   logging.Config     `mapstructure:"logging"`
	Database  storage.PoolConfig `mapstructure:"database"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Markets   []MarketConfig     `mapstructure:"markets"`
	Sources   SourcesConfig      `mapstructure:"sources"`
	Detection DetectionConfig    `mapstructure:"detection"`
	Cooldown  CooldownConfig     `mapstructure:"cooldown"`
	Recovery  RecoveryConfig     `mapstructure:"recovery"`
	Alerting  AlertingConfig     `mapstructure:"alerting"`
	Cache     CacheConfig        `mapstructure:"cache"`
	Export    ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs the tick cadence and per-market pipeline limits.
type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	FetchParallelism int           `mapstructure:"fetch_parallelism"`
	DegradedAfter    int           `mapstructure:"degraded_after"`
}

// MarketConfig defines one trading venue and its source routing.
type MarketConfig struct {
	ID          string              `mapstructure:"id"`
	Currency    string              `mapstructure:"currency"`
	Timezone    string              `mapstructure:"timezone"`
	Open        string              `mapstructure:"open"`
	Close       string              `mapstructure:"close"`
	YahooSuffix string              `mapstructure:"yahoo_suffix"`
	Sources     map[string][]string `mapstructure:"sources"` // symbol type -> ordered source names
}

// SourcesConfig holds upstream feed connectivity.
type SourcesConfig struct {
	NSE   NSESourceConfig   `mapstructure:"nse"`
	Yahoo YahooSourceConfig `mapstructure:"yahoo"`
	AMFI  AMFISourceConfig  `mapstructure:"amfi"`
}

// NSESourceConfig covers the exchange-native NSE quote API.
type NSESourceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	QuotePath string        `mapstructure:"quote_path"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"request_timeout"`
}

// YahooSourceConfig covers the Yahoo Finance chart API.
type YahooSourceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"request_timeout"`
}

// AMFISourceConfig covers the AMFI mutual-fund NAV feed.
type AMFISourceConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"request_timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// DetectionConfig defines the threshold ladder and reference tolerance.
type DetectionConfig struct {
	Thresholds []float64     `mapstructure:"thresholds"`
	CriticalAt float64       `mapstructure:"critical_at"`
	Tolerance  time.Duration `mapstructure:"reference_tolerance"`
}

// CooldownConfig defines the alert stand-down rule: a key clears on
// whichever comes first of duration elapsed or price recovery.
type CooldownConfig struct {
	Duration         time.Duration `mapstructure:"duration"`
	RecoveryFraction float64       `mapstructure:"recovery_fraction"`
}

// RecoveryConfig defines recovery-record criteria.
type RecoveryConfig struct {
	Fraction float64       `mapstructure:"fraction"`
	Horizon  time.Duration `mapstructure:"horizon"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// CacheConfig covers the optional Redis latest-price/status cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIPWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Markets) == 0 {
		cfg.Markets = DefaultMarkets()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultMarkets returns the built-in NSE and NASDAQ definitions used when
// no markets are configured.
func DefaultMarkets() []MarketConfig {
	return []MarketConfig{
		{
			ID:          "NSE",
			Currency:    "₹",
			Timezone:    "Asia/Kolkata",
			Open:        "09:15",
			Close:       "15:30",
			YahooSuffix: ".NS",
			Sources: map[string][]string{
				"INDEX":       {"nse", "yahoo"},
				"STOCK":       {"nse", "yahoo"},
				"MUTUAL_FUND": {"amfi"},
			},
		},
		{
			ID:       "NASDAQ",
			Currency: "$",
			Timezone: "America/New_York",
			Open:     "09:30",
			Close:    "16:00",
			Sources: map[string][]string{
				"INDEX": {"yahoo"},
				"STOCK": {"yahoo"},
			},
		},
	}
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dipwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 7)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.fetch_parallelism", 4)
	v.SetDefault("scheduler.degraded_after", 3)

	v.SetDefault("sources.nse.base_url", "https://www.nseindia.com/api")
	v.SetDefault("sources.nse.quote_path", "/quote-equity")
	v.SetDefault("sources.nse.request_timeout", "10s")
	v.SetDefault("sources.nse.user_agent", "dipwatcher/1.0")
	v.SetDefault("sources.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("sources.yahoo.request_timeout", "10s")
	v.SetDefault("sources.yahoo.user_agent", "dipwatcher/1.0")
	v.SetDefault("sources.amfi.url", "https://www.amfiindia.com/spages/NAVAll.txt")
	v.SetDefault("sources.amfi.request_timeout", "30s")
	v.SetDefault("sources.amfi.cache_ttl", "15m")

	v.SetDefault("detection.thresholds", []float64{5, 10, 15, 20})
	v.SetDefault("detection.critical_at", 20.0)
	v.SetDefault("detection.reference_tolerance", "120h")

	v.SetDefault("cooldown.duration", "24h")
	v.SetDefault("cooldown.recovery_fraction", 1.0)

	v.SetDefault("recovery.fraction", 1.0)
	v.SetDefault("recovery.horizon", "720h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl", "2m")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.FetchParallelism <= 0 {
		return fmt.Errorf("scheduler.fetch_parallelism must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if len(c.Detection.Thresholds) == 0 {
		return fmt.Errorf("detection.thresholds cannot be empty")
	}
	for _, threshold := range c.Detection.Thresholds {
		if threshold <= 0 {
			return fmt.Errorf("detection.thresholds must all be positive, got %v", threshold)
		}
	}
	if c.Cooldown.RecoveryFraction <= 0 || c.Cooldown.RecoveryFraction > 1 {
		return fmt.Errorf("cooldown.recovery_fraction must be in (0, 1]")
	}
	if c.Recovery.Fraction <= 0 || c.Recovery.Fraction > 1 {
		return fmt.Errorf("recovery.fraction must be in (0, 1]")
	}

	seen := make(map[string]bool, len(c.Markets))
	for _, mkt := range c.Markets {
		if mkt.ID == "" {
			return fmt.Errorf("every market needs an id")
		}
		if seen[mkt.ID] {
			return fmt.Errorf("duplicate market id %q", mkt.ID)
		}
		seen[mkt.ID] = true
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
