package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ppgrobot/BTC-Thorp/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Collector CollectorConfig `mapstructure:"collector"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Assets    []AssetConfig   `mapstructure:"assets"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CollectorConfig governs the price ingest cadence.
type CollectorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// FeedConfig covers the spot price source.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ExchangeConfig captures exchange API connectivity and credentials. The
// signing key may arrive via file path or directly via environment; it is
// never echoed back in logs or errors.
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	KeyID          string        `mapstructure:"key_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	PrivateKey     string        `mapstructure:"private_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// AssetConfig parameterises one asset's pipeline. Each entry becomes an
// independently scheduled executor sharing the feed, store, and exchange
// client.
type AssetConfig struct {
	Symbol   string          `mapstructure:"symbol"`
	Pair     string          `mapstructure:"pair"`
	Series   string          `mapstructure:"series"`
	Horizons []time.Duration `mapstructure:"horizons"`
	// BaseHorizon is the look-back whose volatility feeds the probability model.
	BaseHorizon time.Duration `mapstructure:"base_horizon"`
	// TradeOffset is how long before settlement the decision path goes live.
	TradeOffset       time.Duration `mapstructure:"trade_offset"`
	MinStrikeBps      float64       `mapstructure:"min_strike_bps"`
	MinEdge           float64       `mapstructure:"min_edge"`
	PriceFloorCents   int           `mapstructure:"price_floor_cents"`
	PriceCeilingCents int           `mapstructure:"price_ceiling_cents"`
	KellyFractionCap  float64       `mapstructure:"kelly_fraction_cap"`
	MaxContracts      int           `mapstructure:"max_contracts"`
	// MaxCandidates bounds how many qualifying strikes are evaluated per
	// cycle; the first tradable one wins and at most one order is placed.
	MaxCandidates    int     `mapstructure:"max_candidates"`
	MinBalance       float64 `mapstructure:"min_balance"`
	MaxVolatilityPct float64 `mapstructure:"max_volatility_pct"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("THORP")
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

	for i := range cfg.Assets {
		applyAssetDefaults(&cfg.Assets[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
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
	v.SetDefault("app.name", "thorp")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("collector.interval", "1m")
	v.SetDefault("collector.align_to_bucket", true)
	v.SetDefault("collector.advisory_lock_key", int64(0x74687270))
	v.SetDefault("collector.startup_delay", "0s")

	v.SetDefault("feed.base_url", "https://api.coinbase.com")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "thorp/1.0")

	v.SetDefault("exchange.base_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("exchange.key_id", "")
	v.SetDefault("exchange.private_key_path", "")
	v.SetDefault("exchange.private_key", "")
	v.SetDefault("exchange.request_timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

// applyAssetDefaults fills unset per-asset parameters with the strategy's
// stock settings: quarter Kelly, 3% edge floor, 20 bps strike distance, a
// 50-91 cent tradable band, and the 15-minute base horizon.
func applyAssetDefaults(a *AssetConfig) {
	if len(a.Horizons) == 0 {
		a.Horizons = []time.Duration{
			15 * time.Minute,
			30 * time.Minute,
			60 * time.Minute,
			90 * time.Minute,
			120 * time.Minute,
		}
	}
	if a.BaseHorizon <= 0 {
		a.BaseHorizon = 15 * time.Minute
	}
	if a.TradeOffset <= 0 {
		a.TradeOffset = 15 * time.Minute
	}
	if a.MinStrikeBps <= 0 {
		a.MinStrikeBps = 20
	}
	if a.MinEdge <= 0 {
		a.MinEdge = 0.03
	}
	if a.PriceFloorCents <= 0 {
		a.PriceFloorCents = 50
	}
	if a.PriceCeilingCents <= 0 {
		a.PriceCeilingCents = 91
	}
	if a.KellyFractionCap <= 0 {
		a.KellyFractionCap = 0.25
	}
	if a.MaxContracts <= 0 {
		a.MaxContracts = 999
	}
	if a.MaxCandidates <= 0 {
		a.MaxCandidates = 1
	}
	if a.MinBalance <= 0 {
		a.MinBalance = 1.0
	}
	if a.MaxVolatilityPct <= 0 {
		a.MaxVolatilityPct = 11.0
	}
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be greater than zero")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		if asset.Symbol == "" {
			return fmt.Errorf("assets[].symbol is required")
		}
		if _, dup := seen[asset.Symbol]; dup {
			return fmt.Errorf("duplicate asset symbol %q", asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
		if asset.Pair == "" {
			return fmt.Errorf("asset %s: pair is required", asset.Symbol)
		}
		if asset.Series == "" {
			return fmt.Errorf("asset %s: series is required", asset.Symbol)
		}
		if asset.PriceFloorCents >= asset.PriceCeilingCents {
			return fmt.Errorf("asset %s: price_floor_cents must be below price_ceiling_cents", asset.Symbol)
		}
		if asset.PriceFloorCents < 1 || asset.PriceCeilingCents > 99 {
			return fmt.Errorf("asset %s: price band must sit inside 1-99 cents", asset.Symbol)
		}
		if asset.KellyFractionCap > 1 {
			return fmt.Errorf("asset %s: kelly_fraction_cap cannot exceed 1", asset.Symbol)
		}
		if !containsHorizon(asset.Horizons, asset.BaseHorizon) {
			return fmt.Errorf("asset %s: base_horizon must be one of horizons", asset.Symbol)
		}
	}
	return nil
}

func containsHorizon(horizons []time.Duration, d time.Duration) bool {
	for _, h := range horizons {
		if h == d {
			return true
		}
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Asset looks up one asset block by symbol.
func (c *Config) Asset(symbol string) (AssetConfig, bool) {
	for _, a := range c.Assets {
		if strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// LongestHorizon returns the retention-relevant maximum look-back.
func (a AssetConfig) LongestHorizon() time.Duration {
	longest := a.BaseHorizon
	for _, h := range a.Horizons {
		if h > longest {
			longest = h
		}
	}
	return longest
}
