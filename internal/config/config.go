package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"watch-arbitrage/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. WATCHARB_DATABASE_DSN.
const EnvPrefix = "WATCHARB"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Source    SourceConfig    `mapstructure:"source"`
	Database  DatabaseConfig  `mapstructure:"database"`
	FX        FXConfig        `mapstructure:"fx"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Report    ReportConfig    `mapstructure:"report"`
	Export    ExportConfig    `mapstructure:"export"`
	S3        S3Config        `mapstructure:"s3"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment"`
}

// SourceConfig selects where raw observations come from.
type SourceConfig struct {
	Kind        string  `mapstructure:"kind" validate:"oneof=postgres csv xlsx"`
	Path        string  `mapstructure:"path"`
	Sheet       string  `mapstructure:"sheet"`
	Brand       string  `mapstructure:"brand"`
	MaxRawPrice float64 `mapstructure:"max_raw_price" validate:"gt=0"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int           `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int           `mapstructure:"min_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Persist         bool          `mapstructure:"persist"`
}

// FXConfig holds the reference currency and the fallback rate table.
type FXConfig struct {
	ReferenceCurrency string             `mapstructure:"reference_currency" validate:"len=3"`
	Tolerance         float64            `mapstructure:"tolerance" validate:"gt=0,lt=1"`
	FallbackRates     map[string]float64 `mapstructure:"fallback_rates"`
}

// RatesConfig selects and tunes the precise historical rate source.
type RatesConfig struct {
	Kind              string          `mapstructure:"kind" validate:"oneof=http chainlink none"`
	BaseURL           string          `mapstructure:"base_url"`
	UserAgent         string          `mapstructure:"user_agent"`
	RequestTimeout    time.Duration   `mapstructure:"request_timeout" validate:"gte=0"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int             `mapstructure:"burst" validate:"gte=0"`
	Chainlink         ChainlinkConfig `mapstructure:"chainlink"`
	Cache             RateCacheConfig `mapstructure:"cache"`
}

// ChainlinkConfig covers the on-chain FX feeds.
type ChainlinkConfig struct {
	RPCURL   string            `mapstructure:"rpc_url"`
	Feeds    map[string]string `mapstructure:"feeds"`
	MaxSteps int               `mapstructure:"max_steps" validate:"gte=0"`
}

// RateCacheConfig selects the precise rate cache.
type RateCacheConfig struct {
	Kind string        `mapstructure:"kind" validate:"oneof=memory redis none"`
	TTL  time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// RedisConfig configures the shared rate cache.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db" validate:"gte=0"`
	PoolSize   int    `mapstructure:"pool_size" validate:"gte=0"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	Prefix     string `mapstructure:"prefix"`
}

// NormalizeConfig sets the plausibility bound and parallelism of normalization.
type NormalizeConfig struct {
	MinPlausible float64 `mapstructure:"min_plausible" validate:"gte=0"`
	MaxPlausible float64 `mapstructure:"max_plausible" validate:"gt=0"`
	Workers      int     `mapstructure:"workers" validate:"gte=0"`
}

// ScannerConfig sets the arbitrage scan thresholds.
type ScannerConfig struct {
	AllowedCurrencies []string `mapstructure:"allowed_currencies" validate:"min=1,dive,len=3"`
	MinProfitPct      float64  `mapstructure:"min_profit_pct" validate:"gte=0"`
	MaxProfitPct      float64  `mapstructure:"max_profit_pct" validate:"gt=0"`
	Workers           int      `mapstructure:"workers" validate:"gte=0"`
}

// ReportConfig tunes aggregation and the text report.
type ReportConfig struct {
	MinProfitThreshold  float64 `mapstructure:"min_profit_threshold" validate:"gte=0"`
	StableMinOccurrence int     `mapstructure:"stable_min_occurrence" validate:"gte=1"`
	StableMinProfit     float64 `mapstructure:"stable_min_profit" validate:"gte=0"`
	TopN                int     `mapstructure:"top_n" validate:"gte=1"`
}

// ExportConfig sets local export behaviour.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
	CSV bool   `mapstructure:"csv"`
	PNG bool   `mapstructure:"png"`
}

// S3Config configures artefact upload.
type S3Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	MinProfitPct float64        `mapstructure:"min_profit_pct" validate:"gte=0"`
	TopN         int            `mapstructure:"top_n" validate:"gte=1"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SchedulerConfig governs the watch loop.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval" validate:"gt=0"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay" validate:"gte=0"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "watcharb")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("source.kind", "csv")
	v.SetDefault("source.path", "data/prices.csv")
	v.SetDefault("source.sheet", "")
	v.SetDefault("source.brand", "Panerai")
	v.SetDefault("source.max_raw_price", 150000.0)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.persist", true)

	v.SetDefault("fx.reference_currency", "EUR")
	v.SetDefault("fx.tolerance", 0.10)
	v.SetDefault("fx.fallback_rates", map[string]float64{
		"USD": 0.9497,
		"GBP": 1.1727,
		"CHF": 0.9958,
		"JPY": 0.00723,
		"SGD": 0.6887,
		"CNY": 0.1410,
		"HKD": 0.1212,
		"AUD": 0.6590,
		"CAD": 0.7300,
		"KRW": 0.000735,
		"AED": 0.2586,
	})

	v.SetDefault("rates.kind", "http")
	v.SetDefault("rates.base_url", "https://api.frankfurter.app")
	v.SetDefault("rates.user_agent", "watcharb/1.0")
	v.SetDefault("rates.request_timeout", "10s")
	v.SetDefault("rates.requests_per_second", 5.0)
	v.SetDefault("rates.burst", 5)
	v.SetDefault("rates.chainlink.rpc_url", "")
	v.SetDefault("rates.chainlink.max_steps", 64)
	v.SetDefault("rates.cache.kind", "memory")
	v.SetDefault("rates.cache.ttl", "24h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.prefix", "watcharb")

	v.SetDefault("normalize.min_plausible", 1000.0)
	v.SetDefault("normalize.max_plausible", 100000.0)
	v.SetDefault("normalize.workers", 4)

	v.SetDefault("scanner.allowed_currencies", []string{"EUR", "USD", "GBP", "CHF", "JPY", "SGD", "CNY", "AED"})
	v.SetDefault("scanner.min_profit_pct", 1.0)
	v.SetDefault("scanner.max_profit_pct", 15.0)
	v.SetDefault("scanner.workers", 1)

	v.SetDefault("report.min_profit_threshold", 2.0)
	v.SetDefault("report.stable_min_occurrence", 3)
	v.SetDefault("report.stable_min_profit", 2.0)
	v.SetDefault("report.top_n", 5)

	v.SetDefault("export.dir", "out")
	v.SetDefault("export.csv", true)
	v.SetDefault("export.png", true)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "watcharb")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.force_path_style", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_profit_pct", 5.0)
	v.SetDefault("alerting.top_n", 5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x77617463))
	v.SetDefault("scheduler.startup_delay", "0s")
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

func (c *Config) normalise() {
	c.FX.ReferenceCurrency = strings.ToUpper(strings.TrimSpace(c.FX.ReferenceCurrency))
	for i, code := range c.Scanner.AllowedCurrencies {
		c.Scanner.AllowedCurrencies[i] = strings.ToUpper(strings.TrimSpace(code))
	}
	if len(c.FX.FallbackRates) > 0 {
		rates := make(map[string]float64, len(c.FX.FallbackRates))
		for code, rate := range c.FX.FallbackRates {
			rates[strings.ToUpper(strings.TrimSpace(code))] = rate
		}
		c.FX.FallbackRates = rates
	}
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	c.Rates.Kind = strings.ToLower(strings.TrimSpace(c.Rates.Kind))
	c.Rates.Cache.Kind = strings.ToLower(strings.TrimSpace(c.Rates.Cache.Kind))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Source.Kind {
	case "csv", "xlsx":
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for %s sources", c.Source.Kind)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres sources")
		}
	}
	if c.Normalize.MinPlausible >= c.Normalize.MaxPlausible {
		return fmt.Errorf("normalize.min_plausible must be below normalize.max_plausible")
	}
	if c.Scanner.MinProfitPct > c.Scanner.MaxProfitPct {
		return fmt.Errorf("scanner.min_profit_pct cannot exceed scanner.max_profit_pct")
	}
	for code, rate := range c.FX.FallbackRates {
		if rate <= 0 {
			return fmt.Errorf("fx.fallback_rates.%s must be greater than zero", code)
		}
	}
	if c.Rates.Kind == "chainlink" {
		if c.Rates.Chainlink.RPCURL == "" {
			return fmt.Errorf("rates.chainlink.rpc_url is required for chainlink rates")
		}
		if len(c.Rates.Chainlink.Feeds) == 0 {
			return fmt.Errorf("rates.chainlink.feeds must list at least one feed")
		}
	}
	if c.Rates.Cache.Kind == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required for the redis rate cache")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3.region is required when s3 is enabled")
		}
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

// PersistenceEnabled reports whether runs should be written to PostgreSQL.
func (c *Config) PersistenceEnabled() bool {
	return c.Database.Persist && c.Database.DSN != ""
}
