package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"listing-repricer/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Export      ExportConfig      `mapstructure:"export"`
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
}

// SchedulerConfig governs the daily reduction pass.
type SchedulerConfig struct {
	CronSpec    string        `mapstructure:"cron_spec"`
	Workers     int           `mapstructure:"workers"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// MarketplaceConfig covers the outbound search adapter.
type MarketplaceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SellerID       string        `mapstructure:"seller_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxResults     int           `mapstructure:"max_results"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	RateBurst      int           `mapstructure:"rate_burst"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Auth           AuthConfig    `mapstructure:"auth"`
}

// AuthConfig parameterises the client-credentials token exchange.
type AuthConfig struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	StaticToken  string   `mapstructure:"static_token"`
}

// GatewayConfig covers the remote price-apply call.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// ResolverConfig holds competitive-match tuning knobs.
type ResolverConfig struct {
	MinCandidates   int     `mapstructure:"min_candidates"`
	OutlierUpper    float64 `mapstructure:"outlier_upper"`
	OutlierLower    float64 `mapstructure:"outlier_lower"`
	BatchLimit      int     `mapstructure:"batch_limit"`
	RunBeforeReduce bool    `mapstructure:"run_before_reduce"`
}

// RetentionConfig bounds the attempt audit log.
type RetentionConfig struct {
	AttemptMaxAge time.Duration `mapstructure:"attempt_max_age"`
	PurgeCronSpec string        `mapstructure:"purge_cron_spec"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDays int `mapstructure:"max_days"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPRICER")
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
	v.SetDefault("app.name", "repricer")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.cron_spec", "0 0 6 * * *")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.stale_after", "6h")
	v.SetDefault("scheduler.call_timeout", "15s")

	v.SetDefault("marketplace.request_timeout", "15s")
	v.SetDefault("marketplace.max_results", 50)
	v.SetDefault("marketplace.rate_per_second", 2.0)
	v.SetDefault("marketplace.rate_burst", 4)
	v.SetDefault("marketplace.max_retries", 2)

	v.SetDefault("gateway.request_timeout", "15s")
	v.SetDefault("gateway.max_retries", 2)

	v.SetDefault("resolver.min_candidates", 5)
	v.SetDefault("resolver.outlier_upper", 3.0)
	v.SetDefault("resolver.outlier_lower", 0.3)
	v.SetDefault("resolver.batch_limit", 100)
	v.SetDefault("resolver.run_before_reduce", true)

	v.SetDefault("retention.attempt_max_age", "2160h")
	v.SetDefault("retention.purge_cron_spec", "")

	v.SetDefault("export.max_days", 365)
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
	if c.Scheduler.CronSpec == "" {
		return fmt.Errorf("scheduler.cron_spec is required")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.Scheduler.StaleAfter < 0 {
		return fmt.Errorf("scheduler.stale_after cannot be negative")
	}
	if c.Marketplace.MaxResults <= 0 {
		return fmt.Errorf("marketplace.max_results must be greater than zero")
	}
	if c.Marketplace.RatePerSecond <= 0 {
		return fmt.Errorf("marketplace.rate_per_second must be greater than zero")
	}
	if c.Resolver.MinCandidates <= 0 {
		return fmt.Errorf("resolver.min_candidates must be greater than zero")
	}
	if c.Resolver.OutlierUpper <= 1 {
		return fmt.Errorf("resolver.outlier_upper must be greater than one")
	}
	if c.Resolver.OutlierLower <= 0 || c.Resolver.OutlierLower >= 1 {
		return fmt.Errorf("resolver.outlier_lower must be between zero and one")
	}
	if c.Export.MaxDays <= 0 {
		return fmt.Errorf("export.max_days must be greater than zero")
	}
	return nil
}
