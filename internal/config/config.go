// Package config loads leadctl configuration from config.yaml, .env and
// LEADS_-prefixed environment variables.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Strapi     StrapiConfig     `yaml:"strapi" mapstructure:"strapi"`
	Beehiiv    BeehiivConfig    `yaml:"beehiiv" mapstructure:"beehiiv"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Leads      LeadsConfig      `yaml:"leads" mapstructure:"leads"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Filter     FilterConfig     `yaml:"filter" mapstructure:"filter"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// StrapiConfig holds the Strapi CMS endpoint serving loan and CIBIL forms.
type StrapiConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Token         string `yaml:"token" mapstructure:"token"`
	PageSize      int    `yaml:"page_size" mapstructure:"page_size"`
	CIBILPageSize int    `yaml:"cibil_page_size" mapstructure:"cibil_page_size"`
}

// BeehiivConfig holds Beehiiv newsletter API settings.
type BeehiivConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	PublicationID string `yaml:"publication_id" mapstructure:"publication_id"`
}

// SourcesConfig tunes how external sources are called.
type SourcesConfig struct {
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RetryAttempts     int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RatePerSec        float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CacheTTL          time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CreditReportLimit int           `yaml:"credit_report_limit" mapstructure:"credit_report_limit"`
	Circuit           CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CircuitConfig configures per-source circuit breakers.
type CircuitConfig struct {
	Threshold int           `yaml:"threshold" mapstructure:"threshold"`
	Reset     time.Duration `yaml:"reset" mapstructure:"reset"`
}

// RedisConfig configures the optional source response cache.
type RedisConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// ReconcileConfig configures the users upsert writer.
type ReconcileConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// LeadsConfig configures the combined-leads read path.
type LeadsConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	MaxPageSize    int           `yaml:"max_page_size" mapstructure:"max_page_size"`
}

// SyncConfig configures the scheduled reconciliation sync.
type SyncConfig struct {
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// FilterConfig points at an optional bucket table override.
type FilterConfig struct {
	BucketsFile string `yaml:"buckets_file" mapstructure:"buckets_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures sync health alerts.
type MonitoringConfig struct {
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CheckInterval        time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	LookbackHours        int           `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("strapi.base_url", "")
	v.SetDefault("strapi.token", "")
	v.SetDefault("strapi.page_size", 100)
	v.SetDefault("strapi.cibil_page_size", 1000)
	v.SetDefault("beehiiv.base_url", "https://api.beehiiv.com/v2")
	v.SetDefault("beehiiv.api_key", "")
	v.SetDefault("beehiiv.publication_id", "")
	v.SetDefault("sources.timeout", 30*time.Second)
	v.SetDefault("sources.retry_attempts", 3)
	v.SetDefault("sources.rate_per_sec", 5.0)
	v.SetDefault("sources.cache_ttl", 5*time.Minute)
	v.SetDefault("sources.credit_report_limit", 100)
	v.SetDefault("sources.circuit.threshold", 5)
	v.SetDefault("sources.circuit.reset", 60*time.Second)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("reconcile.batch_size", 1000)
	v.SetDefault("leads.request_timeout", 60*time.Second)
	v.SetDefault("leads.max_page_size", 100)
	v.SetDefault("sync.schedule", "")
	v.SetDefault("sync.timezone", "Asia/Kolkata")
	v.SetDefault("filter.buckets_file", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.check_interval", 5*time.Minute)
	v.SetDefault("monitoring.lookback_hours", 24)
}

// Validate checks that the keys required by mode are set. Modes are the
// leadctl subcommands: serve, sync, leads, migrate.
func (c *Config) Validate(mode string) error {
	var problems []string
	need := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "migrate":
		need(c.Store.DatabaseURL != "", "store.database_url is required")
	case "serve", "sync", "leads":
		need(c.Store.DatabaseURL != "", "store.database_url is required")
		need(c.Reconcile.BatchSize > 0, "reconcile.batch_size must be > 0")
		need(c.Sources.Timeout > 0, "sources.timeout must be > 0")
		need(c.Leads.MaxPageSize >= 1 && c.Leads.MaxPageSize <= 1000, "leads.max_page_size must be between 1 and 1000")
		if c.Redis.Enabled {
			need(c.Redis.URL != "", "redis.url is required when redis.enabled")
		}
		if mode == "serve" {
			need(c.Server.Port > 0, "server.port must be > 0")
		}
		if c.Sync.Timezone != "" {
			_, err := time.LoadLocation(c.Sync.Timezone)
			need(err == nil, "sync.timezone is not a valid IANA zone")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// StrapiEnabled reports whether Strapi credentials are configured.
func (c *Config) StrapiEnabled() bool {
	return c.Strapi.BaseURL != "" && c.Strapi.Token != ""
}

// BeehiivEnabled reports whether Beehiiv credentials are configured.
func (c *Config) BeehiivEnabled() bool {
	return c.Beehiiv.APIKey != "" && c.Beehiiv.PublicationID != ""
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
