// Package config loads application configuration and bootstraps logging.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AuthConfig configures credential acquisition and refresh.
type AuthConfig struct {
	TokenURL     string        `yaml:"token_url" mapstructure:"token_url"`
	ClientID     string        `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string        `yaml:"client_secret" mapstructure:"client_secret"`
	// ExpirySkew refreshes the credential this long before its reported expiry.
	ExpirySkew time.Duration `yaml:"expiry_skew" mapstructure:"expiry_skew"`
	// MaxFailures is the consecutive acquisition failure count that aborts
	// the shard with a fatal error.
	MaxFailures int `yaml:"max_failures" mapstructure:"max_failures"`
}

// CatalogConfig configures the upstream listing API client.
type CatalogConfig struct {
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	UserAgent       string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RatePerSec      float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int           `yaml:"burst" mapstructure:"burst"`
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	BreakerTrips    int           `yaml:"breaker_trips" mapstructure:"breaker_trips"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
	BreakerMaxOpen  time.Duration `yaml:"breaker_max_open" mapstructure:"breaker_max_open"`
	PageSize        int           `yaml:"page_size" mapstructure:"page_size"`
}

// CrawlConfig configures cycle orchestration.
type CrawlConfig struct {
	Workers  int `yaml:"workers" mapstructure:"workers"`
	MaxPages int `yaml:"max_pages" mapstructure:"max_pages"`

	// DelistGrace is how long an unobserved listing stays active before the
	// delisting sweep retires it.
	DelistGrace time.Duration `yaml:"delist_grace" mapstructure:"delist_grace"`
}

// NormalizeConfig configures foreign-key resolution policy.
type NormalizeConfig struct {
	// PolicyPath points to an optional YAML file overriding the built-in
	// inference policy (trade-type thresholds, region bounding boxes).
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// GeocodeConfig configures the best-effort address enrichment service.
type GeocodeConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
}

// ServerConfig configures the metrics server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("auth.expiry_skew", "2m")
	v.SetDefault("auth.max_failures", 3)
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.rate_per_sec", 5.0)
	v.SetDefault("catalog.burst", 5)
	v.SetDefault("catalog.max_retries", 4)
	v.SetDefault("catalog.breaker_trips", 5)
	v.SetDefault("catalog.breaker_cooldown", "30s")
	v.SetDefault("catalog.breaker_max_open", "10m")
	v.SetDefault("catalog.page_size", 50)
	v.SetDefault("catalog.user_agent", "ingest-cli/1.0")
	v.SetDefault("crawl.workers", 8)
	v.SetDefault("crawl.delist_grace", "24h")
	v.SetDefault("geocode.rate_per_sec", 10.0)
	v.SetDefault("geocode.enabled", true)

	// Read config file (optional)
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
