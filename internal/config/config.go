// Package config loads application configuration from file and environment.
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
	AvantLink AvantLinkConfig `yaml:"avantlink" mapstructure:"avantlink"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AvantLinkConfig holds affiliate API credentials and endpoint settings.
type AvantLinkConfig struct {
	AffiliateID string        `yaml:"affiliate_id" mapstructure:"affiliate_id"`
	WebsiteID   string        `yaml:"website_id" mapstructure:"website_id"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// SyncConfig configures the price-history sync pipeline.
type SyncConfig struct {
	BatchSize     int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAPICalls   int           `yaml:"max_api_calls" mapstructure:"max_api_calls"`
	ItemDelay     time.Duration `yaml:"item_delay" mapstructure:"item_delay"`
	StaleAfter    time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	RetentionDays int           `yaml:"retention_days" mapstructure:"retention_days"`
}

// CacheConfig configures the local payload cache used to avoid re-billing
// API quota when a run is interrupted between fetch and persist.
type CacheConfig struct {
	Path    string `yaml:"path" mapstructure:"path"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("DEALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	for key, val := range Defaults() {
		v.SetDefault(key, val)
	}

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

// Defaults returns the default configuration values keyed by viper path.
// Exposed so `config init` can render them into a starter config file.
func Defaults() map[string]any {
	return map[string]any{
		"store.max_conns":        int32(4),
		"avantlink.base_url":     "https://classic.avantlink.com/api.php",
		"avantlink.timeout":      "30s",
		"avantlink.max_retries":  3,
		"avantlink.rate_per_sec": 2.0,
		"sync.batch_size":        50,
		"sync.max_api_calls":     200,
		"sync.item_delay":        "500ms",
		"sync.stale_after":       "10m",
		"sync.retention_days":    365,
		"cache.path":             "dealsync-cache.db",
		"cache.enabled":          true,
		"server.port":            8080,
		"server.allowed_origins": []string{"*"},
		"log.level":              "info",
		"log.format":             "json",
	}
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
