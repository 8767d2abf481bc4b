// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the listing database.
type StoreConfig struct {
	// Driver selects the backend: "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Path is the SQLite database file location.
	Path string `yaml:"path" mapstructure:"path"`
	// DatabaseURL is the Postgres connection string when Driver is
	// "postgres".
	DatabaseURL       string  `yaml:"database_url" mapstructure:"database_url"`
	Compression       bool    `yaml:"compression" mapstructure:"compression"`
	MaxSizeMB         int     `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	RetentionDays     int     `yaml:"retention_days" mapstructure:"retention_days"`
	VacuumProbability float64 `yaml:"vacuum_probability" mapstructure:"vacuum_probability"`
}

// AnalysisConfig configures the analysis engine and job runner.
type AnalysisConfig struct {
	CacheTTLMinutes  int  `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	MaxChartPoints   int  `yaml:"max_chart_points" mapstructure:"max_chart_points"`
	BatchPageSize    int  `yaml:"batch_page_size" mapstructure:"batch_page_size"`
	Precompute       bool `yaml:"precompute" mapstructure:"precompute"`
	PopularityLimit  int  `yaml:"popularity_limit" mapstructure:"popularity_limit"`
	CancelGraceMsecs int  `yaml:"cancel_grace_msecs" mapstructure:"cancel_grace_msecs"`
}

// CacheTTL returns the cache lifetime as a duration.
func (c AnalysisConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// CancelGrace returns the job-replacement grace period as a duration.
func (c AnalysisConfig) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceMsecs) * time.Millisecond
}

// ImportConfig configures listing feed ingestion.
type ImportConfig struct {
	// BatchSize is the number of listings per upsert transaction.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// Concurrency caps parallel feed file parsing.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// RatePerSec throttles upsert batches against the store.
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// MaintenanceCron schedules periodic store maintenance. Empty
	// disables it.
	MaintenanceCron string `yaml:"maintenance_cron" mapstructure:"maintenance_cron"`
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
	v.SetEnvPrefix("CARMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "car_listings.db")
	v.SetDefault("store.compression", true)
	v.SetDefault("store.max_size_mb", 500)
	v.SetDefault("store.retention_days", 90)
	v.SetDefault("store.vacuum_probability", 0.1)
	v.SetDefault("analysis.cache_ttl_minutes", 30)
	v.SetDefault("analysis.max_chart_points", 100)
	v.SetDefault("analysis.batch_page_size", 500)
	v.SetDefault("analysis.precompute", true)
	v.SetDefault("analysis.popularity_limit", 10)
	v.SetDefault("analysis.cancel_grace_msecs", 500)
	v.SetDefault("import.batch_size", 200)
	v.SetDefault("import.concurrency", 4)
	v.SetDefault("import.rate_per_sec", 50)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.maintenance_cron", "@hourly")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
