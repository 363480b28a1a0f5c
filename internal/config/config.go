// Package config loads application configuration from config.yaml and the
// ADDR_* environment, and initializes the global logger.
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
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Oracle  OracleConfig  `yaml:"oracle" mapstructure:"oracle"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
	Jobs    JobsConfig    `yaml:"jobs" mapstructure:"jobs"`
	Format  FormatConfig  `yaml:"format" mapstructure:"format"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Cleanup CleanupConfig `yaml:"cleanup" mapstructure:"cleanup"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OracleConfig holds the language-model API settings.
type OracleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	Offline bool   `yaml:"offline" mapstructure:"offline"`
}

// BatchConfig configures the reconciliation layer.
type BatchConfig struct {
	Size        int     `yaml:"size" mapstructure:"size"`
	CompareSize int     `yaml:"compare_size" mapstructure:"compare_size"`
	FallbackRPS float64 `yaml:"fallback_rps" mapstructure:"fallback_rps"`
}

// JobsConfig configures job processing and retention.
type JobsConfig struct {
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir"`
	MaxWorkers    int    `yaml:"max_workers" mapstructure:"max_workers"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// Retention converts the configured retention into a duration.
func (j JobsConfig) Retention() time.Duration {
	if j.RetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(j.RetentionDays) * 24 * time.Hour
}

// FormatConfig configures country-specific output formatting.
type FormatConfig struct {
	Country      string `yaml:"country" mapstructure:"country"`
	TemplateFile string `yaml:"template_file" mapstructure:"template_file"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CleanupConfig configures the daily retention sweep.
type CleanupConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	Hour       int  `yaml:"hour" mapstructure:"hour"`
	Minute     int  `yaml:"minute" mapstructure:"minute"`
	RunAtStart bool `yaml:"run_at_start" mapstructure:"run_at_start"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ADDR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "jobs.db")
	v.SetDefault("oracle.model", "claude-haiku-4-5-20251001")
	v.SetDefault("batch.size", 10)
	v.SetDefault("batch.compare_size", 5)
	v.SetDefault("batch.fallback_rps", 2)
	v.SetDefault("jobs.output_dir", "results")
	v.SetDefault("jobs.max_workers", 4)
	v.SetDefault("jobs.retention_days", 7)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.hour", 2)
	v.SetDefault("cleanup.minute", 0)
	v.SetDefault("cleanup.run_at_start", true)

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
