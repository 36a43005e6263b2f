package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Evidence   EvidenceConfig   `yaml:"evidence" mapstructure:"evidence"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ExtractionConfig points at the external crawl/extraction service.
type ExtractionConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StorageConfig locates the output tree (queue, runs, final bundles,
// billing) on the local filesystem.
type StorageConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// EvidenceConfig configures the evidence index backend.
type EvidenceConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SchedulerConfig holds the queue tunables. Scoring weights are
// compile-time constants; only timing and caps are configurable.
type SchedulerConfig struct {
	BackoffBaseSecs int `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	BackoffMaxSecs  int `yaml:"backoff_max_secs" mapstructure:"backoff_max_secs"`
	MaxAttempts     int `yaml:"max_attempts" mapstructure:"max_attempts"`
	StaleAfterDays  int `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	URLHistoryCap   int `yaml:"url_history_cap" mapstructure:"url_history_cap"`
}

// BatchConfig tunes batch processing.
type BatchConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	RoundsPerMinute int `yaml:"rounds_per_minute" mapstructure:"rounds_per_minute"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory (optional), then
// applies HARVESTER_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("storage.root", "output")
	v.SetDefault("evidence.driver", "sqlite")
	v.SetDefault("evidence.sqlite_path", "output/_evidence/evidence.db")
	v.SetDefault("scheduler.backoff_base_secs", 60)
	v.SetDefault("scheduler.backoff_max_secs", 3600)
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.stale_after_days", 30)
	v.SetDefault("scheduler.url_history_cap", 300)
	v.SetDefault("extraction.base_url", "http://127.0.0.1:8900")
	v.SetDefault("extraction.timeout_secs", 900)
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.rounds_per_minute", 0)
	v.SetDefault("server.port", 8750)
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
