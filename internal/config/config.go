// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env        string `mapstructure:"APP_ENV"`
	StorageDir string `mapstructure:"STORAGE_DIR"`

	// RedisURL is optional. When empty, UI notifications are simply not published.
	RedisURL string `mapstructure:"REDIS_URL"`

	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`

	// ResetOnCorruption selects the recovery choice when the startup integrity
	// check fails: discard and reset storage instead of quitting.
	ResetOnCorruption bool `mapstructure:"RESET_ON_CORRUPTION"`

	VacuumPagesPerChunk   int `mapstructure:"VACUUM_PAGES_PER_CHUNK"`
	VacuumMinFreePages    int `mapstructure:"VACUUM_MIN_FREE_PAGES"`
	VacuumChunkIntervalMs int `mapstructure:"VACUUM_CHUNK_INTERVAL_MS"`
	VacuumPeriodicMinutes int `mapstructure:"VACUUM_PERIODIC_MINUTES"`

	ReconcileIntervalSeconds int `mapstructure:"RECONCILE_INTERVAL_SECONDS"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	SamplerRatio    float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config.
	// We intentionally ignore this error as the config file may not exist yet.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("STORAGE_DIR", defaultStorageDir())
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("RESET_ON_CORRUPTION", false)
	viper.SetDefault("VACUUM_PAGES_PER_CHUNK", 500)
	viper.SetDefault("VACUUM_MIN_FREE_PAGES", 500)
	viper.SetDefault("VACUUM_CHUNK_INTERVAL_MS", 1000)
	viper.SetDefault("VACUUM_PERIODIC_MINUTES", 30)
	viper.SetDefault("RECONCILE_INTERVAL_SECONDS", 60)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 0.1)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and sane.
func (c *Config) Validate() error {
	if c.StorageDir == "" {
		return errors.New("STORAGE_DIR is required")
	}
	if c.VacuumPagesPerChunk <= 0 {
		return errors.New("VACUUM_PAGES_PER_CHUNK must be positive")
	}
	if c.VacuumChunkIntervalMs <= 0 {
		return errors.New("VACUUM_CHUNK_INTERVAL_MS must be positive")
	}
	if c.ReconcileIntervalSeconds <= 0 {
		return errors.New("RECONCILE_INTERVAL_SECONDS must be positive")
	}
	if c.TracingExporter != "stdout" && c.TracingExporter != "otlp" {
		return fmt.Errorf("unknown TRACING_EXPORTER %q", c.TracingExporter)
	}
	if c.TracingExporter == "otlp" && c.TracingEnabled && c.OTLPEndpoint == "" {
		return errors.New("OTLP_ENDPOINT is required when the otlp exporter is enabled")
	}
	return nil
}

// DatabasePath returns the full path of the SQLite database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorageDir, "sql", "db.sqlite")
}

func defaultStorageDir() string {
	return filepath.Join(".", "data")
}
