// Package config handles TOML configuration for Allot.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// EnvPrefix scopes environment overrides, e.g. ALLOT_STORAGE_DIR.
// Durations are Go duration strings in both TOML and environment.
const EnvPrefix = "ALLOT"

// Config is the root configuration structure.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Server     ServerConfig     `toml:"server"`
	AWS        AWSConfig        `toml:"aws"`
	OTEL       OTELConfig       `toml:"otel"`
	Notify     NotifyConfig     `toml:"notify"`
	Export     ExportConfig     `toml:"export"`
	Allocation AllocationConfig `toml:"allocation"`
	Policy     PolicyConfig     `toml:"policy"`
	Log        LogConfig        `toml:"log"`
}

// StorageConfig holds the embedded database location.
type StorageConfig struct {
	Dir string `toml:"dir" split_words:"true"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `toml:"addr" split_words:"true"`
	MetricsAddr     string        `toml:"metrics_addr" split_words:"true"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" split_words:"true"`
}

// AWSConfig holds AWS SDK settings shared by SQS and S3.
type AWSConfig struct {
	Region  string `toml:"region" split_words:"true"`
	Profile string `toml:"profile" split_words:"true"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" split_words:"true"`
	Insecure    bool          `toml:"insecure" split_words:"true"`
	ServiceName string        `toml:"service_name" split_words:"true"`
	Environment string        `toml:"environment" split_words:"true"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" split_words:"true"`
	SampleRate float64 `toml:"sample_rate" split_words:"true"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" split_words:"true"`
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	Timeout    time.Duration `toml:"timeout" split_words:"true"`
	SQSEnabled bool          `toml:"sqs_enabled" split_words:"true"`
}

// ExportConfig holds S3 export settings. An empty bucket disables export.
type ExportConfig struct {
	Bucket string `toml:"bucket" split_words:"true"`
	Prefix string `toml:"prefix" split_words:"true"`
}

// AllocationConfig holds allocation engine settings.
type AllocationConfig struct {
	// DefaultRulesFile replaces the built-in fallback rules when set
	DefaultRulesFile string `toml:"default_rules_file" split_words:"true"`
}

// PolicyConfig holds policy evaluator settings.
type PolicyConfig struct {
	RequiredTags []string `toml:"required_tags" split_words:"true"`
	MaxOffenders int      `toml:"max_offenders" split_words:"true"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" split_words:"true"`
	Format string `toml:"format" split_words:"true"`
}

// Load reads a TOML config file and applies environment overrides.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./data"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "allot"
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 10 * time.Second
	}
	if cfg.Export.Prefix == "" {
		cfg.Export.Prefix = "chargeback"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage: dir required")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify: timeout must be positive")
	}
	if c.Policy.MaxOffenders < 0 {
		return fmt.Errorf("policy: max_offenders cannot be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: invalid level %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log: format must be json or console (got %q)", c.Log.Format)
	}
	return nil
}
