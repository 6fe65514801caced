// Package config loads and validates engine configuration from YAML files
// with ${ENV_VAR} interpolation.
package config

import (
	"time"
)

// Config is the root engine configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine" validate:"required"`
	Gateway GatewayConfig `mapstructure:"gateway" validate:"required"`
	Store   StoreConfig   `mapstructure:"store"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// EngineConfig tunes run execution.
type EngineConfig struct {
	// RunTimeout is the whole-run wall-clock budget.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// MatchTimeout bounds the workflow fetch during trigger matching.
	MatchTimeout time.Duration `mapstructure:"match_timeout"`
	// MaxParallelRuns bounds per-event run concurrency.
	MaxParallelRuns int `mapstructure:"max_parallel_runs" validate:"min=1,max=128"`
	// ImplicitDefaultArm makes a condition's last edge the fallback arm.
	ImplicitDefaultArm bool        `mapstructure:"implicit_default_arm"`
	Retry              RetryConfig `mapstructure:"retry"`
}

// RetryConfig is the default per-node retry policy for action nodes that
// do not declare their own.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	BackoffStrategy string        `mapstructure:"backoff_strategy" validate:"oneof=constant linear exponential"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"min=1"`
}

// GatewayConfig configures the outbound WhatsApp gateway client.
type GatewayConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	APIKey  string `mapstructure:"api_key"`
	// RatePerSecond throttles outbound sends; 0 disables throttling.
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"min=0"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the workflow/contact store backend.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `mapstructure:"driver" validate:"oneof=sqlite memory"`
	Path   string `mapstructure:"path"`
}

// LedgerConfig selects the run ledger backend and retention.
type LedgerConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite memory"`
	Path   string `mapstructure:"path"`
	// Retention is how long terminal runs stay before eviction.
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			RunTimeout:      30 * time.Second,
			MatchTimeout:    2 * time.Second,
			MaxParallelRuns: 8,
			Retry: RetryConfig{
				MaxRetries:      3,
				BackoffStrategy: "exponential",
				InitialDelay:    100 * time.Millisecond,
				MaxDelay:        5 * time.Second,
				Multiplier:      2.0,
			},
		},
		Gateway: GatewayConfig{
			BaseURL:       "http://localhost:8080",
			RatePerSecond: 20,
			Timeout:       10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "flowengine.db",
		},
		Ledger: LedgerConfig{
			Driver:    "sqlite",
			Path:      "flowengine.db",
			Retention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
	}
}
