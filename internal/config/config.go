// Package config handles configuration loading for cascade.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the cascade engine.
type Config struct {
	// MaxConcurrency bounds the number of units dispatched in one batch.
	MaxConcurrency int             `mapstructure:"max_concurrency"`
	Budget         BudgetConfig    `mapstructure:"budget"`
	Retry          RetryConfig     `mapstructure:"retry"`
	Breaker        BreakerConfig   `mapstructure:"circuit_breaker"`
	Reconcile      ReconcileConfig `mapstructure:"reconcile"`
	Worker         WorkerConfig    `mapstructure:"worker"`
	Tracker        TrackerConfig   `mapstructure:"tracker"`
	// ContinueOnFailure keeps the run loop going past a failed unit
	// instead of halting. Off by default.
	ContinueOnFailure bool `mapstructure:"continue_on_failure"`
	// LogPath is the debug log file; empty disables debug logging.
	LogPath string `mapstructure:"log_path"`
}

// BudgetConfig holds context-budget settings.
type BudgetConfig struct {
	// Limit is the total budget in abstract cost units.
	Limit int64 `mapstructure:"limit"`
	// CompactionThresholdPercent pauses dispatch at this usage level
	// in sequential mode.
	CompactionThresholdPercent int `mapstructure:"compaction_threshold_percent"`
	// ParallelThresholdPercent is the lower pause threshold used while
	// running in parallel mode.
	ParallelThresholdPercent int `mapstructure:"parallel_threshold_percent"`
	// ResidualPercent is the usage level Compact resets to, reflecting
	// the summary retained after compaction.
	ResidualPercent int `mapstructure:"residual_percent"`
	// UnitCost is the estimated cost reserved per dispatched unit.
	UnitCost int64 `mapstructure:"unit_cost"`
}

// RetryConfig holds retry/backoff settings for external calls.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the initial attempt.
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialDelayMs is the base backoff delay.
	InitialDelayMs int `mapstructure:"initial_delay_ms"`
	// MaxDelayMs caps the backoff delay.
	MaxDelayMs int `mapstructure:"max_delay_ms"`
	// Multiplier is the exponential backoff factor.
	Multiplier float64 `mapstructure:"multiplier"`
}

// InitialDelay returns the base delay as a duration.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the delay cap as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// BreakerConfig holds circuit-breaker settings for external collaborators.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// RecoveryTimeoutMs is how long the circuit stays open before probing.
	RecoveryTimeoutMs int `mapstructure:"recovery_timeout_ms"`
	// HalfOpenMaxAttempts is the number of trial calls allowed while half-open.
	HalfOpenMaxAttempts int `mapstructure:"half_open_max_attempts"`
	// SuccessThreshold is the consecutive trial successes needed to close.
	SuccessThreshold int `mapstructure:"success_threshold"`
}

// RecoveryTimeout returns the open period as a duration.
func (b BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(b.RecoveryTimeoutMs) * time.Millisecond
}

// ReconcileConfig holds tracker-sync settings.
type ReconcileConfig struct {
	// DebounceWindowMs coalesces rapid changes to the same external item.
	DebounceWindowMs int `mapstructure:"debounce_window_ms"`
}

// DebounceWindow returns the debounce window as a duration.
func (r ReconcileConfig) DebounceWindow() time.Duration {
	return time.Duration(r.DebounceWindowMs) * time.Millisecond
}

// WorkerConfig holds settings for the external worker command.
type WorkerConfig struct {
	// Command is the executable dispatched per unit. The unit document is
	// written to its stdin as JSON.
	Command string `mapstructure:"command"`
	// Args are fixed arguments passed before the unit ID.
	Args []string `mapstructure:"args"`
	// TimeoutMs bounds a single unit execution.
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// Timeout returns the per-unit timeout as a duration.
func (w WorkerConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// TrackerConfig holds settings for the external issue tracker CLI.
type TrackerConfig struct {
	// Command is the tracker CLI executable (default "gh").
	Command string `mapstructure:"command"`
	// Repo is the tracker repository in owner/name form.
	Repo string `mapstructure:"repo"`
	// Enabled toggles tracker sync entirely.
	Enabled bool `mapstructure:"enabled"`
}

// setDefaults applies built-in defaults to the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrency", 4)
	v.SetDefault("continue_on_failure", false)
	v.SetDefault("log_path", "")

	v.SetDefault("budget.limit", 200000)
	v.SetDefault("budget.compaction_threshold_percent", 70)
	v.SetDefault("budget.parallel_threshold_percent", 60)
	v.SetDefault("budget.residual_percent", 10)
	v.SetDefault("budget.unit_cost", 8000)

	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("circuit_breaker.failure_threshold", 3)
	v.SetDefault("circuit_breaker.recovery_timeout_ms", 30000)
	v.SetDefault("circuit_breaker.half_open_max_attempts", 1)
	v.SetDefault("circuit_breaker.success_threshold", 1)

	v.SetDefault("reconcile.debounce_window_ms", 10000)

	v.SetDefault("worker.command", "")
	v.SetDefault("worker.timeout_ms", 1800000)

	v.SetDefault("tracker.command", "gh")
	v.SetDefault("tracker.repo", "")
	v.SetDefault("tracker.enabled", false)
}

// getUserConfigDir returns the XDG config directory for cascade.
func getUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cascade")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cascade")
}

// findProjectConfig walks up from the current directory looking for a
// .cascade/config.yaml project override.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".cascade", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CASCADE_*)
// 2. Project config (.cascade/config.yaml in current directory or parent)
// 3. User config (~/.config/cascade/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CASCADE")
	v.AutomaticEnv()
	v.BindEnv("max_concurrency", "CASCADE_MAX_CONCURRENCY")
	v.BindEnv("budget.limit", "CASCADE_BUDGET_LIMIT")
	v.BindEnv("tracker.repo", "CASCADE_TRACKER_REPO")
	v.BindEnv("worker.command", "CASCADE_WORKER_COMMAND")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Default returns a config populated with built-in defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(cfg)
	return cfg
}
