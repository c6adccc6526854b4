// SPDX-License-Identifier: MIT

// Package config assembles the daemon configuration from defaults, an
// optional YAML file and environment variables, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds every runtime setting of the daemon.
type AppConfig struct {
	Listen          string        `yaml:"listen"`
	Store           string        `yaml:"store"`
	DBPath          string        `yaml:"db_path"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Breaker   BreakerConfig   `yaml:"breaker"`
	Rollout   RolloutConfig   `yaml:"rollout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// BreakerConfig tunes the lock-rate circuit breaker.
type BreakerConfig struct {
	MaxLocks int           `yaml:"max_locks"`
	Window   time.Duration `yaml:"window"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// RolloutConfig tunes the canary rollout health gates.
type RolloutConfig struct {
	ErrorRateThreshold     float64 `yaml:"error_rate_threshold"`
	HeartbeatLossThreshold float64 `yaml:"heartbeat_loss_threshold"`
}

// RateLimitConfig tunes the per-client HTTP rate limiter.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	RPM     int  `yaml:"rpm"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Listen:          ":8080",
		Store:           "memory",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		Breaker: BreakerConfig{
			MaxLocks: 50,
			Window:   5 * time.Minute,
			Cooldown: 10 * time.Minute,
		},
		Rollout: RolloutConfig{
			ErrorRateThreshold:     0.02,
			HeartbeatLossThreshold: 0.05,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPM:     600,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables. Environment wins.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Listen = ParseString("POLICYD_LISTEN", cfg.Listen)
	cfg.Store = ParseString("POLICYD_STORE", cfg.Store)
	cfg.DBPath = ParseString("POLICYD_DB_PATH", cfg.DBPath)
	cfg.LogLevel = ParseString("POLICYD_LOG_LEVEL", cfg.LogLevel)
	cfg.ShutdownTimeout = ParseDuration("POLICYD_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.Breaker.MaxLocks = ParseInt("POLICYD_BREAKER_MAX_LOCKS", cfg.Breaker.MaxLocks)
	cfg.Breaker.Window = ParseDuration("POLICYD_BREAKER_WINDOW", cfg.Breaker.Window)
	cfg.Breaker.Cooldown = ParseDuration("POLICYD_BREAKER_COOLDOWN", cfg.Breaker.Cooldown)

	cfg.Rollout.ErrorRateThreshold = ParseFloat("POLICYD_ROLLOUT_ERROR_THRESHOLD", cfg.Rollout.ErrorRateThreshold)
	cfg.Rollout.HeartbeatLossThreshold = ParseFloat("POLICYD_ROLLOUT_HEARTBEAT_THRESHOLD", cfg.Rollout.HeartbeatLossThreshold)

	cfg.RateLimit.Enabled = ParseBool("POLICYD_RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RPM = ParseInt("POLICYD_RATE_LIMIT_RPM", cfg.RateLimit.RPM)

	return cfg, cfg.Validate()
}

// Validate rejects configurations the daemon cannot run with.
func (c AppConfig) Validate() error {
	switch c.Store {
	case "", "memory":
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("store %q requires POLICYD_DB_PATH", c.Store)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.Breaker.MaxLocks <= 0 {
		return fmt.Errorf("breaker max_locks must be positive (got %d)", c.Breaker.MaxLocks)
	}
	if c.Breaker.Window <= 0 {
		return fmt.Errorf("breaker window must be positive (got %s)", c.Breaker.Window)
	}
	if c.Rollout.ErrorRateThreshold <= 0 || c.Rollout.ErrorRateThreshold > 1 {
		return fmt.Errorf("rollout error_rate_threshold must be in (0,1] (got %g)", c.Rollout.ErrorRateThreshold)
	}
	if c.Rollout.HeartbeatLossThreshold <= 0 || c.Rollout.HeartbeatLossThreshold > 1 {
		return fmt.Errorf("rollout heartbeat_loss_threshold must be in (0,1] (got %g)", c.Rollout.HeartbeatLossThreshold)
	}
	if c.RateLimit.Enabled && c.RateLimit.RPM <= 0 {
		return fmt.Errorf("rate_limit rpm must be positive when enabled (got %d)", c.RateLimit.RPM)
	}
	return nil
}
