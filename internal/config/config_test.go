// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 50, cfg.Breaker.MaxLocks)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.Window)
	assert.Equal(t, 10*time.Minute, cfg.Breaker.Cooldown)
	assert.InDelta(t, 0.02, cfg.Rollout.ErrorRateThreshold, 1e-9)
	assert.InDelta(t, 0.05, cfg.Rollout.HeartbeatLossThreshold, 1e-9)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("POLICYD_LISTEN", ":9090")
	t.Setenv("POLICYD_BREAKER_MAX_LOCKS", "3")
	t.Setenv("POLICYD_BREAKER_WINDOW", "1m")
	t.Setenv("POLICYD_RATE_LIMIT_ENABLED", "false")
	t.Setenv("POLICYD_ROLLOUT_ERROR_THRESHOLD", "0.10")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 3, cfg.Breaker.MaxLocks)
	assert.Equal(t, time.Minute, cfg.Breaker.Window)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.InDelta(t, 0.10, cfg.Rollout.ErrorRateThreshold, 1e-9)
}

func TestYAMLFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":7070"
store: memory
breaker:
  max_locks: 20
  window: 2m
`), 0o600))

	t.Setenv("POLICYD_BREAKER_MAX_LOCKS", "30")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, 30, cfg.Breaker.MaxLocks) // env beats file
	assert.Equal(t, 2*time.Minute, cfg.Breaker.Window)
}

func TestSqliteRequiresPath(t *testing.T) {
	t.Setenv("POLICYD_STORE", "sqlite")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLICYD_DB_PATH")

	t.Setenv("POLICYD_DB_PATH", filepath.Join(t.TempDir(), "policyd.db"))
	_, err = Load("")
	assert.NoError(t, err)
}

func TestUnknownStoreRejected(t *testing.T) {
	t.Setenv("POLICYD_STORE", "etcd")
	_, err := Load("")
	assert.Error(t, err)
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("POLICYD_BREAKER_MAX_LOCKS", "not-a-number")
	t.Setenv("POLICYD_BREAKER_WINDOW", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Breaker.MaxLocks)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.Window)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
