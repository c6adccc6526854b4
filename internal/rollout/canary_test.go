// SPDX-License-Identifier: MIT

package rollout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRollout(t *testing.T) {
	c := NewController(DefaultConfig())
	result := c.StartRollout("2.0.0")
	assert.Equal(t, "2.0.0", result.Version)
	assert.Equal(t, "CANARY", result.Stage)
	assert.Equal(t, 1, result.Percent)

	status := c.CurrentStatus()
	assert.True(t, status.Active)
	assert.Equal(t, "CANARY", status.Stage)
}

func TestPromoteThroughStages(t *testing.T) {
	c := NewController(DefaultConfig())
	c.StartRollout("2.0.0")

	eval := c.EvaluateAndAdvance(0.001, 0.01)
	require.Equal(t, StatusPromoted, eval.Status)
	assert.Equal(t, "STAGED", eval.Stage)
	assert.Equal(t, 10, eval.Percent)

	eval = c.EvaluateAndAdvance(0.005, 0.02)
	require.Equal(t, StatusPromoted, eval.Status)
	assert.Equal(t, "BROAD", eval.Stage)
	assert.Equal(t, 50, eval.Percent)

	eval = c.EvaluateAndAdvance(0.01, 0.03)
	require.Equal(t, StatusPromoted, eval.Status)
	assert.Equal(t, "GA", eval.Stage)
	assert.Equal(t, 100, eval.Percent)

	eval = c.EvaluateAndAdvance(0.005, 0.01)
	require.Equal(t, StatusGAComplete, eval.Status)
	assert.Equal(t, "2.0.0", eval.Version)
	assert.False(t, c.CurrentStatus().Active)
}

func TestRollbackOnErrorRate(t *testing.T) {
	c := NewController(DefaultConfig())
	c.StartRollout("2.1.0")

	eval := c.EvaluateAndAdvance(0.05, 0.01)
	require.Equal(t, StatusRolledBack, eval.Status)
	assert.Contains(t, strings.ToLower(eval.Reason), "error rate")
	assert.Equal(t, "CANARY", eval.Stage)
	assert.False(t, c.CurrentStatus().Active)

	// Rollback is terminal: further evaluations see no rollout.
	eval = c.EvaluateAndAdvance(0.0, 0.0)
	assert.Equal(t, StatusNoActiveRollout, eval.Status)
}

func TestRollbackOnHeartbeatLoss(t *testing.T) {
	c := NewController(DefaultConfig())
	c.StartRollout("2.2.0")

	eval := c.EvaluateAndAdvance(0.001, 0.10)
	require.Equal(t, StatusRolledBack, eval.Status)
	assert.Contains(t, strings.ToLower(eval.Reason), "heartbeat")
}

func TestThresholdsAreInclusive(t *testing.T) {
	c := NewController(DefaultConfig())
	c.StartRollout("2.3.0")

	eval := c.EvaluateAndAdvance(0.02, 0.0)
	assert.Equal(t, StatusRolledBack, eval.Status)
}

func TestNoActiveRollout(t *testing.T) {
	c := NewController(DefaultConfig())
	eval := c.EvaluateAndAdvance(0.0, 0.0)
	assert.Equal(t, StatusNoActiveRollout, eval.Status)
	assert.False(t, c.CurrentStatus().Active)
}

func TestRestartReplacesActiveRollout(t *testing.T) {
	c := NewController(DefaultConfig())
	c.StartRollout("2.0.0")
	c.EvaluateAndAdvance(0.0, 0.0) // CANARY -> STAGED

	result := c.StartRollout("2.0.1")
	assert.Equal(t, "CANARY", result.Stage)
	status := c.CurrentStatus()
	assert.Equal(t, "2.0.1", status.Version)
	assert.Equal(t, "CANARY", status.Stage)
}

func TestCustomThresholds(t *testing.T) {
	c := NewController(Config{ErrorRateThreshold: 0.5, HeartbeatLossThreshold: 0.5})
	c.StartRollout("3.0.0")
	eval := c.EvaluateAndAdvance(0.4, 0.4)
	assert.Equal(t, StatusPromoted, eval.Status)
}
