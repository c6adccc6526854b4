// SPDX-License-Identifier: MIT

// Package rollout controls staged deployment of DPC app updates. A new
// version walks CANARY -> STAGED -> BROAD -> GA, promoted only while fleet
// health stays under the rollback thresholds.
package rollout

import (
	"fmt"
	"sync"

	"github.com/finfleet/policyd/internal/log"
	"github.com/finfleet/policyd/internal/metrics"
)

// Stage is one step of the staged rollout.
type Stage struct {
	Name             string `json:"name"`
	Percent          int    `json:"percent"`
	ObservationHours int    `json:"observation_hours"`
}

// stages is the fixed promotion ladder. The observation window is enforced
// by the external scheduler that calls EvaluateAndAdvance.
var stages = []Stage{
	{Name: "CANARY", Percent: 1, ObservationHours: 24},
	{Name: "STAGED", Percent: 10, ObservationHours: 24},
	{Name: "BROAD", Percent: 50, ObservationHours: 12},
	{Name: "GA", Percent: 100, ObservationHours: 0},
}

// Evaluation statuses.
const (
	StatusNoActiveRollout = "no_active_rollout"
	StatusPromoted        = "promoted"
	StatusRolledBack      = "rolled_back"
	StatusGAComplete      = "ga_complete"
)

// Config holds the health thresholds that abort a rollout.
type Config struct {
	ErrorRateThreshold     float64
	HeartbeatLossThreshold float64
}

// DefaultConfig returns the production thresholds: 2% error rate or 5%
// heartbeat loss aborts.
func DefaultConfig() Config {
	return Config{
		ErrorRateThreshold:     0.02,
		HeartbeatLossThreshold: 0.05,
	}
}

// Controller is the canary rollout stage machine. Rollback is terminal for
// a rollout; a new version requires a fresh StartRollout.
type Controller struct {
	mu         sync.Mutex
	cfg        Config
	active     bool
	version    string
	stageIndex int
}

// NewController creates a controller. Non-positive thresholds fall back to
// the defaults.
func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.HeartbeatLossThreshold <= 0 {
		cfg.HeartbeatLossThreshold = def.HeartbeatLossThreshold
	}
	metrics.RolloutStage.Set(-1)
	return &Controller{cfg: cfg}
}

// StartResult reports the stage a freshly started rollout begins in.
type StartResult struct {
	Version string `json:"version"`
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// StartRollout begins a new rollout at the CANARY stage. Starting while a
// rollout is active abandons the old one.
func (c *Controller) StartRollout(version string) StartResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version = version
	c.stageIndex = 0
	c.active = true
	metrics.RolloutStage.Set(0)

	stage := stages[0]
	logger := log.WithComponent("rollout")
	logger.Info().
		Str(log.FieldEvent, "rollout.started").
		Str(log.FieldRollout, version).
		Str(log.FieldStage, stage.Name).
		Int("percent", stage.Percent).
		Msg("canary rollout started")
	return StartResult{Version: version, Stage: stage.Name, Percent: stage.Percent}
}

// Evaluation is the outcome of one health evaluation.
type Evaluation struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// EvaluateAndAdvance inspects fleet health for the current stage and either
// promotes, completes, or rolls back. Called by the external scheduler after
// each observation window.
func (c *Controller) EvaluateAndAdvance(errorRate, heartbeatLossRate float64) Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return Evaluation{Status: StatusNoActiveRollout}
	}

	if errorRate >= c.cfg.ErrorRateThreshold {
		return c.rollback(fmt.Sprintf("error rate %.2f%% >= %.2f%%",
			errorRate*100, c.cfg.ErrorRateThreshold*100))
	}
	if heartbeatLossRate >= c.cfg.HeartbeatLossThreshold {
		return c.rollback(fmt.Sprintf("heartbeat loss %.2f%% >= %.2f%%",
			heartbeatLossRate*100, c.cfg.HeartbeatLossThreshold*100))
	}

	if c.stageIndex < len(stages)-1 {
		c.stageIndex++
		stage := stages[c.stageIndex]
		metrics.RolloutStage.Set(float64(c.stageIndex))
		logger := log.WithComponent("rollout")
		logger.Info().
			Str(log.FieldEvent, "rollout.promoted").
			Str(log.FieldRollout, c.version).
			Str(log.FieldStage, stage.Name).
			Int("percent", stage.Percent).
			Msg("rollout promoted to next stage")
		return Evaluation{
			Status:  StatusPromoted,
			Version: c.version,
			Stage:   stage.Name,
			Percent: stage.Percent,
		}
	}

	c.active = false
	metrics.RolloutStage.Set(-1)
	logger := log.WithComponent("rollout")
	logger.Info().
		Str(log.FieldEvent, "rollout.ga_complete").
		Str(log.FieldRollout, c.version).
		Msg("rollout reached GA")
	return Evaluation{Status: StatusGAComplete, Version: c.version}
}

// rollback aborts the rollout. Caller holds c.mu.
func (c *Controller) rollback(reason string) Evaluation {
	stage := stages[c.stageIndex]
	c.active = false
	metrics.RolloutStage.Set(-1)
	metrics.RolloutRollbacksTotal.Inc()
	logger := log.WithComponent("rollout")
	logger.Error().
		Str(log.FieldEvent, "rollout.rolled_back").
		Str(log.FieldRollout, c.version).
		Str(log.FieldStage, stage.Name).
		Str(log.FieldReason, reason).
		Msg("rollout rolled back")
	return Evaluation{
		Status:  StatusRolledBack,
		Version: c.version,
		Stage:   stage.Name,
		Reason:  reason,
	}
}

// Status is a snapshot of the controller.
type Status struct {
	Active  bool   `json:"active"`
	Version string `json:"version,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Percent int    `json:"percent,omitempty"`
}

// CurrentStatus returns the controller snapshot.
func (c *Controller) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return Status{Active: false}
	}
	stage := stages[c.stageIndex]
	return Status{
		Active:  true,
		Version: c.version,
		Stage:   stage.Name,
		Percent: stage.Percent,
	}
}
