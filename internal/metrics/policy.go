// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion metrics
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyd_events_total",
		Help: "Processed lifecycle events by outcome",
	}, []string{"outcome"}) // outcome=transitioned|duplicate|invalid_transition|circuit_open|error

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyd_transitions_total",
		Help: "Committed state transitions by entered state",
	}, []string{"to_state"})

	CommandsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyd_commands_enqueued_total",
		Help: "Commands queued for DPC pickup by command type",
	}, []string{"command"})

	CommandsAckedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policyd_commands_acked_total",
		Help: "Commands acknowledged by devices",
	})

	// Safety metrics
	BreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policyd_breaker_trips_total",
		Help: "Times the lock-rate circuit breaker tripped OPEN",
	})

	breakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policyd_breaker_open",
		Help: "Whether the lock-rate circuit breaker is OPEN (1) or CLOSED (0)",
	})

	EmergencyUnlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policyd_emergency_unlocks_total",
		Help: "Emergency mass-unlock invocations",
	})

	// Rollout metrics
	RolloutStage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policyd_rollout_stage",
		Help: "Current canary rollout stage index (-1 when no rollout is active)",
	})

	RolloutRollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policyd_rollout_rollbacks_total",
		Help: "Canary rollouts aborted by health signals",
	})
)

// BreakerState publishes the breaker gauge.
func BreakerState(open bool) {
	if open {
		breakerOpen.Set(1)
	} else {
		breakerOpen.Set(0)
	}
}
