// SPDX-License-Identifier: MIT

package engine

import (
	"context"

	"github.com/finfleet/policyd/internal/device"
	"github.com/finfleet/policyd/internal/log"
	"github.com/finfleet/policyd/internal/metrics"
	"github.com/finfleet/policyd/internal/store"
)

// emergencyUnlockStates are the states the emergency unlock releases.
// STOLEN_LOCKED and DECOMMISSIONED are deliberately excluded: those are not
// payment-driven locks and must survive a mass unlock.
var emergencyUnlockStates = []device.State{
	device.StateSoftLocked,
	device.StateHardLocked,
	device.StateSuspended,
}

// UnlockResult reports an emergency mass unlock.
type UnlockResult struct {
	UnlockedCount   int      `json:"unlocked_count"`
	UnlockedDevices []string `json:"unlocked_devices"`
	Reason          string   `json:"reason"`
}

// EmergencyUnlock transitions every locked or suspended device straight to
// ACTIVE, bypassing the transition table, and resets the circuit breaker.
// No commands are queued: the next policy poll returns the permissive
// payload.
func (e *Engine) EmergencyUnlock(ctx context.Context, reason string) (UnlockResult, error) {
	if reason == "" {
		reason = "emergency"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	locked, err := e.repo.ScanDevicesInStates(ctx, emergencyUnlockStates)
	if err != nil {
		return UnlockResult{}, err
	}

	logger := log.WithComponentFromContext(ctx, "engine")
	actor := "emergency:" + reason
	unlocked := make([]string, 0, len(locked))

	for _, d := range locked {
		err := e.repo.CommitTransition(ctx, store.Transition{
			Serial:   d.Serial,
			NewState: device.StateActive,
			Audit: store.AuditRecord{
				Serial:    d.Serial,
				FromState: d.State,
				ToState:   device.StateActive,
				Event:     device.EventAdminReinstate,
				Actor:     actor,
				Timestamp: e.now(),
			},
		})
		if err != nil {
			return UnlockResult{}, err
		}
		unlocked = append(unlocked, d.Serial)
		metrics.TransitionsTotal.WithLabelValues(string(device.StateActive)).Inc()
		logger.Info().
			Str(log.FieldSerial, d.Serial).
			Str(log.FieldFromState, string(d.State)).
			Str(log.FieldToState, string(device.StateActive)).
			Str(log.FieldActor, actor).
			Msg("device unlocked by emergency action")
	}

	e.breaker.Reset()
	metrics.EmergencyUnlocksTotal.Inc()

	logger.Warn().
		Int("unlocked_count", len(unlocked)).
		Str(log.FieldReason, reason).
		Msg("emergency mass unlock executed")

	return UnlockResult{
		UnlockedCount:   len(unlocked),
		UnlockedDevices: unlocked,
		Reason:          reason,
	}, nil
}

// DeleteDevice removes a device's state, audit trail and command queue.
func (e *Engine) DeleteDevice(ctx context.Context, serial string) (removedAudit, removedCommands int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removedAudit, removedCommands, err = e.repo.DeleteDevice(ctx, serial)
	if err != nil {
		return 0, 0, err
	}
	logger := log.WithComponentFromContext(ctx, "engine")
	logger.Info().
		Str(log.FieldSerial, serial).
		Int("removed_audit_records", removedAudit).
		Int("removed_commands", removedCommands).
		Msg("device deleted")
	return removedAudit, removedCommands, nil
}

// ListDevices returns every registered device with its current state.
func (e *Engine) ListDevices(ctx context.Context) ([]store.DeviceStatus, error) {
	return e.repo.ListDevices(ctx)
}

// Audit returns the full audit trail for a device in commit order.
func (e *Engine) Audit(ctx context.Context, serial string) ([]store.AuditRecord, error) {
	return e.repo.ListAudit(ctx, serial)
}
