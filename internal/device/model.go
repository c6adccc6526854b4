// SPDX-License-Identifier: MIT

// Package device defines the lifecycle data model for financed devices:
// states, events, commands and the policy payload each state implies.
package device

// State is the lifecycle state of a financed device. It is a closed
// enumeration; the engine never produces a value outside this set.
type State string

const (
	StateProvisioning   State = "PROVISIONING"
	StateActive         State = "ACTIVE"
	StateGracePeriod    State = "GRACE_PERIOD"
	StateSoftLocked     State = "SOFT_LOCKED"
	StateHardLocked     State = "HARD_LOCKED"
	StateSuspended      State = "SUSPENDED"
	StatePaidOff        State = "PAID_OFF"
	StateStolenLocked   State = "STOLEN_LOCKED"
	StateDecommissioned State = "DECOMMISSIONED"
)

// States lists every valid device state.
var States = []State{
	StateProvisioning,
	StateActive,
	StateGracePeriod,
	StateSoftLocked,
	StateHardLocked,
	StateSuspended,
	StatePaidOff,
	StateStolenLocked,
	StateDecommissioned,
}

// Valid reports whether s is a member of the closed enumeration.
func (s State) Valid() bool {
	switch s {
	case StateProvisioning, StateActive, StateGracePeriod, StateSoftLocked,
		StateHardLocked, StateSuspended, StatePaidOff, StateStolenLocked,
		StateDecommissioned:
		return true
	}
	return false
}

// IsLockEscalation reports whether entering s consumes circuit-breaker
// budget. Admin-driven lock states (SUSPENDED, STOLEN_LOCKED) do not:
// they cannot produce a fleet-wide lock storm.
func (s State) IsLockEscalation() bool {
	return s == StateSoftLocked || s == StateHardLocked
}

// EventType identifies a payment or lifecycle event delivered to the engine.
type EventType string

const (
	EventDPCEnrolled        EventType = "dpc.enrolled"
	EventPaymentReceived    EventType = "payment.received"
	EventPaymentOverdue     EventType = "payment.overdue"
	EventPaymentCompleted   EventType = "payment.completed"
	EventGraceExpired       EventType = "grace.expired"
	EventEscalationTimeout  EventType = "escalation.timeout"
	EventAdminSuspend       EventType = "admin.suspend"
	EventAdminReinstate     EventType = "admin.reinstate"
	EventAdminReportStolen  EventType = "admin.report_stolen"
	EventAdminRecover       EventType = "admin.recover"
	EventAdminDecommission  EventType = "admin.decommission"
	EventProvisioningFailed EventType = "provisioning.failed"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventDPCEnrolled, EventPaymentReceived, EventPaymentOverdue,
		EventPaymentCompleted, EventGraceExpired, EventEscalationTimeout,
		EventAdminSuspend, EventAdminReinstate, EventAdminReportStolen,
		EventAdminRecover, EventAdminDecommission, EventProvisioningFailed:
		return true
	}
	return false
}

// Command is an actuation the DPC must perform on its next poll.
type Command string

const (
	CommandLock            Command = "LOCK"
	CommandUnlock          Command = "UNLOCK"
	CommandWipe            Command = "WIPE"
	CommandSetRestrictions Command = "SET_RESTRICTIONS"
)

// MaxSerialLength bounds the opaque device serial.
const MaxSerialLength = 64

// ValidSerial reports whether s is a usable device serial:
// 1..64 printable, non-space-only characters.
func ValidSerial(s string) bool {
	if len(s) == 0 || len(s) > MaxSerialLength {
		return false
	}
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
