// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldSerial    = "serial"
	FieldTxnID     = "txn"
	FieldActor     = "actor"
	FieldClientIP  = "client_ip"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldFromState = "from_state"
	FieldToState   = "to_state"
	FieldCommand   = "command"
	FieldCommandID = "command_id"

	// Safety fields
	FieldBreakerState = "breaker_state"
	FieldRollout      = "rollout_version"
	FieldStage        = "stage"
	FieldReason       = "reason"
)
