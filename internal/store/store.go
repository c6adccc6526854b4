// SPDX-License-Identifier: MIT

// Package store holds device states, audit records, queued commands and the
// processed-transaction set behind a single repository interface. The memory
// backend is the default; the sqlite backend is a drop-in replacement.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/finfleet/policyd/internal/device"
)

// ErrNotFound is returned when a serial or command id is unknown.
var ErrNotFound = errors.New("not found")

// AuditRecord is one committed state transition. Append-only.
type AuditRecord struct {
	Serial        string           `json:"serial_number"`
	FromState     device.State     `json:"from_state"`
	ToState       device.State     `json:"to_state"`
	Event         device.EventType `json:"event"`
	Actor         string           `json:"actor"`
	Timestamp     time.Time        `json:"timestamp"`
	TransactionID string           `json:"transaction_id,omitempty"`
}

// CommandEntry is one queued actuation awaiting DPC pickup.
type CommandEntry struct {
	ID           string              `json:"id"`
	Serial       string              `json:"serial_number"`
	Command      device.Command      `json:"command"`
	Payload      device.Restrictions `json:"payload"`
	CreatedAt    time.Time           `json:"created_at"`
	Acknowledged bool                `json:"acknowledged"`
}

// DeviceStatus pairs a serial with its current state.
type DeviceStatus struct {
	Serial string       `json:"serial_number"`
	State  device.State `json:"state"`
}

// Transition bundles everything one committed event application writes.
// Repositories apply it atomically: state, audit, optional command and
// optional transaction mark become visible together or not at all.
type Transition struct {
	Serial        string
	NewState      device.State
	Audit         AuditRecord
	Command       *CommandEntry
	TransactionID string
}

// Repository is the persistence contract for the policy engine and the
// admin surface. All operations are linearizable with respect to one
// another.
type Repository interface {
	GetState(ctx context.Context, serial string) (device.State, bool, error)
	PutState(ctx context.Context, serial string, state device.State) error

	// DeleteDevice removes the state, audit trail and command queue of a
	// device, returning how many audit records and commands went with it.
	DeleteDevice(ctx context.Context, serial string) (removedAudit, removedCommands int, err error)

	AppendAudit(ctx context.Context, rec AuditRecord) error
	ListAudit(ctx context.Context, serial string) ([]AuditRecord, error)

	EnqueueCommand(ctx context.Context, entry CommandEntry) error
	// ListPendingCommands returns unacknowledged commands in insertion order.
	ListPendingCommands(ctx context.Context, serial string) ([]CommandEntry, error)
	// AckCommand marks a command acknowledged. Acking an already-acknowledged
	// id succeeds; an unknown id returns ErrNotFound.
	AckCommand(ctx context.Context, id string) (CommandEntry, error)

	MarkTxn(ctx context.Context, id string) error
	HasTxn(ctx context.Context, id string) (bool, error)

	ListDevices(ctx context.Context) ([]DeviceStatus, error)
	ScanDevicesInStates(ctx context.Context, states []device.State) ([]DeviceStatus, error)

	// CommitTransition applies one event commit atomically.
	CommitTransition(ctx context.Context, tr Transition) error

	Close() error
}
