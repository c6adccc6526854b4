// SPDX-License-Identifier: MIT

package engine

import (
	"context"

	"github.com/finfleet/policyd/internal/log"
	"github.com/finfleet/policyd/internal/metrics"
	"github.com/finfleet/policyd/internal/store"
)

// PendingCommands returns the unacknowledged commands for a device in
// insertion order. An unknown serial yields an empty list, not an error:
// a freshly provisioned DPC polls before its first transition commits.
func (e *Engine) PendingCommands(ctx context.Context, serial string) ([]store.CommandEntry, error) {
	return e.repo.ListPendingCommands(ctx, serial)
}

// AckCommand marks a command as executed by the DPC. Idempotent: acking an
// already-acknowledged command succeeds. Acknowledged entries are retained
// for audit; they simply stop appearing in PendingCommands.
func (e *Engine) AckCommand(ctx context.Context, id string) (store.CommandEntry, error) {
	entry, err := e.repo.AckCommand(ctx, id)
	if err != nil {
		return store.CommandEntry{}, err
	}
	metrics.CommandsAckedTotal.Inc()
	logger := log.WithComponentFromContext(ctx, "dispatch")
	logger.Info().
		Str(log.FieldCommandID, id).
		Str(log.FieldSerial, entry.Serial).
		Str(log.FieldCommand, string(entry.Command)).
		Msg("command acknowledged")
	return entry, nil
}
