// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finfleet/policyd/internal/device"
	"github.com/finfleet/policyd/internal/resilience"
	"github.com/finfleet/policyd/internal/store"
)

func newTestEngine(t *testing.T, breakerCfg resilience.LockBreakerConfig) (*Engine, *store.MemoryStore) {
	t.Helper()
	repo := store.NewMemoryStore()
	var seq int
	e := New(repo, resilience.NewLockBreaker(breakerCfg),
		WithNow(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("cmd-%d", seq)
		}),
	)
	return e, repo
}

func apply(t *testing.T, e *Engine, serial string, event device.EventType) Result {
	t.Helper()
	res, err := e.ApplyEvent(context.Background(), EventPayload{Serial: serial, EventType: event})
	require.NoError(t, err)
	return res
}

func TestEnrollmentCreatesDeviceImplicitly(t *testing.T) {
	e, repo := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	res := apply(t, e, "SN1", device.EventDPCEnrolled)
	assert.Equal(t, device.StateProvisioning, res.FromState)
	assert.Equal(t, device.StateActive, res.ToState)
	assert.False(t, res.Duplicate)

	state, tpl, err := e.Policy(ctx, "SN1")
	require.NoError(t, err)
	assert.Equal(t, device.StateActive, state)
	assert.False(t, tpl.Restrictions.NoCamera)

	// Entering ACTIVE queues exactly one UNLOCK command.
	pending, err := e.PendingCommands(ctx, "SN1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, device.CommandUnlock, pending[0].Command)

	// One audit record for the one transition.
	records, err := repo.ListAudit(ctx, "SN1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPaymentCycle(t *testing.T) {
	e, _ := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	apply(t, e, "SN1", device.EventDPCEnrolled)
	res := apply(t, e, "SN1", device.EventPaymentOverdue)
	assert.Equal(t, device.StateGracePeriod, res.ToState)

	// GRACE_PERIOD queues no command; the UNLOCK from enrollment remains.
	pending, err := e.PendingCommands(ctx, "SN1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	res = apply(t, e, "SN1", device.EventPaymentReceived)
	assert.Equal(t, device.StateActive, res.ToState)

	pending, err = e.PendingCommands(ctx, "SN1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Equal(t, device.CommandUnlock, pending[1].Command)
}

func TestFullLockEscalation(t *testing.T) {
	e, _ := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	apply(t, e, "SN1", device.EventDPCEnrolled)
	apply(t, e, "SN1", device.EventPaymentOverdue)
	res := apply(t, e, "SN1", device.EventGraceExpired)
	assert.Equal(t, device.StateSoftLocked, res.ToState)

	res = apply(t, e, "SN1", device.EventEscalationTimeout)
	assert.Equal(t, device.StateHardLocked, res.ToState)

	pending, err := e.PendingCommands(ctx, "SN1")
	require.NoError(t, err)
	require.Len(t, pending, 3) // UNLOCK, LOCK, LOCK
	assert.Equal(t, device.CommandLock, pending[1].Command)
	assert.Equal(t, device.CommandLock, pending[2].Command)
	assert.True(t, pending[1].Payload.NoUSB)
}

func TestInvalidTransitionRejected(t *testing.T) {
	e, repo := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	apply(t, e, "SN1", device.EventDPCEnrolled)
	_, err := e.ApplyEvent(ctx, EventPayload{Serial: "SN1", EventType: device.EventGraceExpired})

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, device.StateActive, invalid.From)
	assert.Equal(t, device.EventGraceExpired, invalid.Event)

	// No audit for the rejected event, state unchanged.
	records, err := repo.ListAudit(ctx, "SN1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	state, _, err := e.Policy(ctx, "SN1")
	require.NoError(t, err)
	assert.Equal(t, device.StateActive, state)
}

func TestDecommissionFromAnyState(t *testing.T) {
	e, _ := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	apply(t, e, "SN1", device.EventDPCEnrolled)
	apply(t, e, "SN1", device.EventAdminReportStolen)

	res := apply(t, e, "SN1", device.EventAdminDecommission)
	assert.Equal(t, device.StateStolenLocked, res.FromState)
	assert.Equal(t, device.StateDecommissioned, res.ToState)

	pending, err := e.PendingCommands(ctx, "SN1")
	require.NoError(t, err)
	last := pending[len(pending)-1]
	assert.Equal(t, device.CommandWipe, last.Command)
}

func TestIdempotentReplay(t *testing.T) {
	e, repo := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	apply(t, e, "SN1", device.EventDPCEnrolled)

	payload := EventPayload{Serial: "SN1", EventType: device.EventPaymentOverdue, TransactionID: "T1"}
	first, err := e.ApplyEvent(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, device.StateGracePeriod, first.ToState)
	assert.False(t, first.Duplicate)

	second, err := e.ApplyEvent(ctx, payload)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "T1", second.TransactionID)

	// Repository contents identical to a single application: one audit
	// record carries T1, no extra commands appeared.
	records, err := repo.ListAudit(ctx, "SN1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "T1", records[1].TransactionID)

	pending, err := e.PendingCommands(ctx, "SN1")
	require.NoError(t, err)
	assert.Len(t, pending, 1) // only the enrollment UNLOCK
}

func TestDuplicateCheckPrecedesValidation(t *testing.T) {
	e, _ := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	apply(t, e, "SN1", device.EventDPCEnrolled)
	_, err := e.ApplyEvent(ctx, EventPayload{Serial: "SN1", EventType: device.EventPaymentOverdue, TransactionID: "T1"})
	require.NoError(t, err)

	// Replaying T1 with an event that would now be invalid still returns
	// duplicate, not an invalid-transition error.
	res, err := e.ApplyEvent(ctx, EventPayload{Serial: "SN1", EventType: device.EventPaymentOverdue, TransactionID: "T1"})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestCircuitBreakerTrips(t *testing.T) {
	e, repo := newTestEngine(t, resilience.LockBreakerConfig{MaxLocksInWindow: 3, Window: 5 * time.Minute})
	ctx := context.Background()

	// Drive three devices into SOFT_LOCKED; the third lock trips the breaker
	// but still commits.
	for i := 0; i < 3; i++ {
		serial := fmt.Sprintf("SN%d", i)
		apply(t, e, serial, device.EventDPCEnrolled)
		apply(t, e, serial, device.EventPaymentOverdue)
		apply(t, e, serial, device.EventGraceExpired)
	}
	assert.Equal(t, resilience.StateOpen, e.Breaker().State())

	apply(t, e, "SN9", device.EventDPCEnrolled)
	apply(t, e, "SN9", device.EventPaymentOverdue)
	_, err := e.ApplyEvent(ctx, EventPayload{Serial: "SN9", EventType: device.EventGraceExpired})
	require.ErrorIs(t, err, ErrCircuitOpen)

	// The blocked device stays in GRACE_PERIOD with no audit for the attempt.
	state, _, err := e.Policy(ctx, "SN9")
	require.NoError(t, err)
	assert.Equal(t, device.StateGracePeriod, state)
	records, err := repo.ListAudit(ctx, "SN9")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestAdminLocksBypassBreakerBudget(t *testing.T) {
	e, _ := newTestEngine(t, resilience.LockBreakerConfig{MaxLocksInWindow: 1, Window: 5 * time.Minute})

	// SUSPENDED and STOLEN_LOCKED emit LOCK commands but never consume
	// breaker budget.
	apply(t, e, "SN1", device.EventDPCEnrolled)
	apply(t, e, "SN1", device.EventAdminSuspend)
	apply(t, e, "SN2", device.EventDPCEnrolled)
	apply(t, e, "SN2", device.EventAdminReportStolen)

	assert.Equal(t, resilience.StateClosed, e.Breaker().State())
	assert.Equal(t, 0, e.Breaker().CurrentCount())
}

func TestPolicyUnknownDevice(t *testing.T) {
	e, _ := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	_, _, err := e.Policy(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActorDefaultsToSystem(t *testing.T) {
	e, repo := newTestEngine(t, resilience.DefaultLockBreakerConfig())
	ctx := context.Background()

	apply(t, e, "SN1", device.EventDPCEnrolled)
	records, err := repo.ListAudit(ctx, "SN1")
	require.NoError(t, err)
	assert.Equal(t, "system", records[0].Actor)
}
