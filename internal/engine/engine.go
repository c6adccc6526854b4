// SPDX-License-Identifier: MIT

// Package engine is the authoritative policy engine: it applies lifecycle
// events to devices, enforces the transition table, audits every commit and
// queues actuation commands for DPC pickup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finfleet/policyd/internal/device"
	"github.com/finfleet/policyd/internal/log"
	"github.com/finfleet/policyd/internal/metrics"
	"github.com/finfleet/policyd/internal/resilience"
	"github.com/finfleet/policyd/internal/store"
)

// ErrCircuitOpen signals that the lock-rate breaker refused a lock
// transition. Transient: callers should back off and retry later.
var ErrCircuitOpen = errors.New("circuit breaker open, lock transitions halted")

// InvalidTransitionError reports an event incompatible with the device's
// current state.
type InvalidTransitionError struct {
	From  device.State
	Event device.EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s + %s", e.From, e.Event)
}

// EventPayload is a parsed lifecycle event.
type EventPayload struct {
	Serial        string
	EventType     device.EventType
	TransactionID string
	Actor         string
	Metadata      map[string]any
	ClientIP      string
}

// Result is the outcome of a successful ApplyEvent call. When Duplicate is
// true the event was already processed and nothing changed.
type Result struct {
	Duplicate     bool
	TransactionID string
	Serial        string
	FromState     device.State
	ToState       device.State
	Event         device.EventType
}

// Engine applies events against the repository under a single process-wide
// critical section, keeping repository and breaker state consistent.
type Engine struct {
	mu      sync.Mutex
	repo    store.Repository
	breaker *resilience.LockBreaker

	now   func() time.Time
	newID func() string
}

// Option is a functional option for Engine construction.
type Option func(*Engine)

// WithNow overrides the time source (for tests).
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides command id generation (for tests).
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates an engine over the given repository and breaker.
func New(repo store.Repository, breaker *resilience.LockBreaker, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		breaker: breaker,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker exposes the lock-rate breaker for the admin surface.
func (e *Engine) Breaker() *resilience.LockBreaker { return e.breaker }

// ApplyEvent applies one lifecycle event. The whole application, duplicate
// check through commit, runs inside one critical section so concurrent
// events serialize and the breaker never over- or under-counts.
//
// Order matters: the duplicate check comes first so replays never double
// audit or double enqueue, and the transition lookup precedes the breaker
// gate so invalid events cannot consume breaker budget.
func (e *Engine) ApplyEvent(ctx context.Context, p EventPayload) (Result, error) {
	if p.Actor == "" {
		p.Actor = "system"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "engine").With().
		Str(log.FieldSerial, p.Serial).
		Str(log.FieldEvent, string(p.EventType)).
		Str(log.FieldActor, p.Actor).
		Str(log.FieldTxnID, p.TransactionID).
		Str(log.FieldClientIP, p.ClientIP).
		Logger()

	if p.TransactionID != "" {
		seen, err := e.repo.HasTxn(ctx, p.TransactionID)
		if err != nil {
			metrics.EventsTotal.WithLabelValues("error").Inc()
			return Result{}, err
		}
		if seen {
			metrics.EventsTotal.WithLabelValues("duplicate").Inc()
			logger.Info().Msg("transaction already processed, skipping")
			return Result{Duplicate: true, TransactionID: p.TransactionID}, nil
		}
	}

	current, known, err := e.repo.GetState(ctx, p.Serial)
	if err != nil {
		metrics.EventsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}
	if !known {
		// Devices are created implicitly on first event.
		current = device.StateProvisioning
	}

	next, ok := device.Next(current, p.EventType)
	if !ok {
		metrics.EventsTotal.WithLabelValues("invalid_transition").Inc()
		logger.Warn().
			Str(log.FieldFromState, string(current)).
			Msg("invalid transition rejected")
		return Result{}, &InvalidTransitionError{From: current, Event: p.EventType}
	}

	if next.IsLockEscalation() {
		if !e.breaker.AllowLock() {
			metrics.EventsTotal.WithLabelValues("circuit_open").Inc()
			logger.Error().
				Str(log.FieldFromState, string(current)).
				Str(log.FieldToState, string(next)).
				Msg("lock transition blocked by circuit breaker")
			return Result{}, ErrCircuitOpen
		}
		// Record before the write so the tripping attempt itself counts.
		e.breaker.RecordLock()
	}

	now := e.now()
	tr := store.Transition{
		Serial:   p.Serial,
		NewState: next,
		Audit: store.AuditRecord{
			Serial:        p.Serial,
			FromState:     current,
			ToState:       next,
			Event:         p.EventType,
			Actor:         p.Actor,
			Timestamp:     now,
			TransactionID: p.TransactionID,
		},
		TransactionID: p.TransactionID,
	}

	if cmd, hasCmd := device.CommandFor(next); hasCmd {
		tr.Command = &store.CommandEntry{
			ID:        e.newID(),
			Serial:    p.Serial,
			Command:   cmd,
			Payload:   device.TemplateFor(next).Restrictions,
			CreatedAt: now,
		}
	}

	if err := e.repo.CommitTransition(ctx, tr); err != nil {
		metrics.EventsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	metrics.EventsTotal.WithLabelValues("transitioned").Inc()
	metrics.TransitionsTotal.WithLabelValues(string(next)).Inc()

	evt := logger.Info().
		Str(log.FieldFromState, string(current)).
		Str(log.FieldToState, string(next))
	if tr.Command != nil {
		metrics.CommandsEnqueuedTotal.WithLabelValues(string(tr.Command.Command)).Inc()
		evt = evt.
			Str(log.FieldCommand, string(tr.Command.Command)).
			Str(log.FieldCommandID, tr.Command.ID)
	}
	evt.Msg("state transition committed")

	return Result{
		Serial:        p.Serial,
		FromState:     current,
		ToState:       next,
		Event:         p.EventType,
		TransactionID: p.TransactionID,
	}, nil
}

// Policy returns the state and policy payload the DPC must enforce.
// Returns store.ErrNotFound for devices without a recorded state.
func (e *Engine) Policy(ctx context.Context, serial string) (device.State, device.PolicyTemplate, error) {
	state, ok, err := e.repo.GetState(ctx, serial)
	if err != nil {
		return "", device.PolicyTemplate{}, err
	}
	if !ok {
		return "", device.PolicyTemplate{}, fmt.Errorf("device %s: %w", serial, store.ErrNotFound)
	}
	return state, device.TemplateFor(state), nil
}
