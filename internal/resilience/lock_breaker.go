// SPDX-License-Identifier: MIT

// Package resilience contains fleet-protection mechanisms for the policy
// engine.
package resilience

import (
	"sync"
	"time"

	"github.com/finfleet/policyd/internal/log"
	"github.com/finfleet/policyd/internal/metrics"
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

// realClock uses actual system time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Breaker states.
const (
	StateClosed = "CLOSED"
	StateOpen   = "OPEN"
)

// LockBreakerConfig configures the sliding window.
type LockBreakerConfig struct {
	// MaxLocksInWindow is the lock count at which the breaker trips.
	// The trip is inclusive: the Nth lock trips but is still recorded.
	MaxLocksInWindow int
	// Window is the sliding window size.
	Window time.Duration
	// Cooldown auto-resets an OPEN breaker after this duration.
	// Zero disables auto-reset (manual reset only).
	Cooldown time.Duration
}

// DefaultLockBreakerConfig matches the fleet-wide production defaults:
// 50 locks in 5 minutes trips; auto-reset after 10 minutes.
func DefaultLockBreakerConfig() LockBreakerConfig {
	return LockBreakerConfig{
		MaxLocksInWindow: 50,
		Window:           5 * time.Minute,
		Cooldown:         10 * time.Minute,
	}
}

// LockBreaker is a sliding-window circuit breaker over lock-command
// emissions. It protects the fleet against mass-lock storms caused by
// buggy upstream events: once the window fills, every further lock
// transition is refused until reset.
type LockBreaker struct {
	mu         sync.Mutex
	cfg        LockBreakerConfig
	timestamps []time.Time
	trippedAt  time.Time
	open       bool
	clock      clock
}

// LockBreakerOption is a functional option for LockBreaker configuration.
type LockBreakerOption func(*LockBreaker)

// WithClock sets a custom clock for testing.
func WithClock(c clock) LockBreakerOption {
	return func(b *LockBreaker) {
		b.clock = c
	}
}

// NewLockBreaker creates a breaker with the given configuration. Non-positive
// threshold or window fall back to the defaults.
func NewLockBreaker(cfg LockBreakerConfig, opts ...LockBreakerOption) *LockBreaker {
	def := DefaultLockBreakerConfig()
	if cfg.MaxLocksInWindow <= 0 {
		cfg.MaxLocksInWindow = def.MaxLocksInWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	b := &LockBreaker{
		cfg:   cfg,
		clock: realClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.BreakerState(false)
	return b
}

// AllowLock reports whether a lock-producing transition is admitted.
func (b *LockBreaker) AllowLock() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeAutoReset()
	return !b.open
}

// RecordLock registers a lock emission and trips the breaker once the
// retained count reaches the threshold.
func (b *LockBreaker) RecordLock() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.timestamps = append(b.timestamps, now)
	b.trim(now)

	if len(b.timestamps) >= b.cfg.MaxLocksInWindow && !b.open {
		b.open = true
		b.trippedAt = now
		metrics.BreakerState(true)
		metrics.BreakerTrips.Inc()
		logger := log.WithComponent("breaker")
		logger.Error().
			Str(log.FieldEvent, "breaker.tripped").
			Int("locks_in_window", len(b.timestamps)).
			Int("threshold", b.cfg.MaxLocksInWindow).
			Dur("window", b.cfg.Window).
			Msg("lock rate exceeded, halting lock transitions")
	}
}

// Reset clears all recorded locks and closes the breaker.
func (b *LockBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	logger := log.WithComponent("breaker")
	logger.Info().
		Str(log.FieldEvent, "breaker.reset").
		Msg("breaker manually reset")
}

// State returns StateClosed or StateOpen, applying auto-reset first.
func (b *LockBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeAutoReset()
	if b.open {
		return StateOpen
	}
	return StateClosed
}

// CurrentCount returns the number of locks inside the window.
func (b *LockBreaker) CurrentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(b.clock.Now())
	return len(b.timestamps)
}

// Snapshot returns the observable breaker state for the admin surface.
func (b *LockBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeAutoReset()
	b.trim(b.clock.Now())

	state := StateClosed
	if b.open {
		state = StateOpen
	}
	return Snapshot{
		State:            state,
		CurrentCount:     len(b.timestamps),
		MaxLocksInWindow: b.cfg.MaxLocksInWindow,
		WindowSeconds:    int(b.cfg.Window.Seconds()),
		CooldownSeconds:  int(b.cfg.Cooldown.Seconds()),
	}
}

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	State            string `json:"state"`
	CurrentCount     int    `json:"current_count"`
	MaxLocksInWindow int    `json:"max_locks_in_window"`
	WindowSeconds    int    `json:"window_seconds"`
	CooldownSeconds  int    `json:"cooldown_seconds"`
}

// trim drops timestamps older than the window. Caller holds b.mu.
func (b *LockBreaker) trim(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = kept
}

// maybeAutoReset closes an OPEN breaker once the cooldown elapsed.
// Caller holds b.mu.
func (b *LockBreaker) maybeAutoReset() {
	if !b.open || b.cfg.Cooldown <= 0 {
		return
	}
	if b.clock.Now().Sub(b.trippedAt) > b.cfg.Cooldown {
		b.reset()
		logger := log.WithComponent("breaker")
		logger.Info().
			Str(log.FieldEvent, "breaker.auto_reset").
			Dur("cooldown", b.cfg.Cooldown).
			Msg("breaker auto-reset after cooldown")
	}
}

// reset clears state. Caller holds b.mu.
func (b *LockBreaker) reset() {
	b.open = false
	b.trippedAt = time.Time{}
	b.timestamps = b.timestamps[:0]
	metrics.BreakerState(false)
}
