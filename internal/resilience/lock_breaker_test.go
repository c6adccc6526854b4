// SPDX-License-Identifier: MIT

package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances only when told to.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(maxLocks int, window, cooldown time.Duration) (*LockBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewLockBreaker(LockBreakerConfig{
		MaxLocksInWindow: maxLocks,
		Window:           window,
		Cooldown:         cooldown,
	}, WithClock(clk))
	return b, clk
}

func TestBreakerAllowsUnderThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute, 0)
	for i := 0; i < 4; i++ {
		assert.True(t, b.AllowLock())
		b.RecordLock()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, b.CurrentCount())
}

func TestBreakerTripsInclusiveAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute, 0)
	b.RecordLock()
	b.RecordLock()
	assert.Equal(t, StateClosed, b.State())

	// The third lock trips but is still recorded.
	b.RecordLock()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.AllowLock())
	assert.Equal(t, 3, b.CurrentCount())
}

func TestBreakerManualReset(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute, 0)
	b.RecordLock()
	b.RecordLock()
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.AllowLock())
	assert.Equal(t, 0, b.CurrentCount())
}

func TestBreakerAutoResetAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute, 10*time.Second)
	b.RecordLock()
	assert.Equal(t, StateOpen, b.State())

	clk.advance(9 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	clk.advance(2 * time.Second)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.AllowLock())
}

func TestBreakerCooldownZeroMeansManualOnly(t *testing.T) {
	b, clk := newTestBreaker(1, time.Minute, 0)
	b.RecordLock()
	clk.advance(24 * time.Hour)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerWindowSlides(t *testing.T) {
	b, clk := newTestBreaker(3, time.Second, 0)
	b.RecordLock()
	b.RecordLock()

	clk.advance(1100 * time.Millisecond)
	b.RecordLock()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.CurrentCount())
}

func TestBreakerSnapshot(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second, time.Minute)
	b.RecordLock()

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 1, snap.CurrentCount)
	assert.Equal(t, 3, snap.MaxLocksInWindow)
	assert.Equal(t, 30, snap.WindowSeconds)
	assert.Equal(t, 60, snap.CooldownSeconds)
}

func TestBreakerDefaults(t *testing.T) {
	b := NewLockBreaker(DefaultLockBreakerConfig())
	snap := b.Snapshot()
	assert.Equal(t, 50, snap.MaxLocksInWindow)
	assert.Equal(t, 300, snap.WindowSeconds)
	assert.Equal(t, 600, snap.CooldownSeconds)
}
