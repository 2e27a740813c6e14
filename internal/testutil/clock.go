package testutil

import (
	"sync"
	"time"
)

// Epoch is the default starting instant of a DeterministicClock.
var Epoch = time.Date(2010, time.May, 29, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a manually driven wall clock for tests.
//
// Now returns the same instant until the clock is advanced, so two builds of
// the same query see the same "now" and validity windows line up exactly.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

// NewDeterministicClock creates a clock reading start (Epoch if zero).
func NewDeterministicClock(start time.Time) *DeterministicClock {
	if start.IsZero() {
		start = Epoch
	}
	start = start.UTC()
	return &DeterministicClock{start: start, now: start}
}

// Now returns the current instant. Usable as querysql.Builder.Now.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
// Negative durations are ignored: the clock never goes backwards.
func (c *DeterministicClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Reset returns the clock to its starting instant.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
