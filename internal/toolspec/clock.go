package toolspec

import (
	"math"
	"sync"
)

// MaxClockJump bounds how far a single remote timestamp may move the clock.
// Larger jumps come from broken or hostile peers and are refused.
const MaxClockJump uint64 = 1 << 20

// Clock is a Lamport clock used to stamp tool creation. It is monotonic per
// participant and moves past any plausible remote timestamp it observes.
type Clock struct {
	mu  sync.Mutex
	now uint64
}

// Tick advances the clock and returns the new time. It saturates instead of
// wrapping.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now < math.MaxUint64 {
		c.now++
	}
	return c.now
}

// Observe merges a remote timestamp into the clock. It reports false, leaving
// the clock untouched, when remote is more than MaxClockJump ahead.
func (c *Clock) Observe(remote uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote <= c.now {
		return true
	}
	if remote-c.now > MaxClockJump {
		return false
	}
	c.now = remote
	return true
}

// Now returns the current time without advancing it.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
