// Package debounce provides a single-slot coalescing timer: repeated triggers
// within the delay replace the pending item and restart the timer, so only the
// latest item is delivered.
package debounce

import (
	"sync"
	"time"
)

// Coalescer delivers the most recent item once no new item has arrived for
// the configured delay. There is never more than one pending timer.
type Coalescer[T any] struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	latest  T
	pending bool
	gen     uint64
	stopped bool

	onFire func(item T)
}

// Option configures a Coalescer.
type Option[T any] func(*Coalescer[T])

// WithDelay sets the debounce delay.
func WithDelay[T any](d time.Duration) Option[T] {
	return func(c *Coalescer[T]) {
		if d < 0 {
			d = 0
		}
		c.delay = d
	}
}

// WithOnFire sets the callback invoked with the latest item when the timer fires.
func WithOnFire[T any](fn func(item T)) Option[T] {
	return func(c *Coalescer[T]) {
		c.onFire = fn
	}
}

// NewCoalescer creates a Coalescer with the given options.
func NewCoalescer[T any](opts ...Option[T]) *Coalescer[T] {
	c := &Coalescer[T]{}
	for _, opt := range opts {
		opt(c)
	}
	if c.onFire == nil {
		c.onFire = func(T) {}
	}
	return c
}

// Trigger replaces the pending item and restarts the timer. It reports whether
// a pending item was superseded.
func (c *Coalescer[T]) Trigger(item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}

	superseded := c.pending
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.latest = item
	c.pending = true
	c.timer = time.AfterFunc(c.delay, func() {
		c.fire(gen)
	})
	return superseded
}

// fire delivers the pending item unless the timer that scheduled it was
// superseded or canceled in the meantime.
func (c *Coalescer[T]) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || !c.pending || gen != c.gen {
		c.mu.Unlock()
		return
	}
	item := c.latest
	c.clearLocked()
	c.mu.Unlock()

	c.onFire(item)
}

// Flush delivers the pending item immediately.
func (c *Coalescer[T]) Flush() bool {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return false
	}
	item := c.latest
	c.gen++
	c.clearLocked()
	c.mu.Unlock()

	c.onFire(item)
	return true
}

// Cancel drops the pending item without delivering it.
func (c *Coalescer[T]) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return false
	}
	c.gen++
	c.clearLocked()
	return true
}

// Stop cancels any pending item and rejects further triggers.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.gen++
	c.clearLocked()
}

// Pending reports whether an item is waiting for the timer.
func (c *Coalescer[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Must be called with c.mu held.
func (c *Coalescer[T]) clearLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	var zero T
	c.latest = zero
	c.pending = false
}
