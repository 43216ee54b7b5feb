package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// Loopback is an in-process bus. Channels attached with the same kind see
// each other's frames; a sender never receives its own frame.
type Loopback struct {
	mu      sync.RWMutex
	members map[*LoopbackChannel]struct{}
}

// NewLoopback creates an empty bus.
func NewLoopback() *Loopback {
	return &Loopback{members: make(map[*LoopbackChannel]struct{})}
}

// Attach adds a member. Inbound frames are delivered synchronously to inbound.
func (b *Loopback) Attach(name string, kind ChannelKind, inbound InboundFunc) *LoopbackChannel {
	ch := &LoopbackChannel{bus: b, name: name, kind: kind, inbound: inbound}
	ch.connected.Store(true)
	b.mu.Lock()
	b.members[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Loopback) detach(ch *LoopbackChannel) {
	b.mu.Lock()
	delete(b.members, ch)
	b.mu.Unlock()
}

func (b *Loopback) deliver(from *LoopbackChannel, raw []byte) {
	b.mu.RLock()
	targets := make([]*LoopbackChannel, 0, len(b.members))
	for m := range b.members {
		if m != from && m.kind == from.kind && m.Connected() && m.inbound != nil {
			targets = append(targets, m)
		}
	}
	b.mu.RUnlock()

	for _, m := range targets {
		m.inbound(m.name, append([]byte(nil), raw...))
	}
}

// LoopbackChannel is one member of a Loopback bus.
type LoopbackChannel struct {
	bus       *Loopback
	name      string
	kind      ChannelKind
	inbound   InboundFunc
	connected atomic.Bool
	sent      atomic.Int64
}

func (c *LoopbackChannel) Name() string      { return c.name }
func (c *LoopbackChannel) Kind() ChannelKind { return c.kind }
func (c *LoopbackChannel) Connected() bool   { return c.connected.Load() }

// SetConnected toggles the simulated link state.
func (c *LoopbackChannel) SetConnected(v bool) {
	c.connected.Store(v)
}

// Sent returns the number of frames sent successfully.
func (c *LoopbackChannel) Sent() int64 {
	return c.sent.Load()
}

// Send encodes env and delivers it to every other connected member.
func (c *LoopbackChannel) Send(ctx context.Context, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	raw, err := Encode(env)
	if err != nil {
		return err
	}
	c.bus.deliver(c, raw)
	c.sent.Add(1)
	return nil
}

// Close removes the member from the bus.
func (c *LoopbackChannel) Close() {
	c.connected.Store(false)
	c.bus.detach(c)
}
