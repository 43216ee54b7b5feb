package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Send when the channel is not ready.
var ErrNotConnected = errors.New("transport: channel not connected")

// ChannelKind distinguishes the peer data channel from the room presence channel.
type ChannelKind string

const (
	ChannelPeer     ChannelKind = "peer"
	ChannelPresence ChannelKind = "presence"
)

// Channel is an outbound conduit. Implementations must be safe for
// concurrent use and must not block past ctx.
type Channel interface {
	Name() string
	Kind() ChannelKind
	Connected() bool
	Send(ctx context.Context, env *Envelope) error
}

// InboundFunc receives raw frames from a channel. Every channel feeds the
// same function so both delivery paths share one merge step.
type InboundFunc func(channel string, raw []byte)
