// Package transport defines the wire envelope shared by both transport
// channels and the Channel abstraction the sync layer sends through.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed reports an inbound frame that could not be decoded.
var ErrMalformed = errors.New("transport: malformed envelope")

// Kind identifies the event carried by an envelope.
type Kind string

const (
	KindToolAnnounced Kind = "tool-announced"
	KindToolAdded     Kind = "tool-added"
	KindToolUpdated   Kind = "tool-updated"
	KindPresenceTrack Kind = "presence-track"
	KindPresenceSync  Kind = "presence-sync"
	KindPresenceLeave Kind = "presence-leave"
	KindRemoteCommand Kind = "remote-command"
)

var knownKinds = map[Kind]struct{}{
	KindToolAnnounced: {},
	KindToolAdded:     {},
	KindToolUpdated:   {},
	KindPresenceTrack: {},
	KindPresenceSync:  {},
	KindPresenceLeave: {},
	KindRemoteCommand: {},
}

// Valid reports whether k is a known envelope kind.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// Envelope is the unit of transfer on every channel.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Room      string          `json:"room,omitempty"`
	From      string          `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// NewEnvelope marshals payload into a new envelope stamped with the current time.
func NewEnvelope(kind Kind, from string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Envelope{
		Kind:      kind,
		From:      from,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode serializes an envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, env.Kind)
	}
	return json.Marshal(env)
}

// Decode parses a wire frame. Unknown kinds and empty payloads are rejected.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, env.Kind)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformed, env.Kind)
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Kind, err)
	}
	return nil
}
