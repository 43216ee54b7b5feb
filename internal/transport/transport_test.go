package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"kind":"tool-added","payload":{"id":"t1"},"ts":"2024-01-01T00:00:00Z"}`},
		{name: "not json", raw: `not-json`, wantErr: true},
		{name: "unknown kind", raw: `{"kind":"teleport","payload":{}}`, wantErr: true},
		{name: "missing payload", raw: `{"kind":"tool-added"}`, wantErr: true},
		{name: "null payload", raw: `{"kind":"remote-command","payload":null}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("expected ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if env.Kind != KindToolAdded {
				t.Fatalf("kind = %q", env.Kind)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(KindRemoteCommand, "alice", map[string]string{"type": "ui-action"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var payload map[string]string
	if err := got.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if got.From != "alice" || payload["type"] != "ui-action" {
		t.Fatalf("unexpected envelope %+v / %v", got, payload)
	}
	if _, err := Encode(&Envelope{Kind: "bogus"}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected unknown kind to be rejected, got %v", err)
	}
}

type inbox struct {
	mu     sync.Mutex
	frames []string
}

func (b *inbox) receive(channel string, raw []byte) {
	b.mu.Lock()
	b.frames = append(b.frames, channel)
	b.mu.Unlock()
}

func (b *inbox) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func TestLoopbackFanOut(t *testing.T) {
	bus := NewLoopback()
	var a, b, c inbox
	chA := bus.Attach("peer-a", ChannelPeer, a.receive)
	bus.Attach("peer-b", ChannelPeer, b.receive)
	bus.Attach("presence-c", ChannelPresence, c.receive)

	env, _ := NewEnvelope(KindToolAnnounced, "a", map[string]string{"id": "t1"})
	if err := chA.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if a.count() != 0 {
		t.Fatalf("sender must not receive its own frame")
	}
	if b.count() != 1 {
		t.Fatalf("peer member should receive the frame")
	}
	if c.count() != 0 {
		t.Fatalf("presence member must not see peer frames")
	}
	if chA.Sent() != 1 {
		t.Fatalf("Sent() = %d", chA.Sent())
	}
}

func TestLoopbackDisconnected(t *testing.T) {
	bus := NewLoopback()
	var b inbox
	chA := bus.Attach("a", ChannelPeer, nil)
	chB := bus.Attach("b", ChannelPeer, b.receive)

	env, _ := NewEnvelope(KindToolAnnounced, "a", map[string]string{"id": "t1"})

	chA.SetConnected(false)
	if err := chA.Send(context.Background(), env); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	chA.SetConnected(true)
	chB.SetConnected(false)
	if err := chA.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b.count() != 0 {
		t.Fatalf("disconnected member received a frame")
	}

	chB.Close()
	if chB.Connected() {
		t.Fatalf("closed channel reports connected")
	}
}
