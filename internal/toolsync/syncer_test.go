package toolsync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/livecanvas/internal/presence"
	"github.com/haasonsaas/livecanvas/internal/remote"
	"github.com/haasonsaas/livecanvas/internal/toolspec"
	"github.com/haasonsaas/livecanvas/internal/transport"
)

type participant struct {
	sync     *Syncer
	peer     *transport.LoopbackChannel
	presence *transport.LoopbackChannel
}

type mesh struct {
	peerBus     *transport.Loopback
	presenceBus *transport.Loopback
}

func newMesh() *mesh {
	return &mesh{peerBus: transport.NewLoopback(), presenceBus: transport.NewLoopback()}
}

func (m *mesh) join(name string) *participant {
	s := New(Options{Self: name, Room: "standup"})
	p := &participant{
		sync:     s,
		peer:     m.peerBus.Attach("peer", transport.ChannelPeer, s.Ingest),
		presence: m.presenceBus.Attach("presence", transport.ChannelPresence, s.Ingest),
	}
	s.AddChannel(p.peer)
	s.AddChannel(p.presence)
	return p
}

func timerSpec(id string) *toolspec.Spec {
	return &toolspec.Spec{
		ID:    id,
		Type:  toolspec.TypeTimer,
		Props: toolspec.TimerProps{InitialSeconds: 60, Mode: toolspec.TimerCountdown},
	}
}

func toolIDs(c *Collection) []string {
	var out []string
	for _, e := range c.List() {
		out = append(out, e.Spec.ID)
	}
	return out
}

func TestAnnounceIsIdempotent(t *testing.T) {
	m := newMesh()
	alice := m.join("alice")
	bob := m.join("bob")

	res, err := alice.sync.AnnounceTool(context.Background(), timerSpec("t1"))
	if err != nil {
		t.Fatalf("AnnounceTool: %v", err)
	}
	if !res.Inserted || len(res.Shared) != 2 || len(res.Pending) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	again, err := alice.sync.AnnounceTool(context.Background(), timerSpec("t1"))
	if err != nil {
		t.Fatalf("AnnounceTool: %v", err)
	}
	if again.Inserted || alice.peer.Sent() != 1 {
		t.Fatalf("second announce should be a no-op, got %+v (sent %d)", again, alice.peer.Sent())
	}

	if alice.sync.Tools().Len() != 1 {
		t.Fatalf("alice has %d tools", alice.sync.Tools().Len())
	}
	// Bob got the tool on both channels and kept exactly one copy.
	if diff := cmp.Diff([]string{"t1"}, toolIDs(bob.sync.Tools())); diff != "" {
		t.Fatalf("bob tools (-want +got):\n%s", diff)
	}
	entry, _ := bob.sync.Tools().Get("t1")
	if entry.Source != SourceRemote || entry.Spec.Origin != "alice" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestRemoteReceiveIsIdempotent(t *testing.T) {
	s := New(Options{Self: "bob"})
	spec := timerSpec("t1")
	spec.CreatedAt = 41
	if !s.OnRemoteToolReceived(spec, "peer") {
		t.Fatalf("first delivery should insert")
	}
	if s.OnRemoteToolReceived(spec, "presence") {
		t.Fatalf("second delivery should be a no-op")
	}
	if s.Tools().Len() != 1 {
		t.Fatalf("expected 1 tool, got %d", s.Tools().Len())
	}
	if got := s.Clock().Tick(); got != 42 {
		t.Fatalf("clock should advance past remote timestamp, got %d", got)
	}
}

func TestRemoteTimestampCannotRewindClock(t *testing.T) {
	s := New(Options{Self: "bob"})
	before := s.Clock().Tick()

	tests := []struct {
		name      string
		createdAt uint64
	}{
		{"max uint64", math.MaxUint64},
		{"past jump bound", before + toolspec.MaxClockJump + 1},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := timerSpec(fmt.Sprintf("hostile-%d", i))
			spec.CreatedAt = tt.createdAt
			if s.OnRemoteToolReceived(spec, "peer") {
				t.Fatalf("tool with createdAt %d was inserted", tt.createdAt)
			}
			if _, ok := s.Tools().Get(spec.ID); ok {
				t.Fatalf("rejected tool is in the collection")
			}
		})
	}

	next := s.Clock().Tick()
	if next <= before {
		t.Fatalf("clock went backwards: %d after %d", next, before)
	}
	if next != before+1 {
		t.Fatalf("clock moved to %d, want %d", next, before+1)
	}
}

func TestLocalInsertBeforeSend(t *testing.T) {
	s := New(Options{Self: "alice"})
	var sawLocal atomic.Bool
	s.AddChannel(&hookChannel{onSend: func() {
		sawLocal.Store(s.Tools().Has("t1"))
	}})
	if _, err := s.AnnounceTool(context.Background(), timerSpec("t1")); err != nil {
		t.Fatalf("AnnounceTool: %v", err)
	}
	if !sawLocal.Load() {
		t.Fatalf("tool must be in the local collection before any send")
	}
}

func TestChannelIndependence(t *testing.T) {
	m := newMesh()
	alice := m.join("alice")
	bob := m.join("bob")

	alice.peer.SetConnected(false)
	res, err := alice.sync.AnnounceTool(context.Background(), timerSpec("t1"))
	if err != nil {
		t.Fatalf("announce with one channel down must not fail: %v", err)
	}
	if diff := cmp.Diff([]string{"presence"}, res.Shared); diff != "" {
		t.Fatalf("shared (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"peer"}, res.Pending); diff != "" {
		t.Fatalf("pending (-want +got):\n%s", diff)
	}
	if !bob.sync.Tools().Has("t1") {
		t.Fatalf("bob should receive the tool over presence")
	}
	if diff := cmp.Diff(map[string]bool{"peer": false, "presence": true}, alice.sync.Connectivity()); diff != "" {
		t.Fatalf("connectivity (-want +got):\n%s", diff)
	}

	alice.peer.SetConnected(true)
	if n := alice.sync.FlushPending(context.Background()); n != 1 {
		t.Fatalf("FlushPending shared %d tools, want 1", n)
	}
	if alice.sync.FlushPending(context.Background()) != 0 {
		t.Fatalf("second flush should have nothing to send")
	}
	if bob.sync.Tools().Len() != 1 {
		t.Fatalf("redelivery must not duplicate")
	}
	if !alice.sync.Connectivity()["peer"] {
		t.Fatalf("peer flag should recover after a successful send")
	}
}

func TestIngestDropsMalformed(t *testing.T) {
	s := New(Options{Self: "bob", Room: "standup"})
	frames := []string{
		`garbage`,
		`{"kind":"tool-added","payload":{"id":"x","type":"hologram","properties":{}}}`,
		`{"kind":"tool-added","payload":{"id":"x","type":"poll","properties":{"question":"","options":[]}}}`,
		`{"kind":"tool-updated","payload":{"meta":{}}}`,
		`{"kind":"remote-command","payload":{"type":"nope"}}`,
	}
	for _, f := range frames {
		s.Ingest("presence", []byte(f))
	}
	if s.Tools().Len() != 0 {
		t.Fatalf("malformed frames must not insert tools")
	}
}

func TestIngestIgnoresOwnAndForeignRoom(t *testing.T) {
	s := New(Options{Self: "bob", Room: "standup"})
	raw, _ := json.Marshal(timerSpec("t1"))
	for _, env := range []transport.Envelope{
		{Kind: transport.KindToolAdded, From: "bob", Room: "standup", Payload: raw},
		{Kind: transport.KindToolAdded, From: "alice", Room: "other", Payload: raw},
	} {
		frame, _ := transport.Encode(&env)
		s.Ingest("presence", frame)
	}
	if s.Tools().Len() != 0 {
		t.Fatalf("own and foreign-room frames must be ignored")
	}
}

func TestRemoteCommandDedupedAcrossChannels(t *testing.T) {
	s := New(Options{Self: "bob"})
	var got []remote.Message
	remote.Handle(s.Commands(), func(cmd remote.CreateTool, msg remote.Message) {
		got = append(got, msg)
	})

	cmd, _ := remote.Encode(remote.CreateTool{ToolType: "poll", Topic: "Next Steps"}, time.UnixMilli(1700000000000))
	frame, _ := transport.Encode(&transport.Envelope{Kind: transport.KindRemoteCommand, From: "phone", Payload: cmd})
	s.Ingest("peer", frame)
	s.Ingest("presence", frame)

	if len(got) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(got))
	}
	if c := got[0].Command.(remote.CreateTool); c.Topic != "Next Steps" {
		t.Fatalf("unexpected command %+v", c)
	}
}

func TestPresenceSyncReplacesRoster(t *testing.T) {
	s := New(Options{Self: "bob"})
	changes, cancel := s.Subscribe()
	defer cancel()

	list := []presence.Participant{{ID: "alice-1", Name: "Alice"}, {ID: "bob-2", Name: "Bob"}}
	env, _ := transport.NewEnvelope(transport.KindPresenceSync, "relay", list)
	frame, _ := transport.Encode(env)
	s.Ingest("presence", frame)

	if s.Roster().Len() != 2 {
		t.Fatalf("roster has %d participants", s.Roster().Len())
	}
	select {
	case c := <-changes:
		if c.Kind != ChangePresence {
			t.Fatalf("unexpected change %q", c.Kind)
		}
	default:
		t.Fatalf("expected a presence change")
	}
}

func TestUpdateMetadata(t *testing.T) {
	m := newMesh()
	alice := m.join("alice")
	bob := m.join("bob")

	if err := alice.sync.UpdateMetadata(context.Background(), "missing", map[string]any{"x": 1}); err == nil {
		t.Fatalf("expected error for unknown tool")
	}
	if _, err := alice.sync.AnnounceTool(context.Background(), timerSpec("t1")); err != nil {
		t.Fatalf("AnnounceTool: %v", err)
	}
	peerSent := alice.peer.Sent()
	if err := alice.sync.UpdateMetadata(context.Background(), "t1", map[string]any{"pinned": true}); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if alice.peer.Sent() != peerSent {
		t.Fatalf("metadata updates go on the presence channel only")
	}
	entry, _ := bob.sync.Tools().Get("t1")
	if string(entry.Meta["pinned"]) != "true" {
		t.Fatalf("bob meta = %v", entry.Meta)
	}
	if _, ok := entry.Spec.Props.(toolspec.TimerProps); !ok {
		t.Fatalf("metadata update must not touch properties")
	}
}

type hookChannel struct {
	onSend func()
}

func (p *hookChannel) Name() string                { return "hook" }
func (p *hookChannel) Kind() transport.ChannelKind { return transport.ChannelPeer }
func (p *hookChannel) Connected() bool             { return true }
func (p *hookChannel) Send(ctx context.Context, env *transport.Envelope) error {
	p.onSend()
	return nil
}
