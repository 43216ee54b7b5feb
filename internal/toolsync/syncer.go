// Package toolsync owns the merged tool collection. Local announcements and
// remote deliveries from every transport channel funnel through here, which
// is where the insert-once-per-id rule is enforced.
package toolsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/livecanvas/internal/cache"
	"github.com/haasonsaas/livecanvas/internal/presence"
	"github.com/haasonsaas/livecanvas/internal/remote"
	"github.com/haasonsaas/livecanvas/internal/toolspec"
	"github.com/haasonsaas/livecanvas/internal/transport"
)

// ErrUnknownTool is returned when updating metadata for an id that is not
// in the collection.
var ErrUnknownTool = errors.New("toolsync: unknown tool")

const defaultSendTimeout = 5 * time.Second

// ChangeKind describes a collection change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeUpdated  ChangeKind = "updated"
	ChangePresence ChangeKind = "presence"
)

// Change is published to subscribers after every collection or roster change.
type Change struct {
	Kind  ChangeKind
	Entry Entry
}

// AnnounceResult reports where a local tool was shared.
type AnnounceResult struct {
	Inserted bool
	Shared   []string
	Pending  []string
}

// ToolUpdate is the tool-updated payload. It carries metadata only; tool
// properties are immutable.
type ToolUpdate struct {
	ID   string                     `json:"id"`
	Meta map[string]json.RawMessage `json:"meta"`
}

// Options configures a Syncer.
type Options struct {
	Self        string
	Room        string
	Clock       *toolspec.Clock
	Roster      *presence.Roster
	Commands    *remote.Bus
	Seen        *cache.Seen
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Syncer is the tool synchronization layer.
type Syncer struct {
	self        string
	room        string
	clock       *toolspec.Clock
	roster      *presence.Roster
	commands    *remote.Bus
	seen        *cache.Seen
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time

	tools *Collection

	mu       sync.RWMutex
	channels []transport.Channel
	failed   map[string]bool

	subMu       sync.RWMutex
	subscribers map[chan Change]struct{}
}

// New creates a Syncer. Channels are attached afterwards with AddChannel
// because their inbound callbacks point back at Ingest.
func New(opts Options) *Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = &toolspec.Clock{}
	}
	if opts.Roster == nil {
		opts.Roster = presence.NewRoster()
	}
	if opts.Commands == nil {
		opts.Commands = remote.NewBus()
	}
	if opts.Seen == nil {
		opts.Seen = cache.NewSeen(cache.Options{})
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Syncer{
		self:        opts.Self,
		room:        opts.Room,
		clock:       opts.Clock,
		roster:      opts.Roster,
		commands:    opts.Commands,
		seen:        opts.Seen,
		sendTimeout: opts.SendTimeout,
		logger:      logger.With("component", "toolsync", "participant", opts.Self),
		metrics:     opts.Metrics,
		now:         time.Now,
		tools:       newCollection(),
		failed:      make(map[string]bool),
		subscribers: make(map[chan Change]struct{}),
	}
}

// AddChannel attaches an outbound channel.
func (s *Syncer) AddChannel(ch transport.Channel) {
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
}

// Tools exposes the merged collection read-only.
func (s *Syncer) Tools() *Collection { return s.tools }

// Roster returns the participant roster fed by presence-sync.
func (s *Syncer) Roster() *presence.Roster { return s.roster }

// Commands returns the bus remote commands are published on.
func (s *Syncer) Commands() *remote.Bus { return s.commands }

// Clock returns the logical clock used to stamp tools.
func (s *Syncer) Clock() *toolspec.Clock { return s.clock }

// Self returns the local participant id.
func (s *Syncer) Self() string { return s.self }

// Connectivity returns a flag per channel: connected and the last send
// did not fail.
func (s *Syncer) Connectivity() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.channels))
	for _, ch := range s.channels {
		out[ch.Name()] = ch.Connected() && !s.failed[ch.Name()]
	}
	return out
}

// AnnounceTool inserts a local tool and shares it on every channel. The
// local insert happens before any send. Channel failures leave the tool
// "not yet shared" and never fail the call. Only an invalid spec is an error.
func (s *Syncer) AnnounceTool(ctx context.Context, spec *toolspec.Spec) (AnnounceResult, error) {
	if err := spec.Validate(); err != nil {
		return AnnounceResult{}, err
	}
	if spec.Origin == "" {
		spec.Origin = s.self
	}
	entry, inserted := s.tools.insert(*spec, SourceLocal, "", s.now())
	if !inserted {
		s.metrics.recordDuplicate(SourceLocal)
		s.logger.Debug("announce ignored, tool already present", "tool_id", spec.ID)
		return AnnounceResult{}, nil
	}
	s.metrics.recordInsert(SourceLocal, s.tools.Len())
	s.publish(Change{Kind: ChangeAdded, Entry: entry})

	result := AnnounceResult{Inserted: true}
	for _, ch := range s.snapshotChannels() {
		if s.share(ctx, ch, entry.Spec) {
			result.Shared = append(result.Shared, ch.Name())
		} else {
			result.Pending = append(result.Pending, ch.Name())
		}
	}
	return result, nil
}

// OnRemoteToolReceived inserts a tool delivered by a peer. It reports
// whether the tool was new; a repeated id is a silent no-op.
func (s *Syncer) OnRemoteToolReceived(spec *toolspec.Spec, channel string) bool {
	if err := spec.Validate(); err != nil {
		s.metrics.recordMalformed(channel)
		s.logger.Warn("dropping invalid remote tool", "channel", channel, "error", err)
		return false
	}
	if !s.clock.Observe(spec.CreatedAt) {
		s.metrics.recordMalformed(channel)
		s.logger.Warn("dropping remote tool with implausible timestamp",
			"channel", channel, "tool_id", spec.ID, "created_at", spec.CreatedAt, "clock", s.clock.Now())
		return false
	}
	entry, inserted := s.tools.insert(*spec, SourceRemote, channel, s.now())
	if !inserted {
		s.metrics.recordDuplicate(SourceRemote)
		return false
	}
	s.metrics.recordInsert(SourceRemote, s.tools.Len())
	s.logger.Info("remote tool received", "tool_id", spec.ID, "type", spec.Type, "channel", channel, "origin", spec.Origin)
	s.publish(Change{Kind: ChangeAdded, Entry: entry})
	return true
}

// Ingest is the single inbound path for every channel. Malformed frames are
// logged and dropped.
func (s *Syncer) Ingest(channel string, raw []byte) {
	env, err := transport.Decode(raw)
	if err != nil {
		s.dropMalformed(channel, err)
		return
	}
	if env.From != "" && env.From == s.self {
		return
	}
	if s.room != "" && env.Room != "" && env.Room != s.room {
		return
	}

	switch env.Kind {
	case transport.KindToolAnnounced, transport.KindToolAdded:
		var spec toolspec.Spec
		if err := env.DecodePayload(&spec); err != nil {
			s.dropMalformed(channel, err)
			return
		}
		s.OnRemoteToolReceived(&spec, channel)
	case transport.KindToolUpdated:
		var update ToolUpdate
		if err := env.DecodePayload(&update); err != nil {
			s.dropMalformed(channel, err)
			return
		}
		if update.ID == "" {
			s.dropMalformed(channel, errors.New("tool-updated without id"))
			return
		}
		if entry, ok := s.tools.mergeMeta(update.ID, update.Meta); ok {
			s.publish(Change{Kind: ChangeUpdated, Entry: entry})
		}
	case transport.KindPresenceSync:
		var list []presence.Participant
		if err := env.DecodePayload(&list); err != nil {
			s.dropMalformed(channel, err)
			return
		}
		s.roster.Replace(list)
		s.publish(Change{Kind: ChangePresence})
	case transport.KindPresenceTrack:
		var p presence.Participant
		if err := env.DecodePayload(&p); err != nil {
			s.dropMalformed(channel, err)
			return
		}
		if p.ID == "" {
			s.dropMalformed(channel, errors.New("presence-track without id"))
			return
		}
		s.roster.Track(p)
		s.publish(Change{Kind: ChangePresence})
	case transport.KindPresenceLeave:
		var p presence.Participant
		if err := env.DecodePayload(&p); err != nil {
			s.dropMalformed(channel, err)
			return
		}
		if s.roster.Leave(p.ID) {
			s.publish(Change{Kind: ChangePresence})
		}
	case transport.KindRemoteCommand:
		msg, err := remote.Parse(env.Payload)
		if err != nil {
			s.metrics.recordCommand("invalid", "dropped")
			s.dropMalformed(channel, err)
			return
		}
		kind := string(msg.Command.CommandType())
		if s.seen.Mark(msg.DedupeKey()) {
			s.metrics.recordCommand(kind, "duplicate")
			return
		}
		s.metrics.recordCommand(kind, "dispatched")
		s.commands.Publish(msg)
	}
}

// UpdateMetadata records metadata for a tool and broadcasts it on the
// presence channels.
func (s *Syncer) UpdateMetadata(ctx context.Context, id string, meta map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(meta))
	for k, v := range meta {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode metadata %q: %w", k, err)
		}
		encoded[k] = raw
	}
	entry, ok := s.tools.mergeMeta(id, encoded)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	s.publish(Change{Kind: ChangeUpdated, Entry: entry})

	env, err := s.envelope(transport.KindToolUpdated, ToolUpdate{ID: id, Meta: encoded})
	if err != nil {
		return err
	}
	for _, ch := range s.snapshotChannels() {
		if ch.Kind() == transport.ChannelPresence {
			s.send(ctx, ch, env)
		}
	}
	return nil
}

// TrackPresence announces the local participant on the presence channels.
func (s *Syncer) TrackPresence(ctx context.Context, p presence.Participant) {
	if p.ID == "" {
		p.ID = s.self
	}
	s.roster.Track(p)
	env, err := s.envelope(transport.KindPresenceTrack, p)
	if err != nil {
		s.logger.Warn("encode presence", "error", err)
		return
	}
	for _, ch := range s.snapshotChannels() {
		if ch.Kind() == transport.ChannelPresence {
			s.send(ctx, ch, env)
		}
	}
}

// FlushPending re-sends local tools that have not reached a channel yet.
// It returns the number of tools shared.
func (s *Syncer) FlushPending(ctx context.Context) int {
	shared := 0
	for _, ch := range s.snapshotChannels() {
		if !ch.Connected() {
			continue
		}
		for _, spec := range s.tools.unshared(ch.Name()) {
			if ctx.Err() != nil {
				return shared
			}
			if s.share(ctx, ch, spec) {
				shared++
			}
		}
	}
	if shared > 0 {
		s.logger.Info("shared pending tools", "count", shared)
	}
	return shared
}

// Subscribe returns a feed of collection changes. Slow subscribers miss
// changes rather than block the sync layer.
func (s *Syncer) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 32)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Syncer) publish(change Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}

func (s *Syncer) share(ctx context.Context, ch transport.Channel, spec toolspec.Spec) bool {
	kind := transport.KindToolAdded
	if ch.Kind() == transport.ChannelPeer {
		kind = transport.KindToolAnnounced
	}
	env, err := s.envelope(kind, spec)
	if err != nil {
		s.logger.Warn("encode tool", "tool_id", spec.ID, "error", err)
		return false
	}
	if !s.send(ctx, ch, env) {
		return false
	}
	s.tools.markShared(spec.ID, ch.Name())
	return true
}

func (s *Syncer) send(ctx context.Context, ch transport.Channel, env *transport.Envelope) bool {
	name := ch.Name()
	if !ch.Connected() {
		s.setFailed(name, true)
		s.metrics.recordSendFailure(name)
		s.logger.Debug("channel not connected, send deferred", "channel", name, "kind", env.Kind)
		return false
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, env); err != nil {
		s.setFailed(name, true)
		s.metrics.recordSendFailure(name)
		s.logger.Warn("channel send failed", "channel", name, "kind", env.Kind, "error", err)
		return false
	}
	s.setFailed(name, false)
	return true
}

func (s *Syncer) envelope(kind transport.Kind, payload any) (*transport.Envelope, error) {
	env, err := transport.NewEnvelope(kind, s.self, payload)
	if err != nil {
		return nil, err
	}
	env.Room = s.room
	return env, nil
}

func (s *Syncer) setFailed(name string, failed bool) {
	s.mu.Lock()
	s.failed[name] = failed
	s.mu.Unlock()
}

func (s *Syncer) snapshotChannels() []transport.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]transport.Channel(nil), s.channels...)
}

func (s *Syncer) dropMalformed(channel string, err error) {
	s.metrics.recordMalformed(channel)
	s.logger.Warn("dropping malformed inbound message", "channel", channel, "error", err)
}
