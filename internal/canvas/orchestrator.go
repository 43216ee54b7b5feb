// Package canvas is the participant-side orchestrator. It owns the
// conversation timeline, turns text into tools (AI first, keyword fallback
// second), glues tool events to the chain engine and applies remote commands.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/livecanvas/internal/chain"
	"github.com/haasonsaas/livecanvas/internal/generate"
	"github.com/haasonsaas/livecanvas/internal/intent"
	"github.com/haasonsaas/livecanvas/internal/remote"
	"github.com/haasonsaas/livecanvas/internal/toolspec"
	"github.com/haasonsaas/livecanvas/internal/toolsync"
)

var (
	ErrEmptyInput  = errors.New("canvas: empty input")
	ErrBusy        = errors.New("canvas: a submission is already in progress")
	ErrNoTool      = errors.New("canvas: no tool could be produced")
	ErrUnknownTool = errors.New("canvas: unknown tool")
	ErrClosed      = errors.New("canvas: closed")
)

const (
	defaultGenerateTimeout = 30 * time.Second
	defaultAnnounceTimeout = 5 * time.Second
	maxNotices             = 20

	defaultAssistantText = "Here's what I generated based on your request."
	fallbackText         = "I've prepared a %s for you."
	unavailableText      = "Failed to connect to AI service"
)

// Generator produces tools from text.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (generate.Response, error)
}

// Config configures an Orchestrator.
type Config struct {
	Syncer          *toolsync.Syncer
	Generator       Generator
	GenerateTimeout time.Duration
	AnnounceTimeout time.Duration

	Rules            []chain.Rule
	ChainDebounce    time.Duration
	ChainMarkerClear time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Orchestrator is one participant's canvas.
type Orchestrator struct {
	sync            *toolsync.Syncer
	generator       Generator
	generateTimeout time.Duration
	announceTimeout time.Duration
	engine          *chain.Engine
	logger          *slog.Logger
	metrics         *Metrics
	hub             *hub
	now             func() time.Time
	newID           func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []func()

	mu        sync.Mutex
	timeline  []Entry
	dismissed map[string]struct{}
	notices   []Notice
	ui        UIState
	busy      bool
	closed    bool
}

// New wires an orchestrator to a syncer and starts listening for remote
// commands and collection changes. Call Close to release it.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Syncer == nil {
		return nil, errors.New("canvas: syncer is required")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.AnnounceTimeout <= 0 {
		cfg.AnnounceTimeout = defaultAnnounceTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sync:            cfg.Syncer,
		generator:       cfg.Generator,
		generateTimeout: cfg.GenerateTimeout,
		announceTimeout: cfg.AnnounceTimeout,
		logger:          logger.With("component", "canvas", "participant", cfg.Syncer.Self()),
		metrics:         cfg.Metrics,
		hub:             newHub(),
		now:             time.Now,
		newID:           uuid.NewString,
		ctx:             ctx,
		cancel:          cancel,
		dismissed:       make(map[string]struct{}),
		ui:              UIState{Zoom: DefaultZoom},
	}

	opts := []chain.Option{
		chain.WithLogger(logger),
		chain.WithErrorHandler(o.onChainError),
		chain.WithMarkerListener(func(string) { o.hub.broadcast(UpdateChain) }),
	}
	if cfg.Rules != nil {
		opts = append(opts, chain.WithRules(cfg.Rules))
	}
	if cfg.ChainDebounce > 0 {
		opts = append(opts, chain.WithDebounceWindow(cfg.ChainDebounce))
	}
	if cfg.ChainMarkerClear > 0 {
		opts = append(opts, chain.WithMarkerClearDelay(cfg.ChainMarkerClear))
	}
	engine, err := chain.NewEngine(o.onChainTriggered, opts...)
	if err != nil {
		cancel()
		return nil, err
	}
	o.engine = engine

	bus := cfg.Syncer.Commands()
	o.unsubs = append(o.unsubs,
		remote.Handle(bus, o.onCreateTool),
		remote.Handle(bus, o.onRotate3D),
		remote.Handle(bus, o.onUIAction),
	)

	changes, stop := cfg.Syncer.Subscribe()
	o.unsubs = append(o.unsubs, stop)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for range changes {
			o.hub.broadcast(UpdateTools)
		}
	}()
	return o, nil
}

// Subscribe returns a feed of view updates.
func (o *Orchestrator) Subscribe() (<-chan Update, func()) {
	ch, cancel := o.hub.subscribe()
	o.metrics.viewerConnected()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cancel()
			o.metrics.viewerDisconnected()
		})
	}
}

// SubmitTranscript feeds a speech segment. Only final segments are
// submitted; interim ones are ignored.
func (o *Orchestrator) SubmitTranscript(ctx context.Context, segment string, final bool) error {
	if !final {
		return nil
	}
	return o.SubmitText(ctx, segment)
}

// SubmitText appends a user entry and asks the generator for tools. When the
// generator fails, the keyword parser may still produce a single tool. Only
// one submission runs at a time.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		o.metrics.recordSubmission("empty")
		return ErrEmptyInput
	}

	o.mu.Lock()
	switch {
	case o.closed:
		o.mu.Unlock()
		return ErrClosed
	case o.busy:
		o.mu.Unlock()
		o.metrics.recordSubmission("busy")
		return ErrBusy
	}
	o.busy = true
	history := o.historyLocked()
	o.timeline = append(o.timeline, Entry{ID: o.newID(), Role: RoleUser, Content: text, At: o.now()})
	o.mu.Unlock()
	o.hub.broadcast(UpdateTimeline)

	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
		o.hub.broadcast(UpdateTimeline)
	}()

	resp, genErr := o.generateTools(ctx, text, history)
	if genErr == nil {
		o.acceptGenerated(ctx, resp)
		o.metrics.recordSubmission("generated")
		return nil
	}

	o.logger.Warn("generation failed, using keyword fallback", "error", genErr)
	parsed := intent.Parse(text)
	if !parsed.Matched() {
		o.notify(NoticeError, unavailableText)
		o.metrics.recordSubmission("failed")
		return fmt.Errorf("%w: %w", ErrNoTool, genErr)
	}
	spec, err := parsed.Spec(string(parsed.Type)+"-"+o.newID(), o.sync.Self(), o.sync.Clock())
	if err != nil {
		o.notify(NoticeError, unavailableText)
		o.metrics.recordSubmission("failed")
		return fmt.Errorf("%w: %w", ErrNoTool, err)
	}
	o.appendAndAnnounce(ctx, Entry{
		Role:    RoleAssistant,
		Content: fmt.Sprintf(fallbackText, parsed.Type),
		Tools:   []toolspec.Spec{*spec},
	})
	o.metrics.recordSubmission("fallback")
	return nil
}

func (o *Orchestrator) generateTools(ctx context.Context, text string, history []generate.Turn) (generate.Response, error) {
	if o.generator == nil {
		return generate.Response{}, generate.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, o.generateTimeout)
	defer cancel()
	return o.generator.Generate(ctx, generate.Request{Message: text, ConversationHistory: history})
}

func (o *Orchestrator) acceptGenerated(ctx context.Context, resp generate.Response) {
	content := strings.TrimSpace(resp.Message)
	if content == "" {
		content = defaultAssistantText
	}
	clock := o.sync.Clock()
	tools := make([]toolspec.Spec, 0, len(resp.Tools))
	for _, spec := range resp.Tools {
		if spec.Origin == "" {
			spec.Origin = o.sync.Self()
		}
		if spec.CreatedAt == 0 {
			spec.CreatedAt = clock.Tick()
		}
		tools = append(tools, spec)
	}
	o.appendAndAnnounce(ctx, Entry{Role: RoleAssistant, Content: content, Tools: tools})
}

// historyLocked returns the last HistoryWindow entries as conversation turns.
func (o *Orchestrator) historyLocked() []generate.Turn {
	start := max(len(o.timeline)-generate.HistoryWindow, 0)
	turns := make([]generate.Turn, 0, len(o.timeline)-start)
	for _, e := range o.timeline[start:] {
		role := generate.RoleUser
		if e.Role == RoleAssistant {
			role = generate.RoleAssistant
		}
		turns = append(turns, generate.Turn{Role: role, Content: e.Content})
	}
	return turns
}

// appendAndAnnounce records the entry before sharing its tools so the local
// view never lags the network.
func (o *Orchestrator) appendAndAnnounce(ctx context.Context, e Entry) {
	e.ID = o.newID()
	e.At = o.now()
	o.mu.Lock()
	o.timeline = append(o.timeline, e)
	o.mu.Unlock()
	o.hub.broadcast(UpdateTimeline)

	if len(e.Tools) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.announceTimeout)
	defer cancel()
	for i := range e.Tools {
		spec := e.Tools[i]
		res, err := o.sync.AnnounceTool(ctx, &spec)
		if err != nil {
			o.logger.Warn("tool not announced", "tool_id", spec.ID, "error", err)
			continue
		}
		if len(res.Pending) > 0 {
			o.logger.Debug("tool not yet shared on every channel", "tool_id", spec.ID, "pending", res.Pending)
		}
	}
}

// HandleToolEvent forwards an interaction on a rendered tool to the chain
// engine. It reports whether a rule matched.
func (o *Orchestrator) HandleToolEvent(toolID, eventType string, payload json.RawMessage) (bool, error) {
	toolType, ok := o.resolveType(toolID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTool, toolID)
	}
	return o.engine.EmitEvent(toolID, toolType, eventType, payload), nil
}

func (o *Orchestrator) resolveType(toolID string) (toolspec.Type, bool) {
	o.mu.Lock()
	_, dismissed := o.dismissed[toolID]
	if !dismissed {
		for _, e := range o.timeline {
			for _, t := range e.Tools {
				if t.ID == toolID {
					o.mu.Unlock()
					return t.Type, true
				}
			}
		}
	}
	o.mu.Unlock()
	if dismissed {
		return "", false
	}
	if entry, ok := o.sync.Tools().Get(toolID); ok {
		return entry.Spec.Type, true
	}
	return "", false
}

// CancelPendingChain drops a pending chain without firing it.
func (o *Orchestrator) CancelPendingChain() {
	o.engine.CancelPendingChain()
}

func (o *Orchestrator) onChainTriggered(target toolspec.Type, props toolspec.Props, rule chain.Rule) {
	spec := toolspec.Spec{
		ID:          "chained-" + string(target) + "-" + o.newID(),
		Type:        target,
		Props:       props,
		Origin:      o.sync.Self(),
		CreatedAt:   o.sync.Clock().Tick(),
		ChainSource: rule.SourceToolType,
		ChainRule:   rule.ID,
	}
	if err := spec.Validate(); err != nil {
		o.logger.Warn("chained tool rejected", "rule", rule.ID, "error", err)
		o.notify(NoticeWarning, "Chain "+rule.Description+" produced an invalid tool")
		return
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	o.appendAndAnnounce(o.ctx, Entry{
		Role:    RoleAssistant,
		Content: "Chain triggered: " + rule.Description,
		Tools:   []toolspec.Spec{spec},
	})
	o.metrics.recordChained()
	o.notify(NoticeSuccess, "Event chain triggered!")
}

func (o *Orchestrator) onChainError(rule chain.Rule, event chain.Event, err error) {
	o.notify(NoticeWarning, fmt.Sprintf("Chain %q skipped: %v", rule.Description, err))
}

// RemoveTool dismisses a tool from this participant's view. It is never
// broadcast, and a later re-delivery of the same id stays hidden.
func (o *Orchestrator) RemoveTool(toolID string) error {
	o.mu.Lock()
	if _, ok := o.dismissed[toolID]; ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTool, toolID)
	}
	found := false
	for i := 0; i < len(o.timeline) && !found; i++ {
		e := &o.timeline[i]
		for j, t := range e.Tools {
			if t.ID != toolID {
				continue
			}
			found = true
			e.Tools = append(e.Tools[:j:j], e.Tools[j+1:]...)
			if len(e.Tools) == 0 {
				o.timeline = append(o.timeline[:i:i], o.timeline[i+1:]...)
			}
			break
		}
	}
	if !found && !o.sync.Tools().Has(toolID) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTool, toolID)
	}
	o.dismissed[toolID] = struct{}{}
	o.mu.Unlock()

	o.metrics.recordRemoved()
	o.hub.broadcast(UpdateTimeline)
	o.notify(NoticeSuccess, "Tool removed")
	return nil
}

func (o *Orchestrator) onCreateTool(cmd remote.CreateTool, msg remote.Message) {
	prompt := cmd.Prompt()
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.wg.Done()
		err := o.SubmitText(o.ctx, prompt)
		if err == nil {
			return
		}
		o.logger.Warn("remote create-tool not applied", "prompt", prompt, "error", err)
		if errors.Is(err, ErrBusy) {
			o.notify(NoticeWarning, fmt.Sprintf("Remote request %q dropped: another request is in progress", prompt))
		}
	}()
}

func (o *Orchestrator) onRotate3D(cmd remote.Rotate3D, msg remote.Message) {
	o.mu.Lock()
	target := o.latest3DLocked()
	if target == "" {
		o.mu.Unlock()
		o.logger.Debug("rotate-3d ignored, no 3D tool on the canvas")
		return
	}
	o.ui.Rotation = &Rotation{ToolID: target, X: cmd.X, Y: cmd.Y}
	o.mu.Unlock()
	o.hub.broadcast(UpdateUI)
}

func (o *Orchestrator) latest3DLocked() string {
	for i := len(o.timeline) - 1; i >= 0; i-- {
		for _, t := range o.timeline[i].Tools {
			if t.Type.Is3D() {
				return t.ID
			}
		}
	}
	return ""
}

func (o *Orchestrator) onUIAction(cmd remote.UIAction, msg remote.Message) {
	o.mu.Lock()
	switch cmd.Action {
	case remote.ActionZoomIn:
		o.ui.Zoom = min(o.ui.Zoom+ZoomStep, MaxZoom)
	case remote.ActionZoomOut:
		o.ui.Zoom = max(o.ui.Zoom-ZoomStep, MinZoom)
	case remote.ActionClearNotices:
		o.notices = nil
	}
	o.mu.Unlock()
	o.hub.broadcast(UpdateUI)
}

func (o *Orchestrator) notify(level NoticeLevel, text string) {
	o.mu.Lock()
	o.notices = append(o.notices, Notice{Level: level, Text: text, At: o.now()})
	if len(o.notices) > maxNotices {
		o.notices = o.notices[len(o.notices)-maxNotices:]
	}
	o.mu.Unlock()
	o.metrics.recordNotice(level)
	o.hub.broadcast(UpdateNotice)
}

// View returns a snapshot of the canvas.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	v := View{
		Timeline:   make([]Entry, 0, len(o.timeline)),
		Notices:    append([]Notice(nil), o.notices...),
		UI:         o.ui,
		Processing: o.busy,
	}
	if o.ui.Rotation != nil {
		rot := *o.ui.Rotation
		v.UI.Rotation = &rot
	}
	local := make(map[string]struct{})
	for _, e := range o.timeline {
		v.Timeline = append(v.Timeline, e.clone())
		for _, t := range e.Tools {
			local[t.ID] = struct{}{}
		}
	}
	for id := range o.dismissed {
		local[id] = struct{}{}
	}
	o.mu.Unlock()

	for _, entry := range o.sync.Tools().List() {
		if _, ok := local[entry.Spec.ID]; !ok {
			v.Shared = append(v.Shared, entry)
		}
	}
	v.ActiveChain = o.engine.ActiveChain()
	v.Connectivity = o.sync.Connectivity()
	return v
}

// Close stops chain timers, unsubscribes from remote commands and waits for
// in-flight remote submissions.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.engine.Close()
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.cancel()
	o.wg.Wait()
}
