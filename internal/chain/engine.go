package chain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/livecanvas/internal/debounce"
	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

const (
	DefaultDebounceWindow = 800 * time.Millisecond
	DefaultMarkerClear    = 500 * time.Millisecond
	defaultFiredLogLimit  = 256
)

// TriggerFunc receives the synthesized properties when a chain fires.
type TriggerFunc func(target toolspec.Type, props toolspec.Props, rule Rule)

// ErrorFunc receives transform failures. The chain is dropped; the marker
// still clears.
type ErrorFunc func(rule Rule, event Event, err error)

// Event is a semantic event emitted by a tool instance.
type Event struct {
	ToolID    string
	ToolType  toolspec.Type
	EventType string
	Payload   json.RawMessage
	Timestamp time.Time
}

type pendingChain struct {
	rule  Rule
	event Event
}

// Engine matches tool events against the rule table and fires at most one
// chain per debounce window. There is a single pending timer: a qualifying
// event that arrives while a chain is pending replaces it.
type Engine struct {
	rules      []Rule
	onTrigger  TriggerFunc
	onError    ErrorFunc
	onMarker   func(ruleID string)
	window     time.Duration
	clearDelay time.Duration
	logLimit   int
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time

	debouncer *debounce.Coalescer[pendingChain]

	mu         sync.Mutex
	active     string
	clearTimer *time.Timer
	clearGen   uint64
	fired      []Event
	closed     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules replaces the compiled-in rule table.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		e.rules = append([]Rule(nil), rules...)
	}
}

// WithDebounceWindow sets the delay after the latest qualifying event.
func WithDebounceWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.window = d
		}
	}
}

// WithMarkerClearDelay sets how long the active chain marker stays set after firing.
func WithMarkerClearDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.clearDelay = d
		}
	}
}

// WithErrorHandler sets the transform failure callback.
func WithErrorHandler(fn ErrorFunc) Option {
	return func(e *Engine) {
		e.onError = fn
	}
}

// WithMarkerListener is called whenever the active chain marker changes.
func WithMarkerListener(fn func(ruleID string)) Option {
	return func(e *Engine) {
		e.onMarker = fn
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine. It fails when the rule table is invalid.
func NewEngine(onTrigger TriggerFunc, opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:      DefaultRules(),
		onTrigger:  onTrigger,
		window:     DefaultDebounceWindow,
		clearDelay: DefaultMarkerClear,
		logLimit:   defaultFiredLogLimit,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := ValidateRules(e.rules); err != nil {
		return nil, err
	}
	if e.onTrigger == nil {
		e.onTrigger = func(toolspec.Type, toolspec.Props, Rule) {}
	}
	e.logger = e.logger.With("component", "chain")
	e.debouncer = debounce.NewCoalescer(
		debounce.WithDelay[pendingChain](e.window),
		debounce.WithOnFire(e.fire),
	)
	return e, nil
}

// Rules returns a copy of the rule table.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Match returns the first rule for the (tool type, event type) pair.
func (e *Engine) Match(toolType toolspec.Type, eventType string) (Rule, bool) {
	for _, rule := range e.rules {
		if rule.SourceToolType == toolType && rule.SourceEventType == eventType {
			return rule, true
		}
	}
	return Rule{}, false
}

// EmitEvent feeds a tool event into the engine. It reports whether a rule
// matched; the chain itself fires asynchronously after the debounce window.
func (e *Engine) EmitEvent(toolID string, toolType toolspec.Type, eventType string, payload json.RawMessage) bool {
	rule, ok := e.Match(toolType, eventType)
	if !ok {
		e.metrics.recordEvent(false)
		return false
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.active = rule.ID
	e.stopClearLocked()
	e.mu.Unlock()

	e.metrics.recordEvent(true)
	e.notifyMarker(rule.ID)

	event := Event{
		ToolID:    toolID,
		ToolType:  toolType,
		EventType: eventType,
		Payload:   append(json.RawMessage(nil), payload...),
		Timestamp: e.now(),
	}
	if e.debouncer.Trigger(pendingChain{rule: rule, event: event}) {
		e.metrics.recordCoalesced()
		e.logger.Debug("chain event coalesced", "rule", rule.ID, "tool_id", toolID)
	}
	return true
}

// CancelPendingChain drops any pending chain and clears the marker without firing.
func (e *Engine) CancelPendingChain() {
	e.debouncer.Cancel()
	e.mu.Lock()
	e.stopClearLocked()
	changed := e.active != ""
	e.active = ""
	e.mu.Unlock()
	if changed {
		e.notifyMarker("")
	}
}

// ActiveChain returns the id of the pending or just-fired rule, or "".
func (e *Engine) ActiveChain() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Pending reports whether a chain is waiting for its debounce window.
func (e *Engine) Pending() bool {
	return e.debouncer.Pending()
}

// Fired returns the log of events that produced a chain.
func (e *Engine) Fired() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.fired...)
}

// Close cancels every timer. Events emitted afterwards are ignored.
func (e *Engine) Close() {
	e.debouncer.Stop()
	e.mu.Lock()
	e.closed = true
	e.stopClearLocked()
	e.active = ""
	e.mu.Unlock()
}

func (e *Engine) fire(p pendingChain) {
	// A qualifying event during onTrigger bumps clearGen; its marker must
	// survive until that chain fires.
	e.mu.Lock()
	gen := e.clearGen
	e.mu.Unlock()

	props, err := safeTransform(p.rule.Transform, p.event.Payload)
	if err == nil && props != nil && props.ToolType() != p.rule.TargetToolType {
		err = fmt.Errorf("transform produced %s properties, rule targets %s", props.ToolType(), p.rule.TargetToolType)
	}
	if err == nil && props == nil {
		err = fmt.Errorf("transform produced no properties")
	}

	if err != nil {
		e.metrics.recordFailure(p.rule.ID)
		e.logger.Warn("chain transform failed", "rule", p.rule.ID, "tool_id", p.event.ToolID, "error", err)
		if e.onError != nil {
			e.onError(p.rule, p.event, err)
		}
	} else {
		e.onTrigger(p.rule.TargetToolType, props, p.rule)
		e.metrics.recordTrigger(p.rule.ID)
		e.logger.Info("chain triggered", "rule", p.rule.ID, "tool_id", p.event.ToolID, "target", p.rule.TargetToolType)

		e.mu.Lock()
		e.fired = append(e.fired, p.event)
		if over := len(e.fired) - e.logLimit; over > 0 {
			e.fired = append([]Event(nil), e.fired[over:]...)
		}
		e.mu.Unlock()
	}

	e.scheduleClear(gen)
}

// scheduleClear arms the marker clear unless the marker changed since gen.
func (e *Engine) scheduleClear(since uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.clearGen != since {
		return
	}
	e.stopClearLocked()
	gen := e.clearGen
	e.clearTimer = time.AfterFunc(e.clearDelay, func() {
		e.mu.Lock()
		if gen != e.clearGen || e.closed {
			e.mu.Unlock()
			return
		}
		e.clearTimer = nil
		e.active = ""
		e.mu.Unlock()
		e.notifyMarker("")
	})
}

// Must be called with e.mu held.
func (e *Engine) stopClearLocked() {
	e.clearGen++
	if e.clearTimer != nil {
		e.clearTimer.Stop()
		e.clearTimer = nil
	}
}

func (e *Engine) notifyMarker(ruleID string) {
	if e.onMarker != nil {
		e.onMarker(ruleID)
	}
}

func safeTransform(fn Transform, payload json.RawMessage) (props toolspec.Props, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return fn(payload)
}
