package toolsync

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

// Source records where a tool entered the collection.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Entry is one tool in the merged collection.
type Entry struct {
	Spec    toolspec.Spec
	Source  Source
	Channel string
	Shared  map[string]bool
	Meta    map[string]json.RawMessage
	AddedAt time.Time
}

func (e *Entry) clone() Entry {
	out := *e
	out.Shared = make(map[string]bool, len(e.Shared))
	for k, v := range e.Shared {
		out.Shared[k] = v
	}
	out.Meta = make(map[string]json.RawMessage, len(e.Meta))
	for k, v := range e.Meta {
		out.Meta[k] = v
	}
	return out
}

// Collection is the merged, insertion-ordered set of tools known to this
// participant. Only the Syncer mutates it; everything else reads snapshots.
type Collection struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

func newCollection() *Collection {
	return &Collection{entries: make(map[string]*Entry)}
}

// insert adds spec unless its id is already present. First write wins.
func (c *Collection) insert(spec toolspec.Spec, source Source, channel string, at time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[spec.ID]; ok {
		return existing.clone(), false
	}
	e := &Entry{
		Spec:    spec,
		Source:  source,
		Channel: channel,
		Shared:  make(map[string]bool),
		Meta:    make(map[string]json.RawMessage),
		AddedAt: at,
	}
	c.entries[spec.ID] = e
	c.order = append(c.order, spec.ID)
	return e.clone(), true
}

func (c *Collection) markShared(id, channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.Shared[channel] = true
	}
}

func (c *Collection) mergeMeta(id string, meta map[string]json.RawMessage) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	for k, v := range meta {
		e.Meta[k] = append(json.RawMessage(nil), v...)
	}
	return e.clone(), true
}

// unshared returns local entries not yet sent on channel.
func (c *Collection) unshared(channel string) []toolspec.Spec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []toolspec.Spec
	for _, id := range c.order {
		e := c.entries[id]
		if e.Source == SourceLocal && !e.Shared[channel] {
			out = append(out, e.Spec)
		}
	}
	return out
}

// Get returns a snapshot of one entry.
func (c *Collection) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Has reports whether id is present.
func (c *Collection) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// List returns snapshots in insertion order.
func (c *Collection) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].clone())
	}
	return out
}

// Len returns the number of tools.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
