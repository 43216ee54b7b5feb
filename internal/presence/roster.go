// Package presence tracks who is in a canvas room.
package presence

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultName  = "Anonymous"
	DefaultColor = "#10b981"
)

// Palette is the fixed set of participant colours.
var Palette = []string{
	"#10b981", "#3b82f6", "#f59e0b", "#ef4444",
	"#8b5cf6", "#ec4899", "#06b6d4", "#84cc16",
}

// Participant is one member of a room as broadcast on presence-sync.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	CursorX  *float64  `json:"cursorX,omitempty"`
	CursorY  *float64  `json:"cursorY,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

// ColorFor picks a palette colour for a participant id. The same id always
// gets the same colour.
func ColorFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// NewParticipantID builds a room-unique id from a display name.
func NewParticipantID(name string, now time.Time) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.ToLower(DefaultName)
	}
	return fmt.Sprintf("%s-%d", name, now.UnixMilli())
}

func (p Participant) withDefaults() Participant {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = DefaultName
	}
	if p.Color == "" {
		p.Color = DefaultColor
	}
	return p
}

// Roster is a mutex-guarded, insertion-ordered participant list.
type Roster struct {
	mu      sync.Mutex
	members map[string]Participant
	order   []string
	now     func() time.Time
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		members: make(map[string]Participant),
		now:     time.Now,
	}
}

// Track inserts or refreshes a participant and stamps LastSeen. It reports
// whether the participant is new.
func (r *Roster) Track(p Participant) (Participant, bool) {
	p = p.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	p.LastSeen = r.now()
	_, exists := r.members[p.ID]
	if !exists {
		r.order = append(r.order, p.ID)
	}
	r.members[p.ID] = p
	return p, !exists
}

// Heartbeat refreshes LastSeen for a known participant.
func (r *Roster) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.members[id]
	if !ok {
		return false
	}
	p.LastSeen = r.now()
	r.members[id] = p
	return true
}

// Leave removes a participant.
func (r *Roster) Leave(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// Sweep removes participants not seen within timeout and returns their ids.
func (r *Roster) Sweep(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-timeout)
	var gone []string
	for _, id := range append([]string(nil), r.order...) {
		if r.members[id].LastSeen.Before(cutoff) {
			r.removeLocked(id)
			gone = append(gone, id)
		}
	}
	return gone
}

// Replace swaps the whole roster for an authoritative list, as received in
// a presence-sync broadcast.
func (r *Roster) Replace(list []Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[string]Participant, len(list))
	r.order = r.order[:0]
	for _, p := range list {
		if p.ID == "" {
			continue
		}
		if _, dup := r.members[p.ID]; !dup {
			r.order = append(r.order, p.ID)
		}
		r.members[p.ID] = p.withDefaults()
	}
}

// Get returns a participant by id.
func (r *Roster) Get(id string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.members[id]
	return p, ok
}

// List returns participants in join order.
func (r *Roster) List() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

// Len returns the number of participants.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Must be called with r.mu held.
func (r *Roster) removeLocked(id string) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
