package presence

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestRoster(start time.Time) (*Roster, *time.Time) {
	now := start
	r := NewRoster()
	r.now = func() time.Time { return now }
	return r, &now
}

func ids(list []Participant) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func TestRosterTrackAndLeave(t *testing.T) {
	r, _ := newTestRoster(time.Unix(100, 0))

	p, isNew := r.Track(Participant{ID: "alice-1"})
	if !isNew {
		t.Fatalf("first track should be new")
	}
	if p.Name != DefaultName || p.Color != DefaultColor {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if _, isNew := r.Track(Participant{ID: "alice-1", Name: "Alice"}); isNew {
		t.Fatalf("second track should refresh, not insert")
	}
	r.Track(Participant{ID: "bob-2", Name: "Bob"})

	if diff := cmp.Diff([]string{"alice-1", "bob-2"}, ids(r.List())); diff != "" {
		t.Fatalf("roster order (-want +got):\n%s", diff)
	}
	if got, _ := r.Get("alice-1"); got.Name != "Alice" {
		t.Fatalf("name not refreshed: %+v", got)
	}

	if !r.Leave("alice-1") || r.Leave("alice-1") {
		t.Fatalf("leave should succeed once")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 participant, got %d", r.Len())
	}
}

func TestRosterSweep(t *testing.T) {
	r, now := newTestRoster(time.Unix(100, 0))
	r.Track(Participant{ID: "stale"})
	*now = now.Add(20 * time.Second)
	r.Track(Participant{ID: "fresh"})
	*now = now.Add(20 * time.Second)

	if r.Heartbeat("missing") {
		t.Fatalf("heartbeat for unknown id should fail")
	}
	gone := r.Sweep(30 * time.Second)
	if diff := cmp.Diff([]string{"stale"}, gone); diff != "" {
		t.Fatalf("swept ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"fresh"}, ids(r.List())); diff != "" {
		t.Fatalf("remaining (-want +got):\n%s", diff)
	}
}

func TestRosterReplace(t *testing.T) {
	r, _ := newTestRoster(time.Unix(100, 0))
	r.Track(Participant{ID: "old"})
	r.Replace([]Participant{{ID: "a", Name: "A"}, {ID: ""}, {ID: "b"}, {ID: "a", Name: "A2"}})

	if diff := cmp.Diff([]string{"a", "b"}, ids(r.List())); diff != "" {
		t.Fatalf("replaced roster (-want +got):\n%s", diff)
	}
	if got, _ := r.Get("a"); got.Name != "A2" {
		t.Fatalf("last duplicate should win, got %+v", got)
	}
}

func TestColorFor(t *testing.T) {
	c := ColorFor("alice-1700000000000")
	if c != ColorFor("alice-1700000000000") {
		t.Fatalf("ColorFor must be deterministic")
	}
	found := false
	for _, p := range Palette {
		if p == c {
			found = true
		}
	}
	if !found {
		t.Fatalf("colour %q not in palette", c)
	}
}

func TestNewParticipantID(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	if got := NewParticipantID(" Alice ", at); got != "Alice-1700000000123" {
		t.Fatalf("got %q", got)
	}
	if got := NewParticipantID("", at); got != "anonymous-1700000000123" {
		t.Fatalf("got %q", got)
	}
}
