package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestSeen(opts Options) (*Seen, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewSeen(opts)
	s.now = clock.now
	return s, clock
}

func TestSeenMark(t *testing.T) {
	s, clock := newTestSeen(Options{TTL: time.Second, MaxSize: 10})

	if s.Mark("create-tool:100") {
		t.Fatalf("first mark should not be a duplicate")
	}
	if !s.Mark("create-tool:100") {
		t.Fatalf("second mark within TTL should be a duplicate")
	}

	clock.t = clock.t.Add(2 * time.Second)
	if s.Mark("create-tool:100") {
		t.Fatalf("mark after TTL should not be a duplicate")
	}
}

func TestSeenEmptyKey(t *testing.T) {
	s, _ := newTestSeen(Options{})
	if s.Mark("") || s.Mark("") {
		t.Fatalf("empty keys are never duplicates")
	}
	if s.Len() != 0 {
		t.Fatalf("empty keys must not be stored")
	}
}

func TestSeenEvictsOldest(t *testing.T) {
	s, clock := newTestSeen(Options{TTL: time.Hour, MaxSize: 2})

	s.Mark("a")
	clock.t = clock.t.Add(time.Millisecond)
	s.Mark("b")
	clock.t = clock.t.Add(time.Millisecond)
	s.Mark("c")

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	if s.Mark("a") {
		t.Fatalf("oldest key should have been evicted")
	}
	if !s.Mark("c") {
		t.Fatalf("newest key should still be present")
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{parts: []string{"ui-action", "123"}, want: "ui-action:123"},
		{parts: []string{"ui-action", ""}, want: ""},
		{parts: []string{"solo"}, want: "solo"},
	}
	for _, tt := range tests {
		if got := Key(tt.parts...); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}
