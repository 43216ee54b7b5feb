// Package cache holds the short-lived dedupe window used on the inbound path.
// Remote commands may arrive on both transport channels; the second copy is
// dropped if it shows up within the TTL.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Seen remembers keys for a TTL with a bounded size. Oldest keys are
// evicted first.
type Seen struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	index   map[string]time.Time
	order   []entry
	now     func() time.Time
}

// Options configures a Seen cache.
type Options struct {
	TTL     time.Duration
	MaxSize int
}

const (
	defaultTTL     = 30 * time.Second
	defaultMaxSize = 1024
)

// NewSeen creates a dedupe cache. Zero options fall back to a 30s TTL and
// 1024 entries.
func NewSeen(opts Options) *Seen {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = defaultMaxSize
	}
	return &Seen{
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		index:   make(map[string]time.Time),
		now:     time.Now,
	}
}

// Mark records key and reports whether it was already seen within the TTL.
// Empty keys are never duplicates.
func (s *Seen) Mark(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)
	if _, ok := s.index[key]; ok {
		return true
	}
	s.index[key] = now
	s.order = append(s.order, entry{key: key, seen: now})
	for len(s.index) > s.maxSize {
		s.evictOldestLocked()
	}
	return false
}

// Len returns the number of live keys.
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(s.now())
	return len(s.index)
}

// Must be called with s.mu held.
func (s *Seen) expireLocked(now time.Time) {
	cutoff := now.Add(-s.ttl)
	for len(s.order) > 0 && !s.order[0].seen.After(cutoff) {
		s.evictOldestLocked()
	}
}

// Must be called with s.mu held.
func (s *Seen) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	if ts, ok := s.index[oldest.key]; ok && ts.Equal(oldest.seen) {
		delete(s.index, oldest.key)
	}
}

// Key joins parts into a dedupe key. Any empty part yields "".
func Key(parts ...string) string {
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return strings.Join(parts, ":")
}
