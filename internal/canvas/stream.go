package canvas

import (
	"sync"
	"time"
)

// UpdateKind says which part of the view changed.
type UpdateKind string

const (
	UpdateTimeline UpdateKind = "timeline"
	UpdateTools    UpdateKind = "tools"
	UpdateChain    UpdateKind = "chain"
	UpdateNotice   UpdateKind = "notice"
	UpdateUI       UpdateKind = "ui"
)

// Update is sent to view subscribers after a state change. Subscribers call
// View for the new state.
type Update struct {
	Kind      UpdateKind
	Timestamp time.Time
}

// hub fans updates out to subscribers without blocking the sender. A slow
// subscriber misses updates, not state.
type hub struct {
	mu          sync.RWMutex
	subscribers map[chan Update]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[chan Update]struct{})}
}

func (h *hub) subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *hub) broadcast(kind UpdateKind) {
	msg := Update{Kind: kind, Timestamp: time.Now()}
	h.mu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}
