package remote

import "sync"

// Bus is an in-process publish/subscribe for remote commands. Handlers run
// synchronously on the publisher's goroutine, outside the bus lock.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(Message)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]func(Message))}
}

// Subscribe registers fn for every message. The returned func unsubscribes.
func (b *Bus) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Handle registers a handler for one command variant.
func Handle[T Command](b *Bus, fn func(cmd T, msg Message)) func() {
	return b.Subscribe(func(msg Message) {
		if cmd, ok := msg.Command.(T); ok {
			fn(cmd, msg)
		}
	})
}

// Publish delivers msg to every subscriber and returns how many were called.
func (b *Bus) Publish(msg Message) int {
	b.mu.RLock()
	handlers := make([]func(Message), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
	return len(handlers)
}
