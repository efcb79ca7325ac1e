package notify

import (
	"context"
	"sync"
)

// Hub fans notifications out to in-process subscribers such as SSE streams.
// Slow subscribers miss notifications rather than block delivery.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Notification]struct{})}
}

// Subscribe returns a channel of notifications and a function that unsubscribes it.
func (h *Hub) Subscribe(buf int) (<-chan Notification, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Notification, buf)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

// Subscribers reports the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
