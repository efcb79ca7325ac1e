package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the number of undelivered notifications held by Async.
const DefaultQueueSize = 64

// Async decouples delivery from the caller: Notify enqueues and returns at once.
// When the queue is full the notification is dropped and counted. Delivery
// errors are logged and never reach the caller.
type Async struct {
	next    Notifier
	queue   chan Notification
	timeout time.Duration
	dropped atomic.Uint64
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
}

// NewAsync starts a delivery goroutine for next. Call Close to drain and stop it.
func NewAsync(next Notifier, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &Async{
		next:    next,
		queue:   make(chan Notification, queueSize),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues n. After Close it drops n.
func (a *Async) Notify(_ context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- n:
	default:
		a.dropped.Add(1)
		slog.Warn("notification dropped, queue full", "title", n.Title)
	}
	return nil
}

// Dropped returns how many notifications were discarded.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting notifications and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			slog.Warn("notification delivery failed", "title", n.Title, "error", err)
		}
		cancel()
	}
}
