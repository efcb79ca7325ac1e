package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Exporter forwards events to every sink on a background goroutine. Export
// never blocks; events are dropped when the queue is full.
type Exporter struct {
	sinks   []Sink
	queue   chan Event
	timeout time.Duration
	once    sync.Once
	done    chan struct{}
}

func NewExporter(queueSize int, sinks ...Sink) *Exporter {
	if queueSize <= 0 {
		queueSize = 256
	}
	x := &Exporter{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go x.run()
	return x
}

// Export queues events for delivery.
func (x *Exporter) Export(events ...Event) {
	if x == nil || len(x.sinks) == 0 {
		return
	}
	for _, e := range events {
		select {
		case x.queue <- e:
		default:
			slog.Warn("history event dropped, queue full", "type", e.Type, "session", e.SessionID)
		}
	}
}

// Close waits for queued events to be delivered and closes sinks that implement io.Closer.
func (x *Exporter) Close() error {
	x.once.Do(func() { close(x.queue) })
	<-x.done
	for _, s := range x.sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return nil
}

func (x *Exporter) run() {
	defer close(x.done)
	for e := range x.queue {
		for _, s := range x.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
			if err := s.Send(ctx, e); err != nil {
				slog.Warn("history sink failed", "type", e.Type, "error", err)
			}
			cancel()
		}
	}
}
