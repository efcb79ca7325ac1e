// Package clock exposes a corrected "now" backed by timesync.
package clock

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/loykin/invigil/internal/metrics"
	"github.com/loykin/invigil/internal/timesync"
)

// Level classifies how far the corrected clock can be trusted.
type Level string

const (
	LevelNormal  Level = "normal"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSyncing Level = "syncing"
)

const (
	DefaultResyncInterval = 5 * time.Minute

	warnOffset = 30.0
	errOffset  = 60.0
	warnStale  = 5 * time.Minute
	errStale   = 10 * time.Minute
)

// Syncer is the part of timesync.Coordinator the clock depends on.
type Syncer interface {
	Sync(ctx context.Context) timesync.Result
	InFlight() bool
}

// Status is a point-in-time view of clock health.
type Status struct {
	Level         Level      `json:"status"`
	Message       string     `json:"message"`
	OffsetSeconds *float64   `json:"offset,omitempty"`
	Source        string     `json:"source,omitempty"`
	LastSync      *time.Time `json:"lastSync,omitempty"`
	LastAttempt   *time.Time `json:"lastAttempt,omitempty"`
}

type synced struct {
	offset float64
	source string
	at     time.Time
}

// Clock corrects local time by the last successful offset. Reads are lock free.
type Clock struct {
	syncer   Syncer
	now      func() time.Time
	interval time.Duration

	good    atomic.Pointer[synced]
	last    atomic.Pointer[timesync.Result]
	lastErr atomic.Bool
}

type Option func(*Clock)

// WithNow injects the local clock.
func WithNow(now func() time.Time) Option { return func(c *Clock) { c.now = now } }

// WithResyncInterval sets how often Run re-synchronizes.
func WithResyncInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.interval = d
		}
	}
}

func New(s Syncer, opts ...Option) *Clock {
	c := &Clock{syncer: s, now: time.Now, interval: DefaultResyncInterval}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sync runs one synchronization and records its outcome.
func (c *Clock) Sync(ctx context.Context) timesync.Result {
	r := c.syncer.Sync(ctx)
	c.record(r)
	return r
}

func (c *Clock) record(r timesync.Result) {
	c.last.Store(&r)
	if r.Success {
		c.good.Store(&synced{offset: r.OffsetSeconds, source: r.Source, at: r.LocalTime})
		c.lastErr.Store(false)
	} else {
		c.lastErr.Store(true)
	}
	metrics.SetSyncStatus(string(c.Status().Level))
}

// Now returns corrected time, synchronizing first if no sync has succeeded yet.
// It never fails; without any successful sync it returns local time.
func (c *Clock) Now(ctx context.Context) time.Time {
	if c.good.Load() == nil {
		c.Sync(ctx)
	}
	return c.Cached()
}

// Cached returns corrected time from the last successful offset without syncing.
func (c *Clock) Cached() time.Time {
	local := c.now()
	g := c.good.Load()
	if g == nil {
		return local
	}
	return local.Add(-time.Duration(g.offset * float64(time.Second)))
}

// OffsetSeconds returns the offset in effect (0 before any successful sync).
func (c *Clock) OffsetSeconds() float64 {
	if g := c.good.Load(); g != nil {
		return g.offset
	}
	return 0
}

// Last returns the most recent sync result, successful or not.
func (c *Clock) Last() *timesync.Result { return c.last.Load() }

// Status classifies the clock from the offset and the age of the last good sync.
func (c *Clock) Status() Status {
	st := Status{}
	if r := c.last.Load(); r != nil {
		at := r.LocalTime
		st.LastAttempt = &at
	}
	if c.syncer.InFlight() {
		st.Level = LevelSyncing
		st.Message = "syncing"
		c.fill(&st)
		return st
	}
	g := c.good.Load()
	if g == nil {
		if c.last.Load() != nil {
			st.Level = LevelWarning
			st.Message = "sync failed, using local time"
			st.Source = timesync.LocalSource
			return st
		}
		st.Level = LevelError
		st.Message = "not synced"
		return st
	}
	c.fill(&st)
	stale := c.now().Sub(g.at)
	abs := math.Abs(g.offset)
	switch {
	case abs > errOffset || stale > errStale:
		st.Level = LevelError
		st.Message = "clock out of sync"
	case abs > warnOffset || stale > warnStale:
		st.Level = LevelWarning
		st.Message = "clock drifting"
	default:
		st.Level = LevelNormal
		st.Message = "synced via " + g.source
	}
	if c.lastErr.Load() && st.Level == LevelNormal {
		st.Level = LevelWarning
		st.Message = "last sync failed, using cached offset"
	}
	return st
}

func (c *Clock) fill(st *Status) {
	g := c.good.Load()
	if g == nil {
		return
	}
	off, at := g.offset, g.at
	st.OffsetSeconds = &off
	st.Source = g.source
	st.LastSync = &at
}

// Run syncs immediately and then every resync interval until ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	c.Sync(ctx)
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r := c.Sync(ctx)
			if !r.Success {
				slog.Warn("background resync failed", "error", r.Error)
			}
		}
	}
}
