// Package timesync reconciles the local clock with external reference sources.
package timesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loykin/invigil/internal/metrics"
)

// LocalSource names the fallback result produced when every source failed.
const LocalSource = "local"

// maximum response body read from a source
const maxBody = 64 << 10

// Result is the outcome of one Sync call.
type Result struct {
	Success       bool       `json:"success"`
	ServerTime    *time.Time `json:"serverTime,omitempty"`
	LocalTime     time.Time  `json:"localTime"`
	OffsetSeconds float64    `json:"offset"`
	Source        string     `json:"source"`
	Error         string     `json:"error,omitempty"`
}

// Coordinator queries sources strictly in order and keeps the latest result.
type Coordinator struct {
	sources []Source
	client  *http.Client
	now     func() time.Time

	inFlight atomic.Bool
	last     atomic.Pointer[Result]
}

type Option func(*Coordinator)

// WithHTTPClient replaces the client used for source requests.
func WithHTTPClient(c *http.Client) Option {
	return func(co *Coordinator) { co.client = c }
}

// WithNow injects the local clock.
func WithNow(now func() time.Time) Option {
	return func(co *Coordinator) { co.now = now }
}

func New(sources []Source, opts ...Option) *Coordinator {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	c := &Coordinator{
		sources: append([]Source(nil), sources...),
		client:  &http.Client{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sources returns the configured sources in priority order.
func (c *Coordinator) Sources() []Source {
	return append([]Source(nil), c.sources...)
}

// Last returns the most recent result, or nil before the first sync.
func (c *Coordinator) Last() *Result {
	return c.last.Load()
}

// InFlight reports whether a sync is running.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Sync queries the sources until one yields a usable timestamp. If a sync is
// already running the cached result (or a local fallback) is returned at once.
func (c *Coordinator) Sync(ctx context.Context) Result {
	if !c.inFlight.CompareAndSwap(false, true) {
		if r := c.last.Load(); r != nil {
			return *r
		}
		return c.localResult(errors.New("sync in progress"))
	}
	defer c.inFlight.Store(false)

	var lastErr error
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		r, err := c.query(ctx, src)
		if err != nil {
			slog.Debug("time source failed", "source", src.Name, "error", err)
			metrics.IncSyncAttempt(src.Name, "failure")
			lastErr = fmt.Errorf("%s: %w", src.Name, err)
			continue
		}
		metrics.IncSyncAttempt(src.Name, "success")
		metrics.SetClockOffset(r.OffsetSeconds)
		c.last.Store(&r)
		slog.Info("time synced", "source", src.Name, "offset_seconds", r.OffsetSeconds)
		return r
	}
	if lastErr == nil {
		lastErr = errors.New("no time sources configured")
	}
	r := c.localResult(lastErr)
	metrics.IncSyncAttempt(LocalSource, "fallback")
	c.last.Store(&r)
	slog.Warn("time sync failed, using local time", "error", lastErr)
	return r
}

// Probe queries a single source without touching the cached result. On
// failure the result still names the source and carries the error text.
func (c *Coordinator) Probe(ctx context.Context, src Source) (Result, error) {
	r, err := c.query(ctx, src)
	if err != nil {
		r = Result{LocalTime: c.now(), Source: src.Name, Error: err.Error()}
	}
	return r, err
}

func (c *Coordinator) query(ctx context.Context, src Source) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, src.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Result{}, err
	}
	server, err := ParseTimestamp(body, src.Field)
	if err != nil {
		return Result{}, err
	}
	local := c.now()
	offsetMs := local.UnixMilli() - server.UnixMilli()
	return Result{
		Success:       true,
		ServerTime:    &server,
		LocalTime:     local,
		OffsetSeconds: float64(offsetMs) / 1000,
		Source:        src.Name,
	}, nil
}

func (c *Coordinator) localResult(err error) Result {
	r := Result{LocalTime: c.now(), Source: LocalSource}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
