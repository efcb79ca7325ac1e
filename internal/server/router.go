package server

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/loykin/invigil/internal/clock"
	"github.com/loykin/invigil/internal/notify"
	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/supervisor"
	"github.com/loykin/invigil/internal/template"
	"github.com/loykin/invigil/internal/timesync"
)

// Sessions is the session control surface, implemented by supervisor.Machine.
type Sessions interface {
	Start(ctx context.Context, templateID string, startTime time.Time) (*session.State, error)
	Pause(ctx context.Context) (*session.State, error)
	Resume(ctx context.Context) (*session.State, error)
	Skip(ctx context.Context) (*session.State, error)
	End(ctx context.Context) (*session.State, error)
	Restore(ctx context.Context) (*session.State, error)
	Reset(ctx context.Context) error
	Progress(ctx context.Context) (supervisor.Snapshot, error)
	Subscribe(buf int) (<-chan supervisor.Snapshot, func())
}

// TimeKeeper is implemented by clock.Clock.
type TimeKeeper interface {
	Cached() time.Time
	Status() clock.Status
	Sync(ctx context.Context) timesync.Result
}

// Reminders is implemented by notify.Hub.
type Reminders interface {
	Subscribe(buf int) (<-chan notify.Notification, func())
}

// Deps are the collaborators served by the router. Reminders and Metrics are optional.
type Deps struct {
	Sessions  Sessions
	Clock     TimeKeeper
	Templates template.Provider
	Reminders Reminders
	Metrics   http.Handler
}

// Router provides embeddable HTTP handlers for driving the session.
// Endpoints (relative to basePath):
//
//	POST   /session/start     body: {"template_id": "...", "start_time": RFC3339 (optional)}
//	POST   /session/pause|resume|skip|end|restore
//	DELETE /session
//	GET    /session           current session and progress
//	GET    /session/progress  progress only
//	GET    /session/events    server-sent events: progress, reminder
//	GET    /time              corrected time and sync status
//	POST   /time/sync         force a sync
//	GET    /templates, /templates/:id
//	GET    /healthz
//
// basePath may be empty or start with '/'; no trailing slash. /metrics is
// mounted at the root when a metrics handler is supplied.
type Router struct {
	deps      Deps
	basePath  string
	keepAlive time.Duration
	now       func() time.Time
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(deps Deps, basePath string) *Router {
	return &Router{deps: deps, basePath: sanitizeBase(basePath), keepAlive: 15 * time.Second, now: time.Now}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/session/start", r.handleStart)
	group.POST("/session/pause", r.transition(r.deps.Sessions.Pause))
	group.POST("/session/resume", r.transition(r.deps.Sessions.Resume))
	group.POST("/session/skip", r.transition(r.deps.Sessions.Skip))
	group.POST("/session/end", r.transition(r.deps.Sessions.End))
	group.POST("/session/restore", r.transition(r.deps.Sessions.Restore))
	group.DELETE("/session", r.handleReset)
	group.GET("/session", r.handleSession)
	group.GET("/session/progress", r.handleProgress)
	group.GET("/session/events", r.handleEvents)
	group.GET("/time", r.handleTime)
	group.POST("/time/sync", r.handleSync)
	group.GET("/templates", r.handleTemplates)
	group.GET("/templates/:id", r.handleTemplate)
	group.GET("/healthz", r.handleHealth)
	if r.deps.Metrics != nil {
		g.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	return g
}

// EchoHandler mounts the router inside an echo instance, for deployments
// standardised on echo.
func (r *Router) EchoHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h := echo.WrapHandler(r.Handler())
	base := r.basePath
	if base == "" {
		e.Any("/*", h)
		return e
	}
	e.Any(base, h)
	e.Any(base+"/*", h)
	if r.deps.Metrics != nil {
		e.GET("/metrics", h)
	}
	return e
}

// NewServer builds an http.Server for h. tlsCfg may be nil.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// event streams stay open, so no WriteTimeout
		IdleTimeout: 60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startReq struct {
	TemplateID string `json:"template_id"`
	StartTime  string `json:"start_time,omitempty"`
}

type timeResp struct {
	Now   time.Time `json:"now"`
	Local time.Time `json:"local"`
	clock.Status
}

func (r *Router) handleStart(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	req.TemplateID = strings.TrimSpace(req.TemplateID)
	if !isSafeID(req.TemplateID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "template_id required: allowed [A-Za-z0-9._-]"})
		return
	}
	var start time.Time
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid start_time: " + err.Error()})
			return
		}
		start = t
	}
	st, err := r.deps.Sessions.Start(c.Request.Context(), req.TemplateID, start)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, st)
}

func (r *Router) transition(fn func(context.Context) (*session.State, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := fn(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, st)
	}
}

func (r *Router) handleReset(c *gin.Context) {
	if err := r.deps.Sessions.Reset(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) snapshot(c *gin.Context) (supervisor.Snapshot, bool) {
	s, err := r.deps.Sessions.Progress(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return s, false
	}
	if s.State == nil {
		writeError(c, supervisor.ErrNoSession)
		return s, false
	}
	return s, true
}

func (r *Router) handleSession(c *gin.Context) {
	if s, ok := r.snapshot(c); ok {
		writeJSON(c, http.StatusOK, s)
	}
}

func (r *Router) handleProgress(c *gin.Context) {
	if s, ok := r.snapshot(c); ok {
		writeJSON(c, http.StatusOK, s.Progress)
	}
}

// handleEvents streams progress snapshots and reminder notifications until
// the client goes away. The current snapshot is sent first when a session exists.
func (r *Router) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	snaps, cancelSnaps := r.deps.Sessions.Subscribe(16)
	defer cancelSnaps()
	var reminders <-chan notify.Notification
	if r.deps.Reminders != nil {
		ch, cancel := r.deps.Reminders.Subscribe(16)
		defer cancel()
		reminders = ch
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	if s, err := r.deps.Sessions.Progress(ctx); err == nil && s.State != nil {
		c.SSEvent("progress", s)
		c.Writer.Flush()
	}
	ping := time.NewTicker(r.keepAlive)
	defer ping.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s, ok := <-snaps:
			if !ok {
				return false
			}
			c.SSEvent("progress", s)
		case n, ok := <-reminders:
			if !ok {
				return false
			}
			c.SSEvent("reminder", n)
		case t := <-ping.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
		}
		return true
	})
	slog.Debug("event stream closed", "remote", c.ClientIP())
}

func (r *Router) handleTime(c *gin.Context) {
	writeJSON(c, http.StatusOK, timeResp{Now: r.deps.Clock.Cached(), Local: r.now(), Status: r.deps.Clock.Status()})
}

func (r *Router) handleSync(c *gin.Context) {
	res := r.deps.Clock.Sync(c.Request.Context())
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleTemplates(c *gin.Context) {
	list, err := r.deps.Templates.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleTemplate(c *gin.Context) {
	id := c.Param("id")
	if !isSafeID(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid template id"})
		return
	}
	t, err := r.deps.Templates.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "clock": r.deps.Clock.Status().Level})
}
