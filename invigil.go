// Package invigil runs an exam session timeline: it keeps a corrected clock,
// walks a template of timed steps and raises reminders ahead of each step.
//
// Engine wires the internal components from a config.Config. Embedders that
// want their own HTTP stack can use Engine.Handler and drive Run themselves.
package invigil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/invigil/internal/clock"
	"github.com/loykin/invigil/internal/config"
	"github.com/loykin/invigil/internal/history"
	hfactory "github.com/loykin/invigil/internal/history/factory"
	"github.com/loykin/invigil/internal/metrics"
	"github.com/loykin/invigil/internal/notify"
	"github.com/loykin/invigil/internal/reminder"
	"github.com/loykin/invigil/internal/server"
	"github.com/loykin/invigil/internal/store"
	sfactory "github.com/loykin/invigil/internal/store/factory"
	"github.com/loykin/invigil/internal/supervisor"
	"github.com/loykin/invigil/internal/template"
	"github.com/loykin/invigil/internal/timesync"
	itls "github.com/loykin/invigil/internal/tls"
)

// Re-export the types embedders touch.

type Config = config.Config

type Session = supervisor.Snapshot

type Notification = notify.Notification

type Template = template.Template

// LoadConfig reads a TOML config file; an empty path yields defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

const shutdownTimeout = 5 * time.Second

// Engine owns every long-lived component of a running daemon.
type Engine struct {
	cfg *config.Config

	store     store.Gateway
	templates *template.Memory
	coord     *timesync.Coordinator
	clock     *clock.Clock
	hub       *notify.Hub
	async     *notify.Async
	exporter  *history.Exporter
	machine   *supervisor.Machine
	router    *server.Router
}

// New builds an Engine. Nothing runs in the background until Run, apart
// from the session state machine itself.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("invigil: config is required")
	}
	e := &Engine{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	tp, err := template.NewFromDir(cfg.Templates.Dir, cfg.Templates.Builtin)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	e.templates = tp

	st, err := sfactory.NewFromDSN(cfg.Session.Store)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	e.store = st
	if err := st.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("prepare session store: %w", err)
	}

	var sinks []history.Sink
	for _, dsn := range cfg.History.Sinks {
		s, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			for _, prev := range sinks {
				if c, ok := prev.(io.Closer); ok {
					_ = c.Close()
				}
			}
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) > 0 {
		e.exporter = history.NewExporter(cfg.History.QueueSize, sinks...)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	e.coord = timesync.New(cfg.TimeSync.Sources)
	e.clock = clock.New(e.coord, clock.WithResyncInterval(cfg.TimeSync.ResyncInterval))

	e.hub = notify.NewHub()
	var outs notify.Multi
	if cfg.Notify.Log {
		outs = append(outs, notify.Log{Logger: slog.Default()})
	}
	if cfg.Notify.Bell {
		outs = append(outs, notify.Bell{W: os.Stdout})
	}
	if cfg.Notify.Webhook != "" {
		outs = append(outs, notify.NewWebhook(cfg.Notify.Webhook))
	}
	notifier := notify.Multi{e.hub}
	if len(outs) > 0 {
		e.async = notify.NewAsync(outs, cfg.Notify.QueueSize)
		notifier = append(notifier, e.async)
	}

	m, err := supervisor.New(supervisor.Config{
		Store:     st,
		Templates: tp,
		Clock:     e.clock,
		Notifier:  notifier,
		Scheduler: reminder.New(notifier, st, reminder.Options{
			Window: cfg.Reminder.Window,
			Dedup:  reminder.Dedup(cfg.Reminder.Dedup),
		}),
		Exporter:     e.exporter,
		TickInterval: cfg.Session.TickInterval,
		StaleAfter:   cfg.Session.StaleAfter,
	})
	if err != nil {
		return nil, err
	}
	e.machine = m

	deps := server.Deps{Sessions: m, Clock: e.clock, Templates: tp, Reminders: e.hub}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		deps.Metrics = metrics.Handler()
	}
	e.router = server.NewRouter(deps, cfg.Server.BasePath)

	if cfg.Session.Restore {
		if snap, err := m.Restore(ctx); err == nil {
			slog.Info("session restored", "session", snap.SessionID, "template", snap.TemplateID, "status", snap.Status)
		} else if !errors.Is(err, supervisor.ErrNoSession) {
			slog.Warn("session not restored", "error", err)
		}
	}
	ok = true
	return e, nil
}

// Machine exposes the session state machine for in-process control.
func (e *Engine) Machine() *supervisor.Machine { return e.machine }

// Clock exposes the corrected clock.
func (e *Engine) Clock() *clock.Clock { return e.clock }

// Templates exposes the template provider.
func (e *Engine) Templates() template.Provider { return e.templates }

// Subscribe streams reminder notifications.
func (e *Engine) Subscribe(buf int) (<-chan Notification, func()) { return e.hub.Subscribe(buf) }

// Handler returns the API handler for the configured engine (gin or echo).
func (e *Engine) Handler() http.Handler {
	if e.cfg.Server.Engine == config.EngineEcho {
		return e.router.EchoHandler()
	}
	return e.router.Handler()
}

// Run serves the API, keeps the clock synchronised and, when configured,
// serves metrics on their own address. It returns when ctx is done or a
// server fails, and closes the engine either way.
func (e *Engine) Run(ctx context.Context) error {
	defer func() { _ = e.Close() }()

	tlsCfg, err := itls.Setup(e.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	api := server.NewServer(e.cfg.Server.Listen, e.Handler(), tlsCfg)
	servers := []*http.Server{api}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.clock.Run(gctx) })
	g.Go(func() error {
		ln, err := net.Listen("tcp", api.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", api.Addr, err)
		}
		slog.Info("api listening", "addr", ln.Addr().String(), "engine", e.cfg.Server.Engine, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			err = api.ServeTLS(ln, "", "")
		} else {
			err = api.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if e.cfg.Metrics.Enabled && e.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		ms := server.NewServer(e.cfg.Metrics.Listen, mux, nil)
		servers = append(servers, ms)
		g.Go(func() error {
			slog.Info("metrics listening", "addr", ms.Addr)
			if err := ms.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// Close stops the state machine and flushes notification and history
// queues. The persisted session is kept for the next start.
func (e *Engine) Close() error {
	var errs []error
	if e.machine != nil {
		errs = append(errs, e.machine.Shutdown())
	}
	if e.async != nil {
		e.async.Close()
		e.async = nil
	}
	if e.exporter != nil {
		errs = append(errs, e.exporter.Close())
		e.exporter = nil
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
		e.store = nil
	}
	return errors.Join(errs...)
}
