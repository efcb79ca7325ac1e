// Package supervisor owns the lifecycle of the single active session.
//
// All session mutations happen on one goroutine (runStateMachine). Callers
// talk to it through commands carrying a reply channel; the periodic tick is
// just another case of the same select, so no two mutations ever overlap.
//
// State machine:
// (none|ended) -> running <-> paused -> ended
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/invigil/internal/format"
	"github.com/loykin/invigil/internal/history"
	"github.com/loykin/invigil/internal/metrics"
	"github.com/loykin/invigil/internal/notify"
	"github.com/loykin/invigil/internal/progress"
	"github.com/loykin/invigil/internal/reminder"
	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/store"
	"github.com/loykin/invigil/internal/template"
)

var (
	ErrNoSession         = errors.New("no active session")
	ErrSessionActive     = errors.New("a session is already active")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrStaleSession      = errors.New("stored session is stale")
	ErrShuttingDown      = errors.New("session supervisor shutting down")
)

const (
	DefaultTickInterval = time.Second
	DefaultStaleAfter   = 10 * time.Minute
)

// Clock supplies corrected time. Now may synchronize; Cached never blocks.
type Clock interface {
	Now(ctx context.Context) time.Time
	Cached() time.Time
	OffsetSeconds() float64
}

type Config struct {
	Store     store.Gateway
	Templates template.Provider
	Clock     Clock
	Notifier  notify.Notifier
	// Scheduler defaults to one built from Notifier and Store.
	Scheduler *reminder.Scheduler
	Exporter  *history.Exporter

	TickInterval time.Duration
	StaleAfter   time.Duration
	// LocalNow reads the uncorrected local clock (heartbeat and staleness).
	LocalNow func() time.Time
	NewID    func() string
}

// Snapshot is pushed to subscribers after every tick and transition.
type Snapshot struct {
	State    *session.State     `json:"session"`
	Progress *progress.Progress `json:"progress,omitempty"`
}

type command struct {
	action   commandAction
	ctx      context.Context
	template template.Template
	start    time.Time
	reply    chan result
}

type result struct {
	snap Snapshot
	err  error
}

type commandAction int

const (
	actionStart commandAction = iota
	actionPause
	actionResume
	actionSkip
	actionEnd
	actionRestore
	actionReset
	actionState
	actionTick
	actionShutdown
)

func (a commandAction) String() string {
	switch a {
	case actionStart:
		return "start"
	case actionPause:
		return "pause"
	case actionResume:
		return "resume"
	case actionSkip:
		return "skip"
	case actionEnd:
		return "end"
	case actionRestore:
		return "restore"
	case actionReset:
		return "reset"
	case actionState:
		return "state"
	case actionTick:
		return "tick"
	case actionShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Machine is the session state machine.
type Machine struct {
	cfg       Config
	scheduler *reminder.Scheduler
	cmdChan   chan command
	doneChan  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	// owned by the state machine goroutine
	state  *session.State
	tmpl   template.Template
	ticker *time.Ticker

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// New validates cfg and starts the state machine goroutine.
func New(cfg Config) (*Machine, error) {
	if cfg.Store == nil {
		return nil, errors.New("supervisor: store is required")
	}
	if cfg.Templates == nil {
		return nil, errors.New("supervisor: template provider is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("supervisor: clock is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.LocalNow == nil {
		cfg.LocalNow = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	sch := cfg.Scheduler
	if sch == nil {
		sch = reminder.New(cfg.Notifier, cfg.Store, reminder.Options{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:       cfg,
		scheduler: sch,
		cmdChan:   make(chan command, 16),
		doneChan:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[chan Snapshot]struct{}),
	}
	go m.runStateMachine()
	return m, nil
}

// Start begins a new session from templateID. A zero startTime means "now"
// on the corrected clock, which may trigger a first time sync.
func (m *Machine) Start(ctx context.Context, templateID string, startTime time.Time) (*session.State, error) {
	tmpl, err := m.cfg.Templates.Get(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	// fail fast before a possibly slow clock sync
	if st, err := m.State(ctx); err == nil && st.Active() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionActive, st.TemplateID, st.Status)
	}
	if startTime.IsZero() {
		startTime = m.cfg.Clock.Now(ctx)
	}
	r, err := m.send(ctx, command{action: actionStart, template: tmpl, start: startTime})
	return r.State, err
}

func (m *Machine) Pause(ctx context.Context) (*session.State, error) {
	r, err := m.send(ctx, command{action: actionPause})
	return r.State, err
}

func (m *Machine) Resume(ctx context.Context) (*session.State, error) {
	r, err := m.send(ctx, command{action: actionResume})
	return r.State, err
}

// Skip force-completes the current node.
func (m *Machine) Skip(ctx context.Context) (*session.State, error) {
	r, err := m.send(ctx, command{action: actionSkip})
	return r.State, err
}

func (m *Machine) End(ctx context.Context) (*session.State, error) {
	r, err := m.send(ctx, command{action: actionEnd})
	return r.State, err
}

// Restore loads the persisted session. Stale or corrupt sessions are cleared.
func (m *Machine) Restore(ctx context.Context) (*session.State, error) {
	r, err := m.send(ctx, command{action: actionRestore})
	return r.State, err
}

// Reset drops the in-memory session and clears the store.
func (m *Machine) Reset(ctx context.Context) error {
	_, err := m.send(ctx, command{action: actionReset})
	return err
}

// State returns a copy of the current session.
func (m *Machine) State(ctx context.Context) (*session.State, error) {
	r, err := m.send(ctx, command{action: actionState})
	return r.State, err
}

// Progress returns the session together with its progress at corrected now.
func (m *Machine) Progress(ctx context.Context) (Snapshot, error) {
	return m.send(ctx, command{action: actionState})
}

// Subscribe returns a channel receiving a Snapshot after every tick and
// transition. Slow subscribers miss snapshots.
func (m *Machine) Subscribe(buf int) (<-chan Snapshot, func()) {
	if buf <= 0 {
		buf = 8
	}
	ch := make(chan Snapshot, buf)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

// Shutdown stops the state machine. The persisted session is left in place.
func (m *Machine) Shutdown() error {
	select {
	case <-m.doneChan:
		return nil // Already shut down
	default:
	}
	_, err := m.send(context.Background(), command{action: actionShutdown})
	if errors.Is(err, ErrShuttingDown) {
		err = nil
	}
	<-m.doneChan
	return err
}

// Done is closed once the state machine has stopped.
func (m *Machine) Done() <-chan struct{} { return m.doneChan }

func (m *Machine) send(ctx context.Context, cmd command) (Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.ctx = ctx
	cmd.reply = make(chan result, 1)
	select {
	case m.cmdChan <- cmd:
	case <-m.doneChan:
		return Snapshot{}, ErrShuttingDown
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.snap, r.err
	case <-m.doneChan:
		return Snapshot{}, ErrShuttingDown
	}
}

// runStateMachine is the only goroutine touching session state.
func (m *Machine) runStateMachine() {
	defer close(m.doneChan)
	defer m.stopTicker()

	for {
		var tickC <-chan time.Time
		if m.ticker != nil {
			tickC = m.ticker.C
		}
		select {
		case cmd := <-m.cmdChan:
			if cmd.action == actionShutdown {
				m.cancel()
				cmd.reply <- result{}
				return
			}
			snap, err := m.handleCommand(cmd)
			cmd.reply <- result{snap: snap, err: err}
		case <-tickC:
			m.tick(m.ctx)
		}
	}
}

func (m *Machine) handleCommand(cmd command) (Snapshot, error) {
	switch cmd.action {
	case actionStart:
		return m.handleStart(cmd.ctx, cmd.template, cmd.start)
	case actionPause:
		return m.handlePause(cmd.ctx)
	case actionResume:
		return m.handleResume(cmd.ctx)
	case actionSkip:
		return m.handleSkip(cmd.ctx)
	case actionEnd:
		return m.handleEnd(cmd.ctx)
	case actionRestore:
		return m.handleRestore(cmd.ctx)
	case actionReset:
		return m.handleReset(cmd.ctx)
	case actionState:
		if m.state == nil {
			return Snapshot{}, ErrNoSession
		}
		return m.snapshot(), nil
	case actionTick:
		m.tick(cmd.ctx)
		return m.snapshot(), nil
	default:
		return Snapshot{}, fmt.Errorf("unknown command %v", cmd.action)
	}
}

func (m *Machine) startTicker() {
	if m.ticker == nil {
		m.ticker = time.NewTicker(m.cfg.TickInterval)
	}
}

func (m *Machine) stopTicker() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

func (m *Machine) snapshot() Snapshot {
	if m.state == nil {
		return Snapshot{}
	}
	p := progress.Compute(m.tmpl.Nodes, m.state.CompletedNodes, m.state.StartTime, m.cfg.Clock.Cached())
	return Snapshot{State: m.state.Clone(), Progress: &p}
}

func (m *Machine) publish(s Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// export forwards ledger entries appended since index from to history sinks.
func (m *Machine) export(from int) {
	if m.cfg.Exporter == nil || m.state == nil || from >= len(m.state.Events) {
		return
	}
	evs := make([]history.Event, 0, len(m.state.Events)-from)
	for _, e := range m.state.Events[from:] {
		evs = append(evs, history.FromSession(m.state, e))
	}
	m.cfg.Exporter.Export(evs...)
}

func (m *Machine) notify(ctx context.Context, n notify.Notification) {
	metrics.IncReminder(string(n.Type))
	if m.cfg.Notifier == nil {
		return
	}
	if err := m.cfg.Notifier.Notify(ctx, n); err != nil {
		slog.Warn("notify failed", "title", n.Title, "error", err)
	}
}

func statusOf(st *session.State) string {
	if st == nil {
		return "none"
	}
	return string(st.Status)
}

// commit persists next and makes it the active session. On failure the
// active session is left as it was.
func (m *Machine) commit(ctx context.Context, next *session.State) error {
	if err := m.cfg.Store.Save(ctx, next); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	m.state = next
	return nil
}

func (m *Machine) save(ctx context.Context) error {
	if err := m.cfg.Store.Save(ctx, m.state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (m *Machine) startNote(start time.Time) string {
	return "start time " + format.Clock(start, true)
}
