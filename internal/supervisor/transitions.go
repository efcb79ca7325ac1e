package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/invigil/internal/metrics"
	"github.com/loykin/invigil/internal/notify"
	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/store"
	"github.com/loykin/invigil/internal/template"
)

func (m *Machine) handleStart(ctx context.Context, tmpl template.Template, start time.Time) (Snapshot, error) {
	if m.state != nil && m.state.Active() {
		return Snapshot{}, fmt.Errorf("%w: %s is %s", ErrSessionActive, m.state.TemplateID, m.state.Status)
	}
	from := statusOf(m.state)
	local := m.cfg.LocalNow()
	st := &session.State{
		SessionID:        m.cfg.NewID(),
		TemplateID:       tmpl.ID,
		TemplateName:     tmpl.Name,
		StartTime:        start,
		Status:           session.StatusRunning,
		CompletedNodes:   []string{},
		NTPOffsetSeconds: m.cfg.Clock.OffsetSeconds(),
		LastSyncTime:     local,
	}
	st.Append(session.Event{Timestamp: m.cfg.Clock.Cached(), Action: session.ActionStart, Note: m.startNote(start)})
	if err := m.cfg.Store.Save(ctx, st); err != nil {
		return Snapshot{}, fmt.Errorf("save session: %w", err)
	}

	m.state, m.tmpl = st, tmpl
	metrics.RecordTransition("start", from, string(session.StatusRunning))
	slog.Info("session started", "session", st.SessionID, "template", tmpl.ID, "start", start)
	m.export(0)
	m.startTicker()
	m.tick(ctx)
	return m.snapshot(), nil
}

func (m *Machine) handlePause(ctx context.Context) (Snapshot, error) {
	if err := m.require(session.StatusRunning, "pause"); err != nil {
		return Snapshot{}, err
	}
	before := len(m.state.Events)
	now := m.cfg.Clock.Cached()
	next := m.state.Clone()
	next.Status = session.StatusPaused
	next.PausedAt = &now
	next.Append(session.Event{Timestamp: now, Action: session.ActionPause, Note: "session paused"})
	if err := m.commit(ctx, next); err != nil {
		return Snapshot{}, err
	}
	m.stopTicker()
	metrics.RecordTransition("pause", string(session.StatusRunning), string(session.StatusPaused))
	slog.Info("session paused", "session", m.state.SessionID)
	m.export(before)
	snap := m.snapshot()
	m.publish(snap)
	return snap, nil
}

func (m *Machine) handleResume(ctx context.Context) (Snapshot, error) {
	if err := m.require(session.StatusPaused, "resume"); err != nil {
		return Snapshot{}, err
	}
	before := len(m.state.Events)
	next := m.state.Clone()
	next.Status = session.StatusRunning
	next.PausedAt = nil
	next.LastSyncTime = m.cfg.LocalNow()
	next.Append(session.Event{Timestamp: m.cfg.Clock.Cached(), Action: session.ActionResume, Note: "session resumed"})
	if err := m.commit(ctx, next); err != nil {
		return Snapshot{}, err
	}
	metrics.RecordTransition("resume", string(session.StatusPaused), string(session.StatusRunning))
	slog.Info("session resumed", "session", m.state.SessionID)
	m.export(before)
	m.startTicker()
	m.tick(ctx)
	return m.snapshot(), nil
}

func (m *Machine) handleSkip(ctx context.Context) (Snapshot, error) {
	if m.state == nil {
		return Snapshot{}, ErrNoSession
	}
	if !m.state.Active() {
		return Snapshot{}, fmt.Errorf("%w: cannot skip in a %s session", ErrInvalidTransition, m.state.Status)
	}
	before := len(m.state.Events)
	res, err := m.scheduler.Skip(ctx, m.state, m.tmpl, m.cfg.Clock.Cached())
	if err != nil {
		return Snapshot{}, err
	}
	m.export(before)
	slog.Info("node skipped", "session", m.state.SessionID, "node", res.Skipped.Name)
	snap := m.snapshot()
	m.publish(snap)
	return snap, nil
}

func (m *Machine) handleEnd(ctx context.Context) (Snapshot, error) {
	if m.state == nil {
		return Snapshot{}, ErrNoSession
	}
	if !m.state.Active() {
		return Snapshot{}, fmt.Errorf("%w: session already %s", ErrInvalidTransition, m.state.Status)
	}
	from := string(m.state.Status)
	before := len(m.state.Events)
	now := m.cfg.Clock.Cached()
	next := m.state.Clone()
	next.Status = session.StatusEnded
	next.EndedAt = &now
	next.Append(session.Event{Timestamp: now, Action: session.ActionEnd, Note: "session ended"})
	if err := m.commit(ctx, next); err != nil {
		return Snapshot{}, err
	}
	m.stopTicker()
	metrics.RecordTransition("end", from, string(session.StatusEnded))
	slog.Info("session ended", "session", m.state.SessionID, "completed", len(m.state.CompletedNodes))
	m.export(before)
	m.notify(ctx, notify.Notification{
		Type:    notify.TypeAlert,
		Title:   "Session over",
		Content: "Stop writing and arrange the papers and answer sheets",
		At:      now,
	})
	snap := m.snapshot()
	m.publish(snap)
	return snap, nil
}

func (m *Machine) handleRestore(ctx context.Context) (Snapshot, error) {
	if m.state != nil && m.state.Active() {
		return Snapshot{}, fmt.Errorf("%w: %s is %s", ErrSessionActive, m.state.TemplateID, m.state.Status)
	}
	st, err := m.cfg.Store.Load(ctx)
	if errors.Is(err, store.ErrCorrupt) {
		slog.Warn("discarding corrupt stored session", "error", err)
		m.discard(ctx)
		return Snapshot{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	if st == nil || !st.Active() {
		return Snapshot{}, ErrNoSession
	}
	if age := m.cfg.LocalNow().Sub(st.LastSyncTime); age > m.cfg.StaleAfter {
		slog.Warn("discarding stale session", "session", st.SessionID, "age", age.Round(time.Second))
		m.discard(ctx)
		return Snapshot{}, fmt.Errorf("%w: last heartbeat %s ago", ErrStaleSession, age.Round(time.Second))
	}
	tmpl, err := m.cfg.Templates.Get(ctx, st.TemplateID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("restore session: %w", err)
	}

	m.state, m.tmpl = st, tmpl
	metrics.RecordTransition("restore", "none", string(st.Status))
	slog.Info("session restored", "session", st.SessionID, "status", st.Status)
	if st.Status == session.StatusRunning {
		m.startTicker()
		m.tick(ctx)
	} else {
		m.publish(m.snapshot())
	}
	return m.snapshot(), nil
}

func (m *Machine) handleReset(ctx context.Context) (Snapshot, error) {
	from := statusOf(m.state)
	if err := m.cfg.Store.Clear(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("clear session: %w", err)
	}
	m.stopTicker()
	m.state, m.tmpl = nil, template.Template{}
	metrics.RecordTransition("reset", from, "none")
	slog.Info("session reset")
	m.publish(Snapshot{})
	return Snapshot{}, nil
}

// tick refreshes the heartbeat and runs the reminder rules once.
func (m *Machine) tick(ctx context.Context) {
	if m.state == nil || m.state.Status != session.StatusRunning {
		return
	}
	t0 := time.Now()
	before := len(m.state.Events)
	m.state.LastSyncTime = m.cfg.LocalNow()
	m.state.NTPOffsetSeconds = m.cfg.Clock.OffsetSeconds()

	res, err := m.scheduler.Tick(ctx, m.state, m.tmpl, m.cfg.Clock.Cached())
	if err != nil {
		slog.Warn("tick failed", "session", m.state.SessionID, "error", err)
	} else if !res.Changed() {
		if err := m.save(ctx); err != nil {
			slog.Warn("heartbeat save failed", "session", m.state.SessionID, "error", err)
		}
	}
	if res.Completed != nil {
		slog.Info("node completed", "session", m.state.SessionID, "node", res.Completed.Name)
	}
	m.export(before)
	p := res.Progress
	m.publish(Snapshot{State: m.state.Clone(), Progress: &p})
	metrics.ObserveTick(time.Since(t0).Seconds())
}

func (m *Machine) require(want session.Status, action string) error {
	if m.state == nil {
		return ErrNoSession
	}
	if m.state.Status != want {
		return fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, action, m.state.Status)
	}
	return nil
}

func (m *Machine) discard(ctx context.Context) {
	if err := m.cfg.Store.Clear(ctx); err != nil {
		slog.Warn("clear stored session failed", "error", err)
	}
}
