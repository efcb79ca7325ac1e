// Package reminder decides, once per tick, whether a session needs a
// pre-arrival warning or a node completion, and applies it.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/invigil/internal/format"
	"github.com/loykin/invigil/internal/metrics"
	"github.com/loykin/invigil/internal/notify"
	"github.com/loykin/invigil/internal/progress"
	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/template"
)

// ErrNoCurrentNode is returned by Skip when no node has been reached yet.
var ErrNoCurrentNode = errors.New("no current node")

// DefaultWindow is the width of the warning window below a node's warn time.
const DefaultWindow = 30 * time.Second

// Dedup selects how previously fired warnings are detected.
type Dedup string

const (
	// DedupLastEvent only looks at the most recent ledger entry. A warning can
	// repeat if another event lands between two checks for the same node.
	DedupLastEvent Dedup = "last-event"
	// DedupFullLog scans the whole ledger.
	DedupFullLog Dedup = "full-log"
)

// Saver persists the whole session object.
type Saver interface {
	Save(ctx context.Context, st *session.State) error
}

// Options tunes the warning window and dedup mode.
type Options struct {
	Window time.Duration
	Dedup  Dedup
}

// Scheduler applies the warning and completion rules to a session. A rule
// that fails to persist leaves the session untouched.
type Scheduler struct {
	notifier notify.Notifier
	saver    Saver
	window   time.Duration
	dedup    Dedup
}

// New returns a Scheduler; zero options fall back to the defaults.
func New(n notify.Notifier, s Saver, opts Options) *Scheduler {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Dedup == "" {
		opts.Dedup = DedupLastEvent
	}
	return &Scheduler{notifier: n, saver: s, window: opts.Window, dedup: opts.Dedup}
}

// Result reports what a Tick or Skip changed.
type Result struct {
	Progress  progress.Progress
	Warned    *template.ProcessNode
	Completed *template.ProcessNode
	Skipped   *template.ProcessNode
}

// Changed reports whether the session was mutated.
func (r Result) Changed() bool {
	return r.Warned != nil || r.Completed != nil || r.Skipped != nil
}

// Tick evaluates the warning rule and then the completion rule against the
// progress at now. It only acts on running sessions. now is corrected time.
func (s *Scheduler) Tick(ctx context.Context, st *session.State, tmpl template.Template, now time.Time) (Result, error) {
	p := progress.Compute(tmpl.Nodes, st.CompletedNodes, st.StartTime, now)
	res := Result{Progress: p}
	if st.Status != session.StatusRunning {
		return res, nil
	}

	if next := p.NextNode; next != nil && s.inWindow(next, p.RemainingSeconds) && !s.warned(st, next.Name) {
		if err := s.warn(ctx, st, *next, p.RemainingSeconds, now); err != nil {
			return res, err
		}
		res.Warned = next
	}

	if cur := p.CurrentNode; cur != nil && p.RemainingSeconds <= 0 && !st.IsCompleted(cur.Name) {
		err := s.commit(ctx, st, func(c *session.State) {
			c.MarkCompleted(cur.Name)
			c.Append(session.Event{Timestamp: now, Action: session.ActionComplete, NodeName: cur.Name})
		})
		if err != nil {
			return res, err
		}
		metrics.IncCompleted(st.TemplateID, "tick")
		res.Completed = cur
		res.Progress = progress.Compute(tmpl.Nodes, st.CompletedNodes, st.StartTime, now)

		n := notify.Notification{
			Type:    notify.TypeAlert,
			Title:   "Completed: " + cur.Name,
			Content: "Proceed to the next step",
			Node:    cur.Name,
			At:      now,
		}
		if nx := res.Progress.NextNode; nx != nil {
			n.NextNode = nx.Name
			n.Content = fmt.Sprintf("Next: %s at %s", nx.Name, format.NodeTimeRange(nx.Offset, st.StartTime))
		} else {
			n.Content = "All steps completed"
		}
		s.emit(ctx, n)
	}
	return res, nil
}

// Skip force-completes the current node regardless of its time, then checks
// whether the new next node is already inside its warn time. A current node
// that is already complete is left as is; the skip is still recorded.
func (s *Scheduler) Skip(ctx context.Context, st *session.State, tmpl template.Template, now time.Time) (Result, error) {
	p := progress.Compute(tmpl.Nodes, st.CompletedNodes, st.StartTime, now)
	cur := p.CurrentNode
	if cur == nil {
		return Result{Progress: p}, ErrNoCurrentNode
	}
	added := false
	err := s.commit(ctx, st, func(c *session.State) {
		added = c.MarkCompleted(cur.Name)
		c.Append(session.Event{Timestamp: now, Action: session.ActionSkip, NodeName: cur.Name, Note: "skipped manually"})
	})
	if err != nil {
		return Result{Progress: p}, err
	}
	if added {
		metrics.IncCompleted(st.TemplateID, "skip")
	}

	res := Result{Skipped: cur}
	res.Progress = progress.Compute(tmpl.Nodes, st.CompletedNodes, st.StartTime, now)
	next := res.Progress.NextNode
	rem := res.Progress.RemainingSeconds
	if next != nil && next.WarnTime > 0 && rem > 0 && rem <= warnSeconds(next) && !s.warned(st, next.Name) {
		// the skip itself is persisted; a lost warning is retried by the next tick
		if err := s.warn(ctx, st, *next, rem, now); err != nil {
			slog.Warn("warning after skip not saved", "node", next.Name, "error", err)
			return res, nil
		}
		res.Warned = next
	}
	return res, nil
}

func warnSeconds(n *template.ProcessNode) int64 {
	return int64(n.WarnTime * 60)
}

// inWindow reports remaining ∈ (warnSeconds − window, warnSeconds].
func (s *Scheduler) inWindow(n *template.ProcessNode, remaining int64) bool {
	if n.WarnTime <= 0 {
		return false
	}
	ws := warnSeconds(n)
	return remaining <= ws && remaining > ws-int64(s.window/time.Second)
}

func (s *Scheduler) warned(st *session.State, node string) bool {
	if s.dedup == DedupFullLog {
		for _, e := range st.Events {
			if e.Action == session.ActionWarning && e.NodeName == node {
				return true
			}
		}
		return false
	}
	last, ok := st.LastEvent()
	return ok && last.Action == session.ActionWarning && last.NodeName == node
}

func (s *Scheduler) warn(ctx context.Context, st *session.State, n template.ProcessNode, remaining int64, now time.Time) error {
	rem := remaining
	content := n.Description
	if content == "" {
		content = fmt.Sprintf("%s at %s", n.Name, format.NodeTimeRange(n.Offset, st.StartTime))
	}
	s.emit(ctx, notify.Notification{
		Type:             notify.TypeWarning,
		Title:            fmt.Sprintf("%s until %s", format.Duration(remaining), n.Name),
		Content:          content,
		NextNode:         n.Name,
		RemainingSeconds: &rem,
		At:               now,
	})
	return s.commit(ctx, st, func(c *session.State) {
		c.Append(session.Event{
			Timestamp: now,
			Action:    session.ActionWarning,
			NodeName:  n.Name,
			Note:      fmt.Sprintf("warned %s ahead", format.Duration(warnSeconds(&n))),
		})
	})
}

// commit applies change to a copy of st, saves the copy and only then
// replaces *st with it.
func (s *Scheduler) commit(ctx context.Context, st *session.State, change func(*session.State)) error {
	c := st.Clone()
	change(c)
	if err := s.save(ctx, c); err != nil {
		return err
	}
	*st = *c
	return nil
}

func (s *Scheduler) emit(ctx context.Context, n notify.Notification) {
	metrics.IncReminder(string(n.Type))
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Warn("notify failed", "title", n.Title, "error", err)
	}
}

func (s *Scheduler) save(ctx context.Context, st *session.State) error {
	if s.saver == nil {
		return nil
	}
	if err := s.saver.Save(ctx, st); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
