// Package notify delivers reminders to whoever renders them. The engine only
// knows the Notifier interface; rendering is entirely up to the implementation.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Type distinguishes pre-arrival warnings from arrival/terminal alerts.
type Type string

const (
	TypeWarning Type = "warning"
	TypeAlert   Type = "alert"
)

// Notification is a single reminder.
type Notification struct {
	Type             Type      `json:"type"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Node             string    `json:"node,omitempty"`
	NextNode         string    `json:"nextNode,omitempty"`
	RemainingSeconds *int64    `json:"remainingTime,omitempty"`
	At               time.Time `json:"at"`
}

// Notifier delivers notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, t := range m {
		if t == nil {
			continue
		}
		if err := t.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, n Notification) error {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	level := slog.LevelInfo
	if n.Type == TypeAlert {
		level = slog.LevelWarn
	}
	attrs := []any{slog.String("type", string(n.Type)), slog.String("content", n.Content)}
	if n.Node != "" {
		attrs = append(attrs, slog.String("node", n.Node))
	}
	if n.NextNode != "" {
		attrs = append(attrs, slog.String("next", n.NextNode))
	}
	if n.RemainingSeconds != nil {
		attrs = append(attrs, slog.Int64("remaining_seconds", *n.RemainingSeconds))
	}
	lg.Log(ctx, level, n.Title, attrs...)
	return nil
}
