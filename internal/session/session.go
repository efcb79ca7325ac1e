// Package session holds the persisted state of the single active session and
// its append-only event ledger.
package session

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

// Action identifies a ledger entry.
type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionSkip     Action = "skip"
	ActionComplete Action = "complete"
	ActionEnd      Action = "end"
	ActionWarning  Action = "warning"
)

// Event is one entry in the session ledger. Events are never mutated or reordered.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	NodeName  string    `json:"nodeName,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// State is the whole persisted session object. It is saved and loaded as one unit.
type State struct {
	SessionID        string     `json:"sessionId"`
	TemplateID       string     `json:"templateId"`
	TemplateName     string     `json:"templateName"`
	StartTime        time.Time  `json:"startTime"`
	Status           Status     `json:"status"`
	CompletedNodes   []string   `json:"completedNodes"`
	PausedAt         *time.Time `json:"pausedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	NTPOffsetSeconds float64    `json:"ntpOffset"`
	LastSyncTime     time.Time  `json:"lastSyncTime"`
	Events           []Event    `json:"logs"`
}

// IsCompleted reports whether the named node has been marked complete.
func (s *State) IsCompleted(name string) bool {
	return slices.Contains(s.CompletedNodes, name)
}

// MarkCompleted adds name to the completed set once. It reports whether the set changed.
func (s *State) MarkCompleted(name string) bool {
	if s.IsCompleted(name) {
		return false
	}
	s.CompletedNodes = append(s.CompletedNodes, name)
	return true
}

// Append adds an event to the end of the ledger.
func (s *State) Append(e Event) {
	s.Events = append(s.Events, e)
}

// LastEvent returns the most recent ledger entry.
func (s *State) LastEvent() (Event, bool) {
	if len(s.Events) == 0 {
		return Event{}, false
	}
	return s.Events[len(s.Events)-1], true
}

// Active reports whether the session can still be driven (running or paused).
func (s *State) Active() bool {
	return s.Status == StatusRunning || s.Status == StatusPaused
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.CompletedNodes = append([]string(nil), s.CompletedNodes...)
	c.Events = append([]Event(nil), s.Events...)
	if s.PausedAt != nil {
		t := *s.PausedAt
		c.PausedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
