package client

import (
	"encoding/json"
	"time"
)

// StartRequest starts a session from a template. A zero StartTime lets the
// daemon use its corrected clock.
type StartRequest struct {
	TemplateID string
	StartTime  time.Time
}

func (r StartRequest) MarshalJSON() ([]byte, error) {
	type wire struct {
		TemplateID string `json:"template_id"`
		StartTime  string `json:"start_time,omitempty"`
	}
	w := wire{TemplateID: r.TemplateID}
	if !r.StartTime.IsZero() {
		w.StartTime = r.StartTime.Format(time.RFC3339)
	}
	return json.Marshal(w)
}

// Node is one step of a template timeline. Offset and WarnTime are minutes.
type Node struct {
	Name        string  `json:"name"`
	Offset      float64 `json:"offset"`
	WarnTime    float64 `json:"warnTime"`
	Description string  `json:"description,omitempty"`
	Tips        string  `json:"tips,omitempty"`
}

type Template struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Nodes       []Node     `json:"nodes"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// LogEntry is one ledger entry of a session.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	NodeName  string    `json:"nodeName,omitempty"`
	Note      string    `json:"note,omitempty"`
}

type Session struct {
	SessionID        string     `json:"sessionId"`
	TemplateID       string     `json:"templateId"`
	TemplateName     string     `json:"templateName"`
	StartTime        time.Time  `json:"startTime"`
	Status           string     `json:"status"`
	CompletedNodes   []string   `json:"completedNodes"`
	PausedAt         *time.Time `json:"pausedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	NTPOffsetSeconds float64    `json:"ntpOffset"`
	LastSyncTime     time.Time  `json:"lastSyncTime"`
	Logs             []LogEntry `json:"logs"`
}

type Progress struct {
	CurrentNode      *Node   `json:"currentNode"`
	NextNode         *Node   `json:"nextNode"`
	RemainingSeconds int64   `json:"remainingTime"`
	Percent          float64 `json:"progress"`
	CompletedNodes   []Node  `json:"completedNodes"`
	UpcomingNodes    []Node  `json:"upcomingNodes"`
	ElapsedMinutes   float64 `json:"elapsedMinutes"`
}

// Snapshot is a session with its progress.
type Snapshot struct {
	Session  *Session  `json:"session"`
	Progress *Progress `json:"progress"`
}

// TimeStatus is the daemon's corrected time and clock health.
type TimeStatus struct {
	Now           time.Time  `json:"now"`
	Local         time.Time  `json:"local"`
	Status        string     `json:"status"`
	Message       string     `json:"message"`
	OffsetSeconds *float64   `json:"offset,omitempty"`
	Source        string     `json:"source,omitempty"`
	LastSync      *time.Time `json:"lastSync,omitempty"`
	LastAttempt   *time.Time `json:"lastAttempt,omitempty"`
}

type SyncResult struct {
	Success       bool       `json:"success"`
	ServerTime    *time.Time `json:"serverTime,omitempty"`
	LocalTime     time.Time  `json:"localTime"`
	OffsetSeconds float64    `json:"offset"`
	Source        string     `json:"source"`
	Error         string     `json:"error,omitempty"`
}

// Reminder is a warning or alert raised by the daemon.
type Reminder struct {
	Type             string    `json:"type"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Node             string    `json:"node,omitempty"`
	NextNode         string    `json:"nextNode,omitempty"`
	RemainingSeconds *int64    `json:"remainingTime,omitempty"`
	At               time.Time `json:"at"`
}

// Event is one item of the daemon's event stream. Exactly one of Snapshot
// and Reminder is set for progress and reminder events.
type Event struct {
	Name     string
	Snapshot *Snapshot
	Reminder *Reminder
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
