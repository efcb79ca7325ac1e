package history

import (
	"context"
	"strconv"
	"time"

	"github.com/loykin/invigil/internal/session"
)

// Event is one session ledger entry exported to an external system.
type Event struct {
	Type       session.Action `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	SessionID  string         `json:"session_id"`
	TemplateID string         `json:"template_id"`
	NodeName   string         `json:"node_name,omitempty"`
	Note       string         `json:"note,omitempty"`
}

// ID identifies the ledger entry: session, instant, action and node. Sinks
// use it to make resends idempotent.
func (e Event) ID() string {
	id := e.SessionID + "-" + strconv.FormatInt(e.OccurredAt.UnixNano(), 10) + "-" + string(e.Type)
	if e.NodeName != "" {
		id += "-" + e.NodeName
	}
	return id
}

// FromSession builds the exported form of a ledger entry.
func FromSession(st *session.State, e session.Event) Event {
	return Event{
		Type:       e.Action,
		OccurredAt: e.Timestamp.UTC(),
		SessionID:  st.SessionID,
		TemplateID: st.TemplateID,
		NodeName:   e.NodeName,
		Note:       e.Note,
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
