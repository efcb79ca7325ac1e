package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/invigil/internal/session"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestFromSession(t *testing.T) {
	ts := time.Date(2025, 6, 7, 17, 0, 0, 0, time.FixedZone("CST", 8*3600))
	st := &session.State{SessionID: "abc", TemplateID: "math-2025"}
	e := FromSession(st, session.Event{Timestamp: ts, Action: session.ActionSkip, NodeName: "rules", Note: "skipped manually"})
	assert.Equal(t, session.ActionSkip, e.Type)
	assert.Equal(t, "abc", e.SessionID)
	assert.Equal(t, "math-2025", e.TemplateID)
	assert.Equal(t, "rules", e.NodeName)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.True(t, ts.Equal(e.OccurredAt))
}

func TestEventID(t *testing.T) {
	at := time.Unix(100, 5)
	assert.Equal(t, "s-100000000005-skip-n", Event{SessionID: "s", OccurredAt: at, Type: session.ActionSkip, NodeName: "n"}.ID())
	assert.Equal(t, "s-100000000005-end", Event{SessionID: "s", OccurredAt: at, Type: session.ActionEnd}.ID())
}

func TestExporterDeliversToAllSinks(t *testing.T) {
	ok := &memSink{}
	failing := &memSink{err: errors.New("unreachable")}
	x := NewExporter(8, ok, failing)
	x.Export(Event{Type: session.ActionStart}, Event{Type: session.ActionWarning})
	require.NoError(t, x.Close())

	assert.Len(t, ok.events, 2)
	assert.Len(t, failing.events, 2)
	assert.True(t, ok.closed)
	assert.Equal(t, session.ActionWarning, ok.events[1].Type)
}

func TestExporterWithoutSinksIsNoop(t *testing.T) {
	x := NewExporter(1)
	x.Export(Event{Type: session.ActionStart})
	require.NoError(t, x.Close())
}
