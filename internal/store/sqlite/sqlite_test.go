package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/store"
)

func newState(completed ...string) *session.State {
	start := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	return &session.State{
		SessionID:      "s-1",
		TemplateID:     "math-2025",
		TemplateName:   "Math",
		StartTime:      start,
		Status:         session.StatusRunning,
		CompletedNodes: completed,
		LastSyncTime:   start,
		Events:         []session.Event{{Timestamp: start, Action: session.ActionStart}},
	}
}

func TestSQLiteGateway(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))

	got, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, db.Save(ctx, newState("entry")))
	require.NoError(t, db.Save(ctx, newState("entry", "papers")))

	got, err = db.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"entry", "papers"}, got.CompletedNodes)
	assert.True(t, got.StartTime.Equal(time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)))

	require.NoError(t, db.Clear(ctx))
	got, err = db.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteCorruptPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.db")
	db, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	_, err = db.db.ExecContext(ctx, `INSERT INTO active_session(id, session_id, payload, updated_at) VALUES(1, 'x', '{bad', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	_, err = db.Load(ctx)
	require.ErrorIs(t, err, store.ErrCorrupt)
}

func TestSQLiteEmptyPath(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}
