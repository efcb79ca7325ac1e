package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/invigil/internal/session"
)

func sample() *session.State {
	start := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	return &session.State{
		SessionID:      "s-1",
		TemplateID:     "math-2025",
		TemplateName:   "Math",
		StartTime:      start,
		Status:         session.StatusRunning,
		CompletedNodes: []string{"entry"},
		LastSyncTime:   start.Add(time.Minute),
		Events:         []session.Event{{Timestamp: start, Action: session.ActionStart}},
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Save(ctx, sample()))
	got, err = m.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "math-2025", got.TemplateID)
	assert.Equal(t, []string{"entry"}, got.CompletedNodes)

	require.NoError(t, m.Clear(ctx))
	got, err = m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	for _, raw := range []string{
		`{not json`,
		`{"status":"running"}`,
		`{"templateId":"x","startTime":"2025-06-07T09:00:00Z","status":"weird"}`,
	} {
		_, err := Decode([]byte(raw))
		require.ErrorIs(t, err, ErrCorrupt, raw)
	}
}

func TestMemoryCorruptPayload(t *testing.T) {
	m := NewMemory()
	m.Raw([]byte("garbage"))
	_, err := m.Load(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
}
