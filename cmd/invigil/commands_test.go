package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/invigil"
	"github.com/loykin/invigil/internal/timesync"
)

// daemon runs a real engine behind httptest and returns its API URL.
func daemon(t *testing.T) (string, *invigil.Engine) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"data":{"t":"%d"}}`, time.Now().UnixMilli())
	}))
	t.Cleanup(ts.Close)

	cfg, err := invigil.LoadConfig("")
	require.NoError(t, err)
	cfg.Session.Store = "memory://"
	cfg.Session.TickInterval = time.Hour
	cfg.Notify.Log = false
	cfg.Metrics.Enabled = false
	cfg.TimeSync.Sources = []timesync.Source{{Name: "test", Endpoint: ts.URL, Field: "data.t", Timeout: time.Second}}

	e, err := invigil.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)
	return srv.URL + "/api", e
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetArgs(args)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func TestParseAt(t *testing.T) {
	now := time.Date(2025, 6, 7, 8, 15, 0, 0, time.UTC)
	got, err := parseAt("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseAt("09:30", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 7, 9, 30, 0, 0, time.UTC), got)

	got, err = parseAt("09:30:15", now)
	require.NoError(t, err)
	assert.Equal(t, 15, got.Second())

	got, err = parseAt("2025-06-08T10:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Day())

	_, err = parseAt("noon", now)
	require.Error(t, err)
}

func TestSessionCommands(t *testing.T) {
	api, _ := daemon(t)

	out, err := run(t, "status", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "no active session")

	out, err = run(t, "start", "--api-url", api, "--template", "math-2025")
	require.NoError(t, err)
	assert.Contains(t, out, "started Mathematics written exam (math-2025)")

	out, err = run(t, "status", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "Next:")

	out, err = run(t, "pause", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "is paused")

	_, err = run(t, "pause", "--api-url", api)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	out, err = run(t, "resume", "--api-url", api, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "running"`)

	out, err = run(t, "skip", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "skip: session")

	out, err = run(t, "end", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "is ended")

	out, err = run(t, "reset", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "session cleared")
}

func TestStartRequiresTemplate(t *testing.T) {
	_, err := run(t, "start", "--api-url", "http://127.0.0.1:1/api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template")
}

func TestStartUnknownTemplate(t *testing.T) {
	api, _ := daemon(t)
	_, err := run(t, "start", "--api-url", api, "--template", "physics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTimeCommands(t *testing.T) {
	api, _ := daemon(t)

	out, err := run(t, "time", "sync", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "synced via test")

	out, err = run(t, "time", "status", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "Corrected:")
	assert.Contains(t, out, "normal")
}

func TestTimeProbe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"t":%d}`, time.Now().UnixMilli())
	}))
	defer ts.Close()
	dir := t.TempDir()
	path := filepath.Join(dir, "invigil.toml")
	writeFile(t, path, fmt.Sprintf(`
[[time_sync.sources]]
name = "office"
endpoint = %q
field = "t"

[[time_sync.sources]]
name = "dead"
endpoint = "http://127.0.0.1:1/"
timeout = "200ms"
`, ts.URL))

	out, err := run(t, "time", "probe", "--config", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "office")
	assert.Contains(t, lines[1], "true")
	assert.Contains(t, lines[2], "dead")
	assert.Contains(t, lines[2], "false")

	_, err = run(t, "time", "probe", "--config", path, "--source", "nope")
	require.Error(t, err)
}

func TestTemplateCommands(t *testing.T) {
	api, _ := daemon(t)

	out, err := run(t, "templates", "list", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, "math-2025")
	assert.Contains(t, out, "english-2025")

	out, err = run(t, "templates", "show", "english-2025", "--api-url", api, "--at", "14:00")
	require.NoError(t, err)
	assert.Contains(t, out, "equipment-check")
	assert.Contains(t, out, "13:45 (15 min before start)")
	assert.Contains(t, out, "5 min")
}

func TestWatchPrintsReminders(t *testing.T) {
	api, e := daemon(t)
	out := &syncBuffer{}
	c := newCommand(&GlobalFlags{APIUrl: api}, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, WatchFlags{Bell: true}) }()

	// the stream subscribes before the session starts
	time.Sleep(200 * time.Millisecond)
	_, err := e.Machine().Start(context.Background(), "math-2025", time.Time{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Completed: candidate-entry") }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "\a\a\a")
	assert.Contains(t, out.String(), "ALERT")
}
