package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/invigil/internal/clock"
	"github.com/loykin/invigil/internal/notify"
	"github.com/loykin/invigil/internal/session"
	"github.com/loykin/invigil/internal/store"
	"github.com/loykin/invigil/internal/supervisor"
	"github.com/loykin/invigil/internal/template"
	"github.com/loykin/invigil/internal/timesync"
)

var epoch = time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	syncs int
}

func (c *fakeClock) Now(context.Context) time.Time { return c.Cached() }

func (c *fakeClock) Cached() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) OffsetSeconds() float64 { return 1.5 }

func (c *fakeClock) Status() clock.Status {
	off := 1.5
	return clock.Status{Level: clock.LevelNormal, Message: "synced", OffsetSeconds: &off, Source: "test"}
}

func (c *fakeClock) Sync(context.Context) timesync.Result {
	c.mu.Lock()
	c.syncs++
	c.mu.Unlock()
	return timesync.Result{Success: true, Source: "test", OffsetSeconds: 1.5, LocalTime: epoch}
}

type fixture struct {
	h     http.Handler
	m     *supervisor.Machine
	clock *fakeClock
	hub   *notify.Hub
}

func setup(t *testing.T, base string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tp, err := template.NewMemory(template.Builtin()...)
	require.NoError(t, err)
	fc := &fakeClock{now: epoch}
	hub := notify.NewHub()
	m, err := supervisor.New(supervisor.Config{
		Store:        store.NewMemory(),
		Templates:    tp,
		Clock:        fc,
		Notifier:     hub,
		TickInterval: time.Hour,
		LocalNow:     fc.Cached,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	r := NewRouter(Deps{Sessions: m, Clock: fc, Templates: tp, Reminders: hub, Metrics: promhttp.Handler()}, base)
	r.now = func() time.Time { return epoch.Add(-1500 * time.Millisecond) }
	return &fixture{h: r.Handler(), m: m, clock: fc, hub: hub}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStartValidation(t *testing.T) {
	f := setup(t, "/api")
	rec := doReq(t, f.h, http.MethodPost, "/api/session/start", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/api/session/start", map[string]string{"template_id": "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/api/session/start", map[string]string{"template_id": "math-2025", "start_time": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/api/session/start", map[string]string{"template_id": "physics"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[errorResp](t, rec).Error, "template not found")
}

func TestSessionLifecycle(t *testing.T) {
	f := setup(t, "/api")

	rec := doReq(t, f.h, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/api/session/start", startReq{TemplateID: "math-2025", StartTime: epoch.Add(time.Minute).Format(time.RFC3339)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	st := decode[session.State](t, rec)
	assert.Equal(t, "math-2025", st.TemplateID)
	assert.Equal(t, session.StatusRunning, st.Status)
	assert.True(t, st.StartTime.Equal(epoch.Add(time.Minute)))

	rec = doReq(t, f.h, http.MethodPost, "/api/session/start", startReq{TemplateID: "english-2025"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, f.h, http.MethodGet, "/api/session/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[map[string]any](t, rec)
	assert.Contains(t, p, "remainingTime")

	rec = doReq(t, f.h, http.MethodPost, "/api/session/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusPaused, decode[session.State](t, rec).Status)

	rec = doReq(t, f.h, http.MethodPost, "/api/session/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/api/session/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(t, f.h, http.MethodPost, "/api/session/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusEnded, decode[session.State](t, rec).Status)

	rec = doReq(t, f.h, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[supervisor.Snapshot](t, rec)
	require.NotNil(t, snap.State)
	assert.Equal(t, session.StatusEnded, snap.State.Status)

	rec = doReq(t, f.h, http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, f.h, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSkipWithoutCurrentNode(t *testing.T) {
	f := setup(t, "")
	// english-2025 starts 15 minutes before its first node
	rec := doReq(t, f.h, http.MethodPost, "/session/start", startReq{TemplateID: "english-2025", StartTime: epoch.Add(20 * time.Minute).Format(time.RFC3339)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doReq(t, f.h, http.MethodPost, "/session/skip", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestTransitionsWithoutSession(t *testing.T) {
	f := setup(t, "")
	for _, p := range []string{"/session/pause", "/session/resume", "/session/skip", "/session/end", "/session/restore"} {
		rec := doReq(t, f.h, http.MethodPost, p, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
	}
}

func TestTimeEndpoints(t *testing.T) {
	f := setup(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/api/time", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "normal", body["status"])
	assert.Equal(t, 1.5, body["offset"])
	assert.Equal(t, epoch.Format(time.RFC3339), body["now"])

	rec = doReq(t, f.h, http.MethodPost, "/api/time/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[timesync.Result](t, rec).Success)
	assert.Equal(t, 1, f.clock.syncs)
}

func TestTemplateEndpoints(t *testing.T) {
	f := setup(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]template.Template](t, rec), 2)

	rec = doReq(t, f.h, http.MethodGet, "/api/templates/math-2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mathematics written exam", decode[template.Template](t, rec).Name)

	rec = doReq(t, f.h, http.MethodGet, "/api/templates/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/api/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clock":"normal"`)

	rec = doReq(t, f.h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEchoEngine(t *testing.T) {
	f := setup(t, "/api")
	r := NewRouter(Deps{Sessions: f.m, Clock: f.clock, Templates: mustTemplates(t)}, "/api")
	h := r.EchoHandler()

	rec := doReq(t, h, http.MethodGet, "/api/templates/english-2025", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doReq(t, h, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doReq(t, h, http.MethodGet, "/elsewhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func mustTemplates(t *testing.T) template.Provider {
	t.Helper()
	tp, err := template.NewMemory(template.Builtin()...)
	require.NoError(t, err)
	return tp
}

func TestEventStream(t *testing.T) {
	f := setup(t, "/api")
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	_, err := f.m.Start(context.Background(), "math-2025", epoch)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/session/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
				events <- name
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}
	require.Equal(t, "progress", next())

	// wait until the stream has subscribed to the hub
	require.Eventually(t, func() bool { return f.hub.Subscribers() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.hub.Notify(ctx, notify.Notification{Type: notify.TypeWarning, Title: "5m until exam-start"}))
	require.Equal(t, "reminder", next())

	_, err = f.m.Pause(ctx)
	require.NoError(t, err)
	require.Equal(t, "progress", next())
}
