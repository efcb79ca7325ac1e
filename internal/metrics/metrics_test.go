package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// must not panic or record
	RecordTransition("start", "none", "running")
	IncReminder("warning")
	SetSyncStatus("normal")
	ObserveTick(0.01)
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	RecordTransition("start", "none", "running")
	IncReminder("warning")
	IncCompleted("math-2025", "tick")
	IncSyncAttempt("taobao", "success")
	SetClockOffset(1.5)
	SetSyncStatus("warning")
	ObserveTick(0.002)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"invigil_session_transitions_total":     false,
		"invigil_reminder_fired_total":          false,
		"invigil_session_nodes_completed_total": false,
		"invigil_timesync_attempts_total":       false,
		"invigil_timesync_offset_seconds":       false,
		"invigil_timesync_status":               false,
		"invigil_session_tick_duration_seconds": false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}

	if v := testutil.ToFloat64(syncStatus.WithLabelValues("warning")); v != 1 {
		t.Fatalf("warning status = %v, want 1", v)
	}
	if v := testutil.ToFloat64(syncStatus.WithLabelValues("normal")); v != 0 {
		t.Fatalf("normal status = %v, want 0", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncReminder("alert")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "invigil_reminder_fired_total") {
		t.Fatalf("metrics output missing reminder counter")
	}
}
