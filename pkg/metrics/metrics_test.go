package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestManager_Disabled(t *testing.T) {
	m := NewManager(Config{Enabled: false})

	if m.Enabled() {
		t.Error("expected disabled manager")
	}

	// Recording on a disabled manager must be a no-op, not a panic.
	m.RecordEmit("s")
	m.RecordSlotInvoked("s", "direct")
	m.RecordSlotSkipped("s", "blocked")
	m.RecordConnect("s")
	m.RecordDisconnect("s")
	m.IncQueueDepth("q")
	m.DecQueueDepth("q")
	m.RecordTaskWait("q", time.Millisecond)
	m.RecordTaskRun("q", time.Millisecond)
	m.RecordTaskPanic("q")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled handler status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestManager_SetEnabled_Toggle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	m := NewManager(cfg)

	// Disabled at boot: recording is a no-op.
	m.RecordEmit("toggle")

	// Hot-reload enables collection without rewiring.
	m.SetEnabled(true)
	if !m.Enabled() {
		t.Fatal("SetEnabled(true) did not enable the manager")
	}
	m.RecordEmit("toggle")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics handler status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `signal_emissions_total{signal="toggle"} 1`) {
		t.Error("pre-enable emission was recorded or post-enable emission missing")
	}

	// Disabling again turns the endpoint off.
	m.SetEnabled(false)
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled handler status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestManager_RecordsAndExposes(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordEmit("heartbeat")
	m.RecordEmit("heartbeat")
	m.RecordSlotInvoked("heartbeat", "queued")
	m.RecordSlotSkipped("heartbeat", "blocked")
	m.RecordConnect("heartbeat")
	m.IncQueueDepth("worker")
	m.RecordTaskWait("worker", 5*time.Millisecond)
	m.RecordTaskRun("worker", 2*time.Millisecond)
	m.RecordTaskPanic("worker")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics handler status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`signal_emissions_total{signal="heartbeat"} 2`,
		`slot_invocations_total{mode="queued",signal="heartbeat"} 1`,
		`slot_skips_total{reason="blocked",signal="heartbeat"} 1`,
		`signal_connections_total{op="connect",signal="heartbeat"} 1`,
		`taskqueue_depth{queue="worker"} 1`,
		`taskqueue_task_panics_total{queue="worker"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
