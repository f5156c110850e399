package observ

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fetchHealth(t *testing.T) (int, HealthStatus) {
	t.Helper()
	rr := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var hs HealthStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &hs); err != nil {
		t.Fatalf("Decoding health payload: %v", err)
	}
	return rr.Code, hs
}

func TestHealthStatusTransitions(t *testing.T) {
	reset()

	code, hs := fetchHealth(t)
	if code != http.StatusOK || hs.Status != "healthy" {
		t.Fatalf("Expected healthy/200 with no telemetry, got %s/%d", hs.Status, code)
	}
	if hs.Metrics.SessionState != "none" {
		t.Errorf("Expected session state none before any session, got %q", hs.Metrics.SessionState)
	}

	SetGauge("session_state", gaugeStateConnected, map[string]string{"addr": "127.0.0.1:10002"})
	code, hs = fetchHealth(t)
	if code != http.StatusOK || hs.Status != "healthy" {
		t.Errorf("Expected healthy with a connected session, got %s/%d", hs.Status, code)
	}
	if hs.Metrics.SessionState != "connected" {
		t.Errorf("Expected connected, got %q", hs.Metrics.SessionState)
	}

	SetGauge("session_state", gaugeStateDegraded, map[string]string{"addr": "127.0.0.1:10003"})
	code, hs = fetchHealth(t)
	if code != http.StatusPartialContent || hs.Status != "degraded" {
		t.Errorf("Expected degraded/206 with one degraded session, got %s/%d", hs.Status, code)
	}

	SetGauge("session_state", gaugeStateDisconnected, map[string]string{"addr": "127.0.0.1:10002"})
	code, hs = fetchHealth(t)
	if code != http.StatusServiceUnavailable || hs.Status != "failed" {
		t.Errorf("Expected failed/503 with a disconnected session, got %s/%d", hs.Status, code)
	}
	if hs.Metrics.SessionState != "disconnected" {
		t.Errorf("Expected worst state disconnected, got %q", hs.Metrics.SessionState)
	}
}

func TestHealthTimeoutRateDegrades(t *testing.T) {
	reset()

	for i := 0; i < 9; i++ {
		Observe("session_call_ms", 20, nil)
	}
	IncCounter("session_call_timeouts_total", map[string]string{"kind": "INFOACCOUNT"})

	_, hs := fetchHealth(t)
	if hs.Status != "degraded" {
		t.Errorf("Expected 10%% timeout rate to degrade, got %s", hs.Status)
	}
	if hs.Metrics.CallTimeouts != 1 {
		t.Errorf("Expected 1 timeout, got %d", hs.Metrics.CallTimeouts)
	}
}

func TestHealthMetricsTotals(t *testing.T) {
	reset()

	IncCounter("session_commands_sent_total", map[string]string{"op": "INFOACCOUNT"})
	IncCounter("session_commands_sent_total", map[string]string{"op": "ACQAZ"})
	IncCounter("trading_rejects_total", map[string]string{"code": "1001"})
	Observe("session_call_ms", 15, nil)
	Observe("session_call_ms", 40, nil)

	_, hs := fetchHealth(t)
	if hs.Metrics.CommandsSent != 2 {
		t.Errorf("Expected 2 commands sent, got %d", hs.Metrics.CommandsSent)
	}
	if hs.Metrics.OrderRejects != 1 {
		t.Errorf("Expected 1 reject, got %d", hs.Metrics.OrderRejects)
	}
	if hs.Metrics.CallLatencyP95Ms != 40 {
		t.Errorf("Expected p95 40ms, got %d", hs.Metrics.CallLatencyP95Ms)
	}
}

func TestCanonLabelsOrderIndependent(t *testing.T) {
	a := canonLabels(map[string]string{"op": "place", "mode": "sim"})
	b := canonLabels(map[string]string{"mode": "sim", "op": "place"})
	if a != b {
		t.Errorf("Expected identical keys, got %q vs %q", a, b)
	}
	if canonLabels(nil) != "" {
		t.Errorf("Expected empty key for nil labels")
	}
}
