package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	k := canonLabels(labels)
	m[k] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	k := canonLabels(labels)
	m[k] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration metric
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// reset clears the registry; tests only.
func reset() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.counters = map[string]map[string]int64{}
	reg.gauges = map[string]map[string]float64{}
	reg.hist = map[string]map[string][]float64{}
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus is the payload of the health endpoint.
type HealthStatus struct {
	Status    string         `json:"status"`    // "healthy", "degraded", "failed"
	Timestamp string         `json:"timestamp"` // ISO 8601
	Uptime    string         `json:"uptime"`    // Duration since start
	Version   string         `json:"version"`   // Build version
	Metrics   HealthMetrics  `json:"metrics"`   // Session and order-flow figures
	Details   map[string]any `json:"details"`   // Additional health details
}

// HealthMetrics holds the daemon-session figures worth alerting on.
type HealthMetrics struct {
	SessionState     string `json:"session_state"`       // worst state across sessions
	CallLatencyP95Ms int64  `json:"call_latency_p95_ms"` // P95 command round trip
	CallTimeouts     int64  `json:"call_timeouts"`       // calls abandoned waiting
	CommandsSent     int64  `json:"commands_sent"`       // commands put on the wire
	ConnectFailures  int64  `json:"connect_failures"`    // failed dial attempts
	ParseErrors      int64  `json:"parse_errors"`        // lines that failed to decode
	UnknownRecords   int64  `json:"unknown_records"`     // tags outside the schema
	StrayErrors      int64  `json:"stray_errors"`        // ERR lines with no call waiting
	DroppedRecords   int64  `json:"dropped_records"`     // pushes nobody subscribed to
	OrderRejects     int64  `json:"order_rejects"`       // orders the platform refused
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// Session state gauge values, mirroring session.ConnState.
const (
	gaugeStateDisconnected = 0
	gaugeStateConnecting   = 1
	gaugeStateConnected    = 2
	gaugeStateDegraded     = 3
)

// HealthHandler reports whether the daemon sessions this process holds are
// usable, from the telemetry the session and trading layers publish.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()

		health := HealthStatus{
			Status:    overallStatus(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   healthMetrics(),
			Details:   healthDetails(),
		}

		statusCode := http.StatusOK
		switch health.Status {
		case "degraded":
			statusCode = http.StatusPartialContent // 206
		case "failed":
			statusCode = http.StatusServiceUnavailable // 503
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func overallStatus() string {
	if states, ok := reg.gauges["session_state"]; ok {
		for _, v := range states {
			if v == gaugeStateDisconnected {
				return "failed"
			}
		}
		for _, v := range states {
			if v == gaugeStateDegraded || v == gaugeStateConnecting {
				return "degraded"
			}
		}
	}
	if timeoutRate() > 0.05 {
		return "degraded"
	}
	if p95Of("session_call_ms") > 2000 {
		return "degraded"
	}
	return "healthy"
}

func healthMetrics() HealthMetrics {
	return HealthMetrics{
		SessionState:     stateName(worstState()),
		CallLatencyP95Ms: int64(p95Of("session_call_ms")),
		CallTimeouts:     counterTotal("session_call_timeouts_total"),
		CommandsSent:     counterTotal("session_commands_sent_total"),
		ConnectFailures:  counterTotal("session_connect_failures_total"),
		ParseErrors:      counterTotal("session_parse_errors_total"),
		UnknownRecords:   counterTotal("session_unknown_records_total"),
		StrayErrors:      counterTotal("session_stray_errors_total"),
		DroppedRecords:   counterTotal("session_records_dropped_total"),
		OrderRejects:     counterTotal("trading_rejects_total"),
	}
}

// worstState ranks disconnected worst, then degraded, then connecting. A
// process with no session yet reports -1.
func worstState() float64 {
	states, ok := reg.gauges["session_state"]
	if !ok || len(states) == 0 {
		return -1
	}
	for _, want := range []float64{gaugeStateDisconnected, gaugeStateDegraded, gaugeStateConnecting} {
		for _, v := range states {
			if v == want {
				return want
			}
		}
	}
	return gaugeStateConnected
}

func stateName(v float64) string {
	switch v {
	case gaugeStateDisconnected:
		return "disconnected"
	case gaugeStateConnecting:
		return "connecting"
	case gaugeStateConnected:
		return "connected"
	case gaugeStateDegraded:
		return "degraded"
	}
	return "none"
}

func counterTotal(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func timeoutRate() float64 {
	timeouts := counterTotal("session_call_timeouts_total")
	var completed int64
	for _, samples := range reg.hist["session_call_ms"] {
		completed += int64(len(samples))
	}
	if timeouts+completed == 0 {
		return 0
	}
	return float64(timeouts) / float64(timeouts+completed)
}

func p95Of(name string) float64 {
	var all []float64
	for _, samples := range reg.hist[name] {
		all = append(all, samples...)
	}
	if len(all) == 0 {
		return 0
	}
	sort.Float64s(all)
	i := int(float64(len(all)) * 0.95)
	if i >= len(all) {
		i = len(all) - 1
	}
	return all[i]
}

func healthDetails() map[string]any {
	details := make(map[string]any)

	if states, ok := reg.gauges["session_state"]; ok && len(states) > 0 {
		sessions := map[string]string{}
		for addr, v := range states {
			sessions[addr] = stateName(v)
		}
		details["sessions"] = sessions
	}

	if ops, ok := reg.counters["trading_ops_total"]; ok && len(ops) > 0 {
		byOp := map[string]int64{}
		for labels, count := range ops {
			byOp[labels] = count
		}
		details["trading_ops"] = byOp
	}

	if rejects, ok := reg.counters["trading_rejects_total"]; ok && len(rejects) > 0 {
		type rejectCount struct {
			Code  string `json:"code"`
			Count int64  `json:"count"`
		}
		var top []rejectCount
		for code, count := range rejects {
			top = append(top, rejectCount{Code: code, Count: count})
		}
		sort.Slice(top, func(i, j int) bool {
			return top[i].Count > top[j].Count
		})
		if len(top) > 5 {
			top = top[:5]
		}
		details["top_rejects"] = top
	}

	if hist, ok := reg.counters["hist_requests_total"]; ok {
		details["hist_requests"] = sumMap(hist)
	}
	if fills, ok := reg.counters["sim_fills_total"]; ok {
		details["sim_fills"] = sumMap(fills)
	}

	return details
}

func sumMap(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

// Simple health handler (legacy)
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
