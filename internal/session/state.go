package session

import (
	"sync"
	"time"
)

// ConnState is the lifecycle state of a daemon session.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDegraded // connected but the platform stopped answering heartbeats
)

// String returns human-readable connection state
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// stateHistoryCap bounds the transition ring kept for status reporting.
const stateHistoryCap = 10

// StateChange records one transition for the session history ring.
type StateChange struct {
	From    ConnState
	To      ConnState
	At      time.Time
	HeldFor time.Duration // time spent in From
}

// Metrics is a point-in-time snapshot of session health, exposed through
// the facade's platform status surface.
type Metrics struct {
	State           ConnState
	ConnectAttempts int64
	Connects        int64
	ConnectFailures int64
	LinesRead       int64
	ParseErrors     int64
	UnknownRecords  int64
	LastStatusAt    time.Time
	UptimePct       float64
	History         []StateChange
}

// stateTracker accumulates transition history and uptime under a mutex;
// the hot-path state word itself lives in an atomic on Conn.
type stateTracker struct {
	mu        sync.Mutex
	current   ConnState
	since     time.Time
	history   []StateChange
	attempts  int64
	connects  int64
	failures  int64
	upFor     time.Duration
	totalFor  time.Duration
}

func newStateTracker() *stateTracker {
	return &stateTracker{current: StateDisconnected, since: time.Now()}
}

func (t *stateTracker) transition(to ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if to == t.current {
		return
	}
	now := time.Now()
	held := now.Sub(t.since)
	if t.current == StateConnected || t.current == StateDegraded {
		t.upFor += held
	}
	t.totalFor += held
	t.history = append(t.history, StateChange{From: t.current, To: to, At: now, HeldFor: held})
	if len(t.history) > stateHistoryCap {
		t.history = t.history[len(t.history)-stateHistoryCap:]
	}
	t.current = to
	t.since = now
}

func (t *stateTracker) recordAttempt() { t.mu.Lock(); t.attempts++; t.mu.Unlock() }
func (t *stateTracker) recordConnect() { t.mu.Lock(); t.connects++; t.mu.Unlock() }
func (t *stateTracker) recordFailure() { t.mu.Lock(); t.failures++; t.mu.Unlock() }

func (t *stateTracker) snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	up, total := t.upFor, t.totalFor
	held := time.Since(t.since)
	if t.current == StateConnected || t.current == StateDegraded {
		up += held
	}
	total += held
	var uptime float64
	if total > 0 {
		uptime = float64(up) / float64(total) * 100
	}
	hist := make([]StateChange, len(t.history))
	copy(hist, t.history)
	return Metrics{
		State:           t.current,
		ConnectAttempts: t.attempts,
		Connects:        t.connects,
		ConnectFailures: t.failures,
		UptimePct:       uptime,
		History:         hist,
	}
}
