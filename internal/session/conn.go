package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/NiccoloSalvini/directa-api-go/internal/observ"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// Config controls one daemon socket session. Zero values are filled with
// defaults for the local Darwin trading port.
type Config struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	ConnectTimeoutMs  int    `yaml:"connect_timeout_ms"`
	ConnectAttempts   int    `yaml:"connect_attempts"`
	ConnectBackoffMs  int    `yaml:"connect_backoff_ms"`
	CallTimeoutMs     int    `yaml:"call_timeout_ms"`
	WriteTimeoutMs    int    `yaml:"write_timeout_ms"`
	CommandsPerSecond int    `yaml:"commands_per_second"`
	CommandBurst      int    `yaml:"command_burst"`
	HeartbeatMs       int    `yaml:"heartbeat_ms"`
	HeartbeatWindowMs int    `yaml:"heartbeat_window_ms"`
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 10002
	}
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = 5000
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 3
	}
	if c.ConnectBackoffMs == 0 {
		c.ConnectBackoffMs = 500
	}
	if c.CallTimeoutMs == 0 {
		c.CallTimeoutMs = 10000
	}
	if c.WriteTimeoutMs == 0 {
		c.WriteTimeoutMs = 5000
	}
	if c.CommandsPerSecond == 0 {
		c.CommandsPerSecond = 20
	}
	if c.CommandBurst == 0 {
		c.CommandBurst = 5
	}
	if c.HeartbeatMs == 0 {
		c.HeartbeatMs = 10000
	}
	if c.HeartbeatWindowMs == 0 {
		c.HeartbeatWindowMs = 30000
	}
	return c
}

// Addr returns the host:port this session dials.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Conn manages one line-oriented socket to the daemon: dialing with retry,
// a read loop that decodes and routes records, a heartbeat probe, and a
// rate-limited write path. Safe for concurrent use.
type Conn struct {
	cfg     Config
	router  *Router
	limiter *rate.Limiter
	tracker *stateTracker

	dialMu sync.Mutex // serializes Dial and Close

	mu     sync.Mutex // guards conn and cancel
	conn   net.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state      atomic.Int32
	lastStatus atomic.Int64 // unix nanos of the last DARWIN_STATUS seen

	linesRead      atomic.Int64
	parseErrors    atomic.Int64
	unknownRecords atomic.Int64
}

func NewConn(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:     cfg,
		router:  NewRouter(),
		limiter: rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), cfg.CommandBurst),
		tracker: newStateTracker(),
	}
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(s ConnState) {
	prev := ConnState(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.tracker.transition(s)
	observ.SetGauge("session_state", float64(s), map[string]string{"addr": c.cfg.Addr()})
	observ.Log("session_state_change", map[string]any{
		"addr": c.cfg.Addr(),
		"from": prev.String(),
		"to":   s.String(),
	})
}

// Dial connects to the daemon, retrying with linear backoff up to the
// configured attempt count. On success the read and heartbeat loops start.
// Calling Dial on an already connected session is a no-op.
func (c *Conn) Dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if st := c.State(); st == StateConnected || st == StateDegraded {
		return nil
	}
	c.setState(StateConnecting)

	addr := c.cfg.Addr()
	backoff := time.Duration(c.cfg.ConnectBackoffMs) * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		c.tracker.recordAttempt()
		d := net.Dialer{Timeout: time.Duration(c.cfg.ConnectTimeoutMs) * time.Millisecond}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			c.tracker.recordConnect()
			c.start(conn)
			observ.Log("session_connected", map[string]any{"addr": addr, "attempt": attempt})
			return nil
		}
		c.tracker.recordFailure()
		lastErr = err
		observ.IncCounter("session_connect_failures_total", map[string]string{"addr": addr})
		observ.Log("session_dial_retry", map[string]any{
			"addr":    addr,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt == c.cfg.ConnectAttempts {
			break
		}
		select {
		case <-time.After(backoff * time.Duration(attempt)):
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return &ConnError{Op: "dial", Addr: addr, Cause: ctx.Err()}
		}
	}
	c.setState(StateDisconnected)
	return &ConnError{Op: "dial", Addr: addr, Cause: lastErr}
}

func (c *Conn) start(conn net.Conn) {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()
	c.lastStatus.Store(time.Now().UnixNano())
	c.setState(StateConnected)
	c.wg.Add(2)
	go c.readLoop(runCtx, cancel, conn)
	go c.heartbeatLoop(runCtx)
}

func (c *Conn) readLoop(ctx context.Context, cancel context.CancelFunc, conn net.Conn) {
	defer c.wg.Done()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.linesRead.Add(1)
		rec, err := wire.Decode(line)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownKind) {
				c.unknownRecords.Add(1)
				observ.IncCounter("session_unknown_records_total", nil)
				observ.Log("session_unknown_record", map[string]any{"tag": rec.Tag()})
			} else {
				c.parseErrors.Add(1)
				observ.IncCounter("session_parse_errors_total", nil)
				observ.Log("session_parse_error", map[string]any{"error": err.Error()})
			}
			continue
		}
		if rec.Kind() == wire.KindDarwinStatus {
			c.lastStatus.Store(time.Now().UnixNano())
			if c.State() == StateDegraded {
				c.setState(StateConnected)
				observ.Log("session_recovered", map[string]any{"addr": c.cfg.Addr()})
			}
		}
		c.router.Dispatch(rec)
	}
	if ctx.Err() != nil {
		return // Close is tearing the session down and flushes callers
	}
	cause := sc.Err()
	if cause == nil {
		cause = io.EOF
	}
	// The socket died under us: stop the heartbeat loop with it and drop
	// the dead conn, so a later Dial or Close starts from a clean slate.
	cancel()
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.cancel = nil
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
	connErr := &ConnError{Op: "read", Addr: c.cfg.Addr(), Cause: cause}
	observ.Log("session_read_closed", map[string]any{"addr": c.cfg.Addr(), "error": cause.Error()})
	c.router.Flush(connErr)
}

// heartbeatLoop probes the platform with DARWINSTATUS. If no status record
// arrives inside the window the session degrades; the next status record
// restores it. The socket stays open either way.
func (c *Conn) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	interval := time.Duration(c.cfg.HeartbeatMs) * time.Millisecond
	window := time.Duration(c.cfg.HeartbeatWindowMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(ctx, wire.StatusQuery{}); err != nil {
				continue // write failures are handled on the send path
			}
			idle := time.Since(time.Unix(0, c.lastStatus.Load()))
			if idle > window && c.State() == StateConnected {
				c.setState(StateDegraded)
				observ.Log("session_degraded", map[string]any{
					"addr":    c.cfg.Addr(),
					"idle_ms": idle.Milliseconds(),
				})
			}
		}
	}
}

// Send encodes and writes one command line. The write path is rate limited;
// ctx bounds the wait for a limiter token.
func (c *Conn) Send(ctx context.Context, cmd wire.Command) error {
	line, err := wire.Encode(cmd)
	if err != nil {
		return err
	}
	return c.sendLine(ctx, line)
}

func (c *Conn) sendLine(ctx context.Context, line string) error {
	op := line
	if i := strings.IndexByte(line, ' '); i > 0 {
		op = line[:i]
	}
	if st := c.State(); st != StateConnected && st != StateDegraded {
		return &NotConnectedError{Op: op}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &NotConnectedError{Op: op}
	}

	conn.SetWriteDeadline(time.Now().Add(time.Duration(c.cfg.WriteTimeoutMs) * time.Millisecond))
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		c.setState(StateDisconnected)
		return &ConnError{Op: "write", Addr: c.cfg.Addr(), Cause: err}
	}
	observ.IncCounter("session_commands_sent_total", map[string]string{"op": op})
	return nil
}

// Call sends cmd and waits for a single record of one of the given kinds.
// Without a deadline on ctx the configured call timeout applies.
func (c *Conn) Call(ctx context.Context, cmd wire.Command, kinds ...wire.Kind) (wire.Record, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.router.Call(ctx, func() error { return c.Send(ctx, cmd) }, kinds...)
}

// CallList sends cmd and collects the BEGIN/END framed list of the given
// entry kinds.
func (c *Conn) CallList(ctx context.Context, cmd wire.Command, list string, kinds ...wire.Kind) ([]wire.Record, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.router.CallList(ctx, func() error { return c.Send(ctx, cmd) }, list, kinds...)
}

func (c *Conn) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(c.cfg.CallTimeoutMs)*time.Millisecond)
}

// Subscribe registers fn for unsolicited records of the given kind. The
// returned func cancels the subscription. Subscriptions survive reconnects.
func (c *Conn) Subscribe(kind wire.Kind, fn func(wire.Record)) func() {
	return c.router.Subscribe(kind, fn)
}

// Close tears the session down: stops the loops, closes the socket and
// fails any pending calls. Closing a closed session is a no-op.
func (c *Conn) Close() error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()
	if cancel == nil && conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
	c.router.Flush(&ConnError{Op: "close", Addr: c.cfg.Addr(), Cause: net.ErrClosed})
	observ.Log("session_closed", map[string]any{"addr": c.cfg.Addr()})
	return err
}

// Metrics reports a snapshot of session health.
func (c *Conn) Metrics() Metrics {
	m := c.tracker.snapshot()
	m.State = c.State()
	m.LinesRead = c.linesRead.Load()
	m.ParseErrors = c.parseErrors.Load()
	m.UnknownRecords = c.unknownRecords.Load()
	if ns := c.lastStatus.Load(); ns > 0 {
		m.LastStatusAt = time.Unix(0, ns)
	}
	return m
}
