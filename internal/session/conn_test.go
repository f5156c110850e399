package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

type daemonScript struct {
	onConnect func(w io.Writer)
	onLine    func(line string, w io.Writer)
}

func startDaemon(t *testing.T, script daemonScript) Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				if script.onConnect != nil {
					script.onConnect(c)
				}
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					line := strings.TrimSpace(sc.Text())
					if line == "" {
						continue
					}
					if script.onLine != nil {
						script.onLine(line, c)
					}
				}
			}(conn)
		}
	}()
	return testConfig(ln.Addr().(*net.TCPAddr).Port)
}

func testConfig(port int) Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              port,
		ConnectTimeoutMs:  1000,
		ConnectAttempts:   1,
		ConnectBackoffMs:  10,
		CallTimeoutMs:     2000,
		CommandsPerSecond: 1000,
		CommandBurst:      100,
		HeartbeatMs:       60000,
		HeartbeatWindowMs: 120000,
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

func TestDialAndCall(t *testing.T) {
	cfg := startDaemon(t, daemonScript{
		onLine: func(line string, w io.Writer) {
			if line == "INFOACCOUNT" {
				fmt.Fprintf(w, "INFOACCOUNT;09:30:00;SIM1234;10000;0;0;10000;SIM\n")
			}
		},
	})
	conn := NewConn(cfg)
	defer conn.Close()

	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if conn.State() != StateConnected {
		t.Fatalf("Expected connected, got %s", conn.State())
	}

	rec, err := conn.Call(context.Background(), wire.AccountQuery{}, wire.KindAccountInfo)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if rec.Str("account") != "SIM1234" {
		t.Errorf("Expected account SIM1234, got %q", rec.Str("account"))
	}

	m := conn.Metrics()
	if m.Connects != 1 {
		t.Errorf("Expected 1 connect, got %d", m.Connects)
	}
	if m.LinesRead != 1 {
		t.Errorf("Expected 1 line read, got %d", m.LinesRead)
	}
}

func TestDialRefusedAfterRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig(port)
	cfg.ConnectAttempts = 2
	cfg.ConnectBackoffMs = 1
	conn := NewConn(cfg)

	var connErr *ConnError
	if err := conn.Dial(context.Background()); !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnError, got %v", err)
	}
	if connErr.Op != "dial" {
		t.Errorf("Expected dial op, got %q", connErr.Op)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", conn.State())
	}
	m := conn.Metrics()
	if m.ConnectAttempts != 2 || m.ConnectFailures != 2 {
		t.Errorf("Expected 2 attempts and 2 failures, got %d and %d", m.ConnectAttempts, m.ConnectFailures)
	}
}

func TestMalformedLinesSkipped(t *testing.T) {
	cfg := startDaemon(t, daemonScript{
		onLine: func(line string, w io.Writer) {
			if line == "INFOACCOUNT" {
				fmt.Fprintf(w, "WHATEVER;1;2\n")
				fmt.Fprintf(w, "INFOACCOUNT;09:30:00\n")
				fmt.Fprintf(w, "INFOACCOUNT;09:30:00;SIM1234;10000;0;0;10000;SIM\n")
			}
		},
	})
	conn := NewConn(cfg)
	defer conn.Close()
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	rec, err := conn.Call(context.Background(), wire.AccountQuery{}, wire.KindAccountInfo)
	if err != nil {
		t.Fatalf("Call failed despite valid trailing record: %v", err)
	}
	if rec.Str("account") != "SIM1234" {
		t.Errorf("Expected account SIM1234, got %q", rec.Str("account"))
	}

	m := conn.Metrics()
	if m.LinesRead != 3 {
		t.Errorf("Expected 3 lines read, got %d", m.LinesRead)
	}
	if m.UnknownRecords != 1 {
		t.Errorf("Expected 1 unknown record, got %d", m.UnknownRecords)
	}
	if m.ParseErrors != 1 {
		t.Errorf("Expected 1 parse error, got %d", m.ParseErrors)
	}
}

func TestSendWithoutDial(t *testing.T) {
	conn := NewConn(testConfig(1))
	err := conn.Send(context.Background(), wire.AccountQuery{})
	var notConn *NotConnectedError
	if !errors.As(err, &notConn) {
		t.Fatalf("Expected NotConnectedError, got %v", err)
	}
	if notConn.Op != "INFOACCOUNT" {
		t.Errorf("Expected op INFOACCOUNT, got %q", notConn.Op)
	}
}

func TestCallTimesOutOnSilence(t *testing.T) {
	cfg := startDaemon(t, daemonScript{})
	conn := NewConn(cfg)
	defer conn.Close()
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.Call(ctx, wire.AccountQuery{}, wire.KindAccountInfo)
	var timeout *CallTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected CallTimeoutError, got %v", err)
	}
	if conn.State() != StateConnected {
		t.Errorf("Expected session to stay connected after a call timeout, got %s", conn.State())
	}
}

func TestServerDropFailsPendingCall(t *testing.T) {
	cfg := startDaemon(t, daemonScript{
		onLine: func(line string, w io.Writer) {
			if line == "INFOACCOUNT" {
				w.(net.Conn).Close()
			}
		},
	})
	conn := NewConn(cfg)
	defer conn.Close()
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	_, err := conn.Call(context.Background(), wire.AccountQuery{}, wire.KindAccountInfo)
	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnError after server drop, got %v", err)
	}
	if connErr.Op != "read" {
		t.Errorf("Expected read op, got %q", connErr.Op)
	}
	waitFor(t, time.Second, func() bool { return conn.State() == StateDisconnected }, "disconnect")
}

func TestRedialAfterServerDropThenClose(t *testing.T) {
	var reqs atomic.Int64
	cfg := startDaemon(t, daemonScript{
		onLine: func(line string, w io.Writer) {
			if line != "INFOACCOUNT" {
				return
			}
			if reqs.Add(1) == 1 {
				w.(net.Conn).Close()
				return
			}
			fmt.Fprintf(w, "INFOACCOUNT;09:30:00;SIM1234;10000;0;0;10000;SIM\n")
		},
	})
	conn := NewConn(cfg)
	defer conn.Close()
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	_, err := conn.Call(context.Background(), wire.AccountQuery{}, wire.KindAccountInfo)
	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnError after server drop, got %v", err)
	}
	waitFor(t, time.Second, func() bool { return conn.State() == StateDisconnected }, "disconnect")

	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Redial failed: %v", err)
	}
	rec, err := conn.Call(context.Background(), wire.AccountQuery{}, wire.KindAccountInfo)
	if err != nil {
		t.Fatalf("Call after redial failed: %v", err)
	}
	if rec.Str("account") != "SIM1234" {
		t.Errorf("Expected account SIM1234, got %q", rec.Str("account"))
	}

	// Close must take every loop down, the first session's included.
	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after a redial")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", conn.State())
	}
}

func TestHeartbeatDegradesAndRecovers(t *testing.T) {
	var respond atomic.Bool
	cfg := startDaemon(t, daemonScript{
		onLine: func(line string, w io.Writer) {
			if line == "DARWINSTATUS" && respond.Load() {
				fmt.Fprintf(w, "DARWIN_STATUS;CONN_OK;TRUE\n")
			}
		},
	})
	cfg.HeartbeatMs = 20
	cfg.HeartbeatWindowMs = 60
	conn := NewConn(cfg)
	defer conn.Close()
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return conn.State() == StateDegraded }, "degraded state")

	respond.Store(true)
	waitFor(t, 2*time.Second, func() bool { return conn.State() == StateConnected }, "recovery")

	var recovered bool
	for _, ch := range conn.Metrics().History {
		if ch.From == StateDegraded && ch.To == StateConnected {
			recovered = true
		}
	}
	if !recovered {
		t.Error("Expected a degraded to connected transition in history")
	}
}

func TestUnsolicitedRecordReachesSubscriber(t *testing.T) {
	cfg := startDaemon(t, daemonScript{
		onConnect: func(w io.Writer) {
			fmt.Fprintf(w, "ORDER;AAPL;09:30:00;ORD0009;BUY;175.5;0;100;PENDING\n")
		},
	})
	conn := NewConn(cfg)
	defer conn.Close()

	got := make(chan wire.Record, 1)
	cancel := conn.Subscribe(wire.KindOrder, func(rec wire.Record) { got <- rec })
	defer cancel()

	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	select {
	case rec := <-got:
		if rec.Str("order_id") != "ORD0009" {
			t.Errorf("Expected ORD0009, got %q", rec.Str("order_id"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for pushed order")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := startDaemon(t, daemonScript{})
	conn := NewConn(cfg)
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", conn.State())
	}

	err := conn.Send(context.Background(), wire.AccountQuery{})
	var notConn *NotConnectedError
	if !errors.As(err, &notConn) {
		t.Errorf("Expected NotConnectedError after close, got %v", err)
	}
}

func TestQueuedSameKindCallsResolveInOrder(t *testing.T) {
	release := make(chan struct{})
	var reqs atomic.Int64
	cfg := startDaemon(t, daemonScript{
		onLine: func(line string, w io.Writer) {
			if line != "INFOACCOUNT" {
				return
			}
			n := reqs.Add(1)
			if n == 1 {
				<-release
			}
			fmt.Fprintf(w, "INFOACCOUNT;10:00:00;ACC%d;1000;0;0;1000\n", n)
		},
	})
	conn := NewConn(cfg)
	defer conn.Close()
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	type result struct {
		account string
		err     error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)

	go func() {
		rec, err := conn.Call(context.Background(), wire.AccountQuery{}, wire.KindAccountInfo)
		first <- result{rec.Str("account"), err}
	}()
	waitFor(t, time.Second, func() bool { return reqs.Load() == 1 }, "first request to reach the daemon")

	go func() {
		rec, err := conn.Call(context.Background(), wire.AccountQuery{}, wire.KindAccountInfo)
		second <- result{rec.Str("account"), err}
	}()

	// The second command must not hit the wire while the first is
	// unanswered.
	time.Sleep(50 * time.Millisecond)
	if got := reqs.Load(); got != 1 {
		t.Fatalf("Expected second call to queue, daemon saw %d requests", got)
	}

	close(release)

	r1 := <-first
	if r1.err != nil || r1.account != "ACC1" {
		t.Fatalf("Expected first call to resolve with ACC1, got %q err %v", r1.account, r1.err)
	}
	r2 := <-second
	if r2.err != nil || r2.account != "ACC2" {
		t.Fatalf("Expected second call to resolve with ACC2, got %q err %v", r2.account, r2.err)
	}
}
