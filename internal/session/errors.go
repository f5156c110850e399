package session

import (
	"fmt"
	"time"

	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// ConnError reports a transport failure: dial refused, read torn down,
// write on a dead socket.
type ConnError struct {
	Op    string // "dial", "read", "write", "close"
	Addr  string
	Cause error
}

func (e *ConnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Cause)
	}
	return fmt.Sprintf("%s %s: connection error", e.Op, e.Addr)
}

func (e *ConnError) Unwrap() error { return e.Cause }

// NotConnectedError reports an operation attempted without a live session.
type NotConnectedError struct {
	Op string
}

func (e *NotConnectedError) Error() string {
	if e.Op == "" {
		return "not connected"
	}
	return e.Op + ": not connected"
}

// CallTimeoutError reports a synchronous call that saw no matching record
// inside its deadline. The connection itself stays up.
type CallTimeoutError struct {
	Kind wire.Kind
	Wait time.Duration
}

func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("no %s response after %v", e.Kind, e.Wait.Round(time.Millisecond))
}
