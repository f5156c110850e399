package wire

import (
	"errors"
	"fmt"
)

// ErrUnknownKind accompanies records whose leading tag is not in the schema.
// The read loop logs these and keeps going; they are never fatal.
var ErrUnknownKind = errors.New("unknown record kind")

// ParseError reports a line that matched a known tag but not its layout.
type ParseError struct {
	Line   string
	Kind   Kind
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("parse %s: %s", tagOrRecord(e.Kind), e.Reason)
	}
	return fmt.Sprintf("parse %s: %s (line %q)", tagOrRecord(e.Kind), e.Reason, e.Line)
}

func tagOrRecord(k Kind) string {
	if k == KindUnknown {
		return "record"
	}
	return string(k)
}

// ValidationError reports command parameters rejected before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RemoteError is a daemon ERR record surfaced as a call failure. Benign
// empty-result codes never become RemoteErrors.
type RemoteError struct {
	Scope string
	Code  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d (%s): %s", e.Code, e.Scope, ErrorMessage(e.Code))
}
