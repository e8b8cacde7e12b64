package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the agent core.
type ErrorKind string

const (
	KindCancelled        ErrorKind = "cancelled"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindTLSFailed        ErrorKind = "tls_failed"
	KindWriteFailed      ErrorKind = "write_failed"
	KindServerError      ErrorKind = "server_error"
	KindTimeout          ErrorKind = "timeout"
	KindAccessDenied     ErrorKind = "access_denied"
	KindParseError       ErrorKind = "parse_error"
	KindResourceExceeded ErrorKind = "resource_exceeded"
)

// Error is a classified failure. Op names the step that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of err. Context cancellation maps to
// KindCancelled; unclassified errors return "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return ""
}

// IsRetryable reports whether the stream client may retry after err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnectionFailed, KindTLSFailed, KindWriteFailed, KindServerError, KindTimeout:
		return true
	default:
		return false
	}
}
