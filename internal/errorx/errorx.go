// Package errorx defines the error taxonomy shared by the chat server and
// the client library. Every failure in the session protocol resolves to one
// of a handful of kinds; none of them is fatal to the process.
package errorx

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol failure.
type Kind string

const (
	// KindTransport covers connect and socket failures. Surfaced, never retried.
	KindTransport Kind = "transport_error"
	// KindProtocol covers malformed frames and stale correlation ids.
	KindProtocol Kind = "protocol_violation"
	// KindCapacity is a join against a full room. The caller must re-match.
	KindCapacity Kind = "capacity_error"
	// KindSessionInvalid means recovery validation failed.
	KindSessionInvalid Kind = "session_invalid"
	// KindInactivity is the policy-driven teardown of a half-open room.
	KindInactivity Kind = "inactivity_timeout"
	// KindRateLimited is returned when a connection sends faster than allowed.
	KindRateLimited Kind = "rate_limited"
	// KindInternal is anything else (storage, encoding).
	KindInternal Kind = "internal_error"
)

// CodeError carries a Kind, a human readable message and an optional cause.
// It supports errors.Is against the sentinels below (matched by Kind) and
// errors.As / errors.Unwrap down to the cause.
type CodeError struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *CodeError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a CodeError of the same Kind.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a CodeError without a cause.
func New(kind Kind, msg string) *CodeError {
	return &CodeError{Kind: kind, Msg: msg}
}

// Newf creates a CodeError with a formatted message.
func Newf(kind Kind, format string, args ...any) *CodeError {
	return &CodeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(err error, kind Kind, msg string) *CodeError {
	return &CodeError{Kind: kind, Msg: msg, cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) *CodeError {
	return &CodeError{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: err}
}

// KindOf extracts the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is comparisons.
var (
	ErrTransport      = New(KindTransport, "transport error")
	ErrProtocol       = New(KindProtocol, "protocol violation")
	ErrCapacity       = New(KindCapacity, "chat room is full")
	ErrSessionInvalid = New(KindSessionInvalid, "session is no longer valid")
	ErrInactivity     = New(KindInactivity, "chat room became inactive")
	ErrRateLimited    = New(KindRateLimited, "rate limit exceeded")
)
