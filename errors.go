package mpigo

import (
	"errors"
	"fmt"
)

// Kind is the high-level category of an mpigo error, per the error
// kinds enumerated in the messaging core's error handling design.
type Kind string

const (
	KindPackError       Kind = "pack_error"
	KindUnpackError     Kind = "unpack_error"
	KindPackedSizeError Kind = "packed_size_error"
	KindStateError      Kind = "state_error"
	KindRegionError     Kind = "region_error"
	KindTransportError  Kind = "transport_error"
	KindNoProbeMessage  Kind = "no_probe_message"
	KindInternalError   Kind = "internal_error"
)

// Error is the structured error type returned by every mpigo operation
// that can fail. Kind identifies which of the fixed error categories
// applies; Msg carries the human-readable diagnostic; Inner wraps any
// underlying cause (a transport error, a syscall error from a
// bootstrap backend, etc).
type Error struct {
	Op    string // operation that failed, e.g. "Isend", "waitall"
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("mpigo: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("mpigo: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison by Kind, so callers can write
// errors.Is(err, mpigo.KindTransportError)-style checks via IsKind,
// or compare against another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return false
}

// NewError creates a structured error with no wrapped cause.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// WrapError wraps an existing error under op with the given kind. When
// kind is empty it preserves the Kind of an inner *Error, or defaults
// to KindInternalError otherwise.
func WrapError(op string, kind Kind, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok && kind == "" {
		return &Error{Op: op, Kind: e.Kind, Msg: e.Msg, Inner: e.Inner}
	}
	if kind == "" {
		kind = KindInternalError
	}
	return &Error{Op: op, Kind: kind, Msg: inner.Error(), Inner: inner}
}

// NewTransportError wraps a transport-reported failure, per the
// transport_error kind which carries the transport's own description.
func NewTransportError(op, description string) *Error {
	return &Error{Op: op, Kind: KindTransportError, Msg: description}
}

// ErrNoProbeMessage is the distinguished result of a Probe call that
// found nothing. It is not a fault: callers are expected to check for
// it rather than treat it as an operational error.
var ErrNoProbeMessage = &Error{Op: "Probe", Kind: KindNoProbeMessage, Msg: "no matching message"}

// IsKind reports whether err is an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
