// Package apperr defines the error kinds surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindProximity     Kind = "proximity"
	KindSessionClosed Kind = "session_closed"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
)

// Error is returned by the engine for every caller-facing failure.
// Reason is set for proximity rejections (uuid_mismatch, too_far).
type Error struct {
	Kind    Kind
	Message string
	Reason  string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Reason)
	}
	return e.Message
}

// Code is the machine-readable code sent to clients.
func (e *Error) Code() string {
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Kind)
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Proximity(reason string) *Error {
	return &Error{Kind: KindProximity, Message: "proximity check failed", Reason: reason}
}

func SessionClosed(sessionID string) *Error {
	return &Error{Kind: KindSessionClosed, Message: fmt.Sprintf("session %s is no longer accepting check-ins", sessionID)}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
