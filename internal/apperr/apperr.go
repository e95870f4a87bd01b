// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the stable, machine-readable buckets
// callers are allowed to branch on.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindRateLimit  Kind = "rate_limited"
	KindUpstream   Kind = "upstream_error"
	KindStore      Kind = "store_error"
)

// Error is the coded error type used across the core. Code is a stable
// machine-readable string (e.g. "invalid_game_link", "session_not_found");
// Message is safe for clients. The wrapped cause (store/upstream error text)
// is kept out of the primary message and only reachable via Unwrap.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match against a template with the same Kind and,
// when the template carries one, the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...interface{}) *Error {
	return newf(KindValidation, code, format, args...)
}

func NotFound(code, format string, args ...interface{}) *Error {
	return newf(KindNotFound, code, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return newf(KindConflict, code, format, args...)
}

func Forbidden(code, format string, args ...interface{}) *Error {
	return newf(KindForbidden, code, format, args...)
}

func RateLimit(code, format string, args ...interface{}) *Error {
	return newf(KindRateLimit, code, format, args...)
}

// Upstream wraps a network-level failure (link resolution, redirect follow).
// The cause text never becomes the client-facing message.
func Upstream(code string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: "upstream request failed", cause: cause}
}

// Store wraps an unclassified persistence failure.
func Store(cause error) *Error {
	return &Error{Kind: KindStore, Code: "store_error", Message: "storage operation failed", cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else KindStore
// as the conservative default for unknown failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// CodeOf returns the stable code of err, or "internal_error" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
