// Package apperr defines the error taxonomy shared by storage, services and
// the transports. Every error that reaches a boundary is classified by Kind;
// the Message is safe to show to clients, the Cause never is.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the machine-readable error class.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindInvalidTarget   Kind = "invalid_target"
	KindInvalidArgument Kind = "invalid_argument"
	KindConflict        Kind = "conflict"
	KindDecryption      Kind = "decryption"
	KindStorage         Kind = "storage"
	KindAuth            Kind = "auth"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// Error is the application error type.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same kind. A target with a
// message additionally requires the same message, so errors.Is works for both
// the generic kind sentinels and the specific ones below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(msg string) error        { return New(KindNotFound, msg) }
func Forbidden(msg string) error       { return New(KindForbidden, msg) }
func InvalidArgument(msg string) error { return New(KindInvalidArgument, msg) }
func Conflict(msg string) error        { return New(KindConflict, msg) }
func Unauthorized(msg string) error    { return New(KindAuth, msg) }
func RateLimited(msg string) error     { return New(KindRateLimited, msg) }

// Storage wraps a backing-store failure. Deadline expiry and cancellation are
// flagged retryable. An err that is already an *Error is returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	msg := "storage unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "storage timeout"
	} else if errors.Is(err, context.Canceled) {
		msg = "request canceled"
	}
	return &Error{Kind: KindStorage, Message: msg, Cause: fmt.Errorf("%s: %w", op, err), Retryable: true}
}

// KindOf classifies any error. Unknown errors are internal, except context
// deadline expiry which is treated as a storage timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStorage
	}
	return KindInternal
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "storage timeout"
	}
	return "internal server error"
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
