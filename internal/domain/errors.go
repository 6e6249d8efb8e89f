package domain

import (
	"context"
	"errors"
	"fmt"
)

// Storage-level sentinels. Repositories return these; services translate them.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateReview = errors.New("duplicate review")
)

type Kind string

const (
	KindAuthenticationRequired Kind = "AUTHENTICATION_REQUIRED"
	KindAuthorizationDenied    Kind = "AUTHORIZATION_DENIED"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidState           Kind = "INVALID_STATE"
	KindValidation             Kind = "VALIDATION_ERROR"
	KindDuplicateReview        Kind = "DUPLICATE_REVIEW"
	KindStore                  Kind = "STORE_ERROR"
)

// Error is the failure value every core operation resolves to.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == ""
}

func newErr(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Unauthenticated(format string, args ...any) *Error {
	return newErr(KindAuthenticationRequired, format, args...)
}

func Denied(format string, args ...any) *Error {
	return newErr(KindAuthorizationDenied, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return newErr(KindInvalidState, format, args...)
}

func Invalid(format string, args ...any) *Error {
	return newErr(KindValidation, format, args...)
}

func Duplicate(format string, args ...any) *Error {
	return newErr(KindDuplicateReview, format, args...)
}

// StoreFailure wraps a backend error. Deadline and cancellation are reported as timeouts.
func StoreFailure(op string, err error) *Error {
	msg := op + " failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = op + " timed out"
	}
	return &Error{Kind: KindStore, Msg: msg, Err: err}
}

// KindOf classifies any error. Unclassified errors are store errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateReview):
		return KindDuplicateReview
	}
	return KindStore
}

// MessageOf returns the human-readable part of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
