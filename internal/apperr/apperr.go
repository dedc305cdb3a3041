// Package apperr defines the error kinds returned by the appointment and
// referral engines. Every kind except System is an expected outcome that is
// reported back to the caller as a structured result.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers
type Kind string

const (
	Validation   Kind = "VALIDATION"
	State        Kind = "STATE"
	TimeWindow   Kind = "TIME_WINDOW"
	NotFound     Kind = "NOT_FOUND"
	SelfReferral Kind = "SELF_REFERRAL"
	RateLimit    Kind = "RATE_LIMIT"
	System       Kind = "SYSTEM"
)

// Error is a classified error with a message safe to show to users
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and user-facing message to an underlying error
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or System when err is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return System
}

// MessageOf returns the user-facing message of err. Unclassified errors get a
// generic message so storage details never leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != System {
		return e.Message
	}
	return "internal error"
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
