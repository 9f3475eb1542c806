package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can map them to
// user-facing behavior without parsing messages.
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation"
	KindPermissionDenied       ErrorKind = "permission_denied"
	KindInvalidStateTransition ErrorKind = "invalid_state_transition"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindLateCompletionDenied   ErrorKind = "late_completion_not_allowed"
	KindNotFound               ErrorKind = "not_found"
)

// Error is the engine's failure type. Rule names the specific check that
// failed (a field name for validation, a policy rule for denials) so the
// caller can present an actionable message without seeing store internals.
type Error struct {
	Kind ErrorKind
	Rule string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Rule, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, rule, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the ErrorKind of err, or "" if err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsValidation(err error) bool       { return KindOf(err) == KindValidation }
func IsPermissionDenied(err error) bool { return KindOf(err) == KindPermissionDenied }
func IsInvalidTransition(err error) bool {
	return KindOf(err) == KindInvalidStateTransition
}
func IsConcurrentModification(err error) bool {
	return KindOf(err) == KindConcurrentModification
}
func IsLateCompletionDenied(err error) bool {
	return KindOf(err) == KindLateCompletionDenied
}
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
