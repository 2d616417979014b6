// Package apperrors defines the error taxonomy shared by the session engine.
// Callers branch on Code via CodeOf or errors.As; the context map carries
// structured detail (field, value, rule) for diagnostics and client messages.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an engine error. The set is closed; see the constants below.
type Code string

const (
	// CodeValidation marks a field or business-rule violation. Recoverable:
	// the caller corrects input and retries.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeInvalidTransition marks an illegal status change. Not retryable
	// without a different operation.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	// CodeTransformation marks a malformed external payload (data-integrity fault).
	CodeTransformation Code = "TRANSFORMATION_ERROR"
	// CodeAuthRequired marks a call with no authenticated identity.
	CodeAuthRequired Code = "AUTH_REQUIRED"
	// CodePermissionDenied marks a call whose identity lacks a required
	// permission or role.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeStore wraps a session-store I/O failure. Idempotent reads may be
	// retried; mutating calls must re-validate current state first.
	CodeStore Code = "EXTERNAL_STORE_ERROR"
)

// Error is a classified engine error with optional structured context and cause.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code, so
// errors.Is(err, &Error{Code: CodeValidation}) works for code matching.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code of err if it is (or wraps) an *Error, or "" otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Validation returns a VALIDATION_ERROR with the given message and context.
func Validation(message string, ctx map[string]any) *Error {
	return &Error{Code: CodeValidation, Message: message, Context: ctx}
}

// InvalidTransition returns an INVALID_TRANSITION error for the given edge.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Context: map[string]any{"from": from, "to": to},
	}
}

// Transformation returns a TRANSFORMATION_ERROR wrapping cause.
func Transformation(message string, cause error, ctx map[string]any) *Error {
	return &Error{Code: CodeTransformation, Message: message, Context: ctx, Err: cause}
}

// AuthRequired returns an AUTH_REQUIRED error.
func AuthRequired(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return &Error{Code: CodeAuthRequired, Message: message}
}

// PermissionDenied returns a PERMISSION_DENIED error with context.
func PermissionDenied(message string, ctx map[string]any) *Error {
	return &Error{Code: CodePermissionDenied, Message: message, Context: ctx}
}

// Store returns an EXTERNAL_STORE_ERROR wrapping the underlying I/O failure.
func Store(message string, cause error, ctx map[string]any) *Error {
	return &Error{Code: CodeStore, Message: message, Context: ctx, Err: cause}
}
