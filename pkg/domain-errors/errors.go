// Package domainerrors carries coded errors across service boundaries.
//
// Services return *Error values so transports can map them to status codes
// without matching on messages. Stores return sentinel infrastructure errors
// (see pkg/platform/sentinel) which services translate into coded errors.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure independent of transport.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"

	// Rule model and evaluation failures.
	CodeMalformedRule               Code = "malformed_rule"
	CodeUnsupportedMethod           Code = "unsupported_method"
	CodeNonNumericComparison        Code = "non_numeric_comparison"
	CodeInvalidRange                Code = "invalid_range"
	CodeNoMatchingAuthorizationRule Code = "no_matching_authorization_rule"

	// Draft workflow failures.
	CodeDraftAlreadyOpen    Code = "draft_already_open"
	CodeDraftNotFound       Code = "draft_not_found"
	CodeSigningFailed       Code = "signing_failed"
	CodePersistenceConflict Code = "persistence_conflict"
)

// retryable codes describe transient failures; callers may repeat the
// operation unchanged.
var retryable = map[Code]bool{
	CodeSigningFailed:       true,
	CodePersistenceConflict: true,
	CodeUnavailable:         true,
	CodeTimeout:             true,
}

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost coded error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	de, ok := As(err)
	return ok && retryable[de.Code]
}
