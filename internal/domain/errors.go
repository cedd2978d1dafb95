// Package domain holds the entities and error taxonomy shared across the
// control plane. Repositories and services return these kinds so that
// transport layers can map them without inspecting messages.
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for propagation policy. Validation and
// permanent failures are never retried; transient failures follow the job
// retry policy.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindForbidden           ErrorKind = "forbidden"
	KindRateLimited         ErrorKind = "rate_limited"
	KindTransientDependency ErrorKind = "transient_dependency"
	KindPermanentDependency ErrorKind = "permanent_dependency"
	KindInternal            ErrorKind = "internal"
)

// Error carries a kind, a stable code and a caller-facing message.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a domain error.
func E(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a domain error.
func Wrap(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the kind from err, defaulting to internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	return "INTERNAL_ERROR"
}

// Retryable reports whether the job layer may retry after err.
func Retryable(err error) bool {
	return KindOf(err) == KindTransientDependency
}

// Common sentinels.
var (
	ErrNotFound = E(KindNotFound, "NOT_FOUND", "entity not found")
)
