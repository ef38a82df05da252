// Package shared contains the error taxonomy shared by every domain and
// infrastructure package of schedule-sync. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds. Use errors.Is() against these, never string matching.
var (
	// ErrValidation marks a job or input rejected before any work started.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing credential or record.
	ErrNotFound = errors.New("entity not found")

	// ErrSessionInvalid marks a portal response carrying a robot/verification marker.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrNetwork marks a transport failure talking to the portal.
	ErrNetwork = errors.New("network error")

	// ErrHTTP marks a non-2xx final response from the portal.
	ErrHTTP = errors.New("http error")

	// ErrParse marks a single unparsable tile. It never leaves the parser.
	ErrParse = errors.New("parse error")

	// ErrPersistence marks a failed batch commit.
	ErrPersistence = errors.New("persistence error")
)

// DomainError represents an error with the operation context it came from.
type DomainError struct {
	Domain  string // e.g., "session", "schedule", "portal"
	Op      string // Operation that failed, e.g., "Load", "Fetch"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching on both the kind and the wrapped error.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validation builds an ErrValidation error for the given operation.
func Validation(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// Common errors returned by several packages.
var (
	ErrCredentialNotFound = NewDomainError("session", "Load", ErrNotFound, "credential not found")
	ErrMissingStudentID   = Validation("job", "Validate", "student id is required")
	ErrMissingSchoolID    = Validation("job", "Validate", "school id is required")
	ErrInvalidWeekKey     = Validation("job", "Validate", "week key must be WWYYYY")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsSessionInvalid checks if the portal reported a dead session.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionInvalid)
}

// IsTransient checks if the error is safe for the task queue's own retry:
// transport failures, non-2xx responses and failed commits.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrHTTP) ||
		errors.Is(err, ErrPersistence)
}

// Class returns a short label for metrics and logs.
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSessionInvalid):
		return "session_invalid"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrHTTP):
		return "http"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
