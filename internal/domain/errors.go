// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity or request fails
	// validation. More specific validation errors wrap it so callers
	// can match the whole family with errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPriority is returned when a task priority falls outside
	// the allowed 1..10 range.
	ErrInvalidPriority = fmt.Errorf("%w: priority out of range", ErrValidation)

	// ErrUnknownKind is returned when a task kind is not in the
	// configured set of accepted kinds.
	ErrUnknownKind = fmt.Errorf("%w: unknown task kind", ErrValidation)

	// ErrInvalidTransition is returned when a status change violates
	// the task or node lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotPending is returned when an operation requires a pending
	// task, typically because a concurrent dispatch or cancellation won
	// the race.
	ErrNotPending = errors.New("task is not pending")

	// ErrNotCancellable is returned when cancellation is requested for
	// a task that already reached a terminal state.
	ErrNotCancellable = errors.New("task is not cancellable")

	// ErrNotFailed is returned when a retry is requested for a task
	// that is not in the failed state.
	ErrNotFailed = errors.New("task is not failed")

	// ErrNoCandidates is returned when no healthy node advertises the
	// capability a task requires. This is an expected idle condition,
	// not an operation failure: the task stays pending and dispatch
	// backs off.
	ErrNoCandidates = errors.New("no candidate nodes available")

	// ErrNodeLost is recorded on tasks requeued or failed because the
	// node executing them went offline or was removed.
	ErrNodeLost = errors.New("node lost")
)

// ValidationError describes a field-level validation failure. It wraps
// one of the sentinel errors above so callers can classify it while
// still reporting which field was at fault.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
