package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyTaskKind),
		errors.Is(err, domain.ErrInvalidAttempts),
		errors.Is(err, domain.ErrEmptyNodeID),
		errors.Is(err, domain.ErrEmptyNodeAddress),
		errors.Is(err, domain.ErrNoNodeCapabilities),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Not found errors
	case store.IsNotFoundError(err):
		return http.StatusNotFound

	// Conflict errors: the entity exists but is in the wrong state for
	// the requested operation, or a concurrent caller won the race.
	case errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrNotFailed),
		errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrInvalidTransition),
		store.IsDuplicateError(err):
		return http.StatusConflict

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	// Handle nil error
	if err == nil {
		return "An unexpected error occurred"
	}

	// Field-level validation failures carry a client-safe field/message
	// pair; surface it directly.
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return fmt.Sprintf("Invalid %s: %s", validationErr.Field, validationErr.Message)
	}

	// Map specific error types to user-friendly messages
	switch {
	// Bad request errors
	case errors.Is(err, domain.ErrInvalidPriority):
		return fmt.Sprintf(
			"Priority must be between %d and %d",
			domain.MinPriority,
			domain.MaxPriority,
		)

	case errors.Is(err, domain.ErrUnknownKind):
		return "Task kind is not accepted by this queue"

	case errors.Is(err, domain.ErrEmptyTaskKind):
		return "Task kind is required"

	case errors.Is(err, domain.ErrInvalidAttempts):
		return "Max attempts must be at least 1"

	case errors.Is(err, domain.ErrValidation):
		return "Validation error"

	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrNodeNotFound):
		return "Node not found"

	case store.IsNotFoundError(err):
		return "Not found"

	// Conflict errors
	case errors.Is(err, domain.ErrNotCancellable):
		return "Task is already in a terminal state"

	case errors.Is(err, domain.ErrNotFailed):
		return "Task is not in the failed state"

	case errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrInvalidTransition):
		return "Task changed state concurrently"

	case store.IsDuplicateError(err):
		return "Entity already exists"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	// Default case for unknown errors
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Check if this is likely a validation error message
	if strings.Contains(errMsg, "Field validation") {
		// Extract the field name and validation tag
		// Example format: "Key: 'EnqueueTaskRequest.Kind' Error:Field validation for 'Kind' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			// Further split to get just the field validation part
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				// Create a cleaner error message
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	// Fall back to a generic validation error message
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url":
		return "invalid URL format"
	case "min":
		return "value too small"
	case "max":
		return "value too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
