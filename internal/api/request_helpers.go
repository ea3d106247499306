package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/store"
)

// getPathUUID extracts a UUID from the URL path parameters.
// It parses and validates the UUID, handling common error cases.
//
// Parameters:
//   - r: The HTTP request
//   - paramName: The name of the path parameter to extract
//
// Returns:
//   - (uuid.UUID, nil): The parsed UUID if valid
//   - (uuid.UUID{}, error): A zero UUID and appropriate error if parameter is missing or invalid
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	// Extract parameter from URL path using chi router
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, domain.NewValidationError(paramName, "is required", domain.ErrValidation)
	}

	// Parse parameter as UUID
	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(paramName, "has invalid format", domain.ErrValidation)
	}

	return id, nil
}

// parseTaskStatus validates a status query parameter against the task
// lifecycle states.
func parseTaskStatus(raw string) (domain.TaskStatus, error) {
	status := domain.TaskStatus(raw)
	switch status {
	case domain.TaskStatusPending,
		domain.TaskStatusAssigned,
		domain.TaskStatusRunning,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled:
		return status, nil
	}
	return "", domain.NewValidationError("status", "is not a valid task status", domain.ErrValidation)
}

// taskFilterFromQuery builds a task listing filter from the request's
// query string. Supported parameters: status, kind, limit.
func taskFilterFromQuery(r *http.Request) (store.TaskFilter, error) {
	var filter store.TaskFilter
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status, err := parseTaskStatus(raw)
		if err != nil {
			return store.TaskFilter{}, err
		}
		filter.Statuses = []domain.TaskStatus{status}
	}

	if kind := query.Get("kind"); kind != "" {
		filter.Kinds = []string{kind}
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return store.TaskFilter{}, domain.NewValidationError(
				"limit",
				"must be a positive integer",
				domain.ErrValidation,
			)
		}
		filter.Limit = limit
	}

	return filter, nil
}
