// Package api provides HTTP handlers for the API.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/skeind/showrunner/internal/api/shared"
	"github.com/skeind/showrunner/internal/controller"
	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/redact"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	controller *controller.Controller
	logger     *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(ctrl *controller.Controller, logger *slog.Logger) *TaskHandler {
	if ctrl == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("controller cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		controller: ctrl,
		logger:     logger.With(slog.String("component", "task_handler")),
	}
}

// Enqueue handles POST /api/tasks requests
// It validates and enqueues a new task for dispatch.
func (h *TaskHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	// Parse request body
	var req EnqueueTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	// Validate request
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	task, err := h.controller.Enqueue(r.Context(), controller.EnqueueRequest{
		Kind:        req.Kind,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		statusCode := MapErrorToStatusCode(err)
		safeMessage := GetSafeErrorMessage(err)
		if statusCode == http.StatusInternalServerError {
			safeMessage = "Failed to enqueue task"
		}
		shared.RespondWithErrorAndLog(w, r, statusCode, safeMessage, err)
		return
	}

	log.Debug("task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("kind", task.Kind))
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(task))
}

// List handles GET /api/tasks requests
// Supported query parameters: status, kind, limit.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := taskFilterFromQuery(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	tasks := h.controller.Tasks(r.Context(), filter)

	response := TaskListResponse{
		Tasks: make([]TaskResponse, 0, len(tasks)),
		Count: len(tasks),
	}
	for _, task := range tasks {
		response.Tasks = append(response.Tasks, taskToResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// Get handles GET /api/tasks/{id} requests
// Pending tasks additionally report their queue position and ETA.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	detail, err := h.controller.Task(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskDetailToResponse(detail))
}

// Cancel handles POST /api/tasks/{id}/cancel requests
// The body is optional; an absent reason falls back to the default.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	var req CancelTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn("invalid request format",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", id.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	task, err := h.controller.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("task cancelled", slog.String("task_id", id.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// Retry handles POST /api/tasks/{id}/retry requests
// It requeues a failed task with a fresh attempt budget.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	task, err := h.controller.Retry(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("task queued for retry", slog.String("task_id", id.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// taskToResponse converts a domain.Task to a TaskResponse
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:             task.ID.String(),
		Kind:           task.Kind,
		Payload:        task.Payload,
		Priority:       task.Priority,
		Status:         string(task.Status),
		Attempts:       task.Attempts,
		MaxAttempts:    task.MaxAttempts,
		AssignedNodeID: task.AssignedNodeID,
		Result:         task.Result,
		Error:          task.Error,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
		StartedAt:      task.StartedAt,
		CompletedAt:    task.CompletedAt,
	}
}

// taskDetailToResponse converts a controller.TaskDetail to a TaskDetailResponse
func taskDetailToResponse(detail controller.TaskDetail) TaskDetailResponse {
	return TaskDetailResponse{
		TaskResponse:  taskToResponse(detail.Task),
		QueuePosition: detail.QueuePosition,
		ETASeconds:    detail.ETASeconds,
	}
}
