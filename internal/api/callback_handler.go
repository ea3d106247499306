package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/skeind/showrunner/internal/api/shared"
	"github.com/skeind/showrunner/internal/dispatch"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/redact"
)

// defaultFailureReason is recorded when a node reports failure without
// an explanation.
const defaultFailureReason = "node reported failure"

// CallbackHandler handles execution reports posted by node agents.
// Reports arriving after a task reached a terminal state are dropped
// with a 200 so the node stops resending them.
type CallbackHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewCallbackHandler creates a new CallbackHandler
func NewCallbackHandler(dispatcher *dispatch.Dispatcher, logger *slog.Logger) *CallbackHandler {
	if dispatcher == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("dispatcher cannot be nil for CallbackHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for CallbackHandler")
	}

	return &CallbackHandler{
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "callback_handler")),
	}
}

// Progress handles POST /api/callbacks/tasks/{id}/progress requests
func (h *CallbackHandler) Progress(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	var req ProgressReportRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid progress report",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", id.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	task, err := h.dispatcher.ReportProgress(r.Context(), id, req.Progress)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// Complete handles POST /api/callbacks/tasks/{id}/complete requests
func (h *CallbackHandler) Complete(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	// An empty body is a bare completion with no result payload.
	var req CompletionReportRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn("invalid completion report",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", id.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	task, err := h.dispatcher.ReportCompleted(r.Context(), id, req.Result)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// Fail handles POST /api/callbacks/tasks/{id}/fail requests
func (h *CallbackHandler) Fail(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	var req FailureReportRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn("invalid failure report",
			slog.String("error", redact.Error(err)),
			slog.String("task_id", id.String()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Reason == "" {
		req.Reason = defaultFailureReason
	}

	task, err := h.dispatcher.ReportFailed(r.Context(), id, req.Reason)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}
