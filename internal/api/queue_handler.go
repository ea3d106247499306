package api

import (
	"log/slog"
	"net/http"

	"github.com/skeind/showrunner/internal/api/shared"
	"github.com/skeind/showrunner/internal/controller"
	"github.com/skeind/showrunner/internal/platform/logger"
)

// QueueHandler handles queue-level HTTP requests
type QueueHandler struct {
	controller *controller.Controller
	logger     *slog.Logger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(ctrl *controller.Controller, logger *slog.Logger) *QueueHandler {
	if ctrl == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("controller cannot be nil for QueueHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for QueueHandler")
	}

	return &QueueHandler{
		controller: ctrl,
		logger:     logger.With(slog.String("component", "queue_handler")),
	}
}

// Stats handles GET /api/queue/stats requests
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.controller.Stats(r.Context())
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// Pause handles POST /api/queue/pause requests
// Paused queues keep accepting tasks but stop handing them to nodes.
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	h.controller.Pause(r.Context())

	log.Debug("queue paused")
	shared.RespondWithJSON(w, r, http.StatusOK, StatusResponse{Status: "paused"})
}

// Resume handles POST /api/queue/resume requests
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	h.controller.Resume(r.Context())

	log.Debug("queue resumed")
	shared.RespondWithJSON(w, r, http.StatusOK, StatusResponse{Status: "running"})
}
