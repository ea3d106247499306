package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skeind/showrunner/internal/api/shared"
	"github.com/skeind/showrunner/internal/controller"
	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/redact"
	"github.com/skeind/showrunner/internal/registry"
)

// NodeHandler handles node-related HTTP requests
type NodeHandler struct {
	controller *controller.Controller
	logger     *slog.Logger
}

// NewNodeHandler creates a new NodeHandler
func NewNodeHandler(ctrl *controller.Controller, logger *slog.Logger) *NodeHandler {
	if ctrl == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("controller cannot be nil for NodeHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for NodeHandler")
	}

	return &NodeHandler{
		controller: ctrl,
		logger:     logger.With(slog.String("component", "node_handler")),
	}
}

// Register handles POST /api/nodes requests
// Registering an existing node ID updates its address and capabilities.
// New nodes start in the discovered state and receive no work until the
// health monitor observes a successful probe.
func (h *NodeHandler) Register(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	// Parse request body
	var req RegisterNodeRequest
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

	node, err := h.controller.RegisterNode(r.Context(), registry.RegisterNode{
		ID:           req.ID,
		Address:      req.Address,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		statusCode := MapErrorToStatusCode(err)
		safeMessage := GetSafeErrorMessage(err)
		if statusCode == http.StatusInternalServerError {
			safeMessage = "Failed to register node"
		}
		shared.RespondWithErrorAndLog(w, r, statusCode, safeMessage, err)
		return
	}

	log.Debug("node registered",
		slog.String("node_id", node.ID),
		slog.String("address", node.Address))
	shared.RespondWithJSON(w, r, http.StatusCreated, nodeToResponse(node))
}

// List handles GET /api/nodes requests
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	nodes := h.controller.Nodes(r.Context())

	response := NodeListResponse{
		Nodes: make([]NodeResponse, 0, len(nodes)),
		Count: len(nodes),
	}
	for _, node := range nodes {
		response.Nodes = append(response.Nodes, nodeToResponse(node))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// Get handles GET /api/nodes/{id} requests
func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Node ID is required")
		return
	}

	node, err := h.controller.Node(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, nodeToResponse(node))
}

// Remove handles DELETE /api/nodes/{id} requests
// The node's in-flight tasks are released back to the queue; the
// response reports how many.
func (h *NodeHandler) Remove(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Node ID is required")
		return
	}

	node, released, err := h.controller.RemoveNode(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("node removed",
		slog.String("node_id", id),
		slog.Int("released_tasks", released))
	shared.RespondWithJSON(w, r, http.StatusOK, RemoveNodeResponse{
		Node:          nodeToResponse(node),
		ReleasedTasks: released,
	})
}

// nodeToResponse converts a domain.Node to a NodeResponse
func nodeToResponse(node *domain.Node) NodeResponse {
	return NodeResponse{
		ID:               node.ID,
		Address:          node.Address,
		Capabilities:     node.Capabilities,
		Status:           string(node.Status),
		CurrentLoad:      node.CurrentLoad,
		ReportedLoad:     node.ReportedLoad,
		PerformanceScore: node.PerformanceScore,
		LastHeartbeatAt:  node.LastHeartbeatAt,
		RegisteredAt:     node.RegisteredAt,
	}
}
