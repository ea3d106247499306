package api

import (
	"encoding/json"
	"time"
)

// Common request/response structures

// EnqueueTaskRequest defines the payload for the task enqueue endpoint.
// Zero priority and max_attempts fall back to the configured defaults.
type EnqueueTaskRequest struct {
	Kind        string          `json:"kind"                   validate:"required,min=1"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority,omitempty"     validate:"omitempty,min=1,max=10"`
	MaxAttempts int             `json:"max_attempts,omitempty" validate:"omitempty,min=1"`
}

// CancelTaskRequest defines the optional payload for the task cancel
// endpoint. An absent or empty reason falls back to the default.
type CancelTaskRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// RegisterNodeRequest defines the payload for the node registration endpoint.
type RegisterNodeRequest struct {
	ID           string   `json:"id"           validate:"required,min=1"`
	Address      string   `json:"address"      validate:"required,url"`
	Capabilities []string `json:"capabilities" validate:"required,min=1,dive,required"`
}

// ProgressReportRequest defines the payload node agents post while a
// task is running.
type ProgressReportRequest struct {
	Progress int `json:"progress" validate:"min=0,max=100"`
}

// CompletionReportRequest defines the payload node agents post when a
// task finishes successfully.
type CompletionReportRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// FailureReportRequest defines the payload node agents post when a
// task fails.
type FailureReportRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=2000"`
}

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       int             `json:"priority"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	AssignedNodeID string          `json:"assigned_node_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// TaskDetailResponse extends TaskResponse with the task's position in
// dispatch order and a completion estimate, populated while pending.
type TaskDetailResponse struct {
	TaskResponse

	QueuePosition *int     `json:"queue_position,omitempty"`
	ETASeconds    *float64 `json:"eta_seconds,omitempty"`
}

// TaskListResponse wraps a filtered task listing.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// NodeResponse represents the response data for a worker node.
type NodeResponse struct {
	ID               string    `json:"id"`
	Address          string    `json:"address"`
	Capabilities     []string  `json:"capabilities"`
	Status           string    `json:"status"`
	CurrentLoad      int       `json:"current_load"`
	ReportedLoad     int       `json:"reported_load"`
	PerformanceScore float64   `json:"performance_score"`
	LastHeartbeatAt  time.Time `json:"last_heartbeat_at"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// NodeListResponse wraps the node listing.
type NodeListResponse struct {
	Nodes []NodeResponse `json:"nodes"`
	Count int            `json:"count"`
}

// RemoveNodeResponse reports the removed node and how many of its
// in-flight tasks were released back to the queue.
type RemoveNodeResponse struct {
	Node          NodeResponse `json:"node"`
	ReleasedTasks int          `json:"released_tasks"`
}

// StatusResponse is the acknowledgement body for state-toggling
// endpoints such as pause and resume.
type StatusResponse struct {
	Status string `json:"status"`
}
