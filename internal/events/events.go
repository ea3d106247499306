package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened to a task.
type EventType string

// Task lifecycle event types.
const (
	TaskEnqueued  EventType = "task.enqueued"
	TaskAssigned  EventType = "task.assigned"
	TaskStarted   EventType = "task.started"
	TaskProgress  EventType = "task.progress"
	TaskCompleted EventType = "task.completed"
	TaskFailed    EventType = "task.failed"
	TaskCancelled EventType = "task.cancelled"
	TaskRequeued  EventType = "task.requeued"
	TaskRetried   EventType = "task.retried"
)

// TaskEvent is a task lifecycle notification. It carries enough for a
// subscriber to follow a task without reading the queue: the task and
// node involved, progress for progress events, and a human-readable
// detail for failures and cancellations.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates what happened
	Type EventType `json:"type"`

	// TaskID identifies the task the event is about
	TaskID uuid.UUID `json:"task_id"`

	// NodeID identifies the node involved, when one is
	NodeID string `json:"node_id,omitempty"`

	// Progress is the completion percentage for progress events
	Progress int `json:"progress,omitempty"`

	// Detail carries the failure reason, cancel reason or requeue cause
	Detail string `json:"detail,omitempty"`

	// Result carries the task result for completion events
	Result json.RawMessage `json:"result,omitempty"`

	// At is the timestamp when the event was created
	At time.Time `json:"at"`
}

// NewTaskEvent creates an event of the given type for the given task.
// Optional fields are set by the caller before emitting.
func NewTaskEvent(eventType EventType, taskID uuid.UUID) *TaskEvent {
	return &TaskEvent{
		ID:     uuid.New(),
		Type:   eventType,
		TaskID: taskID,
		At:     time.Now().UTC(),
	}
}

// IsTerminal reports whether the event announces a final disposition.
func (e *TaskEvent) IsTerminal() bool {
	switch e.Type {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the dispatcher and controller to publish notifications
// without direct knowledge of subscribers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}
