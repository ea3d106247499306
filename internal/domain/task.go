package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Priority bounds and defaults for newly enqueued tasks.
const (
	MinPriority        = 1
	MaxPriority        = 10
	DefaultPriority    = 5
	DefaultMaxAttempts = 3
)

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskKind    = errors.New("task kind cannot be empty")
	ErrInvalidStatus    = errors.New("invalid task status")
	ErrEmptyNodeID      = errors.New("node ID cannot be empty")
	ErrNodeIDNotAllowed = errors.New("assigned node ID only valid for assigned or running tasks")
	ErrAttemptsExceeded = errors.New("attempts cannot exceed max attempts")
	ErrInvalidAttempts  = errors.New("max attempts must be at least 1")
)

// Task represents a unit of generation work flowing through the queue.
// It carries an opaque payload understood by worker nodes advertising
// the matching capability (Kind), and tracks assignment and retry state.
type Task struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       int             `json:"priority"`
	Status         TaskStatus      `json:"status"`
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

// NewTask creates a new pending Task with the given kind, payload and
// priority. It generates a new UUID for the task ID and sets the
// creation/update timestamps.
// Returns an error if validation fails.
func NewTask(kind string, payload json.RawMessage, priority, maxAttempts int) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     payload,
		Priority:    priority,
		Status:      TaskStatusPending,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Kind == "" {
		return ErrEmptyTaskKind
	}

	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return ErrInvalidPriority
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidStatus
	}

	if t.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}

	if t.Attempts > t.MaxAttempts {
		return ErrAttemptsExceeded
	}

	switch t.Status {
	case TaskStatusAssigned, TaskStatusRunning:
		if t.AssignedNodeID == "" {
			return ErrEmptyNodeID
		}
	default:
		if t.AssignedNodeID != "" {
			return ErrNodeIDNotAllowed
		}
	}

	return nil
}

// IsTerminal reports whether the task has reached a final state from
// which no further transitions are allowed.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Assign transitions a pending task to assigned on the given node.
// Returns ErrNotPending if the task is no longer pending; this is the
// check-and-set the dispatcher relies on when racing other updates.
func (t *Task) Assign(nodeID string) error {
	if nodeID == "" {
		return ErrEmptyNodeID
	}
	if t.Status != TaskStatusPending {
		return ErrNotPending
	}

	t.Status = TaskStatusAssigned
	t.AssignedNodeID = nodeID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Start transitions an assigned task to running once the node has
// acknowledged the execution request.
func (t *Task) Start() error {
	if err := t.transition(TaskStatusRunning); err != nil {
		return err
	}

	now := time.Now().UTC()
	t.StartedAt = &now
	return nil
}

// Complete transitions a running task to completed and records the
// node-supplied result.
func (t *Task) Complete(result json.RawMessage) error {
	if err := t.transition(TaskStatusCompleted); err != nil {
		return err
	}

	now := time.Now().UTC()
	t.Result = result
	t.Error = ""
	t.AssignedNodeID = ""
	t.CompletedAt = &now
	return nil
}

// RecordFailure applies the retry rule after an execution failure or a
// lost node: the attempt counter is incremented, and the task returns
// to pending while attempts remain below the maximum, otherwise it is
// failed permanently. Attempts never exceed MaxAttempts.
func (t *Task) RecordFailure(reason string) error {
	if t.Status != TaskStatusAssigned && t.Status != TaskStatusRunning {
		return ErrInvalidTransition
	}

	t.Attempts++
	if t.Attempts < t.MaxAttempts {
		return t.Requeue(reason)
	}
	return t.fail(reason)
}

// Requeue returns an assigned or running task to pending without
// touching the attempt counter. Used by crash recovery, where lost
// progress is not the task's fault.
func (t *Task) Requeue(reason string) error {
	if err := t.transition(TaskStatusPending); err != nil {
		return err
	}

	t.AssignedNodeID = ""
	t.StartedAt = nil
	t.Error = reason
	return nil
}

// fail marks the task permanently failed with the given reason.
func (t *Task) fail(reason string) error {
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}

	now := time.Now().UTC()
	t.AssignedNodeID = ""
	t.Error = reason
	t.CompletedAt = &now
	return nil
}

// Cancel transitions the task to cancelled from any non-terminal state.
// Returns ErrNotCancellable if the task already reached a final state.
// Cancellation of running work is advisory; the caller is responsible
// for asking the node to abort.
func (t *Task) Cancel(reason string) error {
	if t.IsTerminal() {
		return ErrNotCancellable
	}

	if err := t.transition(TaskStatusCancelled); err != nil {
		return err
	}

	now := time.Now().UTC()
	t.AssignedNodeID = ""
	t.Error = reason
	t.CompletedAt = &now
	return nil
}

// ResetForRetry returns a failed task to pending with a fresh attempt
// budget. Returns ErrNotFailed for tasks in any other state.
func (t *Task) ResetForRetry() error {
	if t.Status != TaskStatusFailed {
		return ErrNotFailed
	}

	t.Status = TaskStatusPending
	t.Attempts = 0
	t.Error = ""
	t.Result = nil
	t.StartedAt = nil
	t.CompletedAt = nil
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// transition moves the task to the target status after checking the
// transition table, updating the modification timestamp.
func (t *Task) transition(to TaskStatus) error {
	if !IsValidTaskTransition(t.Status, to) {
		return ErrInvalidTransition
	}

	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy of the task. Byte slices and timestamp
// pointers are duplicated so the copy can be mutated independently.
func (t *Task) Clone() *Task {
	clone := *t

	if t.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		clone.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		clone.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}

	return &clone
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
