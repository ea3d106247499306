package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/domain"
)

// TaskFilter narrows the result set of ListTasks. Zero-valued fields
// are ignored; a filter with no fields set matches everything.
type TaskFilter struct {
	// Statuses restricts results to tasks in any of the given statuses.
	Statuses []domain.TaskStatus

	// Kinds restricts results to tasks of any of the given kinds.
	Kinds []string

	// NodeID restricts results to tasks assigned to the given node.
	NodeID string

	// Limit caps the number of returned tasks. Zero means no limit.
	Limit int
}

// TaskStore defines the interface for durable task persistence.
//
// Implementations back the in-memory queue: every mutation is written
// here before it becomes visible to queue readers, so a write error
// must leave the stored record exactly as it was. Ordering is the
// queue's concern; implementations only need faithful round-trips.
type TaskStore interface {
	// SaveTask persists a new task record.
	// Returns ErrTaskExists if a task with the same ID is already stored.
	SaveTask(ctx context.Context, task *domain.Task) error

	// UpdateTask overwrites the stored record for the task's ID with
	// the given state. The whole record is written in one statement so
	// readers never observe a partial update.
	// Returns ErrTaskNotFound if the task does not exist.
	UpdateTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// ListTasks returns all tasks matching the filter. No ordering is
	// guaranteed; callers sort as needed.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// RequeueInFlight returns every assigned or running task to pending
	// in a single reconciliation pass, recording the given reason and
	// leaving attempt counters untouched. Called once at startup before
	// the queue serves reads, so work lost to a crash is dispatched
	// again rather than stranded.
	// Returns the number of tasks requeued.
	RequeueInFlight(ctx context.Context, reason string) (int64, error)

	// DeleteTerminalBefore removes completed, failed and cancelled
	// tasks whose terminal timestamp is older than the cutoff.
	// Returns the number of tasks deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
