// Package queue implements the coordinator's task queue: a durable
// write-ahead store fronted by an in-memory priority index.
//
// Every mutation is persisted through store.TaskStore before it becomes
// visible to readers, so a persistence failure rejects the operation and
// leaves the in-memory state exactly as it was. Reads are served from
// memory and always return copies, never the live records.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/store"
)

// requeueReason is recorded on tasks reconciled back to pending during
// a startup reload.
const requeueReason = "requeued after coordinator restart"

// Queue is the shared task queue. All access is serialized through one
// mutex; the hot path is in-memory, durable writes happen inside the
// critical section so visible state never runs ahead of stored state.
type Queue struct {
	mu     sync.Mutex
	store  store.TaskStore
	logger *slog.Logger

	// tasks holds the canonical in-memory copy of every task.
	tasks map[uuid.UUID]*domain.Task

	// pending is the dispatch index: pending tasks sorted by
	// (priority desc, created_at asc, id asc).
	pending []*domain.Task
}

// New creates a queue over the given durable store. The queue serves no
// reads until Reload has run. If logger is nil, a default logger will
// be used.
func New(taskStore store.TaskStore, logger *slog.Logger) *Queue {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		store:  taskStore,
		logger: logger,
		tasks:  make(map[uuid.UUID]*domain.Task),
	}
}

// Put saves the task durably and then adds it to the in-memory index.
// Returns store.ErrTaskExists if the ID is already queued.
func (q *Queue) Put(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, q.logger)

	q.mu.Lock()
	defer q.mu.Unlock()

	// Save task to the durable store first
	if err := q.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	stored := task.Clone()
	q.tasks[stored.ID] = stored
	if stored.Status == domain.TaskStatusPending {
		q.insertPending(stored)
	}

	log.Debug("task enqueued",
		"task_id", stored.ID,
		"task_kind", stored.Kind,
		"priority", stored.Priority,
		"queue_depth", len(q.pending))

	return nil
}

// Get returns a copy of the task with the given ID.
func (q *Queue) Get(id uuid.UUID) (*domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Update applies mutate to a copy of the stored task, persists the
// result, and only then swaps it into memory. The mutator's error is
// returned unchanged, so domain guards (ErrNotPending, ErrNotCancellable,
// ErrNotFailed) double as compare-and-set failures for callers racing on
// status. A persistence error rejects the whole update.
// Returns the updated snapshot on success.
func (q *Queue) Update(ctx context.Context, id uuid.UUID, mutate func(*domain.Task) error) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	if err := q.store.UpdateTask(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	q.tasks[id] = next
	if current.Status == domain.TaskStatusPending {
		q.removePending(id)
	}
	if next.Status == domain.TaskStatusPending {
		q.insertPending(next)
	}

	return next.Clone(), nil
}

// List returns copies of all tasks matching the filter, ordered by
// creation time ascending with IDs as tiebreak.
func (q *Queue) List(filter store.TaskFilter) []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]*domain.Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, task.Status) {
			continue
		}
		if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, task.Kind) {
			continue
		}
		if filter.NodeID != "" && task.AssignedNodeID != filter.NodeID {
			continue
		}
		result = append(result, task.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return strings.Compare(result[i].ID.String(), result[j].ID.String()) < 0
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result
}

// NextPending returns a copy of the pending task first in dispatch
// order: highest priority, then earliest created, then smallest ID.
func (q *Queue) NextPending() (*domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	return q.pending[0].Clone(), true
}

// PendingAhead returns how many pending tasks would dispatch before the
// given one. Reports false if the task is not pending.
func (q *Queue) PendingAhead(id uuid.UUID) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, task := range q.pending {
		if task.ID == id {
			return i, true
		}
	}
	return 0, false
}

// CountByStatus returns the number of tasks in each status.
func (q *Queue) CountByStatus() map[domain.TaskStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, task := range q.tasks {
		counts[task.Status]++
	}
	return counts
}

// CountByPriority returns the number of pending tasks per priority band.
func (q *Queue) CountByPriority() map[int]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[int]int)
	for _, task := range q.pending {
		counts[task.Priority]++
	}
	return counts
}

// CountInFlight returns the number of tasks assigned to or running on
// the given node.
func (q *Queue) CountInFlight(nodeID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, task := range q.tasks {
		if task.AssignedNodeID != nodeID {
			continue
		}
		if task.Status == domain.TaskStatusAssigned || task.Status == domain.TaskStatusRunning {
			count++
		}
	}
	return count
}

// Depth returns the number of tasks in any of the given statuses, or
// the total number of tasks held when none are given.
func (q *Queue) Depth(statuses ...domain.TaskStatus) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(statuses) == 0 {
		return len(q.tasks)
	}

	count := 0
	for _, task := range q.tasks {
		if slices.Contains(statuses, task.Status) {
			count++
		}
	}
	return count
}

// Reload rebuilds the in-memory state from the durable store. Tasks
// left assigned or running by a previous process are first returned to
// pending in one durable pass, attempts untouched, so interrupted work
// is dispatched again rather than stranded. Runs once at startup before
// the queue serves reads.
func (q *Queue) Reload(ctx context.Context) error {
	log := logger.FromContextOrDefault(ctx, q.logger)

	q.mu.Lock()
	defer q.mu.Unlock()

	requeued, err := q.store.RequeueInFlight(ctx, requeueReason)
	if err != nil {
		return fmt.Errorf("failed to requeue in-flight tasks: %w", err)
	}

	tasks, err := q.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	q.tasks = make(map[uuid.UUID]*domain.Task, len(tasks))
	q.pending = q.pending[:0]
	for _, task := range tasks {
		q.tasks[task.ID] = task
		if task.Status == domain.TaskStatusPending {
			q.insertPending(task)
		}
	}

	log.Info("task queue reloaded",
		"task_count", len(q.tasks),
		"pending_count", len(q.pending),
		"requeued_count", requeued)

	return nil
}

// PurgeTerminal deletes completed, failed and cancelled tasks older
// than the given retention from the store and from memory.
// Returns the number of tasks purged.
func (q *Queue) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContextOrDefault(ctx, q.logger)

	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	purged, err := q.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal tasks: %w", err)
	}

	for id, task := range q.tasks {
		if !task.IsTerminal() {
			continue
		}
		if task.CompletedAt == nil || !task.CompletedAt.Before(cutoff) {
			continue
		}
		delete(q.tasks, id)
	}

	if purged > 0 {
		log.Info("purged terminal tasks",
			"count", purged,
			"older_than", olderThan.String())
	}

	return purged, nil
}

// insertPending places the task at its dispatch-order position.
// Caller must hold q.mu.
func (q *Queue) insertPending(task *domain.Task) {
	i := sort.Search(len(q.pending), func(i int) bool {
		return dispatchesAfter(q.pending[i], task)
	})
	q.pending = slices.Insert(q.pending, i, task)
}

// removePending drops the task with the given ID from the dispatch
// index. Caller must hold q.mu.
func (q *Queue) removePending(id uuid.UUID) {
	for i, task := range q.pending {
		if task.ID == id {
			q.pending = slices.Delete(q.pending, i, i+1)
			return
		}
	}
}

// dispatchesAfter reports whether a dispatches strictly after b:
// lower priority first, then later creation, then larger ID. The ID
// tiebreak keeps the order total even for tasks created in the same
// instant.
func dispatchesAfter(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return strings.Compare(a.ID.String(), b.ID.String()) > 0
}
