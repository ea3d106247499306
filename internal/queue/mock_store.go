package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/store"
)

// MockTaskStore implements the store.TaskStore interface in memory for
// testing. SaveFn and UpdateFn can be replaced to inject persistence
// failures; the other methods operate on the held map directly.
type MockTaskStore struct {
	mutex sync.RWMutex
	tasks map[uuid.UUID]*domain.Task

	SaveFn   func(ctx context.Context, task *domain.Task) error
	UpdateFn func(ctx context.Context, task *domain.Task) error
}

// NewMockTaskStore creates a new MockTaskStore with default implementations.
func NewMockTaskStore() *MockTaskStore {
	s := &MockTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}

	s.SaveFn = func(ctx context.Context, task *domain.Task) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if _, exists := s.tasks[task.ID]; exists {
			return store.ErrTaskExists
		}
		s.tasks[task.ID] = task.Clone()
		return nil
	}

	s.UpdateFn = func(ctx context.Context, task *domain.Task) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if _, exists := s.tasks[task.ID]; !exists {
			return store.ErrTaskNotFound
		}
		s.tasks[task.ID] = task.Clone()
		return nil
	}

	return s
}

// Ensure MockTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*MockTaskStore)(nil)

// SaveTask persists a task to the mock store
func (s *MockTaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	return s.SaveFn(ctx, task)
}

// UpdateTask overwrites a task in the mock store
func (s *MockTaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	return s.UpdateFn(ctx, task)
}

// GetTask retrieves a task from the mock store
func (s *MockTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// ListTasks returns all tasks matching the filter
func (s *MockTaskStore) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
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
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// RequeueInFlight returns every assigned or running task to pending
func (s *MockTaskStore) RequeueInFlight(ctx context.Context, reason string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var count int64
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusAssigned && task.Status != domain.TaskStatusRunning {
			continue
		}
		if err := task.Requeue(reason); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DeleteTerminalBefore removes aged terminal tasks from the mock store
func (s *MockTaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var count int64
	for id, task := range s.tasks {
		if !task.IsTerminal() {
			continue
		}
		if task.CompletedAt == nil || !task.CompletedAt.Before(cutoff) {
			continue
		}
		delete(s.tasks, id)
		count++
	}
	return count, nil
}
