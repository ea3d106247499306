package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/store"
)

const (
	taskKeyPrefix = "showrunner:task:"
	taskIDsKey    = "showrunner:tasks"
)

// RedisTaskStore implements the store.TaskStore interface using Redis
// as the storage backend.
type RedisTaskStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisTaskStore creates a new Redis implementation of the TaskStore
// interface. The client should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewRedisTaskStore(client *redis.Client, logger *slog.Logger) *RedisTaskStore {
	if client == nil {
		panic("client cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RedisTaskStore{
		client: client,
		logger: logger.With(slog.String("component", "redis_task_store")),
	}
}

// Ensure RedisTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*RedisTaskStore)(nil)

func taskKey(id uuid.UUID) string {
	return taskKeyPrefix + id.String()
}

// SaveTask implements store.TaskStore.SaveTask
// Returns store.ErrTaskExists if a task with the same ID is already stored.
func (s *RedisTaskStore) SaveTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during save",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	created, err := s.client.SetNX(ctx, taskKey(task.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	if !created {
		log.Warn("task already exists",
			slog.String("task_id", task.ID.String()))
		return store.ErrTaskExists
	}

	if err := s.client.SAdd(ctx, taskIDsKey, task.ID.String()).Err(); err != nil {
		return fmt.Errorf("track task id: %w", err)
	}

	return nil
}

// UpdateTask implements store.TaskStore.UpdateTask
// It replaces the stored record wholesale.
// Returns store.ErrTaskNotFound if the task is not stored.
func (s *RedisTaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during update",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	replaced, err := s.client.SetXX(ctx, taskKey(task.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if !replaced {
		return store.ErrTaskNotFound
	}

	return nil
}

// GetTask implements store.TaskStore.GetTask
// Returns store.ErrTaskNotFound if the task is not stored.
func (s *RedisTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}

	return &task, nil
}

// ListTasks implements store.TaskStore.ListTasks
// Results are ordered by creation time ascending with IDs as tiebreak,
// matching the Postgres backend.
func (s *RedisTaskStore) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	tasks, err := s.loadAllTasks(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*domain.Task, 0, len(tasks))
	for _, task := range tasks {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, task.Status) {
			continue
		}
		if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, task.Kind) {
			continue
		}
		if filter.NodeID != "" && task.AssignedNodeID != filter.NodeID {
			continue
		}
		filtered = append(filtered, task)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
		}
		return strings.Compare(filtered[i].ID.String(), filtered[j].ID.String()) < 0
	})

	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}

	return filtered, nil
}

// RequeueInFlight implements store.TaskStore.RequeueInFlight
// Every assigned or running task is moved back to pending with the
// given reason, used to reconcile state after a coordinator restart.
func (s *RedisTaskStore) RequeueInFlight(ctx context.Context, reason string) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	tasks, err := s.loadAllTasks(ctx)
	if err != nil {
		return 0, err
	}

	pipe := s.client.Pipeline()
	var count int64
	for _, task := range tasks {
		if task.Status != domain.TaskStatusAssigned && task.Status != domain.TaskStatusRunning {
			continue
		}
		if err := task.Requeue(reason); err != nil {
			return 0, fmt.Errorf("requeue task %s: %w", task.ID, err)
		}

		data, err := json.Marshal(task)
		if err != nil {
			return 0, fmt.Errorf("marshal task: %w", err)
		}
		pipe.Set(ctx, taskKey(task.ID), data, 0)
		count++
	}

	if count == 0 {
		return 0, nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("requeue in-flight tasks: %w", err)
	}

	log.Info("requeued in-flight tasks",
		slog.Int64("count", count),
		slog.String("reason", reason))

	return count, nil
}

// DeleteTerminalBefore implements store.TaskStore.DeleteTerminalBefore
// It removes completed, failed and cancelled tasks whose completion time
// falls before the cutoff.
func (s *RedisTaskStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	tasks, err := s.loadAllTasks(ctx)
	if err != nil {
		return 0, err
	}

	pipe := s.client.Pipeline()
	var count int64
	for _, task := range tasks {
		if !task.IsTerminal() {
			continue
		}
		if task.CompletedAt == nil || !task.CompletedAt.Before(cutoff) {
			continue
		}
		pipe.Del(ctx, taskKey(task.ID))
		pipe.SRem(ctx, taskIDsKey, task.ID.String())
		count++
	}

	if count == 0 {
		return 0, nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("purge terminal tasks: %w", err)
	}

	log.Info("purged terminal tasks",
		slog.Int64("count", count),
		slog.Time("cutoff", cutoff))

	return count, nil
}

// loadAllTasks fetches every tracked task record in one pipeline.
// Records deleted between the membership read and the fetch are skipped.
func (s *RedisTaskStore) loadAllTasks(ctx context.Context) ([]*domain.Task, error) {
	ids, err := s.client.SMembers(ctx, taskIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}

	if len(ids) == 0 {
		return []*domain.Task{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, taskKeyPrefix+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}

		var task domain.Task
		if err := json.Unmarshal(data, &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}

	return tasks, nil
}
