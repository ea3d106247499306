package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/store"
)

func setupTestStore(t *testing.T) (*RedisTaskStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewClient(context.Background(), mr.Addr(), 0)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("Error closing redis client: %v", err)
		}
	})

	return NewRedisTaskStore(client, nil), mr
}

func makeTask(t *testing.T, kind string, priority int) *domain.Task {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"scene": "opening"})
	require.NoError(t, err, "Failed to marshal payload")

	task, err := domain.NewTask(kind, payload, priority, domain.DefaultMaxAttempts)
	require.NoError(t, err, "Failed to create task")
	return task
}

func TestRedisTaskStore_SaveAndGet(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	task := makeTask(t, "render", 7)
	require.NoError(t, s.SaveTask(ctx, task), "Failed to save task")

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err, "Failed to get task")

	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "render", got.Kind)
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	assert.JSONEq(t, string(task.Payload), string(got.Payload))
}

func TestRedisTaskStore_SaveDuplicate(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	task := makeTask(t, "render", 5)
	require.NoError(t, s.SaveTask(ctx, task), "Failed to save task")

	err := s.SaveTask(ctx, task)
	assert.ErrorIs(t, err, store.ErrTaskExists, "Saving the same ID twice should report a duplicate")
}

func TestRedisTaskStore_GetNotFound(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound, "Unknown ID should report not found")
}

func TestRedisTaskStore_UpdateTask(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	task := makeTask(t, "render", 5)
	require.NoError(t, s.SaveTask(ctx, task), "Failed to save task")

	require.NoError(t, task.Assign("node-1"), "Failed to assign task")
	require.NoError(t, task.Start(), "Failed to start task")
	require.NoError(t, s.UpdateTask(ctx, task), "Failed to update task")

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err, "Failed to get task after update")
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	assert.Equal(t, "node-1", got.AssignedNodeID)
	require.NotNil(t, got.StartedAt, "Running task should carry its start time")
}

func TestRedisTaskStore_UpdateNotFound(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	task := makeTask(t, "render", 5)
	err := s.UpdateTask(ctx, task)
	assert.ErrorIs(t, err, store.ErrTaskNotFound, "Updating an unsaved task should report not found")
}

func TestRedisTaskStore_ListTasks(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)

	oldest := makeTask(t, "render", 5)
	oldest.CreatedAt = base
	middle := makeTask(t, "upscale", 5)
	middle.CreatedAt = base.Add(time.Minute)
	newest := makeTask(t, "render", 5)
	newest.CreatedAt = base.Add(2 * time.Minute)

	for _, task := range []*domain.Task{newest, oldest, middle} {
		require.NoError(t, s.SaveTask(ctx, task), "Failed to save task")
	}

	all, err := s.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err, "Failed to list tasks")
	require.Len(t, all, 3)
	assert.Equal(t, oldest.ID, all[0].ID, "Oldest task should come first")
	assert.Equal(t, middle.ID, all[1].ID)
	assert.Equal(t, newest.ID, all[2].ID)

	renders, err := s.ListTasks(ctx, store.TaskFilter{Kinds: []string{"render"}})
	require.NoError(t, err, "Failed to list tasks by kind")
	require.Len(t, renders, 2)
	for _, task := range renders {
		assert.Equal(t, "render", task.Kind)
	}

	limited, err := s.ListTasks(ctx, store.TaskFilter{Limit: 1})
	require.NoError(t, err, "Failed to list tasks with limit")
	require.Len(t, limited, 1)
	assert.Equal(t, oldest.ID, limited[0].ID)

	require.NoError(t, middle.Assign("node-2"), "Failed to assign task")
	require.NoError(t, s.UpdateTask(ctx, middle), "Failed to update task")

	assigned, err := s.ListTasks(ctx, store.TaskFilter{
		Statuses: []domain.TaskStatus{domain.TaskStatusAssigned},
	})
	require.NoError(t, err, "Failed to list tasks by status")
	require.Len(t, assigned, 1)
	assert.Equal(t, middle.ID, assigned[0].ID)

	byNode, err := s.ListTasks(ctx, store.TaskFilter{NodeID: "node-2"})
	require.NoError(t, err, "Failed to list tasks by node")
	require.Len(t, byNode, 1)
	assert.Equal(t, middle.ID, byNode[0].ID)
}

func TestRedisTaskStore_RequeueInFlight(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	pending := makeTask(t, "render", 5)
	assigned := makeTask(t, "render", 5)
	running := makeTask(t, "render", 5)

	for _, task := range []*domain.Task{pending, assigned, running} {
		require.NoError(t, s.SaveTask(ctx, task), "Failed to save task")
	}

	require.NoError(t, assigned.Assign("node-1"))
	require.NoError(t, s.UpdateTask(ctx, assigned))
	require.NoError(t, running.Assign("node-1"))
	require.NoError(t, running.Start())
	require.NoError(t, s.UpdateTask(ctx, running))

	count, err := s.RequeueInFlight(ctx, "coordinator restart")
	require.NoError(t, err, "Failed to requeue in-flight tasks")
	assert.Equal(t, int64(2), count, "Both in-flight tasks should be requeued")

	for _, id := range []uuid.UUID{assigned.ID, running.ID} {
		got, err := s.GetTask(ctx, id)
		require.NoError(t, err, "Failed to get requeued task")
		assert.Equal(t, domain.TaskStatusPending, got.Status, "Requeued task should be pending again")
		assert.Empty(t, got.AssignedNodeID)
		assert.Nil(t, got.StartedAt)
		assert.Equal(t, "coordinator restart", got.Error)
	}

	got, err := s.GetTask(ctx, pending.ID)
	require.NoError(t, err, "Failed to get pending task")
	assert.Empty(t, got.Error, "Never-dispatched task should not carry a requeue reason")
}

func TestRedisTaskStore_DeleteTerminalBefore(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	aged := makeTask(t, "render", 5)
	recent := makeTask(t, "render", 5)
	pending := makeTask(t, "render", 5)

	for _, task := range []*domain.Task{aged, recent, pending} {
		require.NoError(t, s.SaveTask(ctx, task), "Failed to save task")
	}

	for _, task := range []*domain.Task{aged, recent} {
		require.NoError(t, task.Assign("node-1"))
		require.NoError(t, task.Start())
		require.NoError(t, task.Complete(nil))
	}
	old := time.Now().UTC().Add(-48 * time.Hour)
	aged.CompletedAt = &old
	require.NoError(t, s.UpdateTask(ctx, aged))
	require.NoError(t, s.UpdateTask(ctx, recent))

	deleted, err := s.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err, "Failed to purge terminal tasks")
	assert.Equal(t, int64(1), deleted, "Only the aged terminal task should be purged")

	_, err = s.GetTask(ctx, aged.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound, "Purged task should be gone")

	_, err = s.GetTask(ctx, recent.ID)
	assert.NoError(t, err, "Recently completed task should survive the purge")

	remaining, err := s.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err, "Failed to list remaining tasks")
	assert.Len(t, remaining, 2, "Purge should also drop the tracked ID")
}

// TestRedisTaskStore_SurvivesReconnect models a coordinator restart: a
// fresh client against the same server must see every stored record.
func TestRedisTaskStore_SurvivesReconnect(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	task := makeTask(t, "render", 9)
	require.NoError(t, s.SaveTask(ctx, task), "Failed to save task")
	require.NoError(t, task.Assign("node-1"))
	require.NoError(t, s.UpdateTask(ctx, task), "Failed to update task")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("Error closing redis client: %v", err)
		}
	}()
	reopened := NewRedisTaskStore(client, nil)

	got, err := reopened.GetTask(ctx, task.ID)
	require.NoError(t, err, "Reopened store should see the stored task")
	assert.Equal(t, domain.TaskStatusAssigned, got.Status)

	count, err := reopened.RequeueInFlight(ctx, "coordinator restart")
	require.NoError(t, err, "Failed to requeue after reconnect")
	assert.Equal(t, int64(1), count)

	got, err = reopened.GetTask(ctx, task.ID)
	require.NoError(t, err, "Failed to get task after requeue")
	assert.Equal(t, domain.TaskStatusPending, got.Status, "In-flight task should be pending after restart")
}
