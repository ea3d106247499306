package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeind/showrunner/internal/api/shared"
	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/events"
)

// backdateStart shifts a running task's start time into the past so
// completion reports produce a measurable duration.
func (f *apiFixture) backdateStart(t *testing.T, taskID uuid.UUID, by time.Duration) {
	t.Helper()
	_, err := f.queue.Update(context.Background(), taskID, func(task *domain.Task) error {
		started := time.Now().UTC().Add(-by)
		task.StartedAt = &started
		return nil
	})
	require.NoError(t, err)
}

func TestCallbackHandlerProgress(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())
	f.addHealthyNode(t, "gpu-01")

	task := f.enqueueTask(t, map[string]any{"kind": "render"})
	taskID := f.startTaskOnNode(t, task.ID)
	f.drainEvents()

	w := f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/progress",
		map[string]any{"progress": 40})
	require.Equal(t, http.StatusOK, w.Code)

	var resp TaskResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "gpu-01", resp.AssignedNodeID)

	drained := f.drainEvents()
	require.Len(t, drained, 1)
	assert.Equal(t, events.TaskProgress, drained[0].Type)
	assert.Equal(t, taskID, drained[0].TaskID)
	assert.Equal(t, "gpu-01", drained[0].NodeID)
	assert.Equal(t, 40, drained[0].Progress)
}

func TestCallbackHandlerProgressValidation(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())
	f.addHealthyNode(t, "gpu-01")

	task := f.enqueueTask(t, map[string]any{"kind": "render"})
	f.startTaskOnNode(t, task.ID)

	testCases := []struct {
		name        string
		body        any
		expectedMsg string
	}{
		{
			name:        "progress above 100",
			body:        map[string]any{"progress": 150},
			expectedMsg: "Invalid Progress: value too large",
		},
		{
			name:        "negative progress",
			body:        map[string]any{"progress": -5},
			expectedMsg: "Invalid Progress: value too small",
		},
		{
			name:        "malformed JSON",
			body:        `{"progress":`,
			expectedMsg: "Invalid request format",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/progress", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var errResp shared.ErrorResponse
			decodeBody(t, w, &errResp)
			assert.Equal(t, tc.expectedMsg, errResp.Error)
		})
	}
}

func TestCallbackHandlerComplete(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())
	f.addHealthyNode(t, "gpu-01")

	task := f.enqueueTask(t, map[string]any{"kind": "render"})
	taskID := f.startTaskOnNode(t, task.ID)
	f.backdateStart(t, taskID, 90*time.Second)
	f.drainEvents()

	w := f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/complete",
		map[string]any{"result": map[string]any{"frames": 240, "codec": "h264"}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp TaskResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "completed", resp.Status)
	assert.JSONEq(t, `{"frames":240,"codec":"h264"}`, string(resp.Result))
	require.NotNil(t, resp.CompletedAt)

	// Finishing the task frees the node and feeds its duration average.
	node, ok := f.registry.Get("gpu-01")
	require.True(t, ok)
	assert.Equal(t, 0, node.CurrentLoad)
	assert.Greater(t, node.PerformanceScore, 0.0)

	drained := f.drainEvents()
	require.Len(t, drained, 1)
	assert.Equal(t, events.TaskCompleted, drained[0].Type)
	assert.Equal(t, taskID, drained[0].TaskID)
	assert.JSONEq(t, `{"frames":240,"codec":"h264"}`, string(drained[0].Result))
}

func TestCallbackHandlerCompleteWithoutBody(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())
	f.addHealthyNode(t, "gpu-01")

	task := f.enqueueTask(t, map[string]any{"kind": "render"})
	f.startTaskOnNode(t, task.ID)

	w := f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TaskResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "completed", resp.Status)
	assert.Empty(t, resp.Result)
}

func TestCallbackHandlerFailRequeues(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())
	f.addHealthyNode(t, "gpu-01")

	task := f.enqueueTask(t, map[string]any{"kind": "render"})
	f.startTaskOnNode(t, task.ID)

	w := f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/fail",
		map[string]any{"reason": "CUDA out of memory"})
	require.Equal(t, http.StatusOK, w.Code)

	// Attempt budget not spent, so the task goes back to pending.
	var resp TaskResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "CUDA out of memory", resp.Error)
	assert.Empty(t, resp.AssignedNodeID)

	node, ok := f.registry.Get("gpu-01")
	require.True(t, ok)
	assert.Equal(t, 0, node.CurrentLoad)
}

func TestCallbackHandlerFailDefaultReason(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())
	f.addHealthyNode(t, "gpu-01")

	task := f.enqueueTask(t, map[string]any{"kind": "render"})
	f.startTaskOnNode(t, task.ID)

	w := f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/fail", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TaskResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "node reported failure", resp.Error)
}

func TestCallbackHandlerLateReportDropped(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())
	f.addHealthyNode(t, "gpu-01")

	task := f.enqueueTask(t, map[string]any{"kind": "render"})
	f.startTaskOnNode(t, task.ID)

	w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/cancel",
		map[string]any{"reason": "shot cut from the episode"})
	require.Equal(t, http.StatusOK, w.Code)
	f.drainEvents()

	// The node did not see the abort and reports anyway. The report is
	// dropped, but the 200 tells the node to stop resending.
	w = f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/complete",
		map[string]any{"result": map[string]any{"frames": 240}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp TaskResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "cancelled", resp.Status)
	assert.Empty(t, resp.Result)

	w = f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/fail",
		map[string]any{"reason": "render aborted"})
	require.Equal(t, http.StatusOK, w.Code)

	decodeBody(t, w, &resp)
	assert.Equal(t, "cancelled", resp.Status)
	assert.Zero(t, resp.Attempts)
	assert.Equal(t, "shot cut from the episode", resp.Error)

	w = f.do(t, http.MethodPost, "/api/callbacks/tasks/"+task.ID+"/progress",
		map[string]any{"progress": 80})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, f.drainEvents())
}

func TestCallbackHandlerUnknownTask(t *testing.T) {
	f := newAPIFixture(t, testQueueConfig())

	endpoints := []string{"progress", "complete", "fail"}
	for _, endpoint := range endpoints {
		t.Run(endpoint, func(t *testing.T) {
			target := "/api/callbacks/tasks/" + uuid.NewString() + "/" + endpoint
			body := map[string]any{}
			if endpoint == "progress" {
				body = map[string]any{"progress": 10}
			}

			w := f.do(t, http.MethodPost, target, body)
			require.Equal(t, http.StatusNotFound, w.Code)

			var errResp shared.ErrorResponse
			decodeBody(t, w, &errResp)
			assert.Equal(t, "Task not found", errResp.Error)
		})
	}

	t.Run("invalid task id", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/callbacks/tasks/not-a-uuid/complete", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var errResp shared.ErrorResponse
		decodeBody(t, w, &errResp)
		assert.Equal(t, "Invalid id: has invalid format", errResp.Error)
	})
}
