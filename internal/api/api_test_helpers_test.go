package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/skeind/showrunner/internal/api/middleware"
	"github.com/skeind/showrunner/internal/config"
	"github.com/skeind/showrunner/internal/controller"
	"github.com/skeind/showrunner/internal/dispatch"
	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/events"
	"github.com/skeind/showrunner/internal/health"
	"github.com/skeind/showrunner/internal/queue"
	"github.com/skeind/showrunner/internal/registry"
)

// acceptAllExecutor acknowledges every execution and abort request.
type acceptAllExecutor struct{}

func (acceptAllExecutor) Execute(ctx context.Context, node *domain.Node, task *domain.Task) error {
	return nil
}

func (acceptAllExecutor) Abort(ctx context.Context, node *domain.Node, taskID uuid.UUID) error {
	return nil
}

// healthyProber reports every node healthy.
type healthyProber struct{}

func (healthyProber) Probe(ctx context.Context, node *domain.Node) (health.ProbeReport, error) {
	return health.ProbeReport{Healthy: true}, nil
}

// apiFixture wires the handlers onto the real coordination stack over
// in-memory stores, exposing the pieces tests need to stage state.
type apiFixture struct {
	router     http.Handler
	controller *controller.Controller
	dispatcher *dispatch.Dispatcher
	queue      *queue.Queue
	registry   *registry.Registry
	received   *events.ChannelHandler
}

func newAPIFixture(t *testing.T, queueCfg config.QueueConfig) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(queue.NewMockTaskStore(), logger)
	reg := registry.New(registry.NewMockNodeStore(), 3, logger)

	emitter := events.NewInMemoryEventEmitter(logger)
	received := events.NewChannelHandler(64)
	emitter.RegisterHandler(received)
	t.Cleanup(received.Close)

	dispatcher := dispatch.New(q, reg, acceptAllExecutor{}, emitter, dispatch.Config{
		PollInterval:       time.Minute,
		NoCandidateBackoff: time.Millisecond,
	}, logger)

	monitor := health.New(reg, q, healthyProber{}, emitter, health.Config{
		ProbeInterval:     time.Minute,
		ProbeTimeout:      time.Second,
		MaxParallelProbes: 4,
	}, logger)

	ctrl := controller.New(
		q, reg, dispatcher, monitor, nil, emitter,
		queueCfg, config.RefillConfig{}, logger,
	)

	taskHandler := NewTaskHandler(ctrl, logger)
	queueHandler := NewQueueHandler(ctrl, logger)
	nodeHandler := NewNodeHandler(ctrl, logger)
	callbackHandler := NewCallbackHandler(dispatcher, logger)

	router := chi.NewRouter()
	router.Use(middleware.TraceMiddleware)
	router.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.Enqueue)
			r.Get("/", taskHandler.List)
			r.Get("/{id}", taskHandler.Get)
			r.Post("/{id}/cancel", taskHandler.Cancel)
			r.Post("/{id}/retry", taskHandler.Retry)
		})
		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", queueHandler.Stats)
			r.Post("/pause", queueHandler.Pause)
			r.Post("/resume", queueHandler.Resume)
		})
		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", nodeHandler.Register)
			r.Get("/", nodeHandler.List)
			r.Get("/{id}", nodeHandler.Get)
			r.Delete("/{id}", nodeHandler.Remove)
		})
		r.Route("/callbacks", func(r chi.Router) {
			r.Post("/tasks/{id}/progress", callbackHandler.Progress)
			r.Post("/tasks/{id}/complete", callbackHandler.Complete)
			r.Post("/tasks/{id}/fail", callbackHandler.Fail)
		})
	})

	return &apiFixture{
		router:     router,
		controller: ctrl,
		dispatcher: dispatcher,
		queue:      q,
		registry:   reg,
		received:   received,
	}
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		DefaultMaxAttempts: 3,
		DefaultPriority:    5,
		Retention:          24 * time.Hour,
	}
}

// do performs a request against the fixture router. A nil body sends
// an empty request body.
func (f *apiFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// decodeBody unmarshals a recorded JSON response into out.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out),
		"response body should be valid JSON: %s", w.Body.String())
}

// addHealthyNode registers a render-capable node and promotes it to
// healthy so it is eligible for work.
func (f *apiFixture) addHealthyNode(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()

	_, err := f.registry.Register(ctx, registry.RegisterNode{
		ID:           id,
		Address:      "http://10.0.0.50:9090",
		Capabilities: []string{"render"},
	})
	require.NoError(t, err)
	_, err = f.registry.RecordProbeSuccess(ctx, id, 0, nil)
	require.NoError(t, err)
}

// enqueueTask creates a pending task through the HTTP surface and
// returns its decoded response.
func (f *apiFixture) enqueueTask(t *testing.T, body any) TaskResponse {
	t.Helper()

	w := f.do(t, http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, w.Code, "enqueue failed: %s", w.Body.String())

	var task TaskResponse
	decodeBody(t, w, &task)
	return task
}

// drainEvents empties the captured event stream.
func (f *apiFixture) drainEvents() []events.TaskEvent {
	var drained []events.TaskEvent
	for {
		select {
		case event := <-f.received.Events():
			drained = append(drained, event)
		default:
			return drained
		}
	}
}

// startTaskOnNode dispatches the queue head onto the given healthy
// node and returns the running task's ID.
func (f *apiFixture) startTaskOnNode(t *testing.T, taskID string) uuid.UUID {
	t.Helper()

	dispatched, err := f.dispatcher.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, dispatched, "expected the task to be handed off")

	id := uuid.MustParse(taskID)
	stored, ok := f.queue.Get(id)
	require.True(t, ok)
	require.Equal(t, domain.TaskStatusRunning, stored.Status)
	return id
}
