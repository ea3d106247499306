// Package controller exposes the queue's public surface: enqueueing,
// cancellation, retry, pause and resume, task and node views, queue
// statistics, and the refill and retention maintenance. The HTTP API
// is a thin layer over this package.
package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/skeind/showrunner/internal/config"
	"github.com/skeind/showrunner/internal/dispatch"
	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/events"
	"github.com/skeind/showrunner/internal/generation"
	"github.com/skeind/showrunner/internal/health"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/queue"
	"github.com/skeind/showrunner/internal/registry"
	"github.com/skeind/showrunner/internal/store"
)

// defaultCancelReason is recorded on tasks cancelled without an
// operator-supplied reason.
const defaultCancelReason = "cancelled by operator"

// EnqueueRequest carries the fields of a new task. Zero Priority and
// MaxAttempts take the configured defaults.
type EnqueueRequest struct {
	Kind        string
	Payload     json.RawMessage
	Priority    int
	MaxAttempts int
}

// TaskDetail is the per-task view. Pending tasks additionally report
// their position in dispatch order and a completion estimate.
type TaskDetail struct {
	Task          *domain.Task
	QueuePosition *int
	ETASeconds    *float64
}

// Controller implements the queue's public operations on top of the
// queue, registry, dispatcher and health monitor.
type Controller struct {
	queue      *queue.Queue
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	generator  generation.Generator
	emitter    *events.InMemoryEventEmitter
	queueCfg   config.QueueConfig
	refillCfg  config.RefillConfig
	logger     *slog.Logger

	stats    *statsRecorder
	refillMu sync.Mutex
	cron     *cron.Cron
}

// New creates a Controller and registers its statistics recorder on
// the emitter. Panics if queue, registry, dispatcher, monitor or
// emitter is nil, or if refill is enabled without a generator.
func New(
	q *queue.Queue,
	reg *registry.Registry,
	dispatcher *dispatch.Dispatcher,
	monitor *health.Monitor,
	generator generation.Generator,
	emitter *events.InMemoryEventEmitter,
	queueCfg config.QueueConfig,
	refillCfg config.RefillConfig,
	logger *slog.Logger,
) *Controller {
	if q == nil {
		panic("queue cannot be nil")
	}
	if reg == nil {
		panic("registry cannot be nil")
	}
	if dispatcher == nil {
		panic("dispatcher cannot be nil")
	}
	if monitor == nil {
		panic("monitor cannot be nil")
	}
	if emitter == nil {
		panic("emitter cannot be nil")
	}
	if refillCfg.Enabled && generator == nil {
		panic("generator cannot be nil when refill is enabled")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		queue:      q,
		registry:   reg,
		dispatcher: dispatcher,
		monitor:    monitor,
		generator:  generator,
		emitter:    emitter,
		queueCfg:   queueCfg,
		refillCfg:  refillCfg,
		logger:     logger.With(slog.String("component", "controller")),
	}

	c.stats = newStatsRecorder(q, c.onTerminalEvent)
	emitter.RegisterHandler(c.stats)
	return c
}

// Enqueue validates and persists a new task, announces it and wakes
// the dispatcher.
func (c *Controller) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	if !c.kindAllowed(req.Kind) {
		return nil, domain.ErrUnknownKind
	}

	priority := req.Priority
	if priority == 0 {
		priority = c.queueCfg.DefaultPriority
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = c.queueCfg.DefaultMaxAttempts
	}

	task, err := domain.NewTask(req.Kind, req.Payload, priority, maxAttempts)
	if err != nil {
		return nil, err
	}

	if err := c.queue.Put(ctx, task); err != nil {
		return nil, err
	}

	c.emit(ctx, events.NewTaskEvent(events.TaskEnqueued, task.ID))
	c.dispatcher.Wake()

	log.Info("task enqueued",
		"task_id", task.ID.String(),
		"kind", task.Kind,
		"priority", task.Priority)
	return task, nil
}

// Cancel cancels a task in any non-terminal state. Returns
// store.ErrTaskNotFound for unknown tasks and domain.ErrNotCancellable
// for settled ones.
func (c *Controller) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Task, error) {
	if reason == "" {
		reason = defaultCancelReason
	}
	return c.dispatcher.Cancel(ctx, id, reason)
}

// Retry returns a failed task to the queue with a fresh attempt
// budget. Returns domain.ErrNotFailed for tasks in any other state.
func (c *Controller) Retry(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	updated, err := c.queue.Update(ctx, id, func(t *domain.Task) error {
		return t.ResetForRetry()
	})
	if err != nil {
		return nil, err
	}

	c.emit(ctx, events.NewTaskEvent(events.TaskRetried, id))
	c.dispatcher.Wake()

	log.Info("task retried", "task_id", id.String())
	return updated, nil
}

// Pause stops the dispatcher from claiming new tasks. In-flight work
// keeps completing.
func (c *Controller) Pause(ctx context.Context) {
	c.dispatcher.Pause()
}

// Resume lets the dispatcher claim tasks again.
func (c *Controller) Resume(ctx context.Context) {
	c.dispatcher.Resume()
}

// Task returns the detail view of one task. Pending tasks include
// their dispatch-order position and, when enough is known about the
// farm, an estimated wait.
func (c *Controller) Task(ctx context.Context, id uuid.UUID) (TaskDetail, error) {
	task, ok := c.queue.Get(id)
	if !ok {
		return TaskDetail{}, store.ErrTaskNotFound
	}

	detail := TaskDetail{Task: task}
	if task.Status != domain.TaskStatusPending {
		return detail, nil
	}

	position, ok := c.queue.PendingAhead(id)
	if !ok {
		return detail, nil
	}
	detail.QueuePosition = &position

	avg := c.averageDurationSeconds()
	healthy := c.registry.CountByStatus()[domain.NodeStatusHealthy]
	if avg > 0 {
		eta := float64(position+1) * avg / float64(max(1, healthy))
		detail.ETASeconds = &eta
	}
	return detail, nil
}

// Tasks lists tasks matching the filter.
func (c *Controller) Tasks(ctx context.Context, filter store.TaskFilter) []*domain.Task {
	return c.queue.List(filter)
}

// RegisterNode registers a worker node or refreshes the registration
// of a live one.
func (c *Controller) RegisterNode(ctx context.Context, input registry.RegisterNode) (*domain.Node, error) {
	return c.registry.Register(ctx, input)
}

// Nodes lists every registered node with its runtime health state.
func (c *Controller) Nodes(ctx context.Context) []*domain.Node {
	return c.registry.List()
}

// Node returns one node. Returns store.ErrNodeNotFound for unknown
// IDs.
func (c *Controller) Node(ctx context.Context, id string) (*domain.Node, error) {
	node, ok := c.registry.Get(id)
	if !ok {
		return nil, store.ErrNodeNotFound
	}
	return node, nil
}

// RemoveNode removes a node from the pool and requeues its in-flight
// tasks under the node-loss rule. Returns the removed node and how
// many tasks were released.
func (c *Controller) RemoveNode(ctx context.Context, id string) (*domain.Node, int, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	node, err := c.registry.Remove(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	released, err := c.monitor.ReleaseNode(ctx, id, "node removed by operator")
	if err != nil {
		// The node is already gone; its orphans stay visible for the
		// next release pass.
		log.Error("failed to release tasks of removed node",
			"node_id", id,
			"error", err)
	}
	return node, released, nil
}

// Subscribe registers a handler for task lifecycle events. Handlers
// must not block; see events.ChannelHandler for pull-style consumers.
func (c *Controller) Subscribe(handler events.EventHandler) {
	c.emitter.RegisterHandler(handler)
}

// kindAllowed checks the kind against the configured allow-list. An
// empty list accepts any kind.
func (c *Controller) kindAllowed(kind string) bool {
	if len(c.queueCfg.AllowedKinds) == 0 {
		return true
	}
	return slices.Contains(c.queueCfg.AllowedKinds, kind)
}

// emit publishes an event, logging delivery errors.
func (c *Controller) emit(ctx context.Context, event *events.TaskEvent) {
	if err := c.emitter.EmitEvent(ctx, event); err != nil {
		c.logger.Error("failed to emit event",
			"event_type", string(event.Type),
			"task_id", event.TaskID.String(),
			"error", err)
	}
}

// onTerminalEvent runs after every terminal task event: freed capacity
// may put the queue below its low-water mark.
func (c *Controller) onTerminalEvent(ctx context.Context) {
	if !c.refillCfg.Enabled {
		return
	}
	if _, err := c.RefillTick(ctx); err != nil {
		c.logger.Warn("refill after terminal event failed", "error", err)
	}
}
