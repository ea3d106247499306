// Package dispatch contains the scheduling loop that matches pending
// tasks to worker nodes. One goroutine claims tasks in dispatch order
// and hands them to nodes through an Executor; completion, failure and
// progress reports arrive concurrently through the Report methods and
// are serialized by the queue's update lock.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/events"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/queue"
	"github.com/skeind/showrunner/internal/registry"
	"github.com/skeind/showrunner/internal/store"
)

// Executor delivers work to a node. Implementations talk to the node
// agent; an Execute error means the node did not accept the task.
type Executor interface {
	// Execute asks the node to start the task. Returning nil is the
	// node's acknowledgment that execution has begun.
	Execute(ctx context.Context, node *domain.Node, task *domain.Task) error

	// Abort asks the node to stop a task it is running. Best effort;
	// the node may already have finished.
	Abort(ctx context.Context, node *domain.Node, taskID uuid.UUID) error
}

// Config tunes the dispatch loop.
type Config struct {
	// PollInterval is how often the loop runs a pass when no wake
	// signal arrives.
	PollInterval time.Duration

	// NoCandidateBackoff is how long the loop waits before retrying
	// after a pass found pending work but no node able to take it.
	NoCandidateBackoff time.Duration
}

// errReportSettled marks a node report that arrived after the task
// reached a terminal state. Such reports are dropped, not failed: the
// node is allowed to finish work we no longer care about.
var errReportSettled = errors.New("task already settled")

// Dispatcher runs the scheduling loop.
type Dispatcher struct {
	queue    *queue.Queue
	registry *registry.Registry
	executor Executor
	emitter  events.EventEmitter
	config   Config
	logger   *slog.Logger

	// wake has a one-slot buffer; a pending wake signal coalesces
	// with later ones.
	wake   chan struct{}
	paused atomic.Bool
}

// New creates a Dispatcher. Panics if queue, registry, executor or
// emitter is nil, as this is a programming error.
func New(q *queue.Queue, reg *registry.Registry, executor Executor, emitter events.EventEmitter, config Config, logger *slog.Logger) *Dispatcher {
	if q == nil {
		panic("queue cannot be nil")
	}
	if reg == nil {
		panic("registry cannot be nil")
	}
	if executor == nil {
		panic("executor cannot be nil")
	}
	if emitter == nil {
		panic("emitter cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.NoCandidateBackoff <= 0 {
		config.NoCandidateBackoff = 500 * time.Millisecond
	}

	return &Dispatcher{
		queue:    q,
		registry: reg,
		executor: executor,
		emitter:  emitter,
		config:   config,
		logger:   logger.With(slog.String("component", "dispatcher")),
		wake:     make(chan struct{}, 1),
	}
}

// Wake nudges the loop to run a pass now instead of waiting for the
// next poll. Safe to call from any goroutine; signals coalesce.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pause stops the loop from claiming new tasks. In-flight work keeps
// running and reports keep being processed.
func (d *Dispatcher) Pause() {
	if d.paused.CompareAndSwap(false, true) {
		d.logger.Info("dispatch paused")
	}
}

// Resume lets the loop claim tasks again.
func (d *Dispatcher) Resume() {
	if d.paused.CompareAndSwap(true, false) {
		d.logger.Info("dispatch resumed")
		d.Wake()
	}
}

// Paused reports whether claiming is currently paused.
func (d *Dispatcher) Paused() bool {
	return d.paused.Load()
}

// Run drives scheduling passes until the context is cancelled. A pass
// runs on every wake signal and at least every PollInterval; when a
// pass is starved (pending work, no candidates) the next one runs
// after NoCandidateBackoff instead.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		"poll_interval", d.config.PollInterval.String(),
		"no_candidate_backoff", d.config.NoCandidateBackoff.String())

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		_, starved, err := d.pass(ctx)
		if err != nil {
			d.logger.Error("scheduling pass failed", "error", err)
		}

		if starved {
			timer := time.NewTimer(d.config.NoCandidateBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				d.logger.Info("dispatcher stopped")
				return
			case <-d.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// Tick runs a single scheduling pass and reports how many tasks were
// handed to nodes. Exported so tests and operators can drive the
// scheduler without the loop.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	dispatched, _, err := d.pass(ctx)
	return dispatched, err
}

// pass claims pending tasks in dispatch order until the queue is
// drained, a claim hits a persistence failure, or the head task has no
// candidate node. The starved result distinguishes the last case so
// the loop can retry sooner than the poll interval.
func (d *Dispatcher) pass(ctx context.Context) (dispatched int, starved bool, err error) {
	for {
		if d.paused.Load() || ctx.Err() != nil {
			return dispatched, false, nil
		}

		head, ok := d.queue.NextPending()
		if !ok {
			return dispatched, false, nil
		}

		candidates := d.registry.Candidates(head.Kind)
		if len(candidates) == 0 {
			// Not an error: the task stays queued until capacity
			// appears.
			d.logger.Debug("no candidate node",
				"task_id", head.ID.String(),
				"kind", head.Kind)
			return dispatched, true, nil
		}

		handedOff, err := d.claim(ctx, head.ID, candidates[0])
		if err != nil {
			if errors.Is(err, domain.ErrNotPending) || errors.Is(err, store.ErrTaskNotFound) {
				// Lost a race with a concurrent update; the head has
				// moved on.
				continue
			}
			return dispatched, false, err
		}
		if handedOff {
			dispatched++
		}
	}
}

// claim walks one task through assignment and start on the given node.
// The bool result reports whether the node accepted the work; a clean
// false means the claim settled some other way (node gone, execution
// rejected) and the pass should keep going.
func (d *Dispatcher) claim(ctx context.Context, taskID uuid.UUID, node *domain.Node) (bool, error) {
	assigned, err := d.queue.Update(ctx, taskID, func(t *domain.Task) error {
		return t.Assign(node.ID)
	})
	if err != nil {
		return false, err
	}

	if err := d.registry.AddLoad(node.ID, 1); err != nil {
		// The node vanished between candidate selection and claim.
		// Put the task back without charging an attempt.
		d.logger.Warn("claimed node disappeared before start",
			"task_id", taskID.String(),
			"node_id", node.ID)
		if _, err := d.queue.Update(ctx, taskID, func(t *domain.Task) error {
			return t.Requeue("node removed before start")
		}); err != nil {
			d.logger.Error("failed to requeue task after losing node",
				"task_id", taskID.String(),
				"error", err)
		}
		return false, nil
	}

	d.emit(ctx, d.assignedEvent(assigned))

	if err := d.executor.Execute(ctx, node, assigned); err != nil {
		d.logger.Warn("node rejected task",
			"task_id", taskID.String(),
			"node_id", node.ID,
			"error", err)
		d.settleFailure(ctx, taskID, "execution failed: "+err.Error())
		return false, nil
	}

	started, err := d.queue.Update(ctx, taskID, func(t *domain.Task) error {
		return t.Start()
	})
	if err != nil {
		// The node is running the task but the start did not persist.
		// Leave the task assigned; node loss handling or a restart
		// requeues it.
		d.logger.Error("failed to record task start",
			"task_id", taskID.String(),
			"node_id", node.ID,
			"error", err)
		return true, nil
	}

	event := events.NewTaskEvent(events.TaskStarted, started.ID)
	event.NodeID = started.AssignedNodeID
	d.emit(ctx, event)

	d.logger.Info("task dispatched",
		"task_id", taskID.String(),
		"node_id", node.ID,
		"kind", started.Kind,
		"priority", started.Priority)
	return true, nil
}

// ReportCompleted records a node's success report: the task moves to
// completed with the given result, the node's duration average and
// load are updated, and a completion event is emitted. Reports for
// already settled tasks are dropped.
func (d *Dispatcher) ReportCompleted(ctx context.Context, taskID uuid.UUID, result json.RawMessage) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	var nodeID string
	var startedAt *time.Time
	updated, err := d.queue.Update(ctx, taskID, func(t *domain.Task) error {
		if t.IsTerminal() {
			return errReportSettled
		}
		nodeID = t.AssignedNodeID
		startedAt = t.StartedAt
		return t.Complete(result)
	})
	if errors.Is(err, errReportSettled) {
		return d.dropSettledReport(log, taskID, "completion")
	}
	if err != nil {
		return nil, err
	}

	if nodeID != "" {
		if startedAt != nil && updated.CompletedAt != nil {
			if err := d.registry.ObserveDuration(nodeID, updated.CompletedAt.Sub(*startedAt)); err != nil && !errors.Is(err, store.ErrNodeNotFound) {
				log.Error("failed to record task duration",
					"node_id", nodeID,
					"error", err)
			}
		}
		d.releaseLoad(nodeID, taskID)
	}

	event := events.NewTaskEvent(events.TaskCompleted, taskID)
	event.NodeID = nodeID
	event.Result = updated.Result
	d.emit(ctx, event)

	log.Info("task completed",
		"task_id", taskID.String(),
		"node_id", nodeID,
		"attempts", updated.Attempts)
	d.Wake()
	return updated, nil
}

// ReportFailed records a node's failure report and applies the retry
// rule: the attempt counter goes up, and the task returns to pending
// unless its attempt budget is spent. Reports for already settled
// tasks are dropped.
func (d *Dispatcher) ReportFailed(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	updated, nodeID, err := d.failTask(ctx, taskID, reason)
	if errors.Is(err, errReportSettled) {
		return d.dropSettledReport(log, taskID, "failure")
	}
	if err != nil {
		return nil, err
	}

	log.Info("task failure reported",
		"task_id", taskID.String(),
		"node_id", nodeID,
		"attempts", updated.Attempts,
		"status", string(updated.Status))
	d.Wake()
	return updated, nil
}

// ReportProgress emits a progress event for a running task. No status
// change; reports for settled tasks are dropped.
func (d *Dispatcher) ReportProgress(ctx context.Context, taskID uuid.UUID, percent int) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	task, ok := d.queue.Get(taskID)
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if task.IsTerminal() {
		return d.dropSettledReport(log, taskID, "progress")
	}

	event := events.NewTaskEvent(events.TaskProgress, taskID)
	event.NodeID = task.AssignedNodeID
	event.Progress = percent
	d.emit(ctx, event)
	return task, nil
}

// Cancel moves a task to cancelled from any non-terminal state. Work
// already on a node is aborted best-effort; the node may still finish,
// and its late report will be dropped.
func (d *Dispatcher) Cancel(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	var nodeID string
	updated, err := d.queue.Update(ctx, taskID, func(t *domain.Task) error {
		nodeID = t.AssignedNodeID
		return t.Cancel(reason)
	})
	if err != nil {
		return nil, err
	}

	if nodeID != "" {
		d.releaseLoad(nodeID, taskID)
		if node, ok := d.registry.Get(nodeID); ok {
			if err := d.executor.Abort(ctx, node, taskID); err != nil {
				log.Warn("abort request failed",
					"task_id", taskID.String(),
					"node_id", nodeID,
					"error", err)
			}
		}
	}

	event := events.NewTaskEvent(events.TaskCancelled, taskID)
	event.NodeID = nodeID
	event.Detail = reason
	d.emit(ctx, event)

	log.Info("task cancelled",
		"task_id", taskID.String(),
		"node_id", nodeID,
		"reason", reason)
	d.Wake()
	return updated, nil
}

// settleFailure applies the retry rule after a failed Execute and
// logs instead of returning; the scheduling pass moves on either way.
func (d *Dispatcher) settleFailure(ctx context.Context, taskID uuid.UUID, reason string) {
	if _, _, err := d.failTask(ctx, taskID, reason); err != nil && !errors.Is(err, errReportSettled) {
		d.logger.Error("failed to settle execution failure",
			"task_id", taskID.String(),
			"error", err)
	}
}

// failTask runs RecordFailure through the queue, releases the node's
// load and emits the requeued or failed event.
func (d *Dispatcher) failTask(ctx context.Context, taskID uuid.UUID, reason string) (*domain.Task, string, error) {
	var nodeID string
	updated, err := d.queue.Update(ctx, taskID, func(t *domain.Task) error {
		if t.IsTerminal() {
			return errReportSettled
		}
		nodeID = t.AssignedNodeID
		return t.RecordFailure(reason)
	})
	if err != nil {
		return nil, "", err
	}

	if nodeID != "" {
		d.releaseLoad(nodeID, taskID)
	}

	eventType := events.TaskRequeued
	if updated.Status == domain.TaskStatusFailed {
		eventType = events.TaskFailed
	}
	event := events.NewTaskEvent(eventType, taskID)
	event.NodeID = nodeID
	event.Detail = reason
	d.emit(ctx, event)

	return updated, nodeID, nil
}

// releaseLoad decrements a node's load, tolerating nodes that have
// been removed in the meantime.
func (d *Dispatcher) releaseLoad(nodeID string, taskID uuid.UUID) {
	if err := d.registry.AddLoad(nodeID, -1); err != nil && !errors.Is(err, store.ErrNodeNotFound) {
		d.logger.Error("failed to release node load",
			"node_id", nodeID,
			"task_id", taskID.String(),
			"error", err)
	}
}

// dropSettledReport logs and swallows a report that raced a terminal
// transition, returning the task as it settled.
func (d *Dispatcher) dropSettledReport(log *slog.Logger, taskID uuid.UUID, kind string) (*domain.Task, error) {
	log.Debug("dropping report for settled task",
		"task_id", taskID.String(),
		"report", kind)
	task, ok := d.queue.Get(taskID)
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task, nil
}

// assignedEvent builds the assignment notification for a freshly
// claimed task.
func (d *Dispatcher) assignedEvent(task *domain.Task) *events.TaskEvent {
	event := events.NewTaskEvent(events.TaskAssigned, task.ID)
	event.NodeID = task.AssignedNodeID
	return event
}

// emit publishes an event, logging delivery errors. Event delivery
// must never block or fail dispatch accounting.
func (d *Dispatcher) emit(ctx context.Context, event *events.TaskEvent) {
	if err := d.emitter.EmitEvent(ctx, event); err != nil {
		d.logger.Error("failed to emit event",
			"event_type", string(event.Type),
			"task_id", event.TaskID.String(),
			"error", err)
	}
}
