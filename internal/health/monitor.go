// Package health runs the heartbeat loop over registered worker nodes
// and turns probe outcomes into registry health transitions. When a
// node is lost it releases the node's in-flight tasks back to the
// queue under the retry rule.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/events"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/queue"
	"github.com/skeind/showrunner/internal/registry"
	"github.com/skeind/showrunner/internal/store"
)

// ProbeReport is a node's answer to a heartbeat.
type ProbeReport struct {
	// Healthy is the node's own assessment; false counts as a miss
	// even when the probe itself succeeded.
	Healthy bool

	// CurrentLoad is the number of tasks the node believes it is
	// running, recorded for drift visibility.
	CurrentLoad int

	// Capabilities is the node's current capability set; non-empty
	// reports refresh the registry.
	Capabilities []string
}

// Prober answers heartbeats for worker nodes.
type Prober interface {
	// Probe checks one node within the context's deadline. An error or
	// an unhealthy report both count as a miss.
	Probe(ctx context.Context, node *domain.Node) (ProbeReport, error)
}

// Config carries the monitor's timing knobs.
type Config struct {
	// ProbeInterval is the time between probe rounds.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe; expiry counts as a miss.
	ProbeTimeout time.Duration

	// MaxParallelProbes bounds how many probes run concurrently in a
	// round.
	MaxParallelProbes int64
}

// Monitor drives the probe loop.
type Monitor struct {
	registry *registry.Registry
	queue    *queue.Queue
	prober   Prober
	emitter  events.EventEmitter
	config   Config
	logger   *slog.Logger
}

// New creates a health monitor. If logger is nil, a default logger
// will be used.
func New(reg *registry.Registry, q *queue.Queue, prober Prober, emitter events.EventEmitter, config Config, logger *slog.Logger) *Monitor {
	if reg == nil {
		panic("registry cannot be nil")
	}
	if q == nil {
		panic("queue cannot be nil")
	}
	if prober == nil {
		panic("prober cannot be nil")
	}
	if emitter == nil {
		panic("emitter cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxParallelProbes <= 0 {
		config.MaxParallelProbes = 1
	}

	return &Monitor{
		registry: reg,
		queue:    q,
		prober:   prober,
		emitter:  emitter,
		config:   config,
		logger:   logger.With(slog.String("component", "health_monitor")),
	}
}

// Run probes all nodes every ProbeInterval until the context is
// cancelled. Callers run it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.logger.Info("health monitor started",
		"probe_interval", m.config.ProbeInterval.String(),
		"probe_timeout", m.config.ProbeTimeout.String())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one probe round: every registered node is probed once,
// bounded by MaxParallelProbes, and the round completes before Tick
// returns. Exported so tests and operators can trigger a round without
// waiting for the ticker.
func (m *Monitor) Tick(ctx context.Context) {
	nodes := m.registry.List()
	if len(nodes) == 0 {
		return
	}

	sem := semaphore.NewWeighted(m.config.MaxParallelProbes)
	var wg sync.WaitGroup

	for _, node := range nodes {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(node *domain.Node) {
			defer wg.Done()
			defer sem.Release(1)
			m.probeNode(ctx, node)
		}(node)
	}

	wg.Wait()
}

// probeNode runs a single bounded probe and applies its outcome.
func (m *Monitor) probeNode(ctx context.Context, node *domain.Node) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	report, err := m.prober.Probe(probeCtx, node)
	if err != nil || !report.Healthy {
		if err != nil {
			m.logger.Debug("probe failed",
				"node_id", node.ID,
				"error", err)
		}
		m.recordMiss(ctx, node.ID)
		return
	}

	if _, err := m.registry.RecordProbeSuccess(ctx, node.ID, report.CurrentLoad, report.Capabilities); err != nil {
		m.logger.Error("failed to record probe success",
			"node_id", node.ID,
			"error", err)
	}
}

// recordMiss books a miss and, when it takes the node offline,
// releases the node's in-flight tasks.
func (m *Monitor) recordMiss(ctx context.Context, nodeID string) {
	_, wentOffline, err := m.registry.RecordProbeMiss(nodeID)
	if err != nil {
		m.logger.Error("failed to record probe miss",
			"node_id", nodeID,
			"error", err)
		return
	}

	if !wentOffline {
		return
	}

	if _, err := m.ReleaseNode(ctx, nodeID, "node lost: heartbeat missed"); err != nil {
		m.logger.Error("failed to release tasks of offline node",
			"node_id", nodeID,
			"error", err)
	}
}

// ReleaseNode moves every task assigned to or running on the node back
// through the retry rule: attempts increment, the task returns to
// pending or fails terminally once attempts are exhausted. The node's
// load resets to zero. Exactly the node's in-flight set is touched.
// Also used by administrative node removal.
// Returns the number of tasks released.
func (m *Monitor) ReleaseNode(ctx context.Context, nodeID, reason string) (int, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)

	orphans := m.queue.List(store.TaskFilter{
		NodeID:   nodeID,
		Statuses: []domain.TaskStatus{domain.TaskStatusAssigned, domain.TaskStatusRunning},
	})

	released := 0
	for _, orphan := range orphans {
		updated, err := m.queue.Update(ctx, orphan.ID, func(t *domain.Task) error {
			return t.RecordFailure(reason)
		})
		if err != nil {
			log.Error("failed to release task",
				"task_id", orphan.ID,
				"node_id", nodeID,
				"error", err)
			continue
		}
		released++

		eventType := events.TaskRequeued
		if updated.Status == domain.TaskStatusFailed {
			eventType = events.TaskFailed
		}
		event := events.NewTaskEvent(eventType, updated.ID)
		event.NodeID = nodeID
		event.Detail = reason
		if err := m.emitter.EmitEvent(ctx, event); err != nil {
			log.Error("failed to emit event",
				"task_id", updated.ID,
				"event_type", eventType,
				"error", err)
		}
	}

	// The node is already gone when removal triggered the release.
	if err := m.registry.ResetLoad(nodeID); err != nil && !errors.Is(err, store.ErrNodeNotFound) {
		return released, err
	}

	if released > 0 {
		log.Info("released in-flight tasks of lost node",
			"node_id", nodeID,
			"released_count", released,
			"reason", reason)
	}

	return released, nil
}
