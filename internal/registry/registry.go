// Package registry tracks the worker nodes of the farm: identity,
// health, load and performance. Node identity is persisted through
// store.NodeStore; health and load are runtime state driven by the
// health monitor and the dispatcher. All reads return copies, never the
// live records.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/store"
)

// RegisterNode is the input for registering a worker node.
type RegisterNode struct {
	ID           string
	Address      string
	Capabilities []string
}

// Registry is the in-memory node registry backed by a durable identity
// store. A node's durable slice is its identity; everything else is
// rebuilt from probes and dispatch traffic after a restart.
type Registry struct {
	mu     sync.RWMutex
	store  store.NodeStore
	logger *slog.Logger

	// offlineThreshold is the number of consecutive probe misses after
	// which a degraded node is marked offline.
	offlineThreshold int

	nodes  map[string]*domain.Node
	misses map[string]int
}

// New creates a registry over the given durable store. If logger is
// nil, a default logger will be used.
func New(nodeStore store.NodeStore, offlineThreshold int, logger *slog.Logger) *Registry {
	if nodeStore == nil {
		panic("nodeStore cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		store:            nodeStore,
		logger:           logger.With(slog.String("component", "registry")),
		offlineThreshold: offlineThreshold,
		nodes:            make(map[string]*domain.Node),
		misses:           make(map[string]int),
	}
}

// Register adds a worker node, persisting its identity before it
// becomes visible. New nodes start as discovered and receive no work
// until the first successful probe. Registering an already known ID
// updates address and capabilities in place, preserving health state
// and load, so agent restarts are idempotent.
func (r *Registry) Register(ctx context.Context, input RegisterNode) (*domain.Node, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.nodes[input.ID]; ok {
		updated := existing.Clone()
		updated.Address = input.Address
		updated.Capabilities = slices.Clone(input.Capabilities)
		if err := updated.Validate(); err != nil {
			return nil, err
		}
		if err := r.store.SaveNode(ctx, updated); err != nil {
			return nil, fmt.Errorf("failed to save node: %w", err)
		}

		r.nodes[input.ID] = updated
		log.Info("node re-registered",
			"node_id", updated.ID,
			"address", updated.Address,
			"capabilities", updated.Capabilities)
		return updated.Clone(), nil
	}

	node, err := domain.NewNode(input.ID, input.Address, input.Capabilities)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveNode(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to save node: %w", err)
	}

	r.nodes[node.ID] = node
	r.misses[node.ID] = 0

	log.Info("node registered",
		"node_id", node.ID,
		"address", node.Address,
		"capabilities", node.Capabilities)

	return node.Clone(), nil
}

// Remove deletes a node administratively, in any health state. The
// durable record is deleted before the node disappears from memory.
// Returns the removed node's final snapshot; the caller is responsible
// for requeueing any tasks still attributed to it.
func (r *Registry) Remove(ctx context.Context, id string) (*domain.Node, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return nil, store.ErrNodeNotFound
	}

	if err := r.store.DeleteNode(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to delete node: %w", err)
	}

	delete(r.nodes, id)
	delete(r.misses, id)

	snapshot := node.Clone()
	// Valid from every live status.
	_ = snapshot.TransitionTo(domain.NodeStatusRemoved)

	log.Info("node removed",
		"node_id", id,
		"last_status", string(node.Status),
		"load_at_removal", node.CurrentLoad)

	return snapshot, nil
}

// Get returns a copy of the node with the given ID.
func (r *Registry) Get(id string) (*domain.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return node.Clone(), true
}

// List returns copies of all registered nodes ordered by ID. Offline
// nodes stay listed until removed; node loss is never silent.
func (r *Registry) List() []*domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]*domain.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Candidates returns healthy nodes able to execute the given kind,
// ranked best-first: least loaded, then lowest performance score
// (average seconds per task, so lower is faster; unproven nodes score
// zero and get benefit of the doubt), then ID for a stable order.
func (r *Registry) Candidates(kind string) []*domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*domain.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		if node.Status != domain.NodeStatusHealthy {
			continue
		}
		if !node.HasCapability(kind) {
			continue
		}
		candidates = append(candidates, node.Clone())
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CurrentLoad != b.CurrentLoad {
			return a.CurrentLoad < b.CurrentLoad
		}
		if a.PerformanceScore != b.PerformanceScore {
			return a.PerformanceScore < b.PerformanceScore
		}
		return a.ID < b.ID
	})

	return candidates
}

// CountByStatus returns the number of nodes in each health status.
func (r *Registry) CountByStatus() map[domain.NodeStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.NodeStatus]int)
	for _, node := range r.nodes {
		counts[node.Status]++
	}
	return counts
}

// AddLoad adjusts a node's in-flight count. Load changes always pair
// with a task transition; a delta that would drive the count negative
// reports drift instead of applying.
func (r *Registry) AddLoad(id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return store.ErrNodeNotFound
	}

	next := node.CurrentLoad + delta
	if next < 0 {
		r.logger.Warn("load accounting drift detected",
			"node_id", id,
			"current_load", node.CurrentLoad,
			"delta", delta)
		return domain.ErrNegativeLoad
	}

	node.CurrentLoad = next
	return nil
}

// ResetLoad zeroes a node's in-flight count. Used when the node's
// tasks have been requeued wholesale after it went offline or was
// removed.
func (r *Registry) ResetLoad(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return store.ErrNodeNotFound
	}

	node.CurrentLoad = 0
	return nil
}

// ObserveDuration folds a completed task's duration into the node's
// performance score.
func (r *Registry) ObserveDuration(id string, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return store.ErrNodeNotFound
	}

	node.ObserveDuration(d)
	return nil
}

// RecordProbeSuccess applies a successful heartbeat: the node reports
// healthy, its advertised load and capabilities refresh, and the miss
// counter resets. Capability changes are persisted before they become
// visible. Returns the updated snapshot.
func (r *Registry) RecordProbeSuccess(ctx context.Context, id string, reportedLoad int, capabilities []string) (*domain.Node, error) {
	log := logger.FromContextOrDefault(ctx, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return nil, store.ErrNodeNotFound
	}

	if len(capabilities) > 0 && !slices.Equal(node.Capabilities, capabilities) {
		updated := node.Clone()
		updated.Capabilities = slices.Clone(capabilities)
		if err := r.store.SaveNode(ctx, updated); err != nil {
			return nil, fmt.Errorf("failed to save node: %w", err)
		}
		r.nodes[id] = updated
		node = updated
		log.Info("node capabilities updated",
			"node_id", id,
			"capabilities", capabilities)
	}

	if node.Status != domain.NodeStatusHealthy {
		if err := node.TransitionTo(domain.NodeStatusHealthy); err != nil {
			return nil, err
		}
		log.Info("node healthy",
			"node_id", id)
	}

	node.LastHeartbeatAt = time.Now().UTC()
	node.ReportedLoad = reportedLoad
	r.misses[id] = 0

	return node.Clone(), nil
}

// RecordProbeMiss counts a failed, timed-out or unhealthy probe. The
// first miss degrades the node; reaching the consecutive-miss threshold
// takes it offline. Reports wentOffline true exactly once, on the
// transition, so the caller can requeue the node's in-flight tasks.
func (r *Registry) RecordProbeMiss(id string) (node *domain.Node, wentOffline bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.nodes[id]
	if !ok {
		return nil, false, store.ErrNodeNotFound
	}

	r.misses[id]++
	misses := r.misses[id]

	switch current.Status {
	case domain.NodeStatusDiscovered, domain.NodeStatusHealthy:
		if err := current.TransitionTo(domain.NodeStatusDegraded); err != nil {
			return nil, false, err
		}
		r.logger.Warn("node degraded",
			"node_id", id,
			"consecutive_misses", misses)
	case domain.NodeStatusDegraded:
		if misses >= r.offlineThreshold {
			if err := current.TransitionTo(domain.NodeStatusOffline); err != nil {
				return nil, false, err
			}
			wentOffline = true
			r.logger.Error("node offline",
				"node_id", id,
				"consecutive_misses", misses)
		}
	case domain.NodeStatusOffline:
		// Already offline, keep counting quietly.
	}

	return current.Clone(), wentOffline, nil
}

// Reload rebuilds the registry from the durable store. Every node
// comes back as discovered with no load or score history; the next
// probe round re-establishes health. Runs once at startup.
func (r *Registry) Reload(ctx context.Context) error {
	log := logger.FromContextOrDefault(ctx, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, err := r.store.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}

	r.nodes = make(map[string]*domain.Node, len(nodes))
	r.misses = make(map[string]int, len(nodes))
	for _, node := range nodes {
		r.nodes[node.ID] = node
		r.misses[node.ID] = 0
	}

	log.Info("node registry reloaded", "node_count", len(nodes))

	return nil
}
