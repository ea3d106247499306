package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/store"
)

// MockNodeStore implements the store.NodeStore interface in memory for
// testing. SaveFn and DeleteFn can be replaced to inject persistence
// failures.
type MockNodeStore struct {
	mutex sync.RWMutex
	nodes map[string]*domain.Node

	SaveFn   func(ctx context.Context, node *domain.Node) error
	DeleteFn func(ctx context.Context, id string) error
}

// NewMockNodeStore creates a new MockNodeStore with default implementations.
func NewMockNodeStore() *MockNodeStore {
	s := &MockNodeStore{
		nodes: make(map[string]*domain.Node),
	}

	s.SaveFn = func(ctx context.Context, node *domain.Node) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		// Durable identity only, like the real backends.
		stored := &domain.Node{
			ID:           node.ID,
			Address:      node.Address,
			Capabilities: append([]string(nil), node.Capabilities...),
			Status:       domain.NodeStatusDiscovered,
			RegisteredAt: node.RegisteredAt,
		}
		s.nodes[node.ID] = stored
		return nil
	}

	s.DeleteFn = func(ctx context.Context, id string) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if _, exists := s.nodes[id]; !exists {
			return store.ErrNodeNotFound
		}
		delete(s.nodes, id)
		return nil
	}

	return s
}

// Ensure MockNodeStore implements store.NodeStore interface
var _ store.NodeStore = (*MockNodeStore)(nil)

// SaveNode persists a node to the mock store
func (s *MockNodeStore) SaveNode(ctx context.Context, node *domain.Node) error {
	return s.SaveFn(ctx, node)
}

// GetNode retrieves a node from the mock store
func (s *MockNodeStore) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, store.ErrNodeNotFound
	}
	return node.Clone(), nil
}

// ListNodes returns all nodes in the mock store ordered by ID
func (s *MockNodeStore) ListNodes(ctx context.Context) ([]*domain.Node, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	nodes := make([]*domain.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, node.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// DeleteNode removes a node from the mock store
func (s *MockNodeStore) DeleteNode(ctx context.Context, id string) error {
	return s.DeleteFn(ctx, id)
}
