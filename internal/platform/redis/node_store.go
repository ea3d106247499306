package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/store"
)

const (
	nodeKeyPrefix = "showrunner:node:"
	nodeIDsKey    = "showrunner:nodes"
)

// nodeRecord is the durable slice of a node. Health, load and scoring
// are runtime state owned by the registry and rebuilt after a restart.
type nodeRecord struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	Capabilities []string  `json:"capabilities"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RedisNodeStore implements the store.NodeStore interface using Redis
// as the storage backend.
type RedisNodeStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisNodeStore creates a new Redis implementation of the NodeStore
// interface. The client should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewRedisNodeStore(client *redis.Client, logger *slog.Logger) *RedisNodeStore {
	if client == nil {
		panic("client cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RedisNodeStore{
		client: client,
		logger: logger.With(slog.String("component", "redis_node_store")),
	}
}

// Ensure RedisNodeStore implements store.NodeStore interface
var _ store.NodeStore = (*RedisNodeStore)(nil)

// SaveNode implements store.NodeStore.SaveNode
// Saving an already known ID overwrites the stored identity, so node
// re-registration is an upsert.
func (s *RedisNodeStore) SaveNode(ctx context.Context, node *domain.Node) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := node.Validate(); err != nil {
		log.Warn("node validation failed during save",
			slog.String("error", err.Error()),
			slog.String("node_id", node.ID))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	data, err := json.Marshal(nodeRecord{
		ID:           node.ID,
		Address:      node.Address,
		Capabilities: node.Capabilities,
		RegisteredAt: node.RegisteredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, nodeKeyPrefix+node.ID, data, 0)
	pipe.SAdd(ctx, nodeIDsKey, node.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save node: %w", err)
	}

	return nil
}

// GetNode implements store.NodeStore.GetNode
// Returns store.ErrNodeNotFound if the node is not stored.
func (s *RedisNodeStore) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	data, err := s.client.Get(ctx, nodeKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNodeNotFound
		}
		return nil, fmt.Errorf("get node: %w", err)
	}

	return decodeNode(data)
}

// ListNodes implements store.NodeStore.ListNodes
// Results are ordered by node ID, matching the Postgres backend.
func (s *RedisNodeStore) ListNodes(ctx context.Context) ([]*domain.Node, error) {
	ids, err := s.client.SMembers(ctx, nodeIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list node ids: %w", err)
	}

	if len(ids) == 0 {
		return []*domain.Node{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, nodeKeyPrefix+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fetch nodes: %w", err)
	}

	nodes := make([]*domain.Node, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}

		node, err := decodeNode(data)
		if err != nil {
			continue
		}
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return nodes, nil
}

// DeleteNode implements store.NodeStore.DeleteNode
// Returns store.ErrNodeNotFound if the node is not stored.
func (s *RedisNodeStore) DeleteNode(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, nodeKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if deleted == 0 {
		return store.ErrNodeNotFound
	}

	if err := s.client.SRem(ctx, nodeIDsKey, id).Err(); err != nil {
		return fmt.Errorf("untrack node id: %w", err)
	}

	return nil
}

// decodeNode rebuilds a domain node from its durable record. Reloaded
// nodes start over as discovered with no load or score history.
func decodeNode(data []byte) (*domain.Node, error) {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}

	return &domain.Node{
		ID:           rec.ID,
		Address:      rec.Address,
		Capabilities: rec.Capabilities,
		Status:       domain.NodeStatusDiscovered,
		RegisteredAt: rec.RegisteredAt,
	}, nil
}
