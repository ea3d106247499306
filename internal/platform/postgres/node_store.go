package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/platform/logger"
	"github.com/skeind/showrunner/internal/store"
)

// PostgresNodeStore implements the store.NodeStore interface
// using a PostgreSQL database as the storage backend.
//
// Only node identity is persisted. Health, load and performance are
// runtime state owned by the registry.
type PostgresNodeStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresNodeStore creates a new PostgreSQL implementation of the NodeStore interface.
// It accepts a database connection or transaction that should be initialized and managed
// by the caller. If logger is nil, a default logger will be used.
func NewPostgresNodeStore(db store.DBTX, logger *slog.Logger) *PostgresNodeStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresNodeStore{
		db:     db,
		logger: logger.With(slog.String("component", "node_store")),
	}
}

// Ensure PostgresNodeStore implements store.NodeStore interface
var _ store.NodeStore = (*PostgresNodeStore)(nil)

// WithTx returns a copy of the store bound to the given transaction.
func (s *PostgresNodeStore) WithTx(tx *sql.Tx) *PostgresNodeStore {
	return &PostgresNodeStore{
		db:     tx,
		logger: s.logger,
	}
}

// SaveNode implements store.NodeStore.SaveNode
// It upserts a node's identity record; registration is idempotent.
func (s *PostgresNodeStore) SaveNode(ctx context.Context, node *domain.Node) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := node.Validate(); err != nil {
		log.Warn("node validation failed during save",
			slog.String("error", err.Error()),
			slog.String("node_id", node.ID))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	capabilities, err := json.Marshal(node.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO nodes (id, address, capabilities, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET address = EXCLUDED.address, capabilities = EXCLUDED.capabilities
	`
	if _, err := s.db.ExecContext(ctx, query, node.ID, node.Address, capabilities, node.RegisteredAt); err != nil {
		log.Error("failed to save node",
			slog.String("error", err.Error()),
			slog.String("node_id", node.ID))
		return fmt.Errorf("failed to save node: %w", err)
	}

	log.Debug("node saved",
		slog.String("node_id", node.ID),
		slog.String("address", node.Address))
	return nil
}

// GetNode implements store.NodeStore.GetNode
// It retrieves a node identity by ID.
// Returns store.ErrNodeNotFound if the node does not exist.
func (s *PostgresNodeStore) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT id, address, capabilities, registered_at FROM nodes WHERE id = $1`

	node, err := scanNode(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("node not found", slog.String("node_id", id))
			return nil, store.ErrNodeNotFound
		}
		log.Error("failed to get node",
			slog.String("error", err.Error()),
			slog.String("node_id", id))
		return nil, err
	}

	return node, nil
}

// ListNodes implements store.NodeStore.ListNodes
// It returns the identities of all registered nodes.
func (s *PostgresNodeStore) ListNodes(ctx context.Context) ([]*domain.Node, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT id, address, capabilities, registered_at FROM nodes ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to query nodes", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*domain.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			log.Error("failed to scan node row", slog.String("error", err.Error()))
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating node rows", slog.String("error", err.Error()))
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}

	return nodes, nil
}

// DeleteNode implements store.NodeStore.DeleteNode
// It removes a node's identity record.
// Returns store.ErrNodeNotFound if the node does not exist.
func (s *PostgresNodeStore) DeleteNode(ctx context.Context, id string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete node",
			slog.String("error", err.Error()),
			slog.String("node_id", id))
		return fmt.Errorf("failed to delete node: %w", err)
	}

	if err := CheckRowsAffected(result, "node"); err != nil {
		return fmt.Errorf("%w: %s", store.ErrNodeNotFound, id)
	}

	log.Debug("node deleted", slog.String("node_id", id))
	return nil
}

// scanNode reads one node identity row into a domain.Node in the
// discovered state.
func scanNode(row rowScanner) (*domain.Node, error) {
	var node domain.Node
	var capabilities []byte

	if err := row.Scan(&node.ID, &node.Address, &capabilities, &node.RegisteredAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(capabilities, &node.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}

	node.Status = domain.NodeStatusDiscovered
	return &node, nil
}
