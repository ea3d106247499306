package store

import (
	"context"

	"github.com/skeind/showrunner/internal/domain"
)

// NodeStore defines the interface for durable node identity persistence.
//
// Only identity fields (ID, address, capabilities, registration time)
// are stored. Health, load and performance are runtime state owned by
// the registry and rebuilt from live traffic after a restart.
type NodeStore interface {
	// SaveNode persists a node's identity, overwriting any existing
	// record with the same ID. Registration is idempotent, so this is
	// an upsert.
	SaveNode(ctx context.Context, node *domain.Node) error

	// GetNode retrieves a node by its ID.
	// Returns ErrNodeNotFound if the node does not exist.
	GetNode(ctx context.Context, id string) (*domain.Node, error)

	// ListNodes returns the identities of all registered nodes.
	ListNodes(ctx context.Context) ([]*domain.Node, error)

	// DeleteNode removes a node's identity.
	// Returns ErrNodeNotFound if the node does not exist.
	DeleteNode(ctx context.Context, id string) error
}
