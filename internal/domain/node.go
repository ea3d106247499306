package domain

import (
	"errors"
	"slices"
	"time"
)

// NodeStatus represents the health state of a worker node
type NodeStatus string

// Possible node status values
const (
	NodeStatusDiscovered NodeStatus = "discovered"
	NodeStatusHealthy    NodeStatus = "healthy"
	NodeStatusDegraded   NodeStatus = "degraded"
	NodeStatusOffline    NodeStatus = "offline"
	NodeStatusRemoved    NodeStatus = "removed"
)

// performanceAlpha is the smoothing factor of the exponential moving
// average over observed task durations: score = (1-a)*old + a*latest.
const performanceAlpha = 0.2

// Common validation errors for Node
var (
	ErrEmptyNodeAddress   = errors.New("node address cannot be empty")
	ErrNoNodeCapabilities = errors.New("node must advertise at least one capability")
	ErrInvalidNodeStatus  = errors.New("invalid node status")
	ErrNegativeLoad       = errors.New("node load cannot be negative")
)

// Node represents a worker in the generation farm. Identity fields
// (ID, Address, Capabilities, RegisteredAt) are durable; health, load
// and performance are runtime state rebuilt from live traffic.
type Node struct {
	ID               string     `json:"id"`
	Address          string     `json:"address"`
	Capabilities     []string   `json:"capabilities"`
	Status           NodeStatus `json:"status"`
	CurrentLoad      int        `json:"current_load"`
	ReportedLoad     int        `json:"reported_load"`
	PerformanceScore float64    `json:"performance_score"`
	LastHeartbeatAt  time.Time  `json:"last_heartbeat_at"`
	RegisteredAt     time.Time  `json:"registered_at"`
}

// NewNode creates a new Node in the discovered state. Discovered nodes
// receive no work until the health monitor observes a successful probe.
// Returns an error if validation fails.
func NewNode(id, address string, capabilities []string) (*Node, error) {
	node := &Node{
		ID:           id,
		Address:      address,
		Capabilities: capabilities,
		Status:       NodeStatusDiscovered,
		RegisteredAt: time.Now().UTC(),
	}

	if err := node.Validate(); err != nil {
		return nil, err
	}

	return node, nil
}

// Validate checks if the Node has valid data.
// Returns an error if any field fails validation.
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrEmptyNodeID
	}

	if n.Address == "" {
		return ErrEmptyNodeAddress
	}

	if len(n.Capabilities) == 0 {
		return ErrNoNodeCapabilities
	}

	if !isValidNodeStatus(n.Status) {
		return ErrInvalidNodeStatus
	}

	if n.CurrentLoad < 0 {
		return ErrNegativeLoad
	}

	return nil
}

// HasCapability reports whether the node can execute tasks of the
// given kind.
func (n *Node) HasCapability(kind string) bool {
	return slices.Contains(n.Capabilities, kind)
}

// TransitionTo moves the node to the target health status after
// checking the transition table.
func (n *Node) TransitionTo(to NodeStatus) error {
	if !IsValidNodeTransition(n.Status, to) {
		return ErrInvalidTransition
	}

	n.Status = to
	return nil
}

// ObserveDuration folds a completed task's duration into the node's
// performance score. The first observation seeds the average directly.
func (n *Node) ObserveDuration(d time.Duration) {
	seconds := d.Seconds()
	if n.PerformanceScore == 0 {
		n.PerformanceScore = seconds
		return
	}
	n.PerformanceScore = (1-performanceAlpha)*n.PerformanceScore + performanceAlpha*seconds
}

// Clone returns a copy of the node with its own capability slice.
func (n *Node) Clone() *Node {
	clone := *n
	clone.Capabilities = slices.Clone(n.Capabilities)
	return &clone
}

// isValidNodeStatus checks if the given status is a valid NodeStatus.
func isValidNodeStatus(status NodeStatus) bool {
	switch status {
	case NodeStatusDiscovered, NodeStatusHealthy, NodeStatusDegraded,
		NodeStatusOffline, NodeStatusRemoved:
		return true
	default:
		return false
	}
}
