package domain

import (
	"math"
	"testing"
	"time"
)

func TestNewNode(t *testing.T) {
	t.Parallel() // Enable parallel execution
	node, err := NewNode("workstation-3", "http://10.0.0.3:8090", []string{"story", "shot"})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if node.Status != NodeStatusDiscovered {
		t.Errorf("Expected status %s, got %s", NodeStatusDiscovered, node.Status)
	}

	if node.CurrentLoad != 0 {
		t.Errorf("Expected zero load, got %d", node.CurrentLoad)
	}

	if node.RegisteredAt.IsZero() {
		t.Error("Expected non-zero RegisteredAt time")
	}

	// Test invalid ID
	_, err = NewNode("", "http://10.0.0.3:8090", []string{"story"})
	if err != ErrEmptyNodeID {
		t.Errorf("Expected error %v, got %v", ErrEmptyNodeID, err)
	}

	// Test invalid address
	_, err = NewNode("workstation-3", "", []string{"story"})
	if err != ErrEmptyNodeAddress {
		t.Errorf("Expected error %v, got %v", ErrEmptyNodeAddress, err)
	}

	// Test empty capabilities
	_, err = NewNode("workstation-3", "http://10.0.0.3:8090", nil)
	if err != ErrNoNodeCapabilities {
		t.Errorf("Expected error %v, got %v", ErrNoNodeCapabilities, err)
	}
}

func TestNodeHasCapability(t *testing.T) {
	t.Parallel() // Enable parallel execution
	node, err := NewNode("gpu-1", "http://10.0.0.7:8090", []string{"render", "shot"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !node.HasCapability("render") {
		t.Error("Expected node to have render capability")
	}

	if node.HasCapability("story") {
		t.Error("Expected node to lack story capability")
	}
}

func TestNodeTransitionTo(t *testing.T) {
	t.Parallel() // Enable parallel execution
	node, err := NewNode("gpu-1", "http://10.0.0.7:8090", []string{"render"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := node.TransitionTo(NodeStatusHealthy); err != nil {
		t.Fatalf("Expected discovered -> healthy to succeed, got %v", err)
	}

	if err := node.TransitionTo(NodeStatusOffline); err != ErrInvalidTransition {
		t.Errorf("Expected healthy -> offline to fail, got %v", err)
	}
	if node.Status != NodeStatusHealthy {
		t.Errorf("Expected status unchanged after invalid transition, got %s", node.Status)
	}

	if err := node.TransitionTo(NodeStatusRemoved); err != nil {
		t.Errorf("Expected any status -> removed to succeed, got %v", err)
	}
}

func TestNodeObserveDuration(t *testing.T) {
	t.Parallel() // Enable parallel execution
	node, err := NewNode("gpu-1", "http://10.0.0.7:8090", []string{"render"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// First observation seeds the average directly.
	node.ObserveDuration(10 * time.Second)
	if node.PerformanceScore != 10 {
		t.Errorf("Expected seed score 10, got %f", node.PerformanceScore)
	}

	// Subsequent observations fold in at 0.8/0.2.
	node.ObserveDuration(20 * time.Second)
	if math.Abs(node.PerformanceScore-12) > 1e-9 {
		t.Errorf("Expected EMA score 12, got %f", node.PerformanceScore)
	}

	node.ObserveDuration(12 * time.Second)
	if math.Abs(node.PerformanceScore-12) > 1e-9 {
		t.Errorf("Expected EMA score 12, got %f", node.PerformanceScore)
	}
}

func TestNodeClone(t *testing.T) {
	t.Parallel() // Enable parallel execution
	node, err := NewNode("gpu-1", "http://10.0.0.7:8090", []string{"render"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	clone := node.Clone()
	clone.Capabilities[0] = "story"
	clone.CurrentLoad = 5

	if node.Capabilities[0] != "render" {
		t.Error("Expected clone capabilities to be independent")
	}
	if node.CurrentLoad != 0 {
		t.Errorf("Expected original load untouched, got %d", node.CurrentLoad)
	}
}
