package domain

// taskTransition is a directed edge in the task lifecycle graph.
type taskTransition struct {
	From TaskStatus
	To   TaskStatus
}

// validTaskTransitions enumerates every allowed task status change.
// Terminal statuses (completed, failed, cancelled) have no outgoing
// edges. The assigned/running -> pending edges are the requeue paths
// taken on retryable failures, node loss and crash recovery.
var validTaskTransitions = map[taskTransition]bool{
	{TaskStatusPending, TaskStatusAssigned}:   true,
	{TaskStatusPending, TaskStatusCancelled}:  true,
	{TaskStatusAssigned, TaskStatusRunning}:   true,
	{TaskStatusAssigned, TaskStatusPending}:   true,
	{TaskStatusAssigned, TaskStatusFailed}:    true,
	{TaskStatusAssigned, TaskStatusCancelled}: true,
	{TaskStatusRunning, TaskStatusCompleted}:  true,
	{TaskStatusRunning, TaskStatusPending}:    true,
	{TaskStatusRunning, TaskStatusFailed}:     true,
	{TaskStatusRunning, TaskStatusCancelled}:  true,
}

// IsValidTaskTransition reports whether a task may move from one
// status to another.
func IsValidTaskTransition(from, to TaskStatus) bool {
	return validTaskTransitions[taskTransition{From: from, To: to}]
}

// nodeTransition is a directed edge in the node health state machine.
type nodeTransition struct {
	From NodeStatus
	To   NodeStatus
}

// validNodeTransitions enumerates every allowed node health change.
// Health transitions are driven exclusively by probe outcomes; the
// removed status is reached only through administrative action and is
// handled separately since it is allowed from any state.
var validNodeTransitions = map[nodeTransition]bool{
	{NodeStatusDiscovered, NodeStatusHealthy}:  true,
	{NodeStatusDiscovered, NodeStatusDegraded}: true,
	{NodeStatusHealthy, NodeStatusDegraded}:    true,
	{NodeStatusDegraded, NodeStatusHealthy}:    true,
	{NodeStatusDegraded, NodeStatusOffline}:    true,
	{NodeStatusOffline, NodeStatusHealthy}:     true,
}

// IsValidNodeTransition reports whether a node may move from one
// health status to another. Any status may transition to removed.
func IsValidNodeTransition(from, to NodeStatus) bool {
	if to == NodeStatusRemoved {
		return from != NodeStatusRemoved
	}
	return validNodeTransitions[nodeTransition{From: from, To: to}]
}
