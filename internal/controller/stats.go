package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/events"
	"github.com/skeind/showrunner/internal/queue"
)

// throughputWindow is the trailing window completions-per-minute is
// measured over.
const throughputWindow = 5 * time.Minute

// durationAlpha weights new observations in the farm-wide duration
// average, matching the per-node smoothing.
const durationAlpha = 0.2

// QueueStats is the operator view of the queue and the farm.
type QueueStats struct {
	Paused                 bool                      `json:"paused"`
	TasksByStatus          map[domain.TaskStatus]int `json:"tasks_by_status"`
	PendingByPriority      map[int]int               `json:"pending_by_priority"`
	NodesByStatus          map[domain.NodeStatus]int `json:"nodes_by_status"`
	HealthyNodes           int                       `json:"healthy_nodes"`
	TotalNodes             int                       `json:"total_nodes"`
	ThroughputPerMinute    float64                   `json:"throughput_per_minute"`
	AvgTaskDurationSeconds float64                   `json:"avg_task_duration_seconds"`
	ETASeconds             float64                   `json:"eta_seconds"`
}

// statsRecorder watches the event stream to keep the numbers the farm
// cannot answer from a snapshot: recent completion times for
// throughput, a farm-wide duration average that survives node churn,
// and the terminal-event hook that triggers refill.
type statsRecorder struct {
	mu          sync.Mutex
	queue       *queue.Queue
	completions []time.Time
	avgDuration float64
	onTerminal  func(ctx context.Context)
}

func newStatsRecorder(q *queue.Queue, onTerminal func(ctx context.Context)) *statsRecorder {
	return &statsRecorder{
		queue:      q,
		onTerminal: onTerminal,
	}
}

// Ensure statsRecorder implements the EventHandler interface
var _ events.EventHandler = (*statsRecorder)(nil)

// HandleEvent records completions and fires the terminal hook. Never
// returns an error; statistics must not interfere with dispatch.
func (s *statsRecorder) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	if event.Type == events.TaskCompleted {
		s.recordCompletion(event.TaskID)
	}
	if event.IsTerminal() && s.onTerminal != nil {
		s.onTerminal(ctx)
	}
	return nil
}

func (s *statsRecorder) recordCompletion(taskID uuid.UUID) {
	now := time.Now().UTC()

	var seconds float64
	if task, ok := s.queue.Get(taskID); ok && task.StartedAt != nil && task.CompletedAt != nil {
		seconds = task.CompletedAt.Sub(*task.StartedAt).Seconds()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.completions = append(s.completions, now)
	s.trimLocked(now)

	if seconds > 0 {
		if s.avgDuration == 0 {
			s.avgDuration = seconds
		} else {
			s.avgDuration = (1-durationAlpha)*s.avgDuration + durationAlpha*seconds
		}
	}
}

// throughputPerMinute returns completions per minute over the trailing
// window.
func (s *statsRecorder) throughputPerMinute() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimLocked(time.Now().UTC())
	return float64(len(s.completions)) / throughputWindow.Minutes()
}

// globalAverage returns the farm-wide duration average in seconds, or
// zero when nothing has completed yet.
func (s *statsRecorder) globalAverage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgDuration
}

// trimLocked drops completions that fell out of the window. Caller
// holds the lock.
func (s *statsRecorder) trimLocked(now time.Time) {
	cutoff := now.Add(-throughputWindow)
	i := 0
	for i < len(s.completions) && s.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.completions = append(s.completions[:0], s.completions[i:]...)
	}
}

// Stats assembles the operator view: queue depth by status and
// priority, node health counts, throughput, the average task duration
// and the drain estimate for the pending backlog.
func (c *Controller) Stats(ctx context.Context) QueueStats {
	tasksByStatus := c.queue.CountByStatus()
	for _, status := range []domain.TaskStatus{
		domain.TaskStatusPending, domain.TaskStatusAssigned,
		domain.TaskStatusRunning, domain.TaskStatusCompleted,
		domain.TaskStatusFailed, domain.TaskStatusCancelled,
	} {
		if _, ok := tasksByStatus[status]; !ok {
			tasksByStatus[status] = 0
		}
	}

	nodesByStatus := c.registry.CountByStatus()
	total := 0
	for _, count := range nodesByStatus {
		total += count
	}
	healthy := nodesByStatus[domain.NodeStatusHealthy]

	avg := c.averageDurationSeconds()
	pending := tasksByStatus[domain.TaskStatusPending]

	return QueueStats{
		Paused:                 c.dispatcher.Paused(),
		TasksByStatus:          tasksByStatus,
		PendingByPriority:      c.queue.CountByPriority(),
		NodesByStatus:          nodesByStatus,
		HealthyNodes:           healthy,
		TotalNodes:             total,
		ThroughputPerMinute:    c.stats.throughputPerMinute(),
		AvgTaskDurationSeconds: avg,
		ETASeconds:             float64(pending) * avg / float64(max(1, healthy)),
	}
}

// averageDurationSeconds averages the duration EMAs of healthy nodes,
// falling back to the farm-wide completion average when no healthy
// node has completed anything yet.
func (c *Controller) averageDurationSeconds() float64 {
	var sum float64
	var observed int
	for _, node := range c.registry.List() {
		if node.Status == domain.NodeStatusHealthy && node.PerformanceScore > 0 {
			sum += node.PerformanceScore
			observed++
		}
	}
	if observed > 0 {
		return sum / float64(observed)
	}
	return c.stats.globalAverage()
}
