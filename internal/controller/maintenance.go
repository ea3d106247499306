package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/skeind/showrunner/internal/domain"
	"github.com/skeind/showrunner/internal/events"
	"github.com/skeind/showrunner/internal/platform/logger"
)

// retentionSchedule is how often terminal tasks past the retention
// window are purged.
const retentionSchedule = "@every 1h"

// StartMaintenance schedules the background upkeep: the refill tick
// when refill is enabled, and the retention sweep when a retention
// window is configured. Call StopMaintenance on shutdown.
func (c *Controller) StartMaintenance() error {
	if c.cron != nil {
		return fmt.Errorf("maintenance already started")
	}

	runner := cron.New()

	if c.refillCfg.Enabled {
		interval := c.refillCfg.Interval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := runner.AddFunc(spec, func() {
			if _, err := c.RefillTick(context.Background()); err != nil {
				c.logger.Warn("refill tick failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule refill: %w", err)
		}
		c.logger.Info("refill scheduled",
			"interval", interval.String(),
			"low_water", c.refillCfg.LowWater,
			"high_water", c.refillCfg.HighWater)
	}

	if c.queueCfg.Retention > 0 {
		if _, err := runner.AddFunc(retentionSchedule, func() {
			if err := c.retentionSweep(context.Background()); err != nil {
				c.logger.Warn("retention sweep failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule retention sweep: %w", err)
		}
		c.logger.Info("retention sweep scheduled",
			"retention", c.queueCfg.Retention.String())
	}

	runner.Start()
	c.cron = runner
	return nil
}

// StopMaintenance stops the maintenance schedule and waits for any
// running entry to finish.
func (c *Controller) StopMaintenance() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
}

// RefillTick runs one refill round: while the number of live tasks is
// under the low-water mark, generate and enqueue jobs until the
// high-water mark is reached. The round never pushes the queue past
// the high-water mark; a generator error stops it, to be retried on
// the next tick.
func (c *Controller) RefillTick(ctx context.Context) (int, error) {
	if !c.refillCfg.Enabled || c.generator == nil {
		return 0, nil
	}

	c.refillMu.Lock()
	defer c.refillMu.Unlock()

	log := logger.FromContextOrDefault(ctx, c.logger)

	depth := c.liveDepth()
	if depth >= c.refillCfg.LowWater {
		return 0, nil
	}

	priority := c.refillCfg.Priority
	if priority == 0 {
		priority = c.queueCfg.DefaultPriority
	}

	enqueued := 0
	for c.liveDepth() < c.refillCfg.HighWater {
		job, err := c.generator.GenerateJob(ctx)
		if err != nil {
			log.Warn("refill round stopped",
				"enqueued", enqueued,
				"error", err)
			return enqueued, err
		}

		task, err := domain.NewTask(job.Kind, job.Payload, priority, c.queueCfg.DefaultMaxAttempts)
		if err != nil {
			log.Warn("refill round stopped",
				"enqueued", enqueued,
				"error", err)
			return enqueued, err
		}

		if err := c.queue.Put(ctx, task); err != nil {
			log.Warn("refill round stopped",
				"enqueued", enqueued,
				"error", err)
			return enqueued, err
		}

		c.emit(ctx, events.NewTaskEvent(events.TaskEnqueued, task.ID))
		enqueued++
	}

	if enqueued > 0 {
		c.dispatcher.Wake()
		log.Info("queue refilled",
			"enqueued", enqueued,
			"depth", c.liveDepth())
	}
	return enqueued, nil
}

// retentionSweep purges terminal tasks older than the retention
// window.
func (c *Controller) retentionSweep(ctx context.Context) error {
	purged, err := c.queue.PurgeTerminal(ctx, c.queueCfg.Retention)
	if err != nil {
		return err
	}
	if purged > 0 {
		c.logger.Info("purged terminal tasks",
			"count", purged,
			"retention", c.queueCfg.Retention.String())
	}
	return nil
}

// liveDepth counts tasks occupying queue capacity: pending, assigned
// and running.
func (c *Controller) liveDepth() int {
	return c.queue.Depth(
		domain.TaskStatusPending,
		domain.TaskStatusAssigned,
		domain.TaskStatusRunning,
	)
}
