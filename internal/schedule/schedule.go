package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/temple-compute/horus/internal/store"
	"github.com/temple-compute/horus/pkg/schema"
)

// WorkflowRunner starts a run of a stored workflow. Satisfied by a thin
// adapter over the engine scheduler (avoids an import cycle).
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflowName, version string, inputs map[string]any) (schema.RunStatus, error)
}

// Cron polls the store for due scheduled runs and starts them.
type Cron struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // scheduled-run IDs currently executing (dedup)
}

// New creates a Cron poller.
func New(s store.Store, runner WorkflowRunner, logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cron{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background polling loop with a 60s ticker.
func (c *Cron) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return fmt.Errorf("schedule poller already started")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(pollCtx)
	c.logger.Info("schedule poller started")
	return nil
}

func (c *Cron) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	c.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick checks all enabled scheduled runs and starts those that are due.
func (c *Cron) tick(ctx context.Context) {
	enabled := true
	scheduled, err := c.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		c.logger.Error("failed to list scheduled runs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sr := range scheduled {
		if sr.NextRunAt == nil || !sr.NextRunAt.After(now) {
			if !c.tryAcquire(sr.ID) {
				continue // already running (dedup)
			}
			if err := c.trigger(ctx, sr, now); err != nil {
				c.logger.Error("failed to start scheduled run",
					slog.String("schedule_id", sr.ID),
					slog.String("error", err.Error()),
				)
			}
			c.release(sr.ID)
		}
	}
}

// trigger starts one scheduled run and updates its bookkeeping.
func (c *Cron) trigger(ctx context.Context, sr *store.ScheduledRun, now time.Time) error {
	c.logger.Info("starting scheduled run",
		slog.String("schedule_id", sr.ID),
		slog.String("workflow", sr.WorkflowName),
	)

	var inputs map[string]any
	if len(sr.Inputs) > 0 {
		if err := json.Unmarshal(sr.Inputs, &inputs); err != nil {
			return c.record(ctx, sr, now, "error")
		}
	}

	status, err := c.runner.RunWorkflow(ctx, sr.WorkflowName, sr.WorkflowVersion, inputs)
	result := string(status)
	if err != nil {
		result = "error"
		c.logger.Error("scheduled run failed to start",
			slog.String("schedule_id", sr.ID),
			slog.String("error", err.Error()),
		)
	}

	return c.record(ctx, sr, now, result)
}

func (c *Cron) record(ctx context.Context, sr *store.ScheduledRun, now time.Time, status string) error {
	nextRun, err := c.NextRun(sr.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sr.ID, err)
	}

	return c.store.UpdateScheduledRun(ctx, sr.ID, store.ScheduledRunUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire marks a schedule as in-flight if it is not already running.
func (c *Cron) tryAcquire(id string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, ok := c.inflight[id]; ok {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Cron) release(id string) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	delete(c.inflight, id)
}

// NextRun computes the next fire time for a cron expression.
func (c *Cron) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := c.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}

// Stop gracefully shuts down the poller.
func (c *Cron) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil

	c.logger.Info("schedule poller stopped")
	return nil
}

// RecoverMissed starts schedules whose next_run_at passed while the process
// was down, once each.
func (c *Cron) RecoverMissed(ctx context.Context) error {
	enabled := true
	scheduled, err := c.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed schedules: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, sr := range scheduled {
		if sr.NextRunAt != nil && sr.NextRunAt.Before(now) {
			if !c.tryAcquire(sr.ID) {
				continue
			}
			if err := c.trigger(ctx, sr, now); err != nil {
				c.logger.Error("failed to recover missed schedule",
					slog.String("schedule_id", sr.ID),
					slog.String("error", err.Error()),
				)
				c.release(sr.ID)
				continue
			}
			c.release(sr.ID)
			recovered++
		}
	}

	if recovered > 0 {
		c.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return nil
}
