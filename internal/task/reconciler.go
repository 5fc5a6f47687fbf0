package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/store"
	"github.com/robfig/cron/v3"
)

// ReconcilerConfig holds configuration for the stale task reconciler
type ReconcilerConfig struct {
	// StaleTaskAge is how long a running record may go without updates
	// before it is considered abandoned.
	StaleTaskAge time.Duration
	// Interval is how often the check runs.
	Interval time.Duration
}

// Reconciler periodically fails running task records that have no live
// execution in this process. Such records are left behind when a run's
// final status write is lost.
type Reconciler struct {
	tasks    store.TaskStore
	registry *ProcessRegistry
	config   ReconcilerConfig
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewReconciler creates a Reconciler.
func NewReconciler(tasks store.TaskStore, registry *ProcessRegistry, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StaleTaskAge <= 0 {
		config.StaleTaskAge = 30 * time.Minute
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	return &Reconciler{
		tasks:    tasks,
		registry: registry,
		config:   config,
		logger:   logger.With("component", "task_reconciler"),
	}
}

// Start schedules the check. Runs never overlap.
func (r *Reconciler) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", r.config.Interval)
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.ReconcileOnce(ctx); err != nil {
			r.logger.Error("stale task check failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciler: %w", err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("reconciler started",
		"interval", r.config.Interval,
		"stale_task_age", r.config.StaleTaskAge)
	return nil
}

// Stop halts the schedule and waits for a check in progress to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.logger.Info("reconciler stopped")
}

// ReconcileOnce fails every stale running record that no run in this
// process owns and returns how many records changed. A run that finishes
// after the listing has already written its terminal status, so the
// conditional update leaves it alone.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	stale, err := r.tasks.ListStaleRunning(ctx, r.config.StaleTaskAge)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale tasks: %w", err)
	}

	failed := 0
	for _, t := range stale {
		if _, live := r.registry.Get(t.ID); live || r.registry.InFlight(t.ID) {
			continue
		}
		changed, err := r.tasks.Update(ctx, t.ID, t.UserID, domain.TaskUpdate{
			Status: domain.TaskStatusFailed,
			Error:  StaleMessage,
		})
		if err != nil {
			r.logger.Error("failed to fail stale task", "error", err, "task_id", t.ID)
			continue
		}
		if changed > 0 {
			failed++
			r.logger.Warn("failed stale task",
				"task_id", t.ID,
				"task_type", t.Type,
				"updated_at", t.UpdatedAt)
		}
	}
	orphansFailed.Add(float64(failed))
	return failed, nil
}
