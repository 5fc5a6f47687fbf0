package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/store"
)

// ServiceFunc performs the actual work of a job. It must return promptly
// once ctx is cancelled.
type ServiceFunc[P, R any] func(ctx context.Context, params P) (R, error)

// Outcome is what a job reports for a successful run.
type Outcome struct {
	// Data is persisted as the task result.
	Data any
	// TrackingData is passed to TrackSuccess only.
	TrackingData map[string]any
	// SuccessMessage is shown to the user alongside the result.
	SuccessMessage string
}

// SuccessEvent is passed to TrackSuccess.
type SuccessEvent struct {
	Duration     time.Duration
	TrackingData map[string]any
	Message      string
}

// ErrorEvent is passed to TrackError.
type ErrorEvent struct {
	Duration  time.Duration
	Err       error
	Message   string
	Cancelled bool
}

// Definition binds a job type to the runner lifecycle. I is the scheduled
// input, P the service parameters and R the raw service result.
// GetService, PrepareInput and HandleResult are required.
type Definition[I, P, R any] struct {
	Type string

	GetService   func(ctx context.Context, services *ServiceRegistry) (ServiceFunc[P, R], error)
	PrepareInput func(ctx context.Context, e *Execution[I]) (P, error)
	HandleResult func(ctx context.Context, e *Execution[I], raw R) (*Outcome, error)

	TrackSuccess func(ctx context.Context, e *Execution[I], ev SuccessEvent) error
	TrackError   func(ctx context.Context, e *Execution[I], ev ErrorEvent) error

	BeforeRun      func(ctx context.Context, e *Execution[I]) error
	AfterRun       func(ctx context.Context, e *Execution[I], raw R, out *Outcome) error
	Cleanup        func(ctx context.Context, e *Execution[I]) error
	OnCancellation func(ctx context.Context, e *Execution[I])
}

// FeatureRefunder reverses the usage charge made when a task was scheduled.
type FeatureRefunder interface {
	RefundFeatureUsage(ctx context.Context, taskID uuid.UUID) (bool, error)
}

// RunnerConfig holds configuration for the runner
type RunnerConfig struct {
	// TaskTimeout cancels runs that take longer. Zero disables it.
	TaskTimeout time.Duration
}

// Runner drives jobs through their lifecycle and records every status
// transition in the task store.
type Runner struct {
	tasks    store.TaskStore
	refunder FeatureRefunder
	registry *ProcessRegistry
	services *ServiceRegistry
	config   RunnerConfig
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(
	tasks store.TaskStore,
	refunder FeatureRefunder,
	registry *ProcessRegistry,
	services *ServiceRegistry,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tasks:    tasks,
		refunder: refunder,
		registry: registry,
		services: services,
		config:   config,
		logger:   logger.With("component", "task_runner"),
	}
}

// taskResult is the JSON stored on completed task records.
type taskResult struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

// Run executes one task of def. ctx is the queue's base context; status
// writes use a detached copy so they survive cancellation. The returned
// error only reports failures to record the outcome; job failures are
// stored on the task record.
func Run[I, P, R any](ctx context.Context, r *Runner, def *Definition[I, P, R], meta Meta, input I) error {
	log := r.logger.With(
		"task_id", meta.TaskID,
		"task_type", def.Type,
		"user_id", meta.UserID,
	)
	persistCtx := context.WithoutCancel(ctx)
	exec := newExecution(meta, def.Type, input, log)
	exec.registry = r.registry
	end := r.registry.Begin(meta.TaskID)
	defer end()

	record, err := r.tasks.FindByID(persistCtx, meta.TaskID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		runCleanup(persistCtx, def, exec)
		return fmt.Errorf("failed to load task %s: %w", meta.TaskID, err)
	}
	if record == nil || record.Status.IsTerminal() {
		if record != nil && record.Status == domain.TaskStatusCancelled {
			log.Info("task was cancelled while queued")
			settleCancelled(persistCtx, r, def, exec)
		} else {
			log.Info("skipping task that is missing or already finished")
		}
		runCleanup(persistCtx, def, exec)
		return nil
	}

	if ctx.Err() != nil {
		// The queue stopped before this task got a slot.
		return finish(persistCtx, ctx, r, def, exec, 0, nil, context.Cause(ctx))
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	exec.cancel = cancel
	if r.config.TaskTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, r.config.TaskTimeout, ErrCancelled)
		defer stop()
	}

	r.registry.Register(meta.TaskID, NewAbortHandle(cancel))
	changed, err := r.tasks.Update(persistCtx, meta.TaskID, meta.UserID, domain.TaskUpdate{
		Status: domain.TaskStatusRunning,
	})
	if err != nil {
		r.registry.Clear(meta.TaskID)
		runCleanup(persistCtx, def, exec)
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	if changed == 0 {
		// Cancelled or deleted between the pre-flight load and now.
		log.Info("task left queued state before it started")
		r.registry.Clear(meta.TaskID)
		if r.wasCancelled(persistCtx, exec.TaskID, log) {
			settleCancelled(persistCtx, r, def, exec)
		}
		runCleanup(persistCtx, def, exec)
		return nil
	}

	exec.StartedAt = time.Now()
	log.Info("task started")

	var out *Outcome
	runErr := callSafely(func() error {
		var err error
		out, err = execute(runCtx, r, def, exec)
		return err
	})
	return finish(persistCtx, runCtx, r, def, exec, time.Since(exec.StartedAt), out, runErr)
}

// execute runs the hooks between marking a task running and recording its
// terminal status.
func execute[I, P, R any](ctx context.Context, r *Runner, def *Definition[I, P, R], e *Execution[I]) (*Outcome, error) {
	if def.BeforeRun != nil {
		if err := def.BeforeRun(ctx, e); err != nil {
			return nil, err
		}
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	service, err := def.GetService(ctx, r.services)
	if err != nil {
		return nil, err
	}
	params, err := def.PrepareInput(ctx, e)
	if err != nil {
		return nil, err
	}
	raw, err := service(ctx, params)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	out, err := def.HandleResult(ctx, e, raw)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &Outcome{}
	}
	if def.AfterRun != nil {
		if err := def.AfterRun(ctx, e, raw, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// finish records the terminal status of a run. It is the single place where
// errors are classified as cancellation or failure.
func finish[I, P, R any](
	persistCtx, runCtx context.Context,
	r *Runner,
	def *Definition[I, P, R],
	e *Execution[I],
	duration time.Duration,
	out *Outcome,
	runErr error,
) error {
	log := e.Logger

	if runErr == nil {
		result, err := json.Marshal(taskResult{Data: out.Data, Message: out.SuccessMessage})
		if err != nil {
			runErr = fmt.Errorf("failed to encode task result: %w", err)
		} else {
			return complete(persistCtx, r, def, e, duration, out, result)
		}
	}

	cancelled := isCancellation(runCtx, runErr)
	update := domain.TaskUpdate{Status: domain.TaskStatusCancelled}
	message := ""
	if !cancelled {
		if isShutdown(runCtx, runErr) {
			message = ShutdownMessage
		} else {
			message = NormalizeErrorMessage(runErr)
		}
		update = domain.TaskUpdate{Status: domain.TaskStatusFailed, Error: message}
	}

	if cancelled {
		settleCancelled(persistCtx, r, def, e)
	} else {
		e.runCompensations(persistCtx)
		r.refund(persistCtx, e.TaskID, log)
	}
	if def.TrackError != nil {
		if err := callSafely(func() error {
			return def.TrackError(persistCtx, e, ErrorEvent{
				Duration:  duration,
				Err:       runErr,
				Message:   message,
				Cancelled: cancelled,
			})
		}); err != nil {
			log.Warn("error tracking failed", "error", err)
		}
	}

	runCleanup(persistCtx, def, e)
	r.registry.Clear(e.TaskID)

	_, err := r.tasks.Update(persistCtx, e.TaskID, e.UserID, update)
	recordOutcome(e.TaskType, update.Status, duration)
	if cancelled {
		log.Info("task cancelled", "duration_ms", duration.Milliseconds())
	} else {
		args := []any{
			"error", runErr,
			"stored_error", message,
			"duration_ms", duration.Milliseconds(),
		}
		var pe *PanicError
		if errors.As(runErr, &pe) {
			args = append(args, "stack", string(pe.Stack))
		}
		log.Error("task failed", args...)
	}
	if err != nil {
		return fmt.Errorf("failed to mark task %s: %w", update.Status, err)
	}
	return nil
}

func complete[I, P, R any](
	persistCtx context.Context,
	r *Runner,
	def *Definition[I, P, R],
	e *Execution[I],
	duration time.Duration,
	out *Outcome,
	result json.RawMessage,
) error {
	log := e.Logger

	if def.TrackSuccess != nil {
		if err := callSafely(func() error {
			return def.TrackSuccess(persistCtx, e, SuccessEvent{
				Duration:     duration,
				TrackingData: out.TrackingData,
				Message:      out.SuccessMessage,
			})
		}); err != nil {
			log.Warn("success tracking failed", "error", err)
		}
	}

	runCleanup(persistCtx, def, e)
	r.registry.Clear(e.TaskID)

	changed, err := r.tasks.Update(persistCtx, e.TaskID, e.UserID, domain.TaskUpdate{
		Status: domain.TaskStatusCompleted,
		Result: result,
	})
	if err != nil {
		recordOutcome(e.TaskType, domain.TaskStatusCompleted, duration)
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	if changed == 0 {
		log.Warn("task reached a terminal status before completion was recorded")
		if r.wasCancelled(persistCtx, e.TaskID, log) {
			recordOutcome(e.TaskType, domain.TaskStatusCancelled, duration)
			settleCancelled(persistCtx, r, def, e)
		}
		return nil
	}
	recordOutcome(e.TaskType, domain.TaskStatusCompleted, duration)
	log.Info("task completed", "duration_ms", duration.Milliseconds())
	return nil
}

// settleCancelled undoes the side effects of a cancelled task: its
// compensations, the schedule-time charge and the job's cancellation
// hook. It covers tasks cancelled while queued or between the work and
// the completed write as well as runs that observe the cancellation.
func settleCancelled[I, P, R any](ctx context.Context, r *Runner, def *Definition[I, P, R], e *Execution[I]) {
	e.runCompensations(ctx)
	r.refund(ctx, e.TaskID, e.Logger)
	if def.OnCancellation == nil {
		return
	}
	if err := callSafely(func() error {
		def.OnCancellation(ctx, e)
		return nil
	}); err != nil {
		e.Logger.Warn("cancellation hook failed", "error", err)
	}
}

func (r *Runner) refund(ctx context.Context, taskID uuid.UUID, log *slog.Logger) {
	if r.refunder == nil {
		return
	}
	if refunded, err := r.refunder.RefundFeatureUsage(ctx, taskID); err != nil {
		log.Error("failed to refund feature usage", "error", err)
	} else if refunded {
		log.Info("feature usage refunded")
	}
}

// wasCancelled re-reads the record after a write matched no row.
func (r *Runner) wasCancelled(ctx context.Context, taskID uuid.UUID, log *slog.Logger) bool {
	record, err := r.tasks.FindByID(ctx, taskID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("failed to reload task", "error", err)
		}
		return false
	}
	return record.Status == domain.TaskStatusCancelled
}

// runCleanup runs the job's cleanup hook and removes the workspace. Errors
// are logged only.
func runCleanup[I, P, R any](ctx context.Context, def *Definition[I, P, R], e *Execution[I]) {
	if def.Cleanup != nil {
		if err := callSafely(func() error { return def.Cleanup(ctx, e) }); err != nil {
			e.Logger.Warn("cleanup failed", "error", err)
		}
	}
	if e.Workspace != nil {
		if err := e.Workspace.Remove(); err != nil {
			e.Logger.Warn("failed to remove workspace", "error", err, "path", e.Workspace.Dir())
		}
		e.Workspace = nil
	}
}

func recordOutcome(taskType string, status domain.TaskStatus, duration time.Duration) {
	taskOutcomes.WithLabelValues(taskType, string(status)).Inc()
	taskDuration.WithLabelValues(taskType, string(status)).Observe(duration.Seconds())
}

// PanicError is a panic recovered from a job hook.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// callSafely runs fn and converts a panic into a *PanicError.
func callSafely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return fn()
}
