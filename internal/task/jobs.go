package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/store"
)

// Service registry tags.
const (
	ServiceInterpreter       = "interpreter"
	ServiceCVGenerator       = "cv_generator"
	ServiceTemplateGenerator = "template_generator"
	ServiceMatchScorer       = "match_scorer"
)

// Scheduler is implemented by every concrete job.
type Scheduler interface {
	// Type returns the task type tag the job owns.
	Type() string

	// ScheduleRequest decodes the event payload and schedules the job under
	// the event's ID.
	ScheduleRequest(ctx context.Context, event *events.TaskRequestEvent) error
}

// Enqueuer accepts jobs for execution. *Queue implements it.
type Enqueuer interface {
	EnqueueJob(taskType string, job Job) error
}

// JobDeps are the collaborators every concrete job needs.
type JobDeps struct {
	Runner *Runner
	Queue  Enqueuer
	Tasks  store.TaskStore
	// Charger is optional; without it no feature usage is charged.
	Charger FeatureCharger
	Logger  *slog.Logger
}

func (d JobDeps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// schedule inserts the queued task record, charges feature when set and
// enqueues run. When the job cannot be enqueued the record is failed so it
// never lingers as queued.
func schedule(ctx context.Context, deps JobDeps, taskType, feature string, meta Meta, run Job) error {
	log := deps.logger().With(
		"task_id", meta.TaskID,
		"task_type", taskType,
		"user_id", meta.UserID,
	)

	record, err := domain.NewTask(meta.TaskID, meta.UserID, taskType, meta.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := deps.Tasks.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to create task record: %w", err)
	}

	if feature != "" && deps.Charger != nil {
		if err := deps.Charger.ChargeFeature(ctx, meta.UserID, meta.TaskID, feature); err != nil {
			failScheduled(ctx, deps, meta, "Unable to record feature usage", log)
			return fmt.Errorf("failed to charge feature %s: %w", feature, err)
		}
	}

	if err := deps.Queue.EnqueueJob(taskType, run); err != nil {
		failScheduled(ctx, deps, meta, "Unable to queue task: "+err.Error(), log)
		if deps.Runner != nil && deps.Runner.refunder != nil && feature != "" {
			if _, rerr := deps.Runner.refunder.RefundFeatureUsage(ctx, meta.TaskID); rerr != nil {
				log.Error("failed to refund feature usage", "error", rerr)
			}
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info("task scheduled", "device_id", meta.DeviceID)
	return nil
}

func failScheduled(ctx context.Context, deps JobDeps, meta Meta, message string, log *slog.Logger) {
	if _, err := deps.Tasks.Update(ctx, meta.TaskID, meta.UserID, domain.TaskUpdate{
		Status: domain.TaskStatusFailed,
		Error:  message,
	}); err != nil {
		log.Error("failed to mark unscheduled task failed", "error", err)
	}
}

// decodeEvent unmarshals an event payload and derives the task identity.
func decodeEvent[I any](event *events.TaskRequestEvent) (Meta, I, error) {
	var input I
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &input); err != nil {
			return Meta{}, input, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return Meta{TaskID: event.ID, UserID: event.UserID, DeviceID: event.DeviceID}, input, nil
}

// logSuccess and logError are the default telemetry hooks. They only log;
// counters are recorded by the runner.
func logSuccess[I any](_ context.Context, e *Execution[I], ev SuccessEvent) error {
	args := []any{"duration_ms", ev.Duration.Milliseconds()}
	for k, v := range ev.TrackingData {
		args = append(args, k, v)
	}
	e.Logger.Info("task usage", args...)
	return nil
}

func logError[I any](_ context.Context, e *Execution[I], ev ErrorEvent) error {
	e.Logger.Info("task usage",
		"duration_ms", ev.Duration.Milliseconds(),
		"cancelled", ev.Cancelled,
		"outcome_message", ev.Message)
	return nil
}
