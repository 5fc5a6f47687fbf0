package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/resumate-api/internal/events"
)

// JobEventHandler implements the events.EventHandler interface
// to route task request events to the job registered for their type.
type JobEventHandler struct {
	mu     sync.RWMutex
	jobs   map[string]Scheduler
	logger *slog.Logger
}

// NewJobEventHandler creates a handler routing to the given jobs.
func NewJobEventHandler(logger *slog.Logger, jobs ...Scheduler) *JobEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &JobEventHandler{
		jobs:   make(map[string]Scheduler, len(jobs)),
		logger: logger.With("component", "job_event_handler"),
	}
	for _, j := range jobs {
		h.Register(j)
	}
	return h
}

// Register adds job, replacing any job registered for the same type.
func (h *JobEventHandler) Register(job Scheduler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs[job.Type()] = job
}

// Types returns the registered task types.
func (h *JobEventHandler) Types() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	types := make([]string, 0, len(h.jobs))
	for t := range h.jobs {
		types = append(types, t)
	}
	return types
}

// HandleEvent schedules the job for the event's type. Events of unknown
// types are rejected with ErrUnknownTaskType.
func (h *JobEventHandler) HandleEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	h.mu.RLock()
	job, ok := h.jobs[event.Type]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("no job registered for event type",
			"event_type", event.Type,
			"event_id", event.ID)
		return fmt.Errorf("%w: %s", ErrUnknownTaskType, event.Type)
	}

	if err := job.ScheduleRequest(ctx, event); err != nil {
		h.logger.Error("failed to schedule task",
			"error", err,
			"event_type", event.Type,
			"task_id", event.ID)
		return fmt.Errorf("failed to schedule %s task: %w", event.Type, err)
	}

	h.logger.Debug("task scheduled from event",
		"event_type", event.Type,
		"task_id", event.ID,
		"device_id", event.DeviceID)
	return nil
}

// Ensure JobEventHandler implements events.EventHandler
var _ events.EventHandler = (*JobEventHandler)(nil)
