package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/api/shared"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/platform/logger"
	"github.com/phrazzld/resumate-api/internal/store"
)

// ProcessKiller terminates local executions. *task.ProcessRegistry
// implements it.
type ProcessKiller interface {
	Kill(taskID uuid.UUID) bool
}

// TaskHandler serves the task polling endpoints.
type TaskHandler struct {
	tasks    store.TaskStore
	registry ProcessKiller
	logger   *slog.Logger
	now      func() time.Time
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks store.TaskStore, registry ProcessKiller, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		tasks:    tasks,
		registry: registry,
		logger:   logger.With("component", "task_handler"),
		now:      time.Now,
	}
}

// ListTasks handles GET /api/tasks.
//
// Query parameters:
//   - device_id: only tasks started from this device
//   - since: RFC 3339 timestamp; only tasks updated strictly after it
//
// Without since every task of the user is returned.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var since *time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			HandleAPIError(w, r, fmt.Errorf("%w: since: %v", domain.ErrValidation, err),
				"Invalid since: expected an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	serverTime := h.now().UTC()
	tasks, err := h.tasks.ListForUser(r.Context(), userID, q.Get("device_id"), since)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	resp := TaskListResponse{
		Tasks:      make([]TaskResponse, 0, len(tasks)),
		ServerTime: serverTime,
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, newTaskResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.findOwned(r.Context(), taskID, userID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(t))
}

// CancelTask handles POST /api/tasks/{id}/cancel. The record is moved to
// cancelled first so a queued job never starts, then any live execution
// is terminated.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	log := logger.FromContextOrDefault(r.Context(), h.logger).With(
		slog.String("task_id", taskID.String()),
		slog.String("user_id", userID.String()))

	rows, err := h.tasks.Update(r.Context(), taskID, userID, domain.TaskUpdate{
		Status: domain.TaskStatusCancelled,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}
	if rows == 0 {
		t, err := h.findOwned(r.Context(), taskID, userID)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		HandleAPIError(w, r, fmt.Errorf("%w: status %s", ErrTaskFinished, t.Status), "")
		return
	}

	terminated := h.registry.Kill(taskID)
	log.Info("task cancelled by user", slog.Bool("terminated", terminated))

	shared.RespondWithJSON(w, r, http.StatusOK, CancelTaskResponse{
		TaskID:     taskID,
		Status:     domain.TaskStatusCancelled,
		Terminated: terminated,
	})
}

// DeleteTask handles DELETE /api/tasks/{id}. Only finished tasks can be
// deleted.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	err := h.tasks.Delete(r.Context(), taskID, userID)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}

	t, findErr := h.findOwned(r.Context(), taskID, userID)
	if findErr != nil {
		HandleAPIError(w, r, findErr, "")
		return
	}
	HandleAPIError(w, r, fmt.Errorf("%w: status %s", ErrTaskActive, t.Status), "")
}

// findOwned loads a task, reporting tasks of other users as not found.
func (h *TaskHandler) findOwned(ctx context.Context, taskID, userID uuid.UUID) (*domain.Task, error) {
	t, err := h.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}
