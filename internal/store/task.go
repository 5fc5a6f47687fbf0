package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
)

// TaskStore defines the interface for background task persistence.
// The table behind it is the source of truth clients observe.
type TaskStore interface {
	// Create inserts a new task record.
	Create(ctx context.Context, task *domain.Task) error

	// FindByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update applies a status transition to the task owned by userID.
	// The write only happens when the current status is one of
	// domain.SourceStatuses(update.Status); terminal records are never
	// overwritten. Returns the number of rows changed (0 or 1).
	Update(ctx context.Context, id, userID uuid.UUID, update domain.TaskUpdate) (int64, error)

	// ListForUser returns the user's tasks, newest first. A non-empty
	// deviceID restricts the result to that device and a non-nil since
	// restricts it to tasks updated strictly after that instant.
	ListForUser(ctx context.Context, userID uuid.UUID, deviceID string, since *time.Time) ([]*domain.Task, error)

	// Delete removes a terminal task owned by userID.
	// Returns ErrTaskNotFound if no terminal task matched.
	Delete(ctx context.Context, id, userID uuid.UUID) error

	// FailActive moves every queued or running task to failed with the
	// given message and returns how many records changed.
	FailActive(ctx context.Context, message string) (int64, error)

	// ListStaleRunning returns running tasks not updated for olderThan.
	ListStaleRunning(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)

	// WithTx returns a TaskStore bound to the given transaction.
	WithTx(tx *sql.Tx) TaskStore
}
