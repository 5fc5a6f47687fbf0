package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/platform/logger"
	"github.com/phrazzld/resumate-api/internal/store"
)

const taskColumns = `id, user_id, type, status, result, error, device_id, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using the background_tasks table.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO background_tasks (id, user_id, type, status, device_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.Type,
		string(task.Status),
		task.DeviceID,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", task.Type))
		return MapError(err)
	}

	log.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.String("user_id", task.UserID.String()))
	return nil
}

// FindByID implements store.TaskStore.FindByID
func (s *PostgresTaskStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM background_tasks WHERE id = $1`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}
	return task, nil
}

// Update implements store.TaskStore.Update
// The WHERE clause restricts the write to the statuses a transition may
// start from, so completed, failed and cancelled rows are never rewritten.
func (s *PostgresTaskStore) Update(
	ctx context.Context,
	id, userID uuid.UUID,
	update domain.TaskUpdate,
) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	sources := domain.SourceStatuses(update.Status)
	if len(sources) == 0 {
		return 0, fmt.Errorf("%w: cannot transition to %q", store.ErrUpdateFailed, update.Status)
	}

	var result interface{}
	if update.Status == domain.TaskStatusCompleted && len(update.Result) > 0 {
		result = []byte(update.Result)
	}
	var errText interface{}
	if update.Status == domain.TaskStatusFailed {
		errText = update.Error
	}

	args := []interface{}{string(update.Status), result, errText, time.Now().UTC(), id, userID}
	placeholders := make([]string, len(sources))
	for i, src := range sources {
		args = append(args, string(src))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	query := `
		UPDATE background_tasks
		SET status = $1, result = $2, error = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6 AND status IN (` + strings.Join(placeholders, ", ") + `)
	`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("status", string(update.Status)))
		return 0, MapError(err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		log.Debug("task update skipped",
			slog.String("task_id", id.String()),
			slog.String("status", string(update.Status)))
	}
	return rows, nil
}

// ListForUser implements store.TaskStore.ListForUser
func (s *PostgresTaskStore) ListForUser(
	ctx context.Context,
	userID uuid.UUID,
	deviceID string,
	since *time.Time,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM background_tasks WHERE user_id = $1`
	args := []interface{}{userID}
	if deviceID != "" {
		args = append(args, deviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if since != nil {
		args = append(args, since.UTC())
		query += fmt.Sprintf(" AND updated_at > $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		log.Error("failed to list tasks",
			slog.String("error", err.Error()),
			slog.String("user_id", userID.String()))
		return nil, err
	}
	return tasks, nil
}

// Delete implements store.TaskStore.Delete
// Only terminal tasks can be deleted.
func (s *PostgresTaskStore) Delete(ctx context.Context, id, userID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		DELETE FROM background_tasks
		WHERE id = $1 AND user_id = $2 AND status IN ($3, $4, $5)
	`
	res, err := s.db.ExecContext(ctx, query, id, userID,
		string(domain.TaskStatusCompleted),
		string(domain.TaskStatusFailed),
		string(domain.TaskStatusCancelled),
	)
	if err != nil {
		log.Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// FailActive implements store.TaskStore.FailActive
func (s *PostgresTaskStore) FailActive(ctx context.Context, message string) (int64, error) {
	query := `
		UPDATE background_tasks
		SET status = $1, error = $2, updated_at = $3
		WHERE status IN ($4, $5)
	`
	res, err := s.db.ExecContext(ctx, query,
		string(domain.TaskStatusFailed),
		message,
		time.Now().UTC(),
		string(domain.TaskStatusQueued),
		string(domain.TaskStatusRunning),
	)
	if err != nil {
		return 0, MapError(err)
	}
	return res.RowsAffected()
}

// ListStaleRunning implements store.TaskStore.ListStaleRunning
func (s *PostgresTaskStore) ListStaleRunning(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM background_tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	return s.queryTasks(ctx, query,
		string(domain.TaskStatusRunning),
		time.Now().UTC().Add(-olderThan),
	)
}

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task    domain.Task
		status  string
		result  []byte
		errText sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Type,
		&status,
		&result,
		&errText,
		&task.DeviceID,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	if len(result) > 0 {
		task.Result = result
	}
	if errText.Valid {
		msg := errText.String
		task.Error = &msg
	}
	return &task, nil
}
