package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/platform/logger"
	"github.com/phrazzld/resumate-api/internal/store"
)

// PostgresUsageStore implements the store.UsageStore interface.
// Feature charges live in feature_usage; the match-score counter lives in
// users_usage.
type PostgresUsageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresUsageStore creates a new PostgreSQL implementation of the UsageStore interface.
func NewPostgresUsageStore(db store.DBTX, logger *slog.Logger) *PostgresUsageStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUsageStore{
		db:     db,
		logger: logger.With(slog.String("component", "usage_store")),
	}
}

var _ store.UsageStore = (*PostgresUsageStore)(nil)

// ChargeFeature implements store.UsageStore.ChargeFeature
func (s *PostgresUsageStore) ChargeFeature(ctx context.Context, userID, taskID uuid.UUID, feature string) error {
	query := `
		INSERT INTO feature_usage (id, user_id, task_id, feature, charged_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, uuid.New(), userID, taskID, feature, time.Now().UTC())
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to charge feature",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()),
			slog.String("feature", feature))
		return MapError(err)
	}
	return nil
}

// RefundFeatureUsage implements store.UsageStore.RefundFeatureUsage
func (s *PostgresUsageStore) RefundFeatureUsage(ctx context.Context, taskID uuid.UUID) (bool, error) {
	query := `
		UPDATE feature_usage
		SET refunded_at = $1
		WHERE task_id = $2 AND refunded_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), taskID)
	if err != nil {
		return false, MapError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// IncrementMatchScoreCount implements store.UsageStore.IncrementMatchScoreCount
func (s *PostgresUsageStore) IncrementMatchScoreCount(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		INSERT INTO users_usage (user_id, match_score_count)
		VALUES ($1, 1)
		ON CONFLICT (user_id)
		DO UPDATE SET match_score_count = users_usage.match_score_count + 1
		RETURNING match_score_count
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, MapError(err)
	}
	return count, nil
}

// DecrementMatchScoreCount implements store.UsageStore.DecrementMatchScoreCount
func (s *PostgresUsageStore) DecrementMatchScoreCount(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		UPDATE users_usage
		SET match_score_count = GREATEST(match_score_count - 1, 0)
		WHERE user_id = $1
		RETURNING match_score_count
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, MapError(err)
	}
	return count, nil
}
