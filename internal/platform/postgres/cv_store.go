package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/platform/logger"
	"github.com/phrazzld/resumate-api/internal/store"
)

const cvColumns = `id, user_id, filename, content, match_score, match_score_analysis,
	match_score_suggestions, match_score_updated_at, match_score_status, created_at, updated_at`

// PostgresCVStore implements the store.CVStore interface
// using a PostgreSQL database as the storage backend.
type PostgresCVStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresCVStore creates a new PostgreSQL implementation of the CVStore interface.
func NewPostgresCVStore(db store.DBTX, logger *slog.Logger) *PostgresCVStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCVStore{
		db:     db,
		logger: logger.With(slog.String("component", "cv_store")),
	}
}

var _ store.CVStore = (*PostgresCVStore)(nil)

// Create implements store.CVStore.Create
// Returns store.ErrDuplicate if the user already has a CV with this filename.
func (s *PostgresCVStore) Create(ctx context.Context, cv *domain.CV) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := cv.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	content, err := json.Marshal(cv.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal cv content: %w", err)
	}

	status := cv.MatchScoreStatus
	if status == "" {
		status = domain.MatchScoreStatusIdle
	}

	query := `
		INSERT INTO cvs (id, user_id, filename, content, match_score_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		cv.ID,
		cv.UserID,
		cv.Filename,
		content,
		string(status),
		cv.CreatedAt,
		cv.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create cv",
			slog.String("error", err.Error()),
			slog.String("cv_id", cv.ID.String()),
			slog.String("user_id", cv.UserID.String()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.CVStore.GetByID
func (s *PostgresCVStore) GetByID(ctx context.Context, id, userID uuid.UUID) (*domain.CV, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + cvColumns + ` FROM cvs WHERE id = $1 AND user_id = $2`
	cv, err := scanCV(s.db.QueryRowContext(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrCVNotFound
		}
		log.Error("failed to get cv by ID",
			slog.String("error", err.Error()),
			slog.String("cv_id", id.String()))
		return nil, MapError(err)
	}
	return cv, nil
}

// ListForUser implements store.CVStore.ListForUser
func (s *PostgresCVStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.CV, error) {
	query := `SELECT ` + cvColumns + ` FROM cvs WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	cvs := make([]*domain.CV, 0)
	for rows.Next() {
		cv, err := scanCV(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cv row: %w", err)
		}
		cvs = append(cvs, cv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cv rows: %w", err)
	}
	return cvs, nil
}

// SaveMatchScore implements store.CVStore.SaveMatchScore
func (s *PostgresCVStore) SaveMatchScore(
	ctx context.Context,
	id uuid.UUID,
	score domain.MatchScore,
	at time.Time,
) error {
	suggestions, err := json.Marshal(score.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	query := `
		UPDATE cvs
		SET match_score = $1, match_score_analysis = $2, match_score_suggestions = $3,
			match_score_updated_at = $4, updated_at = $4
		WHERE id = $5
	`
	res, err := s.db.ExecContext(ctx, query, score.Score, score.Analysis, suggestions, at.UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrCVNotFound)
}

// SetMatchScoreStatus implements store.CVStore.SetMatchScoreStatus
func (s *PostgresCVStore) SetMatchScoreStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.MatchScoreStatus,
) error {
	query := `UPDATE cvs SET match_score_status = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return MapError(err)
	}
	return CheckRowsAffected(res, store.ErrCVNotFound)
}

// ResetMatchScoreStatuses implements store.CVStore.ResetMatchScoreStatuses
func (s *PostgresCVStore) ResetMatchScoreStatuses(ctx context.Context) (int64, error) {
	query := `UPDATE cvs SET match_score_status = $1 WHERE match_score_status <> $1`
	res, err := s.db.ExecContext(ctx, query, string(domain.MatchScoreStatusIdle))
	if err != nil {
		return 0, MapError(err)
	}
	return res.RowsAffected()
}

// WithTx implements store.CVStore.WithTx
func (s *PostgresCVStore) WithTx(tx *sql.Tx) store.CVStore {
	return &PostgresCVStore{
		db:     tx,
		logger: s.logger,
	}
}

func scanCV(row rowScanner) (*domain.CV, error) {
	var (
		cv          domain.CV
		content     []byte
		score       sql.NullInt64
		analysis    sql.NullString
		suggestions []byte
		scoredAt    sql.NullTime
		status      string
	)
	if err := row.Scan(
		&cv.ID,
		&cv.UserID,
		&cv.Filename,
		&content,
		&score,
		&analysis,
		&suggestions,
		&scoredAt,
		&status,
		&cv.CreatedAt,
		&cv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(content) > 0 {
		if err := json.Unmarshal(content, &cv.Content); err != nil {
			return nil, fmt.Errorf("failed to decode cv content: %w", err)
		}
	}
	if score.Valid {
		v := int(score.Int64)
		cv.MatchScore = &v
	}
	cv.MatchScoreAnalysis = analysis.String
	if len(suggestions) > 0 {
		if err := json.Unmarshal(suggestions, &cv.MatchScoreSuggestions); err != nil {
			return nil, fmt.Errorf("failed to decode match score suggestions: %w", err)
		}
	}
	if scoredAt.Valid {
		t := scoredAt.Time
		cv.MatchScoreUpdatedAt = &t
	}
	cv.MatchScoreStatus = domain.MatchScoreStatus(status)
	return &cv, nil
}
