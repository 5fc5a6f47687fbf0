package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
)

// CVStore defines the interface for CV persistence.
type CVStore interface {
	// Create saves a new CV.
	Create(ctx context.Context, cv *domain.CV) error

	// GetByID retrieves a CV owned by userID.
	// Returns ErrCVNotFound if the CV does not exist or belongs to someone else.
	GetByID(ctx context.Context, id, userID uuid.UUID) (*domain.CV, error)

	// ListForUser returns every CV of the user ordered by creation time.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.CV, error)

	// SaveMatchScore stores a freshly computed score and stamps its time.
	SaveMatchScore(ctx context.Context, id uuid.UUID, score domain.MatchScore, at time.Time) error

	// SetMatchScoreStatus updates the mirrored match-score status of a CV.
	SetMatchScoreStatus(ctx context.Context, id uuid.UUID, status domain.MatchScoreStatus) error

	// ResetMatchScoreStatuses sets every CV that is not idle back to idle.
	ResetMatchScoreStatuses(ctx context.Context) (int64, error)

	// WithTx returns a CVStore bound to the given transaction.
	WithTx(tx *sql.Tx) CVStore
}
