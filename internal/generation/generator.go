package generation

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
)

// CVRequest describes a CV generation run.
type CVRequest struct {
	UserID uuid.UUID `json:"user_id"`
	// Profile is the free-text background the user supplied.
	Profile string `json:"profile"`
	// JobDescription optionally targets the CV at a job posting.
	JobDescription string `json:"job_description,omitempty"`
	Language       string `json:"language,omitempty"`
	// Variants is the number of CV drafts to produce.
	Variants int `json:"variants,omitempty"`
}

// TemplateRequest describes a template CV run.
type TemplateRequest struct {
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	Seniority string    `json:"seniority,omitempty"`
	Language  string    `json:"language,omitempty"`
	Count     int       `json:"count,omitempty"`
}

// MatchScoreRequest describes a CV scored against a job description.
type MatchScoreRequest struct {
	CV             domain.CVDocument `json:"cv"`
	JobDescription string            `json:"job_description"`
}

// CVGenerator produces CV drafts from a user's profile. This interface serves
// as a boundary between the application core and external AI/LLM services,
// following the hexagonal architecture pattern.
type CVGenerator interface {
	// GenerateCV returns one document per requested variant. Implementations
	// must return promptly once ctx is cancelled.
	GenerateCV(ctx context.Context, req CVRequest) ([]domain.CVDocument, error)
}

// TemplateGenerator drafts example CVs for a role.
type TemplateGenerator interface {
	GenerateTemplates(ctx context.Context, req TemplateRequest) ([]domain.CVDocument, error)
}

// MatchScorer rates how well a CV fits a job description.
type MatchScorer interface {
	ScoreMatch(ctx context.Context, req MatchScoreRequest) (*domain.MatchScore, error)
}
