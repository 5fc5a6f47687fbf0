package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/generation"
)

// MockGenerator implements generation.CVGenerator,
// generation.TemplateGenerator and generation.MatchScorer for testing.
type MockGenerator struct {
	GenerateCVFn        func(ctx context.Context, req generation.CVRequest) ([]domain.CVDocument, error)
	GenerateTemplatesFn func(ctx context.Context, req generation.TemplateRequest) ([]domain.CVDocument, error)
	ScoreMatchFn        func(ctx context.Context, req generation.MatchScoreRequest) (*domain.MatchScore, error)

	// Default response values
	Docs  []domain.CVDocument
	Score *domain.MatchScore
	Err   error

	mu               sync.Mutex
	cvRequests       []generation.CVRequest
	templateRequests []generation.TemplateRequest
	scoreRequests    []generation.MatchScoreRequest
}

var (
	_ generation.CVGenerator       = (*MockGenerator)(nil)
	_ generation.TemplateGenerator = (*MockGenerator)(nil)
	_ generation.MatchScorer       = (*MockGenerator)(nil)
)

// GenerateCV implements generation.CVGenerator.
func (m *MockGenerator) GenerateCV(ctx context.Context, req generation.CVRequest) ([]domain.CVDocument, error) {
	m.mu.Lock()
	m.cvRequests = append(m.cvRequests, req)
	m.mu.Unlock()

	if m.GenerateCVFn != nil {
		return m.GenerateCVFn(ctx, req)
	}
	return m.Docs, m.Err
}

// GenerateTemplates implements generation.TemplateGenerator.
func (m *MockGenerator) GenerateTemplates(
	ctx context.Context,
	req generation.TemplateRequest,
) ([]domain.CVDocument, error) {
	m.mu.Lock()
	m.templateRequests = append(m.templateRequests, req)
	m.mu.Unlock()

	if m.GenerateTemplatesFn != nil {
		return m.GenerateTemplatesFn(ctx, req)
	}
	return m.Docs, m.Err
}

// ScoreMatch implements generation.MatchScorer.
func (m *MockGenerator) ScoreMatch(
	ctx context.Context,
	req generation.MatchScoreRequest,
) (*domain.MatchScore, error) {
	m.mu.Lock()
	m.scoreRequests = append(m.scoreRequests, req)
	m.mu.Unlock()

	if m.ScoreMatchFn != nil {
		return m.ScoreMatchFn(ctx, req)
	}
	return m.Score, m.Err
}

// CVRequests returns the requests passed to GenerateCV.
func (m *MockGenerator) CVRequests() []generation.CVRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.CVRequest(nil), m.cvRequests...)
}

// TemplateRequests returns the requests passed to GenerateTemplates.
func (m *MockGenerator) TemplateRequests() []generation.TemplateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.TemplateRequest(nil), m.templateRequests...)
}

// ScoreRequests returns the requests passed to ScoreMatch.
func (m *MockGenerator) ScoreRequests() []generation.MatchScoreRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.MatchScoreRequest(nil), m.scoreRequests...)
}
