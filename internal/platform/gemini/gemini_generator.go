package gemini

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/resumate-api/internal/config"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/generation"
	"google.golang.org/genai"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Prompt template names.
const (
	cvPrompt         = "cv.tmpl"
	templatePrompt   = "template.tmpl"
	matchScorePrompt = "match_score.tmpl"
)

// ContentGenerator is the part of the genai client the generator uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator implements the generation interfaces using Google's
// Gemini API.
type GeminiGenerator struct {
	// logger is used for structured logging
	logger *slog.Logger

	// config contains LLM-specific configuration
	config config.LLMConfig

	// prompts holds the parsed prompt templates
	prompts *template.Template

	// models makes the API calls
	models ContentGenerator

	// sleep waits between retries
	sleep func(ctx context.Context, d time.Duration) error

	// jitter returns a value in [0, 1)
	jitter func() float64
}

var (
	_ generation.CVGenerator       = (*GeminiGenerator)(nil)
	_ generation.TemplateGenerator = (*GeminiGenerator)(nil)
	_ generation.MatchScorer       = (*GeminiGenerator)(nil)
)

// NewGeminiGenerator creates a generator backed by a new Gemini API client.
//
// Parameters:
//   - ctx: Context for client creation
//   - logger: A structured logger for operation logging
//   - cfg: LLM configuration containing API key, model name and retry settings
//
// Returns:
//   - A properly initialized GeminiGenerator or an error if initialization fails
func NewGeminiGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	cfg, err := validateConfig(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return NewGeminiGeneratorWithClient(ctx, logger, cfg, client.Models)
}

// NewGeminiGeneratorWithClient creates a generator that sends its requests
// through models.
func NewGeminiGeneratorWithClient(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.LLMConfig,
	models ContentGenerator,
) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if models == nil {
		return nil, fmt.Errorf("%w: content generator cannot be nil", generation.ErrInvalidConfig)
	}

	cfg, err := validateConfig(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}

	prompts, err := template.New("prompts").
		Funcs(template.FuncMap{"json": toJSON}).
		ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt templates: %v",
			generation.ErrInvalidConfig, err)
	}

	return &GeminiGenerator{
		logger:  logger.With("component", "gemini_generator", "model", cfg.ModelName),
		config:  cfg,
		prompts: prompts,
		models:  models,
		sleep:   sleepContext,
		jitter:  rand.Float64,
	}, nil
}

// GenerateCV drafts CVs from the user's profile.
func (g *GeminiGenerator) GenerateCV(ctx context.Context, req generation.CVRequest) ([]domain.CVDocument, error) {
	if strings.TrimSpace(req.Profile) == "" {
		return nil, ErrEmptyProfile
	}
	variants := max(req.Variants, 1)

	var resp CVResponseSchema
	err := g.generateJSON(ctx, cvPrompt, cvPromptData{
		Profile:        req.Profile,
		JobDescription: req.JobDescription,
		Language:       req.Language,
		Variants:       variants,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return g.documents(ctx, resp, variants)
}

// GenerateTemplates drafts example CVs for a role.
func (g *GeminiGenerator) GenerateTemplates(ctx context.Context, req generation.TemplateRequest) ([]domain.CVDocument, error) {
	if strings.TrimSpace(req.Role) == "" {
		return nil, ErrEmptyRole
	}
	count := max(req.Count, 1)

	var resp CVResponseSchema
	err := g.generateJSON(ctx, templatePrompt, templatePromptData{
		Role:      req.Role,
		Seniority: req.Seniority,
		Language:  req.Language,
		Count:     count,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return g.documents(ctx, resp, count)
}

// ScoreMatch rates a CV against a job description. Scores outside 0..100
// are clamped.
func (g *GeminiGenerator) ScoreMatch(ctx context.Context, req generation.MatchScoreRequest) (*domain.MatchScore, error) {
	if strings.TrimSpace(req.JobDescription) == "" {
		return nil, ErrEmptyJobDescription
	}

	var resp MatchScoreSchema
	err := g.generateJSON(ctx, matchScorePrompt, matchScorePromptData{
		CV:             req.CV,
		JobDescription: req.JobDescription,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &domain.MatchScore{
		Score:       min(max(resp.Score, 0), 100),
		Analysis:    strings.TrimSpace(resp.Analysis),
		Suggestions: resp.Suggestions,
	}, nil
}

// documents returns at most limit documents from a CV response.
func (g *GeminiGenerator) documents(ctx context.Context, resp CVResponseSchema, limit int) ([]domain.CVDocument, error) {
	if len(resp.CVs) == 0 {
		return nil, fmt.Errorf("%w: no cvs in response", generation.ErrInvalidResponse)
	}
	if len(resp.CVs) > limit {
		g.logger.DebugContext(ctx, "Dropping surplus documents",
			"received", len(resp.CVs),
			"requested", limit)
		resp.CVs = resp.CVs[:limit]
	}
	return resp.CVs, nil
}

// generateJSON renders the named prompt, calls the model and decodes its
// JSON answer into out.
func (g *GeminiGenerator) generateJSON(ctx context.Context, prompt string, data any, out any) error {
	var buf bytes.Buffer
	if err := g.prompts.ExecuteTemplate(&buf, prompt, data); err != nil {
		return fmt.Errorf("failed to execute prompt template %s: %w", prompt, err)
	}

	g.logger.DebugContext(ctx, "Prompt generated",
		"template", prompt,
		"prompt_length", buf.Len())

	text, err := g.callGeminiWithRetry(ctx, buf.String())
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(stripCodeFence(text)), out); err != nil {
		return fmt.Errorf("%w: failed to parse JSON response: %v", generation.ErrInvalidResponse, err)
	}
	return nil
}

// callGeminiWithRetry sends prompt to the model with exponential backoff
// and jitter between attempts. Only transient failures are retried.
func (g *GeminiGenerator) callGeminiWithRetry(ctx context.Context, prompt string) (string, error) {
	maxRetries := g.config.MaxRetries
	baseDelay := time.Duration(g.config.RetryDelaySeconds) * time.Second

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		g.logger.InfoContext(ctx, "Making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", maxRetries+1)

		resp, err := g.models.GenerateContent(ctx, g.config.ModelName, genai.Text(prompt), &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
		if err == nil {
			text, err := responseText(resp)
			if err != nil {
				g.logger.WarnContext(ctx, "Unusable Gemini response",
					"attempt", attemptNum,
					"error", err)
				return "", err
			}
			g.logger.InfoContext(ctx, "Gemini API call successful", "attempt", attemptNum)
			return text, nil
		}

		if ctx.Err() != nil {
			return "", fmt.Errorf("gemini call interrupted: %w", context.Cause(ctx))
		}

		err = classifyError(err)
		g.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", err)

		if !errors.Is(err, generation.ErrTransientFailure) {
			return "", err
		}
		if attempt >= maxRetries {
			g.logger.WarnContext(ctx, "Maximum retry attempts reached", "max_retries", maxRetries)
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d)",
				generation.ErrTransientFailure, maxRetries)
		}

		// delay = baseDelay * 2^attempt * [0.5, 1.0)
		backoff := float64(baseDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + g.jitter()*0.5))

		g.logger.InfoContext(ctx, "Retrying after delay",
			"attempt", attemptNum,
			"delay", delay)

		if err := g.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("gemini retry interrupted: %w", err)
		}
	}
}

// responseText extracts the text of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("%w: empty text in response", generation.ErrInvalidResponse)
	}
	return text.String(), nil
}

// classifyError maps a client error onto the generation errors. Quota
// rejections and client errors are permanent; everything else is
// treated as transient.
func classifyError(err error) error {
	code, status, ok := apiErrorDetails(err)
	switch {
	case ok && (code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED"):
		return fmt.Errorf("%w: %v", generation.ErrQuotaExceeded, err)
	case !ok && isQuotaMessage(err.Error()):
		return fmt.Errorf("%w: %v", generation.ErrQuotaExceeded, err)
	case ok && code >= 400 && code < 500 && code != http.StatusRequestTimeout:
		return fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	default:
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}
}

func apiErrorDetails(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, true
	}
	return 0, "", false
}

func isQuotaMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit")
}

// stripCodeFence removes a markdown code fence around a JSON answer.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
