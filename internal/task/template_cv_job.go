package task

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/generation"
)

const (
	defaultTemplateCount = 1
	maxTemplateCount     = 3
)

// TemplateCVPayload is the input of a template creation task.
type TemplateCVPayload struct {
	Role      string `json:"role"`
	Seniority string `json:"seniority,omitempty"`
	Language  string `json:"language,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// Validate checks the payload and applies defaults.
func (p *TemplateCVPayload) Validate() error {
	p.Role = strings.TrimSpace(p.Role)
	if p.Role == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidPayload)
	}
	if p.Count <= 0 {
		p.Count = defaultTemplateCount
	}
	if p.Count > maxTemplateCount {
		p.Count = maxTemplateCount
	}
	return nil
}

// TemplateCVJob drafts example CVs for a role with the template generator.
type TemplateCVJob struct {
	deps      JobDeps
	artifacts *ArtifactStore
	def       *Definition[TemplateCVPayload, generation.TemplateRequest, []domain.CVDocument]
}

// NewTemplateCVJob creates the template job.
func NewTemplateCVJob(deps JobDeps, artifacts *ArtifactStore) *TemplateCVJob {
	j := &TemplateCVJob{deps: deps, artifacts: artifacts}
	j.def = &Definition[TemplateCVPayload, generation.TemplateRequest, []domain.CVDocument]{
		Type: domain.TaskTypeTemplateCreation,
		GetService: func(_ context.Context, services *ServiceRegistry) (ServiceFunc[generation.TemplateRequest, []domain.CVDocument], error) {
			gen, err := Resolve[generation.TemplateGenerator](services, ServiceTemplateGenerator)
			if err != nil {
				return nil, err
			}
			return gen.GenerateTemplates, nil
		},
		PrepareInput: func(_ context.Context, e *Execution[TemplateCVPayload]) (generation.TemplateRequest, error) {
			return generation.TemplateRequest{
				UserID:    e.UserID,
				Role:      e.Input.Role,
				Seniority: e.Input.Seniority,
				Language:  e.Input.Language,
				Count:     e.Input.Count,
			}, nil
		},
		HandleResult: func(_ context.Context, e *Execution[TemplateCVPayload], raw []domain.CVDocument) (*Outcome, error) {
			return stageDocuments(e, raw, templateFilename(e.Input.Role))
		},
		AfterRun: func(ctx context.Context, e *Execution[TemplateCVPayload], _ []domain.CVDocument, out *Outcome) error {
			result, err := persistAttached(ctx, j.artifacts, e, GeneratorGemini, SourceTemplate)
			if err != nil {
				return err
			}
			out.Data = result
			out.SuccessMessage = cvSuccessMessage("Created", len(result.CVs))
			out.TrackingData["role"] = e.Input.Role
			return nil
		},
		TrackSuccess: logSuccess[TemplateCVPayload],
		TrackError:   logError[TemplateCVPayload],
	}
	return j
}

// Type implements Scheduler.
func (j *TemplateCVJob) Type() string {
	return domain.TaskTypeTemplateCreation
}

// ScheduleRequest implements Scheduler.
func (j *TemplateCVJob) ScheduleRequest(ctx context.Context, event *events.TaskRequestEvent) error {
	meta, payload, err := decodeEvent[TemplateCVPayload](event)
	if err != nil {
		return err
	}
	return j.Schedule(ctx, meta, payload)
}

// Schedule records a queued template task and enqueues it.
func (j *TemplateCVJob) Schedule(ctx context.Context, meta Meta, payload TemplateCVPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	return schedule(ctx, j.deps, j.Type(), FeatureTemplateCV, meta, func(ctx context.Context) error {
		return Run(ctx, j.deps.Runner, j.def, meta, payload)
	})
}

// templateFilename derives a file name from a role: "Data Engineer" becomes
// template-data-engineer.json.
func templateFilename(role string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(role) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "template" + defaultArtifactExt
	}
	return "template-" + slug + defaultArtifactExt
}
