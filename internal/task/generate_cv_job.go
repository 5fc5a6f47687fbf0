package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/generation"
)

// Generation modes.
const (
	ModeSubprocess = "subprocess"
	ModeInProcess  = "inprocess"
)

const (
	generateCVScript    = "generate_cv.py"
	generatedCVFilename = "generated-cv.json"
	defaultCVVariants   = 1
	maxCVVariants       = 5
)

type artifactsKey struct{}

type loadedArtifacts struct {
	candidates []Artifact
	rejected   []RejectedArtifact
}

// GenerateCVPayload is the input of a CV generation task.
type GenerateCVPayload struct {
	Profile        string `json:"profile"`
	JobDescription string `json:"job_description,omitempty"`
	Language       string `json:"language,omitempty"`
	Variants       int    `json:"variants,omitempty"`
}

// Validate checks the payload and applies defaults.
func (p *GenerateCVPayload) Validate() error {
	if p.Profile == "" {
		return fmt.Errorf("%w: profile is required", ErrInvalidPayload)
	}
	if p.Variants <= 0 {
		p.Variants = defaultCVVariants
	}
	if p.Variants > maxCVVariants {
		p.Variants = maxCVVariants
	}
	return nil
}

// GenerateCVConfig holds configuration for the generation job
type GenerateCVConfig struct {
	// Mode selects the script bridge or the in-process generator.
	Mode          string
	WorkspaceRoot string
}

// GenerateCVJob produces CV drafts from a user's profile, either by running
// the generation script or by calling the CV generator directly.
type GenerateCVJob struct {
	deps      JobDeps
	artifacts *ArtifactStore
	config    GenerateCVConfig

	script *Definition[GenerateCVPayload, ScriptRequest, *ScriptResult]
	direct *Definition[GenerateCVPayload, generation.CVRequest, []domain.CVDocument]
}

// NewGenerateCVJob creates the generation job.
func NewGenerateCVJob(deps JobDeps, artifacts *ArtifactStore, config GenerateCVConfig) *GenerateCVJob {
	if config.Mode == "" {
		config.Mode = ModeSubprocess
	}
	j := &GenerateCVJob{deps: deps, artifacts: artifacts, config: config}
	j.script = j.scriptDefinition()
	j.direct = j.directDefinition()
	return j
}

// Type implements Scheduler.
func (j *GenerateCVJob) Type() string {
	return domain.TaskTypeGeneration
}

// ScheduleRequest implements Scheduler.
func (j *GenerateCVJob) ScheduleRequest(ctx context.Context, event *events.TaskRequestEvent) error {
	meta, payload, err := decodeEvent[GenerateCVPayload](event)
	if err != nil {
		return err
	}
	return j.Schedule(ctx, meta, payload)
}

// Schedule records a queued generation task and enqueues it.
func (j *GenerateCVJob) Schedule(ctx context.Context, meta Meta, payload GenerateCVPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	run := func(ctx context.Context) error {
		if j.config.Mode == ModeInProcess {
			return Run(ctx, j.deps.Runner, j.direct, meta, payload)
		}
		return Run(ctx, j.deps.Runner, j.script, meta, payload)
	}
	return schedule(ctx, j.deps, j.Type(), FeatureCVGeneration, meta, run)
}

func (j *GenerateCVJob) scriptDefinition() *Definition[GenerateCVPayload, ScriptRequest, *ScriptResult] {
	return &Definition[GenerateCVPayload, ScriptRequest, *ScriptResult]{
		Type: domain.TaskTypeGeneration,
		BeforeRun: func(_ context.Context, e *Execution[GenerateCVPayload]) error {
			ws, err := NewWorkspace(j.config.WorkspaceRoot, e.TaskID)
			if err != nil {
				return err
			}
			e.Workspace = ws
			return nil
		},
		GetService: scriptService,
		PrepareInput: func(_ context.Context, e *Execution[GenerateCVPayload]) (ScriptRequest, error) {
			return ScriptRequest{
				Script:    generateCVScript,
				Payload:   e.Input,
				Meta:      e.Meta,
				Workspace: e.Workspace,
				Tracker:   e,
			}, nil
		},
		HandleResult: func(_ context.Context, e *Execution[GenerateCVPayload], raw *ScriptResult) (*Outcome, error) {
			return stageScriptArtifacts(e, raw)
		},
		AfterRun: func(ctx context.Context, e *Execution[GenerateCVPayload], _ *ScriptResult, out *Outcome) error {
			return j.persist(ctx, e, out, GeneratorScript)
		},
		TrackSuccess: logSuccess[GenerateCVPayload],
		TrackError:   logError[GenerateCVPayload],
	}
}

func (j *GenerateCVJob) directDefinition() *Definition[GenerateCVPayload, generation.CVRequest, []domain.CVDocument] {
	return &Definition[GenerateCVPayload, generation.CVRequest, []domain.CVDocument]{
		Type: domain.TaskTypeGeneration,
		GetService: func(_ context.Context, services *ServiceRegistry) (ServiceFunc[generation.CVRequest, []domain.CVDocument], error) {
			gen, err := Resolve[generation.CVGenerator](services, ServiceCVGenerator)
			if err != nil {
				return nil, err
			}
			return gen.GenerateCV, nil
		},
		PrepareInput: func(_ context.Context, e *Execution[GenerateCVPayload]) (generation.CVRequest, error) {
			return generation.CVRequest{
				UserID:         e.UserID,
				Profile:        e.Input.Profile,
				JobDescription: e.Input.JobDescription,
				Language:       e.Input.Language,
				Variants:       e.Input.Variants,
			}, nil
		},
		HandleResult: func(_ context.Context, e *Execution[GenerateCVPayload], raw []domain.CVDocument) (*Outcome, error) {
			return stageDocuments(e, raw, generatedCVFilename)
		},
		AfterRun: func(ctx context.Context, e *Execution[GenerateCVPayload], _ []domain.CVDocument, out *Outcome) error {
			return j.persist(ctx, e, out, GeneratorGemini)
		},
		TrackSuccess: logSuccess[GenerateCVPayload],
		TrackError:   logError[GenerateCVPayload],
	}
}

func (j *GenerateCVJob) persist(ctx context.Context, e *Execution[GenerateCVPayload], out *Outcome, generator string) error {
	result, err := persistAttached(ctx, j.artifacts, e, generator, SourceGeneration)
	if err != nil {
		return err
	}
	out.Data = result
	out.SuccessMessage = cvSuccessMessage("Generated", len(result.CVs))
	return nil
}

// scriptService resolves the interpreter bridge.
func scriptService(_ context.Context, services *ServiceRegistry) (ServiceFunc[ScriptRequest, *ScriptResult], error) {
	interp, err := Resolve[*Interpreter](services, ServiceInterpreter)
	if err != nil {
		return nil, err
	}
	return interp.RunScript, nil
}

// stageScriptArtifacts loads the files a script announced and keeps them on
// the execution for AfterRun.
func stageScriptArtifacts[I any](e *Execution[I], raw *ScriptResult) (*Outcome, error) {
	if raw == nil || len(raw.Artifacts) == 0 {
		return nil, ErrNoValidArtifacts
	}
	candidates, rejected := LoadArtifacts(e.Workspace, raw.Artifacts)
	e.Attach(artifactsKey{}, loadedArtifacts{candidates: candidates, rejected: rejected})
	return &Outcome{TrackingData: map[string]any{
		"artifacts":  len(raw.Artifacts),
		"unreadable": len(rejected),
	}}, nil
}

// stageDocuments wraps in-process results as artifacts named after
// filename.
func stageDocuments[I any](e *Execution[I], docs []domain.CVDocument, filename string) (*Outcome, error) {
	if len(docs) == 0 {
		return nil, ErrNoValidArtifacts
	}
	candidates := make([]Artifact, len(docs))
	for i, doc := range docs {
		candidates[i] = Artifact{Filename: filename, Document: doc}
	}
	e.Attach(artifactsKey{}, loadedArtifacts{candidates: candidates})
	return &Outcome{TrackingData: map[string]any{"artifacts": len(docs)}}, nil
}

func persistAttached[I any](ctx context.Context, artifacts *ArtifactStore, e *Execution[I], generator, source string) (*CVResult, error) {
	v, ok := e.Attached(artifactsKey{})
	if !ok {
		return nil, errors.New("no artifacts staged for persistence")
	}
	staged := v.(loadedArtifacts)
	result, err := persistValid(ctx, artifacts, e.UserID, staged.candidates, staged.rejected, generator, source)
	if err != nil {
		return nil, err
	}
	for _, r := range result.Rejected {
		e.Logger.Warn("artifact rejected", "filename", r.Filename, "reason", r.Reason)
	}
	return result, nil
}

func cvSuccessMessage(verb string, n int) string {
	if n == 1 {
		return verb + " 1 CV"
	}
	return fmt.Sprintf("%s %d CVs", verb, n)
}
