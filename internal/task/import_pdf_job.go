package task

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/store"
)

const (
	importPDFScript  = "import_pdf.py"
	importSourceFile = "source.pdf"
	existingCVsDir   = "existing"
	pdfMagic         = "%PDF-"
	defaultPDFName   = "upload.pdf"
)

// ImportPDFPayload is the input of a PDF import task.
type ImportPDFPayload struct {
	Filename string `json:"filename"`
	// PDF is the uploaded file; encoding/json carries it as base64.
	PDF []byte `json:"pdf"`
}

// Validate checks the payload and applies defaults.
func (p *ImportPDFPayload) Validate() error {
	if len(p.PDF) == 0 {
		return fmt.Errorf("%w: pdf is required", ErrInvalidPayload)
	}
	if !bytes.HasPrefix(p.PDF, []byte(pdfMagic)) {
		return fmt.Errorf("%w: file is not a PDF", ErrInvalidPayload)
	}
	p.Filename = strings.TrimSpace(filepath.Base(p.Filename))
	if p.Filename == "" || p.Filename == "." || p.Filename == "/" {
		p.Filename = defaultPDFName
	}
	return nil
}

// importScriptPayload is what the import script receives; the PDF itself is
// staged as a file.
type importScriptPayload struct {
	Filename    string `json:"filename"`
	SourceFile  string `json:"source_file"`
	ExistingDir string `json:"existing_dir"`
}

// ImportPDFJob converts an uploaded PDF into CV documents with the import
// script. The user's existing CVs are staged next to the upload so the
// script can avoid duplicates; stored files never overwrite existing ones.
type ImportPDFJob struct {
	deps          JobDeps
	cvs           store.CVStore
	artifacts     *ArtifactStore
	workspaceRoot string
	def           *Definition[ImportPDFPayload, ScriptRequest, *ScriptResult]
}

// NewImportPDFJob creates the import job.
func NewImportPDFJob(deps JobDeps, cvs store.CVStore, artifacts *ArtifactStore, workspaceRoot string) *ImportPDFJob {
	j := &ImportPDFJob{
		deps:          deps,
		cvs:           cvs,
		artifacts:     artifacts,
		workspaceRoot: workspaceRoot,
	}
	j.def = j.definition()
	return j
}

// Type implements Scheduler.
func (j *ImportPDFJob) Type() string {
	return domain.TaskTypeImport
}

// ScheduleRequest implements Scheduler.
func (j *ImportPDFJob) ScheduleRequest(ctx context.Context, event *events.TaskRequestEvent) error {
	meta, payload, err := decodeEvent[ImportPDFPayload](event)
	if err != nil {
		return err
	}
	return j.Schedule(ctx, meta, payload)
}

// Schedule records a queued import task and enqueues it.
func (j *ImportPDFJob) Schedule(ctx context.Context, meta Meta, payload ImportPDFPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	return schedule(ctx, j.deps, j.Type(), FeatureCVImport, meta, func(ctx context.Context) error {
		return Run(ctx, j.deps.Runner, j.def, meta, payload)
	})
}

func (j *ImportPDFJob) definition() *Definition[ImportPDFPayload, ScriptRequest, *ScriptResult] {
	return &Definition[ImportPDFPayload, ScriptRequest, *ScriptResult]{
		Type:       domain.TaskTypeImport,
		BeforeRun:  j.stage,
		GetService: scriptService,
		PrepareInput: func(_ context.Context, e *Execution[ImportPDFPayload]) (ScriptRequest, error) {
			return ScriptRequest{
				Script: importPDFScript,
				Payload: importScriptPayload{
					Filename:    e.Input.Filename,
					SourceFile:  importSourceFile,
					ExistingDir: existingCVsDir,
				},
				Meta:      e.Meta,
				Workspace: e.Workspace,
				Tracker:   e,
			}, nil
		},
		HandleResult: func(_ context.Context, e *Execution[ImportPDFPayload], raw *ScriptResult) (*Outcome, error) {
			return stageScriptArtifacts(e, raw)
		},
		AfterRun: func(ctx context.Context, e *Execution[ImportPDFPayload], _ *ScriptResult, out *Outcome) error {
			result, err := persistAttached(ctx, j.artifacts, e, GeneratorScript, SourceImport)
			if err != nil {
				return err
			}
			out.Data = result
			out.SuccessMessage = cvSuccessMessage("Imported", len(result.CVs))
			out.TrackingData["pdf_bytes"] = len(e.Input.PDF)
			return nil
		},
		TrackSuccess: logSuccess[ImportPDFPayload],
		TrackError:   logError[ImportPDFPayload],
	}
}

// stage creates the workspace with the uploaded PDF and a snapshot of the
// user's existing CVs.
func (j *ImportPDFJob) stage(ctx context.Context, e *Execution[ImportPDFPayload]) error {
	ws, err := NewWorkspace(j.workspaceRoot, e.TaskID)
	if err != nil {
		return err
	}
	e.Workspace = ws

	if err := ws.WriteFile(importSourceFile, e.Input.PDF); err != nil {
		return err
	}

	existing, err := j.cvs.ListForUser(ctx, e.UserID)
	if err != nil {
		return fmt.Errorf("failed to load existing cvs: %w", err)
	}
	dir, err := ws.Sub(existingCVsDir)
	if err != nil {
		return err
	}
	for _, cv := range existing {
		if err := dir.WriteJSON(cv.Filename, cv.Content); err != nil {
			return err
		}
	}
	e.Logger.Debug("import workspace staged", "existing_cvs", len(existing))
	return nil
}
