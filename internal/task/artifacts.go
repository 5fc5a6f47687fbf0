package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/store"
)

// Generator and source tags written into artifact metadata.
const (
	GeneratorScript    = "script"
	GeneratorGemini    = "gemini"
	SourceGeneration   = "generation"
	SourceImport       = "pdf-import"
	SourceTemplate     = "template"
	defaultArtifactExt = ".json"
)

// Artifact is one candidate CV produced by a run.
type Artifact struct {
	Filename string
	Document domain.CVDocument
}

// RejectedArtifact is a candidate that was not persisted.
type RejectedArtifact struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// SavedCV identifies a persisted artifact in a task result.
type SavedCV struct {
	ID       uuid.UUID `json:"id"`
	Filename string    `json:"filename"`
	Name     string    `json:"name,omitempty"`
	Title    string    `json:"title,omitempty"`
}

// CVResult is the task result of every job that produces CVs.
type CVResult struct {
	CVs      []SavedCV          `json:"cvs"`
	Rejected []RejectedArtifact `json:"rejected,omitempty"`
}

// LoadArtifacts decodes the named workspace files. Files that cannot be read
// or decoded are returned as rejected.
func LoadArtifacts(ws *Workspace, names []string) ([]Artifact, []RejectedArtifact) {
	var (
		artifacts []Artifact
		rejected  []RejectedArtifact
	)
	for _, name := range names {
		data, err := ws.ReadFile(name)
		if err != nil {
			rejected = append(rejected, RejectedArtifact{Filename: name, Reason: "unreadable"})
			continue
		}
		var doc domain.CVDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			rejected = append(rejected, RejectedArtifact{Filename: name, Reason: "malformed"})
			continue
		}
		artifacts = append(artifacts, Artifact{Filename: filepath.Base(name), Document: doc})
	}
	return artifacts, rejected
}

// ValidateArtifacts splits candidates into those that look like CVs and
// those to discard. Empty documents are discarded silently; non-empty
// documents without a name and title are rejected.
func ValidateArtifacts(candidates []Artifact) ([]Artifact, []RejectedArtifact) {
	var (
		valid    []Artifact
		rejected []RejectedArtifact
	)
	for _, a := range candidates {
		switch {
		case a.Document.IsEmpty():
			rejected = append(rejected, RejectedArtifact{Filename: a.Filename, Reason: "empty"})
		case !a.Document.LooksLikeCV():
			rejected = append(rejected, RejectedArtifact{Filename: a.Filename, Reason: "not a CV"})
		default:
			valid = append(valid, a)
		}
	}
	return valid, rejected
}

// EnrichArtifacts stamps generator and source metadata on every artifact.
func EnrichArtifacts(artifacts []Artifact, generator, source string, now time.Time) []Artifact {
	out := make([]Artifact, len(artifacts))
	for i, a := range artifacts {
		out[i] = Artifact{Filename: a.Filename, Document: a.Document.Enrich(generator, source, now)}
	}
	return out
}

// UniqueFilename returns name, or name with the lowest numeric suffix that
// is not in taken: cv.json, cv-1.json, cv-2.json.
func UniqueFilename(name string, taken map[string]bool) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == "/" {
		name = "cv" + defaultArtifactExt
	}
	if !taken[name] {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := base + "-" + strconv.Itoa(i) + ext
		if !taken[candidate] {
			return candidate
		}
	}
}

// ArtifactStore persists validated artifacts as CVs.
type ArtifactStore struct {
	db     *sql.DB
	cvs    store.CVStore
	logger *slog.Logger
}

// NewArtifactStore creates an ArtifactStore. When db is nil the CVs are
// written without a transaction.
func NewArtifactStore(db *sql.DB, cvs store.CVStore, logger *slog.Logger) *ArtifactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactStore{
		db:     db,
		cvs:    cvs,
		logger: logger.With("component", "artifact_store"),
	}
}

// Save stores every artifact for userID in one transaction, renaming files
// whose names collide with the user's existing CVs or with each other.
func (s *ArtifactStore) Save(ctx context.Context, userID uuid.UUID, artifacts []Artifact) ([]SavedCV, error) {
	var saved []SavedCV
	write := func(cvs store.CVStore) error {
		saved = saved[:0]
		existing, err := cvs.ListForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list existing cvs: %w", err)
		}
		taken := make(map[string]bool, len(existing)+len(artifacts))
		for _, cv := range existing {
			taken[cv.Filename] = true
		}

		for _, a := range artifacts {
			filename := UniqueFilename(a.Filename, taken)
			taken[filename] = true

			cv, err := domain.NewCV(userID, filename, a.Document)
			if err != nil {
				return fmt.Errorf("invalid cv %s: %w", filename, err)
			}
			if err := cvs.Create(ctx, cv); err != nil {
				return fmt.Errorf("failed to save cv %s: %w", filename, err)
			}
			saved = append(saved, SavedCV{
				ID:       cv.ID,
				Filename: filename,
				Name:     a.Document.PersonalInfo.Name,
				Title:    a.Document.PersonalInfo.Title,
			})
			if filename != a.Filename {
				s.logger.Debug("renamed colliding artifact",
					"from", a.Filename,
					"to", filename,
					"user_id", userID)
			}
		}
		return nil
	}

	if s.db == nil {
		if err := write(s.cvs); err != nil {
			return nil, err
		}
		return saved, nil
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return write(s.cvs.WithTx(tx))
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// persistValid validates, enriches and stores candidates, returning the
// task result. It fails with ErrNoValidArtifacts when nothing survives
// validation.
func persistValid(
	ctx context.Context,
	artifacts *ArtifactStore,
	userID uuid.UUID,
	candidates []Artifact,
	rejected []RejectedArtifact,
	generator, source string,
) (*CVResult, error) {
	valid, discarded := ValidateArtifacts(candidates)
	rejected = append(rejected, discarded...)
	if len(valid) == 0 {
		return nil, ErrNoValidArtifacts
	}

	saved, err := artifacts.Save(ctx, userID, EnrichArtifacts(valid, generator, source, time.Now().UTC()))
	if err != nil {
		return nil, err
	}
	return &CVResult{CVs: saved, Rejected: rejected}, nil
}
