package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCVDocumentLooksLikeCV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  CVDocument
		want bool
	}{
		{"name and title", CVDocument{PersonalInfo: PersonalInfo{Name: "Ada Lovelace", Title: "Engineer"}}, true},
		{"missing title", CVDocument{PersonalInfo: PersonalInfo{Name: "Ada Lovelace"}}, false},
		{"blank name", CVDocument{PersonalInfo: PersonalInfo{Name: "   ", Title: "Engineer"}}, false},
		{"empty", CVDocument{}, false},
	}

	for _, tt := range tests {
		if got := tt.doc.LooksLikeCV(); got != tt.want {
			t.Errorf("%s: LooksLikeCV() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCVDocumentIsEmpty(t *testing.T) {
	t.Parallel()

	if !(CVDocument{}).IsEmpty() {
		t.Error("Expected zero document to be empty")
	}
	if (CVDocument{Skills: []string{"Go"}}).IsEmpty() {
		t.Error("Expected document with skills not to be empty")
	}
	withMeta := CVDocument{Metadata: CVMetadata{Generator: "x"}}
	if !withMeta.IsEmpty() {
		t.Error("Expected metadata alone not to count as content")
	}
}

func TestCVDocumentEnrich(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	doc := CVDocument{Metadata: CVMetadata{CreatedAt: created}}
	enriched := doc.Enrich("resumate", "import", now)

	if enriched.Metadata.Generator != "resumate" || enriched.Metadata.Source != "import" {
		t.Errorf("Unexpected metadata %+v", enriched.Metadata)
	}
	if !enriched.Metadata.CreatedAt.Equal(created) {
		t.Errorf("Expected creation time to be preserved, got %v", enriched.Metadata.CreatedAt)
	}
	if !enriched.Metadata.UpdatedAt.Equal(now) {
		t.Errorf("Expected update time %v, got %v", now, enriched.Metadata.UpdatedAt)
	}
	if !doc.Metadata.UpdatedAt.IsZero() {
		t.Error("Expected original document to be left untouched")
	}

	fresh := CVDocument{}.Enrich("resumate", "generation", now)
	if !fresh.Metadata.CreatedAt.Equal(now) {
		t.Errorf("Expected creation time %v, got %v", now, fresh.Metadata.CreatedAt)
	}
}

func TestCVHasFreshMatchScore(t *testing.T) {
	t.Parallel()

	now := time.Now()
	score := 80
	recent := now.Add(-2 * time.Minute)
	old := now.Add(-6 * time.Minute)

	cv, err := NewCV(uuid.New(), "cv.json", CVDocument{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cv.HasFreshMatchScore(now, 5*time.Minute) {
		t.Error("Expected CV without score not to be fresh")
	}

	cv.MatchScore = &score
	cv.MatchScoreUpdatedAt = &recent
	if !cv.HasFreshMatchScore(now, 5*time.Minute) {
		t.Error("Expected recent score to be fresh")
	}

	cv.MatchScoreUpdatedAt = &old
	if cv.HasFreshMatchScore(now, 5*time.Minute) {
		t.Error("Expected old score not to be fresh")
	}
}

func TestNewCVValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewCV(uuid.Nil, "cv.json", CVDocument{}); err != ErrEmptyCVUserID {
		t.Errorf("Expected error %v, got %v", ErrEmptyCVUserID, err)
	}
	if _, err := NewCV(uuid.New(), " ", CVDocument{}); err != ErrEmptyCVFilename {
		t.Errorf("Expected error %v, got %v", ErrEmptyCVFilename, err)
	}
}
