package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchScoreStatus mirrors whether a match-score task is working on a CV.
type MatchScoreStatus string

// Possible match score status values
const (
	MatchScoreStatusIdle        MatchScoreStatus = "idle"
	MatchScoreStatusCalculating MatchScoreStatus = "calculating"
)

// CV is a stored résumé document owned by a user.
type CV struct {
	ID                    uuid.UUID        `json:"id"`
	UserID                uuid.UUID        `json:"user_id"`
	Filename              string           `json:"filename"`
	Content               CVDocument       `json:"content"`
	MatchScore            *int             `json:"match_score,omitempty"`
	MatchScoreAnalysis    string           `json:"match_score_analysis,omitempty"`
	MatchScoreSuggestions []string         `json:"match_score_suggestions,omitempty"`
	MatchScoreUpdatedAt   *time.Time       `json:"match_score_updated_at,omitempty"`
	MatchScoreStatus      MatchScoreStatus `json:"match_score_status"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// NewCV creates a CV for the given user with a fresh ID.
func NewCV(userID uuid.UUID, filename string, content CVDocument) (*CV, error) {
	now := time.Now().UTC()
	cv := &CV{
		ID:               uuid.New(),
		UserID:           userID,
		Filename:         filename,
		Content:          content,
		MatchScoreStatus: MatchScoreStatusIdle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := cv.Validate(); err != nil {
		return nil, err
	}
	return cv, nil
}

// Validate checks if the CV has valid data.
func (c *CV) Validate() error {
	if c.ID == uuid.Nil {
		return ErrEmptyCVID
	}
	if c.UserID == uuid.Nil {
		return ErrEmptyCVUserID
	}
	if strings.TrimSpace(c.Filename) == "" {
		return ErrEmptyCVFilename
	}
	return nil
}

// HasFreshMatchScore reports whether a score was stored less than window ago.
func (c *CV) HasFreshMatchScore(now time.Time, window time.Duration) bool {
	if c.MatchScore == nil || c.MatchScoreUpdatedAt == nil {
		return false
	}
	return now.Sub(*c.MatchScoreUpdatedAt) < window
}

// CVDocument is the structured content of a CV file.
type CVDocument struct {
	PersonalInfo PersonalInfo      `json:"personalInfo"`
	Summary      string            `json:"summary,omitempty"`
	Experience   []ExperienceEntry `json:"experience,omitempty"`
	Education    []EducationEntry  `json:"education,omitempty"`
	Skills       []string          `json:"skills,omitempty"`
	Languages    []string          `json:"languages,omitempty"`
	Metadata     CVMetadata        `json:"metadata"`
}

// PersonalInfo holds the header block of a CV.
type PersonalInfo struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
}

// ExperienceEntry is one position held.
type ExperienceEntry struct {
	Company    string   `json:"company"`
	Role       string   `json:"role"`
	Start      string   `json:"start,omitempty"`
	End        string   `json:"end,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

// EducationEntry is one degree or course.
type EducationEntry struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
}

// CVMetadata records where a CV came from.
type CVMetadata struct {
	Generator string    `json:"generator,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// LooksLikeCV is the minimal plausibility check applied to generated
// content: a CV must name a person and their title.
func (d CVDocument) LooksLikeCV() bool {
	return strings.TrimSpace(d.PersonalInfo.Name) != "" &&
		strings.TrimSpace(d.PersonalInfo.Title) != ""
}

// IsEmpty reports whether the document carries no content at all.
func (d CVDocument) IsEmpty() bool {
	p := d.PersonalInfo
	return strings.TrimSpace(p.Name+p.Title+p.Email+p.Phone+p.Location+d.Summary) == "" &&
		len(d.Experience) == 0 &&
		len(d.Education) == 0 &&
		len(d.Skills) == 0 &&
		len(d.Languages) == 0
}

// Enrich stamps provenance metadata onto the document. An existing
// creation time is preserved; the update time is always refreshed.
func (d CVDocument) Enrich(generator, source string, now time.Time) CVDocument {
	d.Metadata.Generator = generator
	d.Metadata.Source = source
	if d.Metadata.CreatedAt.IsZero() {
		d.Metadata.CreatedAt = now
	}
	d.Metadata.UpdatedAt = now
	return d
}

// MatchScore is the outcome of comparing a CV with a job description.
type MatchScore struct {
	Score       int      `json:"score"`
	Analysis    string   `json:"analysis"`
	Suggestions []string `json:"suggestions,omitempty"`
}
