package gemini

import "github.com/phrazzld/resumate-api/internal/domain"

// cvPromptData is passed to the cv prompt.
type cvPromptData struct {
	Profile        string
	JobDescription string
	Language       string
	Variants       int
}

// templatePromptData is passed to the template prompt.
type templatePromptData struct {
	Role      string
	Seniority string
	Language  string
	Count     int
}

// matchScorePromptData is passed to the match score prompt.
type matchScorePromptData struct {
	CV             domain.CVDocument
	JobDescription string
}

// CVResponseSchema is the JSON shape requested from the model for CV and
// template generation.
type CVResponseSchema struct {
	// CVs holds one document per requested variant
	CVs []domain.CVDocument `json:"cvs"`
}

// MatchScoreSchema is the JSON shape requested from the model for scoring.
type MatchScoreSchema struct {
	// Score is the fit between 0 and 100
	Score int `json:"score"`

	// Analysis explains the score
	Analysis string `json:"analysis"`

	// Suggestions lists concrete CV improvements for this job
	Suggestions []string `json:"suggestions,omitempty"`
}
