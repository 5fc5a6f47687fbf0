package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrEmptyProfile is returned when a CV request has no profile text.
	ErrEmptyProfile = errors.New("profile cannot be empty")

	// ErrEmptyRole is returned when a template request names no role.
	ErrEmptyRole = errors.New("role cannot be empty")

	// ErrEmptyJobDescription is returned when a match score request has no
	// job description.
	ErrEmptyJobDescription = errors.New("job description cannot be empty")
)
