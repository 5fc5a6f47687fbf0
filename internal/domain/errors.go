package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every entity validation error, so the
// API can answer 400 for any of them.
var ErrValidation = errors.New("validation failed")

var (
	// ErrInvalidID is returned for malformed or nil identifiers.
	ErrInvalidID = errors.New("invalid ID")

	// ErrUnauthorized is returned when a caller acts on another user's data
	// or without a user at all.
	ErrUnauthorized = errors.New("unauthorized operation")
)

// Task validation errors.
var (
	ErrEmptyTaskID       = invalid("task ID cannot be empty")
	ErrEmptyTaskUserID   = invalid("task user ID cannot be empty")
	ErrEmptyTaskType     = invalid("task type cannot be empty")
	ErrInvalidTaskStatus = invalid("invalid task status")
)

// CV validation errors.
var (
	ErrEmptyCVID       = invalid("cv ID cannot be empty")
	ErrEmptyCVUserID   = invalid("cv user ID cannot be empty")
	ErrEmptyCVFilename = invalid("cv filename cannot be empty")
	ErrNotACV          = invalid("content does not look like a CV")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
