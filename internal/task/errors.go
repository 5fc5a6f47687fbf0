package task

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Common errors returned by the task package
var (
	// ErrCancelled marks a run that was stopped at a user's request.
	// It is used as the cancellation cause of a run context.
	ErrCancelled = errors.New("task cancelled")

	// ErrShuttingDown is the cancellation cause of runs interrupted by
	// a server shutdown.
	ErrShuttingDown = errors.New("server shutting down")

	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")

	// ErrNoValidArtifacts is returned when a run produced no artifact that
	// passed validation.
	ErrNoValidArtifacts = errors.New(NoValidCVMessage)

	ErrUnknownTaskType      = errors.New("unknown task type")
	ErrServiceNotRegistered = errors.New("service not registered")
	ErrInvalidPayload       = errors.New("invalid task payload")
	ErrScriptFailed         = errors.New("interpreter script failed")
)

// User-facing failure messages stored on task records.
const (
	QuotaExceededMessage  = "The AI service is temporarily over capacity. Please try again in a few minutes."
	GenericFailureMessage = "An unexpected error occurred while processing the task"
	NoValidCVMessage      = "No valid CV could be generated"
	RestartMessage        = "Task interrupted by server restart"
	ShutdownMessage       = "Task interrupted by server shutdown"
	StaleMessage          = "Task stopped responding and was abandoned"
)

var quotaPattern = regexp.MustCompile(`(?i)(quota|rate.?limit|resource.?exhausted|insufficient_quota|\b429\b)`)

// IsQuotaError reports whether err carries an upstream quota or rate-limit
// failure.
func IsQuotaError(err error) bool {
	return err != nil && quotaPattern.MatchString(err.Error())
}

// NormalizeErrorMessage converts a job error into the short message stored
// on a failed task record.
func NormalizeErrorMessage(err error) string {
	if err == nil {
		return GenericFailureMessage
	}
	if errors.Is(err, ErrShuttingDown) {
		return ShutdownMessage
	}
	if errors.Is(err, ErrNoValidArtifacts) {
		return NoValidCVMessage
	}
	if IsQuotaError(err) {
		return QuotaExceededMessage
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return GenericFailureMessage
	}
	return msg
}

// isCancellation reports whether a run ended because it was cancelled. The
// run context is checked first, so an aborted run counts as cancelled
// whatever error the service returned.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrCancelled) {
		return true
	}
	return errors.Is(err, ErrCancelled)
}

// isShutdown reports whether a run was interrupted by a shutdown.
func isShutdown(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrShuttingDown) {
		return true
	}
	return errors.Is(err, ErrShuttingDown)
}
