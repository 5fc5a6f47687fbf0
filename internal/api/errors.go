package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/resumate-api/internal/api/shared"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/service/auth"
	"github.com/phrazzld/resumate-api/internal/store"
	"github.com/phrazzld/resumate-api/internal/task"
)

// Handler-level errors.
var (
	// ErrTaskActive is returned when deleting a task that is still queued
	// or running.
	ErrTaskActive = errors.New("task is still active")

	// ErrTaskFinished is returned when cancelling a task that already
	// reached a terminal status.
	ErrTaskFinished = errors.New("task already finished")
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrTaskActive),
		errors.Is(err, ErrTaskFinished):
		return http.StatusConflict

	case errors.Is(err, task.ErrInvalidPayload),
		errors.Is(err, task.ErrUnknownTaskType),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.As(err, &verrs):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "Invalid token"
	case errors.Is(err, domain.ErrUnauthorized):
		return "Authentication required"

	case errors.Is(err, store.ErrCVNotFound):
		return "CV not found"
	case errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, ErrTaskActive):
		return "Task is still running"
	case errors.Is(err, ErrTaskFinished):
		return "Task already finished"

	case errors.As(err, &verrs):
		return SanitizeValidationError(verrs)
	case errors.Is(err, task.ErrInvalidPayload):
		return invalidPayloadMessage(err)
	case errors.Is(err, task.ErrUnknownTaskType):
		return "Unsupported task type"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"

	case errors.Is(err, task.ErrQueueFull):
		return "Too many tasks in progress. Please try again shortly."
	case errors.Is(err, task.ErrQueueClosed):
		return "The server is shutting down. Please try again shortly."

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the response for err. A non-empty message
// replaces the mapped user-facing message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), message, err)
}

// SanitizeValidationError turns validator errors into a message naming the
// first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// invalidPayloadMessage keeps the detail a job attached to
// task.ErrInvalidPayload, such as "profile is required".
func invalidPayloadMessage(err error) string {
	msg := err.Error()
	prefix := task.ErrInvalidPayload.Error() + ": "
	if i := strings.LastIndex(msg, prefix); i >= 0 {
		if detail := strings.TrimSpace(msg[i+len(prefix):]); detail != "" {
			return "Invalid request: " + detail
		}
	}
	return "Invalid request"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	case "uuid":
		return "invalid ID"
	default:
		return "validation failed"
	}
}
