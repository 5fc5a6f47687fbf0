package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/phrazzld/resumate-api/internal/api/shared"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/service/auth"
	"github.com/phrazzld/resumate-api/internal/store"
	"github.com/phrazzld/resumate-api/internal/task"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"task not found", store.ErrTaskNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", store.ErrCVNotFound), http.StatusNotFound},
		{"task active", ErrTaskActive, http.StatusConflict},
		{"task finished", fmt.Errorf("%w: status completed", ErrTaskFinished), http.StatusConflict},
		{"invalid payload", fmt.Errorf("schedule: %w", task.ErrInvalidPayload), http.StatusBadRequest},
		{"invalid id", domain.ErrInvalidID, http.StatusBadRequest},
		{"queue full", task.ErrQueueFull, http.StatusServiceUnavailable},
		{"queue closed", task.ErrQueueClosed, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "An unexpected error occurred"},
		{"cv not found", store.ErrCVNotFound, "CV not found"},
		{"task not found", store.ErrTaskNotFound, "Task not found"},
		{"payload detail", fmt.Errorf("failed: %w: pdf is required", task.ErrInvalidPayload), "Invalid request: pdf is required"},
		{"bare payload", task.ErrInvalidPayload, "Invalid request"},
		{"internal detail hidden", errors.New("pq: relation background_tasks does not exist"), "An unexpected error occurred"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GetSafeErrorMessage(tc.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	err := shared.ValidateRequest(TemplateCVRequest{DeviceID: "d", Role: "SRE", Count: 7})

	assert.Equal(t, "Invalid count: too large", SanitizeValidationError(err))
	assert.Equal(t, http.StatusBadRequest, MapErrorToStatusCode(err))
	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("plain")))
}
