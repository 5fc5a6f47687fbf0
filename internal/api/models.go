package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
)

// Task polling

// TaskResponse is the client view of a background task.
type TaskResponse struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Status    domain.TaskStatus `json:"status"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Error     *string           `json:"error,omitempty"`
	DeviceID  string            `json:"device_id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TaskListResponse is returned by GET /api/tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	// ServerTime is when the list was read. Clients may use it as the
	// next since cursor.
	ServerTime time.Time `json:"server_time"`
}

// TaskAcceptedResponse is returned when a job was scheduled.
type TaskAcceptedResponse struct {
	TaskID uuid.UUID         `json:"task_id"`
	Type   string            `json:"type"`
	Status domain.TaskStatus `json:"status"`
}

// CancelTaskResponse is returned by POST /api/tasks/{id}/cancel.
type CancelTaskResponse struct {
	TaskID uuid.UUID         `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
	// Terminated reports whether a live local execution was stopped.
	Terminated bool `json:"terminated"`
}

// Job submission

// GenerateCVRequest defines the payload for POST /api/cvs/generate.
type GenerateCVRequest struct {
	DeviceID       string `json:"device_id"       validate:"required,max=128"`
	Profile        string `json:"profile"         validate:"required"`
	JobDescription string `json:"job_description"`
	Language       string `json:"language"        validate:"max=32"`
	Variants       int    `json:"variants"        validate:"omitempty,min=1,max=5"`
}

// TemplateCVRequest defines the payload for POST /api/cvs/templates.
type TemplateCVRequest struct {
	DeviceID  string `json:"device_id" validate:"required,max=128"`
	Role      string `json:"role"      validate:"required,max=200"`
	Seniority string `json:"seniority" validate:"max=64"`
	Language  string `json:"language"  validate:"max=32"`
	Count     int    `json:"count"     validate:"omitempty,min=1,max=3"`
}

// MatchScoreRequest defines the payload for POST /api/cvs/{id}/match-score.
type MatchScoreRequest struct {
	DeviceID       string `json:"device_id"       validate:"required,max=128"`
	JobDescription string `json:"job_description" validate:"required"`
	Automatic      bool   `json:"automatic"`
}

// importForm holds the non-file fields of POST /api/cvs/import.
type importForm struct {
	DeviceID string `form:"device_id" validate:"required,max=128"`
}

func newTaskResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		Type:      t.Type,
		Status:    t.Status,
		Result:    t.Result,
		Error:     t.Error,
		DeviceID:  t.DeviceID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
