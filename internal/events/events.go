package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent is returned by Validate.
var ErrInvalidEvent = errors.New("invalid task request event")

// TaskRequestEvent is a job submission.
type TaskRequestEvent struct {
	// ID is a unique identifier for this event. It becomes the ID of the
	// task record, so callers can hand it to clients before the job starts.
	ID uuid.UUID `json:"id"`

	// Type indicates the task type that should be created
	Type string `json:"type"`

	// UserID identifies the user the task runs for
	UserID uuid.UUID `json:"user_id"`

	// DeviceID identifies the client device that requested the task
	DeviceID string `json:"device_id"`

	// Payload contains the task-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *TaskRequestEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Validate checks the fields every job needs to create its task record.
func (e *TaskRequestEvent) Validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case e.ID == uuid.Nil:
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case e.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	case e.UserID == uuid.Nil:
		return fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	}
	return nil
}

// NewTaskRequestEvent creates a new TaskRequestEvent with the specified type,
// owner and payload.
func NewTaskRequestEvent(
	eventType string,
	userID uuid.UUID,
	deviceID string,
	payload any,
) (*TaskRequestEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}

	return &TaskRequestEvent{
		ID:        uuid.New(),
		Type:      eventType,
		UserID:    userID,
		DeviceID:  deviceID,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler consumes job submissions.
type EventHandler interface {
	// HandleEvent schedules the job described by event. An error means no
	// task was queued.
	HandleEvent(ctx context.Context, event *TaskRequestEvent) error
}

// EventEmitter publishes job submissions. The API depends on it.
type EventEmitter interface {
	// EmitEvent delivers event to the registered handlers.
	EmitEvent(ctx context.Context, event *TaskRequestEvent) error
}
