package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUserID = uuid.MustParse("6f1c1d3e-4f7a-4c59-9a51-2b6f0b6f9d10")

// MockEventHandler records what the emitter delivers.
type MockEventHandler struct {
	LastEvent    *TaskRequestEvent
	HandlerError error
	HandledCount int
}

func (h *MockEventHandler) HandleEvent(_ context.Context, event *TaskRequestEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

type matchScoreRequest struct {
	CVID           uuid.UUID `json:"cv_id"`
	JobDescription string    `json:"job_description"`
	Automatic      bool      `json:"automatic"`
}

func TestNewTaskRequestEvent(t *testing.T) {
	want := matchScoreRequest{CVID: uuid.New(), JobDescription: "Go engineer", Automatic: true}

	event, err := NewTaskRequestEvent("match_score", testUserID, "device-1", want)

	require.NoError(t, err)
	require.NoError(t, event.Validate())
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, "match_score", event.Type)
	assert.Equal(t, testUserID, event.UserID)
	assert.Equal(t, "device-1", event.DeviceID)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)
	assert.JSONEq(t, `{"cv_id":"`+want.CVID.String()+`","job_description":"Go engineer","automatic":true}`,
		string(event.Payload))

	var got matchScoreRequest
	require.NoError(t, event.UnmarshalPayload(&got))
	assert.Equal(t, want, got)
}

func TestNewTaskRequestEvent_UniqueIDs(t *testing.T) {
	a, err := NewTaskRequestEvent("import", testUserID, "", nil)
	require.NoError(t, err)
	b, err := NewTaskRequestEvent("import", testUserID, "", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID, "event IDs become task IDs")
	assert.JSONEq(t, "null", string(a.Payload))
}

func TestNewTaskRequestEvent_UnencodablePayload(t *testing.T) {
	_, err := NewTaskRequestEvent("generation", testUserID, "", make(chan int))
	assert.ErrorContains(t, err, "generation payload")
}

func TestUnmarshalPayload_TypeMismatch(t *testing.T) {
	event, err := NewTaskRequestEvent("template", testUserID, "", map[string]int{"count": 2})
	require.NoError(t, err)

	var role string
	assert.Error(t, event.UnmarshalPayload(&role))
}

func TestTaskRequestEvent_Validate(t *testing.T) {
	valid := func() *TaskRequestEvent {
		return &TaskRequestEvent{ID: uuid.New(), Type: "import", UserID: testUserID}
	}

	tests := map[string]func(e *TaskRequestEvent) *TaskRequestEvent{
		"nil":          func(*TaskRequestEvent) *TaskRequestEvent { return nil },
		"missing id":   func(e *TaskRequestEvent) *TaskRequestEvent { e.ID = uuid.Nil; return e },
		"missing type": func(e *TaskRequestEvent) *TaskRequestEvent { e.Type = ""; return e },
		"missing user": func(e *TaskRequestEvent) *TaskRequestEvent { e.UserID = uuid.Nil; return e },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, mutate(valid()).Validate(), ErrInvalidEvent)
		})
	}
	assert.NoError(t, valid().Validate())
}
