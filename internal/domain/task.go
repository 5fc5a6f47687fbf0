package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a background task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task type tags, one per concrete job implementation.
const (
	TaskTypeGeneration       = "generation"
	TaskTypeImport           = "import"
	TaskTypeTemplateCreation = "template-creation"
	TaskTypeMatchScore       = "calculate-match-score"
)

// TerminalRank is the lowest rank of a terminal status. Every status whose
// rank is greater than or equal to it is final.
const TerminalRank = 2

// Rank places the status in the total order used to compare task states:
// queued < running < completed < failed < cancelled.
// Unknown statuses rank below queued.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStatusQueued:
		return 0
	case TaskStatusRunning:
		return 1
	case TaskStatusCompleted:
		return 2
	case TaskStatusFailed:
		return 3
	case TaskStatusCancelled:
		return 4
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s.Rank() >= TerminalRank
}

// IsActive reports whether the task still occupies (or waits for) a queue slot.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusQueued || s == TaskStatusRunning
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	return s.Rank() >= 0
}

// CompareStatus returns -1, 0 or +1 depending on whether a ranks below,
// equal to, or above b.
func CompareStatus(a, b TaskStatus) int {
	ra, rb := a.Rank(), b.Rank()
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// SourceStatuses lists the statuses a task may be in for a transition to
// target to be accepted. Terminal statuses never appear as sources.
func SourceStatuses(target TaskStatus) []TaskStatus {
	switch target {
	case TaskStatusRunning:
		return []TaskStatus{TaskStatusQueued}
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return []TaskStatus{TaskStatusQueued, TaskStatusRunning}
	default:
		return nil
	}
}

// CanTransition reports whether a task in status from may move to status to.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range SourceStatuses(to) {
		if s == from {
			return true
		}
	}
	return false
}

// Task is the persisted record of one background job execution.
type Task struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Status    TaskStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	DeviceID  string          `json:"device_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewTask creates a queued task with the given identity.
func NewTask(id, userID uuid.UUID, taskType, deviceID string) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:        id,
		UserID:    userID,
		Type:      taskType,
		Status:    TaskStatusQueued,
		DeviceID:  deviceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.UserID == uuid.Nil {
		return ErrEmptyTaskUserID
	}
	if t.Type == "" {
		return ErrEmptyTaskType
	}
	if !t.Status.Valid() {
		return ErrInvalidTaskStatus
	}
	return nil
}

// TaskUpdate describes one status transition written to the task store.
// Result is only stored for completed tasks and Error only for failed ones.
type TaskUpdate struct {
	Status TaskStatus
	Result json.RawMessage
	Error  string
}
