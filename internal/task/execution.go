package task

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Meta identifies a task and the user and device it runs for.
type Meta struct {
	TaskID   uuid.UUID
	UserID   uuid.UUID
	DeviceID string
}

// Execution is the state of one run, handed to every job hook.
type Execution[I any] struct {
	Meta
	TaskType  string
	Input     I
	Logger    *slog.Logger
	StartedAt time.Time

	// Workspace is set by jobs that stage files on disk. The runner
	// removes it on every exit path.
	Workspace *Workspace

	registry *ProcessRegistry
	cancel   context.CancelCauseFunc

	mu            sync.Mutex
	compensations []compensation
	attachments   map[any]any
}

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

func newExecution[I any](meta Meta, taskType string, input I, logger *slog.Logger) *Execution[I] {
	return &Execution[I]{
		Meta:        meta,
		TaskType:    taskType,
		Input:       input,
		Logger:      logger,
		StartedAt:   time.Now(),
		attachments: make(map[any]any),
	}
}

// AddCompensation registers an action that undoes a side effect when the
// run ends in failure or cancellation. Compensations run in reverse order
// of registration.
func (e *Execution[I]) AddCompensation(name string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compensations = append(e.compensations, compensation{name: name, fn: fn})
}

// DropCompensation removes a compensation once its side effect is final.
func (e *Execution[I]) DropCompensation(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.compensations[:0]
	for _, c := range e.compensations {
		if c.name != name {
			kept = append(kept, c)
		}
	}
	e.compensations = kept
}

// Attach stores a value for later hooks of the same run.
func (e *Execution[I]) Attach(key, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attachments[key] = value
}

// Attached returns a value stored with Attach.
func (e *Execution[I]) Attached(key any) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.attachments[key]
	return v, ok
}

// TrackProcess makes cancellation of this task terminate cmd and returns
// the handle registered for it. exited must be closed once cmd has been
// waited on; call ReleaseProcess afterwards.
func (e *Execution[I]) TrackProcess(cmd *exec.Cmd, exited chan struct{}, grace time.Duration) *ProcessHandle {
	h := NewProcessHandle(cmd, e.cancel, grace, exited)
	if e.registry != nil {
		e.registry.Register(e.TaskID, h)
	}
	return h
}

// ReleaseProcess restores plain context cancellation after a tracked
// process has exited.
func (e *Execution[I]) ReleaseProcess() {
	if e.registry == nil || e.cancel == nil {
		return
	}
	e.registry.Register(e.TaskID, NewAbortHandle(e.cancel))
}

func (e *Execution[I]) runCompensations(ctx context.Context) {
	e.mu.Lock()
	comps := make([]compensation, len(e.compensations))
	copy(comps, e.compensations)
	e.compensations = nil
	e.mu.Unlock()

	for i := len(comps) - 1; i >= 0; i-- {
		c := comps[i]
		if err := callSafely(func() error { return c.fn(ctx) }); err != nil {
			e.Logger.Error("compensation failed",
				"compensation", c.name,
				"error", err)
		}
	}
}
