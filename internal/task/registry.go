package task

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultKillGracePeriod is how long a child process gets to exit after
// SIGTERM before it is sent SIGKILL.
const DefaultKillGracePeriod = 5 * time.Second

// Handle terminates the work behind one running task.
type Handle interface {
	// Terminate starts termination and returns immediately.
	Terminate()
}

// ProcessRegistry tracks the termination handle of every running task.
// There is at most one handle per task ID; registering again replaces it.
//
// Separately it counts the runs that own a task record, from before the
// running write until after the terminal write. The handle is cleared
// earlier than that, so the stale-task check asks InFlight too.
type ProcessRegistry struct {
	mu       sync.Mutex
	handles  map[uuid.UUID]Handle
	inFlight map[uuid.UUID]int
	logger   *slog.Logger
}

// NewProcessRegistry creates an empty registry.
func NewProcessRegistry(logger *slog.Logger) *ProcessRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRegistry{
		handles:  make(map[uuid.UUID]Handle),
		inFlight: make(map[uuid.UUID]int),
		logger:   logger.With("component", "process_registry"),
	}
}

// Register stores the handle for taskID.
func (r *ProcessRegistry) Register(taskID uuid.UUID, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[taskID] = h
}

// Get returns the handle registered for taskID.
func (r *ProcessRegistry) Get(taskID uuid.UUID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[taskID]
	return h, ok
}

// Clear removes the entry for taskID.
func (r *ProcessRegistry) Clear(taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, taskID)
}

// Kill terminates the task's work and reports whether a handle was found.
// The entry stays registered until the run itself clears it.
func (r *ProcessRegistry) Kill(taskID uuid.UUID) bool {
	h, ok := r.Get(taskID)
	if !ok {
		return false
	}
	r.logger.Info("terminating task", "task_id", taskID)
	h.Terminate()
	return true
}

// Begin marks taskID as owned by a run in this process. The returned func
// ends the mark and may be called more than once.
func (r *ProcessRegistry) Begin(taskID uuid.UUID) (end func()) {
	r.mu.Lock()
	r.inFlight[taskID]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.inFlight[taskID] <= 1 {
				delete(r.inFlight, taskID)
				return
			}
			r.inFlight[taskID]--
		})
	}
}

// InFlight reports whether a run in this process still owns taskID.
func (r *ProcessRegistry) InFlight(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight[taskID] > 0
}

// Len returns the number of registered handles.
func (r *ProcessRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// AbortHandle cancels an in-process run.
type AbortHandle struct {
	cancel context.CancelCauseFunc
}

// NewAbortHandle wraps the cancel function of a run context.
func NewAbortHandle(cancel context.CancelCauseFunc) *AbortHandle {
	return &AbortHandle{cancel: cancel}
}

// Terminate cancels the run context with ErrCancelled.
func (h *AbortHandle) Terminate() {
	h.cancel(ErrCancelled)
}

// ProcessHandle stops a child process and the run that owns it.
// Termination sends SIGTERM to the process group and escalates to SIGKILL
// when the process is still alive after the grace period.
type ProcessHandle struct {
	cmd    *exec.Cmd
	cancel context.CancelCauseFunc
	grace  time.Duration
	done   chan struct{}
	once   sync.Once
}

// NewProcessHandle creates a handle for a started command. exited must be
// closed once the command has been waited on.
func NewProcessHandle(
	cmd *exec.Cmd,
	cancel context.CancelCauseFunc,
	grace time.Duration,
	exited chan struct{},
) *ProcessHandle {
	if grace <= 0 {
		grace = DefaultKillGracePeriod
	}
	return &ProcessHandle{cmd: cmd, cancel: cancel, grace: grace, done: exited}
}

// Terminate cancels the run and signals the process group.
func (h *ProcessHandle) Terminate() {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel(ErrCancelled)
		}
		select {
		case <-h.done:
			return
		default:
		}
		signalProcessGroup(h.cmd, false)
		go func() {
			select {
			case <-h.done:
			case <-time.After(h.grace):
				signalProcessGroup(h.cmd, true)
			}
		}()
	})
}
