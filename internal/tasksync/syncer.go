package tasksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
)

// Default polling settings.
const (
	DefaultInterval   = 3 * time.Second
	DefaultStaleAfter = 2 * time.Minute
)

// Fetcher is the task API as seen by the client. HTTPFetcher implements it.
type Fetcher interface {
	// ListTasks returns the user's tasks, limited to deviceID when it is
	// set and to tasks updated strictly after since when it is non-nil.
	ListTasks(ctx context.Context, deviceID string, since *time.Time) ([]domain.Task, error)
	CancelTask(ctx context.Context, id uuid.UUID) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
}

// ExecuteFunc is work a client performs itself for a task, such as an
// upload. It must return when ctx is done.
type ExecuteFunc func(ctx context.Context) error

// Config holds the polling settings of a Syncer.
type Config struct {
	// DeviceID limits syncing to tasks started on one device. Empty syncs
	// every device of the user.
	DeviceID string
	// Interval between polls.
	Interval time.Duration
	// StaleAfter is how long a running task with no local execution may go
	// without an update before a full sync demotes it.
	StaleAfter time.Duration
}

// LocalTask is the client's view of one task.
type LocalTask struct {
	domain.Task
	// Local reports whether this client holds the task's execution.
	Local bool `json:"local"`
	// Executing reports whether that execution is still running.
	Executing bool `json:"executing"`
}

// execution is the handle of work started through Track.
type execution struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func (e *execution) running() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

type entry struct {
	task domain.Task
	exec *execution
}

// Syncer keeps the merged task list of one client.
type Syncer struct {
	fetcher Fetcher
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	tasks   map[uuid.UUID]*entry
	cursor  *time.Time
	started bool

	fullRequested atomic.Bool
	wg            sync.WaitGroup
}

// NewSyncer creates a Syncer. Zero config values take the defaults.
func NewSyncer(fetcher Fetcher, config Config, logger *slog.Logger) *Syncer {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		fetcher: fetcher,
		config:  config,
		logger:  logger.With("component", "task_syncer"),
		now:     time.Now,
		tasks:   make(map[uuid.UUID]*entry),
	}
}

// Track records a task started by this client and runs execute for it on a
// new goroutine. When execute returns, the local status becomes completed,
// failed or cancelled unless a terminal status was already merged.
func (s *Syncer) Track(ctx context.Context, task domain.Task, execute ExecuteFunc) {
	runCtx, cancel := context.WithCancelCause(ctx)
	exec := &execution{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if task.Status == "" || task.Status == domain.TaskStatusQueued {
		task.Status = domain.TaskStatusRunning
	}
	task.UpdatedAt = s.now().UTC()
	s.tasks[task.ID] = &entry{task: task, exec: exec}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(exec.done)
		defer cancel(nil)

		err := execute(runCtx)
		s.finishLocal(runCtx, task.ID, err)
	}()
}

func (s *Syncer) finishLocal(ctx context.Context, id uuid.UUID, err error) {
	status := domain.TaskStatusCompleted
	var message *string
	switch {
	case errors.Is(context.Cause(ctx), ErrCancelled), errors.Is(err, ErrCancelled):
		status = domain.TaskStatusCancelled
	case err != nil:
		status = domain.TaskStatusFailed
		msg := err.Error()
		message = &msg
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok || e.task.Status.IsTerminal() {
		return
	}
	e.task.Status = status
	e.task.Error = message
	e.task.UpdatedAt = s.now().UTC()
	s.logger.Debug("local execution finished",
		"task_id", id,
		"status", status)
}

// Wait blocks until every tracked execution has returned.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// RequestFullSync makes the next poll a full sync.
func (s *Syncer) RequestFullSync() {
	s.fullRequested.Store(true)
}

// Run polls until ctx is done. The first poll and any poll following
// RequestFullSync are full syncs; the others are incremental. Poll errors
// are logged and retried on the next tick.
func (s *Syncer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("syncer already running")
	}
	s.started = true
	s.mu.Unlock()

	s.RequestFullSync()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		full := s.fullRequested.Swap(false)
		if err := s.SyncOnce(ctx, full); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if full {
				s.RequestFullSync()
			}
			s.logger.Warn("task sync failed", "error", err, "full", full)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SyncOnce fetches tasks and merges them into the local view. A full sync
// fetches every task, drops untracked tasks the server no longer reports
// and demotes phantom running tasks.
func (s *Syncer) SyncOnce(ctx context.Context, full bool) error {
	var since *time.Time
	if !full {
		s.mu.Lock()
		since = s.cursor
		s.mu.Unlock()
	}

	remote, err := s.fetcher.ListTasks(ctx, s.config.DeviceID, since)
	if err != nil {
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(remote))
	for _, task := range remote {
		seen[task.ID] = struct{}{}
		s.mergeLocked(task)
		if s.cursor == nil || task.UpdatedAt.After(*s.cursor) {
			updated := task.UpdatedAt
			s.cursor = &updated
		}
	}

	if full {
		for id, e := range s.tasks {
			if _, ok := seen[id]; !ok && e.exec == nil {
				delete(s.tasks, id)
			}
		}
		s.demotePhantomsLocked()
	}
	return nil
}

// mergeLocked folds one server record into the local view.
func (s *Syncer) mergeLocked(remote domain.Task) {
	e, ok := s.tasks[remote.ID]
	if !ok {
		s.tasks[remote.ID] = &entry{task: remote}
		return
	}

	if preserveLocal(e, remote) {
		s.logger.Debug("keeping local status over older server status",
			"task_id", remote.ID,
			"local_status", e.task.Status,
			"server_status", remote.Status)
		return
	}

	if remote.Status == domain.TaskStatusCancelled && e.task.Status == domain.TaskStatusRunning &&
		e.exec != nil && e.exec.running() {
		s.logger.Info("task cancelled on server, aborting local execution", "task_id", remote.ID)
		e.exec.cancel(ErrCancelled)
	}
	e.task = remote
}

// preserveLocal reports whether the local record wins over remote: this
// client holds the execution, the local status is terminal, and the server
// reports an earlier status.
func preserveLocal(e *entry, remote domain.Task) bool {
	return e.exec != nil &&
		e.task.Status.IsTerminal() &&
		domain.CompareStatus(remote.Status, e.task.Status) < 0
}

func (s *Syncer) demotePhantomsLocked() {
	now := s.now()
	for id, e := range s.tasks {
		if e.exec != nil || e.task.Status != domain.TaskStatusRunning {
			continue
		}
		if now.Sub(e.task.UpdatedAt) <= s.config.StaleAfter {
			continue
		}
		s.logger.Info("demoting stale running task",
			"task_id", id,
			"last_update", e.task.UpdatedAt)
		e.task.Status = domain.TaskStatusCancelled
	}
}

// Cancel asks the server to cancel a task and aborts its local execution.
func (s *Syncer) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.fetcher.CancelTask(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil
	}
	if e.exec != nil {
		e.exec.cancel(ErrCancelled)
	}
	if !e.task.Status.IsTerminal() {
		e.task.Status = domain.TaskStatusCancelled
		e.task.UpdatedAt = s.now().UTC()
	}
	return nil
}

// Remove deletes a finished task on the server and locally, then requests
// a full sync.
func (s *Syncer) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if ok && e.exec != nil && e.exec.running() {
		s.mu.Unlock()
		return fmt.Errorf("%w: task %s is still executing", ErrConflict, id)
	}
	s.mu.Unlock()

	if err := s.fetcher.DeleteTask(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	s.RequestFullSync()
	return nil
}

// Get returns the local view of one task.
func (s *Syncer) Get(id uuid.UUID) (LocalTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return LocalTask{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return e.snapshot(), nil
}

// Tasks returns the merged task list: running tasks first, then newest
// first.
func (s *Syncer) Tasks() []LocalTask {
	s.mu.Lock()
	out := make([]LocalTask, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.snapshot())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b LocalTask) int {
		aRunning := a.Status == domain.TaskStatusRunning
		bRunning := b.Status == domain.TaskStatusRunning
		switch {
		case aRunning && !bRunning:
			return -1
		case bRunning && !aRunning:
			return 1
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out
}

func (e *entry) snapshot() LocalTask {
	lt := LocalTask{Task: e.task, Local: e.exec != nil}
	if e.exec != nil {
		lt.Executing = e.exec.running()
	}
	return lt
}
