package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Job is one enqueued unit of work. It receives the queue's base context,
// which is cancelled with ErrShuttingDown when the queue stops.
type Job func(ctx context.Context) error

// QueueConfig holds configuration for the job queue
type QueueConfig struct {
	// MaxConcurrent caps the number of jobs running at once.
	// If zero or negative, defaults to 1
	MaxConcurrent int

	// QueueSize bounds the pending list. If zero or negative, the pending
	// list is unbounded.
	QueueSize int

	// TypeLimits caps running jobs per task type. Types without an entry
	// are only bounded by MaxConcurrent.
	TypeLimits map[string]int
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrent: 4,
		QueueSize:     100,
		TypeLimits:    map[string]int{},
	}
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Pending       int            `json:"pending"`
	Running       int            `json:"running"`
	RunningByType map[string]int `json:"running_by_type"`
}

type queueEntry struct {
	taskType   string
	job        Job
	enqueuedAt time.Time
}

// Queue runs enqueued jobs with bounded concurrency. Jobs start in enqueue
// order within a task type; a type at its limit does not hold back jobs of
// other types queued behind it.
type Queue struct {
	mu            sync.Mutex
	pending       []*queueEntry
	running       int
	runningByType map[string]int
	config        QueueConfig
	started       bool
	closed        bool

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewQueue creates a new job queue. Jobs only start after Start is called.
func NewQueue(config QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_queue")

	if config.MaxConcurrent <= 0 {
		logger.Warn("invalid max concurrency specified, using default",
			"specified_count", config.MaxConcurrent,
			"default_count", 1)
		config.MaxConcurrent = 1
	}
	limits := make(map[string]int, len(config.TypeLimits))
	for k, v := range config.TypeLimits {
		limits[k] = v
	}
	config.TypeLimits = limits

	return &Queue{
		runningByType: make(map[string]int),
		config:        config,
		logger:        logger,
	}
}

// EnqueueJob appends a job to the pending list.
// Returns ErrQueueClosed after Stop and ErrQueueFull when the pending list
// is at capacity.
func (q *Queue) EnqueueJob(taskType string, job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.config.QueueSize > 0 && len(q.pending) >= q.config.QueueSize {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.config.QueueSize)
	}
	q.pending = append(q.pending, &queueEntry{
		taskType:   taskType,
		job:        job,
		enqueuedAt: time.Now(),
	})
	queueDepthGauge.Set(float64(len(q.pending)))
	q.logger.Debug("job enqueued",
		"task_type", taskType,
		"pending", len(q.pending),
		"running", q.running)
	q.mu.Unlock()

	q.dispatch()
	return nil
}

// CanStartTaskType reports whether a job of taskType may start now.
func (q *Queue) CanStartTaskType(taskType string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canStartLocked(taskType)
}

// RegisterTaskTypeStart counts a job of taskType as running.
func (q *Queue) RegisterTaskTypeStart(taskType string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registerStartLocked(taskType)
}

// RegisterTaskTypeEnd releases the slot taken by a job of taskType.
func (q *Queue) RegisterTaskTypeEnd(taskType string) {
	q.mu.Lock()
	q.registerEndLocked(taskType)
	q.mu.Unlock()
	q.dispatch()
}

// Start begins dispatching jobs. ctx becomes the parent of every job's
// context.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.ctx, q.cancel = context.WithCancelCause(ctx)
	q.started = true
	q.mu.Unlock()

	q.logger.Info("job queue started",
		"max_concurrent", q.config.MaxConcurrent,
		"queue_size", q.config.QueueSize)
	q.dispatch()
}

// Stop rejects new jobs, cancels running ones with ErrShuttingDown and
// waits for them to return. Jobs still pending are run with the cancelled
// context so they can record their interruption.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if !q.started {
		q.ctx, q.cancel = context.WithCancelCause(context.Background())
		q.started = true
	}
	pending := q.pending
	q.pending = nil
	queueDepthGauge.Set(0)
	q.mu.Unlock()

	q.cancel(ErrShuttingDown)

	for _, e := range pending {
		q.wg.Add(1)
		q.execute(e)
	}
	q.wg.Wait()

	q.logger.Info("job queue stopped", "drained_pending", len(pending))
}

// Stats returns the current queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	byType := make(map[string]int, len(q.runningByType))
	for k, v := range q.runningByType {
		byType[k] = v
	}
	return QueueStats{
		Pending:       len(q.pending),
		Running:       q.running,
		RunningByType: byType,
	}
}

// dispatch starts as many pending jobs as the limits allow, oldest first.
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started || q.closed {
		return
	}

	i := 0
	for i < len(q.pending) && q.running < q.config.MaxConcurrent {
		e := q.pending[i]
		if !q.canStartLocked(e.taskType) {
			i++
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.registerStartLocked(e.taskType)
		queueWaitTime.WithLabelValues(e.taskType).Observe(time.Since(e.enqueuedAt).Seconds())

		q.wg.Add(1)
		go func(e *queueEntry) {
			defer func() {
				q.RegisterTaskTypeEnd(e.taskType)
			}()
			q.execute(e)
		}(e)
	}
	queueDepthGauge.Set(float64(len(q.pending)))
}

// execute runs one job, containing panics so the queue keeps draining.
func (q *Queue) execute(e *queueEntry) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			jobPanics.WithLabelValues(e.taskType).Inc()
			q.logger.Error("job panicked",
				"task_type", e.taskType,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := e.job(q.ctx); err != nil {
		q.logger.Error("job failed",
			"task_type", e.taskType,
			"error", err)
	}
}

func (q *Queue) canStartLocked(taskType string) bool {
	if q.running >= q.config.MaxConcurrent {
		return false
	}
	if limit, ok := q.config.TypeLimits[taskType]; ok && limit > 0 {
		return q.runningByType[taskType] < limit
	}
	return true
}

func (q *Queue) registerStartLocked(taskType string) {
	q.running++
	q.runningByType[taskType]++
	jobsRunningGauge.WithLabelValues(taskType).Inc()
}

func (q *Queue) registerEndLocked(taskType string) {
	if q.runningByType[taskType] > 0 {
		q.runningByType[taskType]--
		if q.runningByType[taskType] == 0 {
			delete(q.runningByType, taskType)
		}
		q.running--
		jobsRunningGauge.WithLabelValues(taskType).Dec()
	}
}
