package task

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/store"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTaskStore applies the same conditional transition rules as the
// postgres store.
type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*domain.Task
	history   map[uuid.UUID][]domain.TaskStatus
	createErr error
	updateErr error
	failErr   error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:   make(map[uuid.UUID]*domain.Task),
		history: make(map[uuid.UUID][]domain.TaskStatus),
	}
}

func (s *fakeTaskStore) Create(_ context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.tasks[t.ID]; ok {
		return store.ErrDuplicate
	}
	cp := *t
	s.tasks[t.ID] = &cp
	s.history[t.ID] = append(s.history[t.ID], t.Status)
	return nil
}

func (s *fakeTaskStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTaskStore) Update(_ context.Context, id, userID uuid.UUID, u domain.TaskUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID || !domain.CanTransition(t.Status, u.Status) {
		return 0, nil
	}
	t.Status = u.Status
	t.UpdatedAt = time.Now().UTC()
	if u.Status == domain.TaskStatusCompleted {
		t.Result = u.Result
	}
	if u.Status == domain.TaskStatusFailed {
		msg := u.Error
		t.Error = &msg
	}
	s.history[id] = append(s.history[id], u.Status)
	return 1, nil
}

func (s *fakeTaskStore) ListForUser(_ context.Context, userID uuid.UUID, deviceID string, since *time.Time) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.UserID != userID {
			continue
		}
		if deviceID != "" && t.DeviceID != deviceID {
			continue
		}
		if since != nil && !t.UpdatedAt.After(*since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeTaskStore) Delete(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID || !t.Status.IsTerminal() {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *fakeTaskStore) FailActive(_ context.Context, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return 0, s.failErr
	}
	var n int64
	for id, t := range s.tasks {
		if t.Status.IsActive() {
			t.Status = domain.TaskStatusFailed
			msg := message
			t.Error = &msg
			s.history[id] = append(s.history[id], domain.TaskStatusFailed)
			n++
		}
	}
	return n, nil
}

func (s *fakeTaskStore) ListStaleRunning(_ context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusRunning && t.UpdatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) WithTx(*sql.Tx) store.TaskStore {
	return s
}

func (s *fakeTaskStore) get(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := s.FindByID(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (s *fakeTaskStore) statuses(id uuid.UUID) []domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TaskStatus(nil), s.history[id]...)
}

// hookedTaskStore calls beforeUpdate ahead of every Update.
type hookedTaskStore struct {
	*fakeTaskStore
	beforeUpdate func(u domain.TaskUpdate)
}

func (s *hookedTaskStore) Update(ctx context.Context, id, userID uuid.UUID, u domain.TaskUpdate) (int64, error) {
	if s.beforeUpdate != nil {
		s.beforeUpdate(u)
	}
	return s.fakeTaskStore.Update(ctx, id, userID, u)
}

func (s *hookedTaskStore) WithTx(*sql.Tx) store.TaskStore {
	return s
}

// set forces a status without transition checks.
func (s *fakeTaskStore) set(id uuid.UUID, status domain.TaskStatus, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].Status = status
	s.tasks[id].UpdatedAt = updatedAt
	s.history[id] = append(s.history[id], status)
}

type fakeCVStore struct {
	mu        sync.Mutex
	cvs       map[uuid.UUID]*domain.CV
	statusLog map[uuid.UUID][]domain.MatchScoreStatus
	createErr error
	resetErr  error
	saved     int
}

func newFakeCVStore() *fakeCVStore {
	return &fakeCVStore{
		cvs:       make(map[uuid.UUID]*domain.CV),
		statusLog: make(map[uuid.UUID][]domain.MatchScoreStatus),
	}
}

func (s *fakeCVStore) Create(_ context.Context, cv *domain.CV) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.cvs {
		if existing.UserID == cv.UserID && existing.Filename == cv.Filename {
			return store.ErrDuplicate
		}
	}
	cp := *cv
	cp.CreatedAt = time.Now().UTC().Add(time.Duration(len(s.cvs)) * time.Millisecond)
	s.cvs[cv.ID] = &cp
	return nil
}

func (s *fakeCVStore) GetByID(_ context.Context, id, userID uuid.UUID) (*domain.CV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.cvs[id]
	if !ok || cv.UserID != userID {
		return nil, store.ErrCVNotFound
	}
	cp := *cv
	return &cp, nil
}

func (s *fakeCVStore) ListForUser(_ context.Context, userID uuid.UUID) ([]*domain.CV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CV
	for _, cv := range s.cvs {
		if cv.UserID == userID {
			cp := *cv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeCVStore) SaveMatchScore(_ context.Context, id uuid.UUID, score domain.MatchScore, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.cvs[id]
	if !ok {
		return store.ErrCVNotFound
	}
	v := score.Score
	cv.MatchScore = &v
	cv.MatchScoreAnalysis = score.Analysis
	cv.MatchScoreSuggestions = score.Suggestions
	cv.MatchScoreUpdatedAt = &at
	s.saved++
	return nil
}

func (s *fakeCVStore) SetMatchScoreStatus(_ context.Context, id uuid.UUID, status domain.MatchScoreStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cv, ok := s.cvs[id]
	if !ok {
		return store.ErrCVNotFound
	}
	cv.MatchScoreStatus = status
	s.statusLog[id] = append(s.statusLog[id], status)
	return nil
}

func (s *fakeCVStore) ResetMatchScoreStatuses(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetErr != nil {
		return 0, s.resetErr
	}
	var n int64
	for _, cv := range s.cvs {
		if cv.MatchScoreStatus != domain.MatchScoreStatusIdle {
			cv.MatchScoreStatus = domain.MatchScoreStatusIdle
			n++
		}
	}
	return n, nil
}

func (s *fakeCVStore) WithTx(*sql.Tx) store.CVStore {
	return s
}

func (s *fakeCVStore) filenames(userID uuid.UUID) []string {
	cvs, _ := s.ListForUser(context.Background(), userID)
	names := make([]string, len(cvs))
	for i, cv := range cvs {
		names[i] = cv.Filename
	}
	return names
}

func (s *fakeCVStore) statusHistory(id uuid.UUID) []domain.MatchScoreStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MatchScoreStatus(nil), s.statusLog[id]...)
}

// fakeUsage implements FeatureCharger, FeatureRefunder and UsageCounter.
type fakeUsage struct {
	mu        sync.Mutex
	charges   map[uuid.UUID]string
	refunds   []uuid.UUID
	counts    map[uuid.UUID]int
	chargeErr error
	incErr    error
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{
		charges: make(map[uuid.UUID]string),
		counts:  make(map[uuid.UUID]int),
	}
}

func (u *fakeUsage) ChargeFeature(_ context.Context, _, taskID uuid.UUID, feature string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.chargeErr != nil {
		return u.chargeErr
	}
	u.charges[taskID] = feature
	return nil
}

func (u *fakeUsage) RefundFeatureUsage(_ context.Context, taskID uuid.UUID) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.charges[taskID]; !ok {
		return false, nil
	}
	delete(u.charges, taskID)
	u.refunds = append(u.refunds, taskID)
	return true, nil
}

func (u *fakeUsage) IncrementMatchScoreCount(_ context.Context, userID uuid.UUID) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.incErr != nil {
		return 0, u.incErr
	}
	u.counts[userID]++
	return u.counts[userID], nil
}

func (u *fakeUsage) DecrementMatchScoreCount(_ context.Context, userID uuid.UUID) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.counts[userID] > 0 {
		u.counts[userID]--
	}
	return u.counts[userID], nil
}

func (u *fakeUsage) count(userID uuid.UUID) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[userID]
}

func (u *fakeUsage) refunded(taskID uuid.UUID) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, id := range u.refunds {
		if id == taskID {
			return true
		}
	}
	return false
}

// inlineQueue runs jobs synchronously on Enqueue.
type inlineQueue struct {
	ctx context.Context
	err error
}

func (q *inlineQueue) EnqueueJob(_ string, job Job) error {
	if q.err != nil {
		return q.err
	}
	ctx := q.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return job(ctx)
}

var errBoom = errors.New("boom")

// testEnv bundles a runner and its fakes.
type testEnv struct {
	tasks    *fakeTaskStore
	cvs      *fakeCVStore
	usage    *fakeUsage
	registry *ProcessRegistry
	services *ServiceRegistry
	runner   *Runner
	queue    *inlineQueue
}

func newTestEnv() *testEnv {
	env := &testEnv{
		tasks:    newFakeTaskStore(),
		cvs:      newFakeCVStore(),
		usage:    newFakeUsage(),
		registry: NewProcessRegistry(testLogger()),
		services: NewServiceRegistry(),
		queue:    &inlineQueue{},
	}
	env.runner = NewRunner(env.tasks, env.usage, env.registry, env.services, RunnerConfig{}, testLogger())
	return env
}

func (env *testEnv) deps() JobDeps {
	return JobDeps{
		Runner:  env.runner,
		Queue:   env.queue,
		Tasks:   env.tasks,
		Charger: env.usage,
		Logger:  testLogger(),
	}
}

func (env *testEnv) newMeta() Meta {
	return Meta{TaskID: uuid.New(), UserID: uuid.New(), DeviceID: "device-a"}
}

func (env *testEnv) queued(t *testing.T, meta Meta, taskType string) {
	t.Helper()
	record, err := domain.NewTask(meta.TaskID, meta.UserID, taskType, meta.DeviceID)
	require.NoError(t, err)
	require.NoError(t, env.tasks.Create(context.Background(), record))
}

func (env *testEnv) addCV(t *testing.T, userID uuid.UUID, filename string, doc domain.CVDocument) *domain.CV {
	t.Helper()
	cv, err := domain.NewCV(userID, filename, doc)
	require.NoError(t, err)
	require.NoError(t, env.cvs.Create(context.Background(), cv))
	return cv
}

func validDoc(name string) domain.CVDocument {
	return domain.CVDocument{
		PersonalInfo: domain.PersonalInfo{Name: name, Title: "Engineer"},
		Skills:       []string{"go"},
	}
}
