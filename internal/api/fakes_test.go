package api

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/api/shared"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/mocks"
	"github.com/phrazzld/resumate-api/internal/store"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memTaskStore is an in-memory store.TaskStore honoring the conditional
// status transitions of the real store.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	err   error
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *memTaskStore) add(t *testing.T, userID uuid.UUID, status domain.TaskStatus, updatedAt time.Time) *domain.Task {
	t.Helper()
	rec, err := domain.NewTask(uuid.New(), userID, domain.TaskTypeGeneration, "device-a")
	require.NoError(t, err)
	rec.Status = status
	rec.UpdatedAt = updatedAt
	s.mu.Lock()
	s.tasks[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *memTaskStore) status(id uuid.UUID) domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Status
	}
	return ""
}

func (s *memTaskStore) Create(_ context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memTaskStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTaskStore) Update(_ context.Context, id, userID uuid.UUID, u domain.TaskUpdate) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID || !domain.CanTransition(t.Status, u.Status) {
		return 0, nil
	}
	t.Status = u.Status
	t.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (s *memTaskStore) ListForUser(_ context.Context, userID uuid.UUID, deviceID string, since *time.Time) ([]*domain.Task, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if t.UserID != userID || (deviceID != "" && t.DeviceID != deviceID) {
			continue
		}
		if since != nil && !t.UpdatedAt.After(*since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *domain.Task) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *memTaskStore) Delete(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID || !t.Status.IsTerminal() {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *memTaskStore) FailActive(context.Context, string) (int64, error) { return 0, nil }

func (s *memTaskStore) ListStaleRunning(context.Context, time.Duration) ([]*domain.Task, error) {
	return nil, nil
}

func (s *memTaskStore) WithTx(*sql.Tx) store.TaskStore { return s }

// fakeKiller records Kill calls and reports live executions.
type fakeKiller struct {
	mu     sync.Mutex
	live   map[uuid.UUID]bool
	killed []uuid.UUID
}

func (k *fakeKiller) Kill(id uuid.UUID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killed = append(k.killed, id)
	return k.live[id]
}

// lastEvent returns the most recent event emitted to m.
func lastEvent(t *testing.T, m *mocks.MockEventEmitter) *events.TaskRequestEvent {
	t.Helper()
	ev := m.Last()
	require.NotNil(t, ev)
	return ev
}

// withUser injects an authenticated user in place of the auth middleware.
func withUser(userID uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID != uuid.Nil {
				r = r.WithContext(shared.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newTestRouter(userID uuid.UUID, tasks *TaskHandler, cvs *CVHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(withUser(userID))
	if tasks != nil {
		r.Get("/api/tasks", tasks.ListTasks)
		r.Get("/api/tasks/{id}", tasks.GetTask)
		r.Post("/api/tasks/{id}/cancel", tasks.CancelTask)
		r.Delete("/api/tasks/{id}", tasks.DeleteTask)
	}
	if cvs != nil {
		r.Post("/api/cvs/generate", cvs.GenerateCV)
		r.Post("/api/cvs/templates", cvs.CreateTemplates)
		r.Post("/api/cvs/import", cvs.ImportPDF)
		r.Post("/api/cvs/{id}/match-score", cvs.CalculateMatchScore)
	}
	return r
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
