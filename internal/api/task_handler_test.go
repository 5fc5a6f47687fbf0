package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskFixture struct {
	store  *memTaskStore
	killer *fakeKiller
	user   uuid.UUID
	router http.Handler
	now    time.Time
}

func newTaskFixture() *taskFixture {
	f := &taskFixture{
		store:  newMemTaskStore(),
		killer: &fakeKiller{live: make(map[uuid.UUID]bool)},
		user:   uuid.New(),
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h := NewTaskHandler(f.store, f.killer, testLogger())
	h.now = func() time.Time { return f.now }
	f.router = newTestRouter(f.user, h, nil)
	return f
}

func TestListTasks(t *testing.T) {
	f := newTaskFixture()
	old := f.store.add(t, f.user, domain.TaskStatusCompleted, f.now.Add(-time.Hour))
	recent := f.store.add(t, f.user, domain.TaskStatusRunning, f.now.Add(-time.Minute))
	f.store.add(t, uuid.New(), domain.TaskStatusRunning, f.now)

	t.Run("full", func(t *testing.T) {
		w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp TaskListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		ids := []uuid.UUID{}
		for _, task := range resp.Tasks {
			ids = append(ids, task.ID)
		}
		assert.ElementsMatch(t, []uuid.UUID{old.ID, recent.ID}, ids)
		assert.True(t, f.now.Equal(resp.ServerTime))
	})

	t.Run("incremental", func(t *testing.T) {
		since := url.QueryEscape(f.now.Add(-10 * time.Minute).Format(time.RFC3339))
		w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks?device_id=device-a&since="+since, nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp TaskListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Tasks, 1)
		assert.Equal(t, recent.ID, resp.Tasks[0].ID)
		assert.Equal(t, domain.TaskStatusRunning, resp.Tasks[0].Status)
	})

	t.Run("since is exclusive", func(t *testing.T) {
		since := url.QueryEscape(recent.UpdatedAt.Format(time.RFC3339Nano))
		w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks?since="+since, nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, string(mustField(t, w.Body.Bytes(), "tasks")))
	})

	t.Run("other device", func(t *testing.T) {
		w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks?device_id=device-b", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, string(mustField(t, w.Body.Bytes(), "tasks")))
	})

	t.Run("bad since", func(t *testing.T) {
		w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks?since=yesterday", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid since")
	})
}

func TestListTasks_StoreError(t *testing.T) {
	f := newTaskFixture()
	f.store.err = errors.New("pq: connection refused for user=app password=hunter2")

	w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to list tasks")
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestListTasks_Unauthenticated(t *testing.T) {
	h := NewTaskHandler(newMemTaskStore(), &fakeKiller{}, testLogger())
	router := newTestRouter(uuid.Nil, h, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetTask(t *testing.T) {
	f := newTaskFixture()
	own := f.store.add(t, f.user, domain.TaskStatusQueued, f.now)
	foreign := f.store.add(t, uuid.New(), domain.TaskStatusQueued, f.now)

	w := serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks/"+own.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, own.ID, resp.ID)
	assert.NotContains(t, w.Body.String(), "user_id")

	w = serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks/"+foreign.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(f.router, httptest.NewRequest(http.MethodGet, "/api/tasks/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelTask(t *testing.T) {
	tests := []struct {
		name           string
		status         domain.TaskStatus
		foreign        bool
		live           bool
		wantCode       int
		wantStatus     domain.TaskStatus
		wantKill       bool
		wantTerminated bool
	}{
		{name: "running with live execution", status: domain.TaskStatusRunning, live: true, wantCode: http.StatusOK, wantStatus: domain.TaskStatusCancelled, wantKill: true, wantTerminated: true},
		{name: "queued", status: domain.TaskStatusQueued, wantCode: http.StatusOK, wantStatus: domain.TaskStatusCancelled, wantKill: true},
		{name: "already completed", status: domain.TaskStatusCompleted, wantCode: http.StatusConflict, wantStatus: domain.TaskStatusCompleted},
		{name: "other user", status: domain.TaskStatusRunning, foreign: true, wantCode: http.StatusNotFound, wantStatus: domain.TaskStatusRunning},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newTaskFixture()
			owner := f.user
			if tc.foreign {
				owner = uuid.New()
			}
			rec := f.store.add(t, owner, tc.status, f.now)
			f.killer.live[rec.ID] = tc.live

			w := serve(f.router, httptest.NewRequest(http.MethodPost, "/api/tasks/"+rec.ID.String()+"/cancel", nil))

			require.Equal(t, tc.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tc.wantStatus, f.store.status(rec.ID))
			if tc.wantKill {
				assert.Equal(t, []uuid.UUID{rec.ID}, f.killer.killed)
				var resp CancelTaskResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tc.wantTerminated, resp.Terminated)
			} else {
				assert.Empty(t, f.killer.killed)
			}
		})
	}
}

func TestCancelTask_Missing(t *testing.T) {
	f := newTaskFixture()

	w := serve(f.router, httptest.NewRequest(http.MethodPost, "/api/tasks/"+uuid.NewString()+"/cancel", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Task not found")
}

func TestDeleteTask(t *testing.T) {
	f := newTaskFixture()
	done := f.store.add(t, f.user, domain.TaskStatusFailed, f.now)
	active := f.store.add(t, f.user, domain.TaskStatusRunning, f.now)

	w := serve(f.router, httptest.NewRequest(http.MethodDelete, "/api/tasks/"+done.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.store.status(done.ID))

	w = serve(f.router, httptest.NewRequest(http.MethodDelete, "/api/tasks/"+active.ID.String(), nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.TaskStatusRunning, f.store.status(active.ID))

	w = serve(f.router, httptest.NewRequest(http.MethodDelete, "/api/tasks/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func mustField(t *testing.T, body []byte, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return m[field]
}
