package tasksync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *HTTPFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f, err := NewHTTPFetcher(srv.URL+"/", "token-123", srv.Client())
	require.NoError(t, err)
	f.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
	}
	return f
}

func TestHTTPFetcher_ListTasks(t *testing.T) {
	id := uuid.New()
	since := time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC)

	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/tasks", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Equal(t, "laptop", r.URL.Query().Get("device_id"))
		got, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("since"))
		assert.NoError(t, err)
		assert.True(t, since.Equal(got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tasks": []map[string]any{{
				"id":         id,
				"type":       domain.TaskTypeMatchScore,
				"status":     "completed",
				"result":     map[string]any{"data": map[string]any{"score": 80}},
				"device_id":  "laptop",
				"created_at": since,
				"updated_at": since,
			}},
			"server_time": since,
		})
	})

	tasks, err := f.ListTasks(context.Background(), "laptop", &since)

	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
	assert.Equal(t, domain.TaskStatusCompleted, tasks[0].Status)
	assert.JSONEq(t, `{"data":{"score":80}}`, string(tasks[0].Result))
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"tasks":[]}`))
	})

	tasks, err := f.ListTasks(context.Background(), "", nil)

	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := f.ListTasks(context.Background(), "", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"conflict", http.StatusConflict, ErrConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"Task already finished"}`))
			})

			err := f.CancelTask(context.Background(), uuid.New())

			assert.ErrorIs(t, err, tc.wantErr)
			assert.Contains(t, err.Error(), "Task already finished")
			assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
		})
	}
}

func TestHTTPFetcher_CancelAndDelete(t *testing.T) {
	id := uuid.New()
	var seen []string
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"task_id":"` + id.String() + `","status":"cancelled"}`))
	})

	require.NoError(t, f.CancelTask(context.Background(), id))
	require.NoError(t, f.DeleteTask(context.Background(), id))

	assert.Equal(t, []string{
		"POST /api/tasks/" + id.String() + "/cancel",
		"DELETE /api/tasks/" + id.String(),
	}, seen)
}

func TestNewHTTPFetcher_Validation(t *testing.T) {
	_, err := NewHTTPFetcher("ftp://example.com", "t", nil)
	assert.Error(t, err)

	_, err = NewHTTPFetcher("http://example.com", "", nil)
	assert.Error(t, err)

	f, err := NewHTTPFetcher("https://example.com/base/", "t", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/base/api/tasks", f.baseURL.JoinPath("/api/tasks").String())
}
