package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/config"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/platform/postgres"
	"github.com/phrazzld/resumate-api/internal/service/auth"
	"github.com/phrazzld/resumate-api/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplication(t *testing.T) (*application, sqlmock.Sqlmock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	jwtService, err := auth.NewJWTService(config.AuthConfig{
		JWTSecret:            "test-secret-that-is-at-least-32-characters",
		TokenLifetimeMinutes: 60,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	return &application{
		config:            &config.Config{},
		logger:            logger,
		db:                db,
		taskStore:         postgres.NewPostgresTaskStore(db, logger),
		cvStore:           postgres.NewPostgresCVStore(db, logger),
		jwtService:        jwtService,
		registry:          task.NewProcessRegistry(logger),
		eventEmitter:      events.NewInMemoryEventEmitter(logger),
		metricsRegisterer: reg,
		metricsGatherer:   reg,
	}, mock
}

func TestRouter_Health(t *testing.T) {
	app, _ := newTestApplication(t)
	rec := httptest.NewRecorder()

	app.setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRouter_RequiresAuth(t *testing.T) {
	app, _ := newTestApplication(t)
	router := app.setupRouter()

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/tasks"},
		{http.MethodGet, "/api/tasks/" + uuid.NewString()},
		{http.MethodPost, "/api/tasks/" + uuid.NewString() + "/cancel"},
		{http.MethodDelete, "/api/tasks/" + uuid.NewString()},
		{http.MethodPost, "/api/cvs/generate"},
		{http.MethodPost, "/api/cvs/import"},
		{http.MethodPost, "/api/cvs/templates"},
		{http.MethodPost, "/api/cvs/" + uuid.NewString() + "/match-score"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
}

func TestRouter_ListTasks(t *testing.T) {
	app, mock := newTestApplication(t)
	userID := uuid.New()
	token, err := app.jwtService.GenerateToken(context.Background(), userID)
	require.NoError(t, err)

	mock.ExpectQuery("FROM background_tasks WHERE user_id").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tasks":[]`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouter_Metrics(t *testing.T) {
	app, _ := newTestApplication(t)
	router := app.setupRouter()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `resumate_http_requests_total{code="200",method="GET",route="/health"} 1`)
}
