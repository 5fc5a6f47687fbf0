package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/resumate-api/internal/api"
	apiMiddleware "github.com/phrazzld/resumate-api/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates the router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.Trace(app.logger))
	r.Use(apiMiddleware.NewHTTPMetrics(app.metricsRegisterer).Handler)
	r.Use(middleware.Recoverer)

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	taskHandler := api.NewTaskHandler(app.taskStore, app.registry, app.logger)
	cvHandler := api.NewCVHandler(app.eventEmitter, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)
		r.Delete("/tasks/{id}", taskHandler.DeleteTask)

		r.Post("/cvs/generate", cvHandler.GenerateCV)
		r.Post("/cvs/import", cvHandler.ImportPDF)
		r.Post("/cvs/templates", cvHandler.CreateTemplates)
		r.Post("/cvs/{id}/match-score", cvHandler.CalculateMatchScore)
	})

	r.Handle("/metrics", promhttp.HandlerFor(app.metricsGatherer, promhttp.HandlerOpts{}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
