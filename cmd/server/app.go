package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/resumate-api/internal/config"
	"github.com/phrazzld/resumate-api/internal/events"
	"github.com/phrazzld/resumate-api/internal/platform/gemini"
	"github.com/phrazzld/resumate-api/internal/platform/postgres"
	"github.com/phrazzld/resumate-api/internal/service/auth"
	"github.com/phrazzld/resumate-api/internal/store"
	"github.com/phrazzld/resumate-api/internal/task"
	"github.com/prometheus/client_golang/prometheus"
)

// application holds the shared dependencies of the server so they can be
// started and shut down together.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore  store.TaskStore
	cvStore    store.CVStore
	usageStore *postgres.PostgresUsageStore

	jwtService auth.JWTService

	registry   *task.ProcessRegistry
	queue      *task.Queue
	runner     *task.Runner
	reconciler *task.Reconciler

	eventEmitter *events.InMemoryEventEmitter

	metricsRegisterer prometheus.Registerer
	metricsGatherer   prometheus.Gatherer
}

// newApplication wires stores, services, the job queue and the concrete
// jobs. Nothing is started.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:            cfg,
		logger:            logger,
		db:                db,
		metricsRegisterer: prometheus.DefaultRegisterer,
		metricsGatherer:   prometheus.DefaultGatherer,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.cvStore = postgres.NewPostgresCVStore(db, logger)
	app.usageStore = postgres.NewPostgresUsageStore(db, logger)

	services := task.NewServiceRegistry()
	registerServices(services, cfg, logger)

	app.registry = task.NewProcessRegistry(logger)
	app.queue = task.NewQueue(task.QueueConfig{
		MaxConcurrent: cfg.Task.MaxConcurrent,
		QueueSize:     cfg.Task.QueueSize,
		TypeLimits:    cfg.Task.TypeLimits,
	}, logger)
	app.runner = task.NewRunner(app.taskStore, app.usageStore, app.registry, services,
		task.RunnerConfig{TaskTimeout: cfg.Task.TaskTimeout}, logger)
	app.reconciler = task.NewReconciler(app.taskStore, app.registry, task.ReconcilerConfig{
		StaleTaskAge: cfg.Task.StaleTaskAge,
		Interval:     cfg.Task.ReconcileInterval,
	}, logger)

	deps := task.JobDeps{
		Runner:  app.runner,
		Queue:   app.queue,
		Tasks:   app.taskStore,
		Charger: app.usageStore,
		Logger:  logger,
	}
	artifacts := task.NewArtifactStore(db, app.cvStore, logger)
	handler := task.NewJobEventHandler(logger,
		task.NewGenerateCVJob(deps, artifacts, task.GenerateCVConfig{
			Mode:          cfg.Task.GenerationMode,
			WorkspaceRoot: cfg.Task.WorkspaceRoot,
		}),
		task.NewImportPDFJob(deps, app.cvStore, artifacts, cfg.Task.WorkspaceRoot),
		task.NewTemplateCVJob(deps, artifacts),
		task.NewMatchScoreJob(deps, app.cvStore, app.usageStore, task.MatchScoreConfig{
			CacheWindow:    cfg.Task.MatchScoreCacheWindow,
			CachedDelayMin: cfg.Task.CachedDelayMin,
			CachedDelayMax: cfg.Task.CachedDelayMax,
		}),
	)

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.eventEmitter.RegisterHandler(handler)

	logger.Info("Application initialized", "task_types", handler.Types())
	return app, nil
}

// registerServices binds the service tags used by the jobs. The Gemini
// client is built on first use and shared by every AI-backed tag.
func registerServices(services *task.ServiceRegistry, cfg *config.Config, logger *slog.Logger) {
	services.RegisterInstance(task.ServiceInterpreter, task.NewInterpreter(task.InterpreterConfig{
		Command:         cfg.Task.Interpreter,
		ScriptsDir:      cfg.Task.ScriptsDir,
		KillGracePeriod: cfg.Task.KillGracePeriod,
	}, logger))

	newGenerator := sync.OnceValues(func() (*gemini.GeminiGenerator, error) {
		return gemini.NewGeminiGenerator(context.Background(), logger.With("component", "llm_generator"), cfg.LLM)
	})
	generatorFactory := func() (any, error) {
		g, err := newGenerator()
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	services.Register(task.ServiceCVGenerator, generatorFactory)
	services.Register(task.ServiceTemplateGenerator, generatorFactory)
	services.Register(task.ServiceMatchScorer, generatorFactory)
}

// Run reconciles orphaned tasks, starts the queue, the reconciler and the
// HTTP server, and blocks until ctx is done or the server fails. Shutdown
// stops the HTTP server first so no new jobs arrive, then drains the queue.
func (app *application) Run(ctx context.Context) error {
	task.CleanupOrphans(ctx, app.taskStore, app.cvStore, app.logger)

	app.queue.Start(context.WithoutCancel(ctx))
	if err := app.reconciler.Start(ctx); err != nil {
		app.queue.Stop()
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	err := app.startHTTPServer(ctx, app.setupRouter())
	app.cleanup()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// cleanup stops background work and releases resources.
func (app *application) cleanup() {
	app.reconciler.Stop()
	app.queue.Stop()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
