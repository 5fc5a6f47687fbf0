// Package main implements the entry point for the Resumate API server,
// which runs users' CV generation, import, template and match-score jobs
// in the background and serves their status to every device of the user.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/resumate-api/internal/config"
	"github.com/phrazzld/resumate-api/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String("migrate", "", "run a goose migration command (up, down, status, version, reset) and exit")
	verbose := flag.Bool("verbose", false, "verbose migration output")
	flag.Parse()

	cfg, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if *migrateCmd != "" {
		if err := runMigrations(cfg, *migrateCmd, *verbose, flag.Args()...); err != nil {
			slog.Error("Migration failed", "command", *migrateCmd, "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := startServer(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, err := logger.Setup(cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"generation_mode", cfg.Task.GenerationMode,
		"max_concurrent", cfg.Task.MaxConcurrent)
	return cfg, nil
}

// startServer connects to the database, wires the application and runs it
// until ctx is cancelled.
func startServer(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	db, err := setupAppDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}

	app, err := newApplication(cfg, log, db)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			log.Error("Error closing database connection", "error", cerr)
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
