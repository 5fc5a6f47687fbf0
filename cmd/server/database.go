package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/phrazzld/resumate-api/internal/config"
)

const (
	dbPingTimeout     = 5 * time.Second
	dbConnMaxLifetime = 5 * time.Minute
	// connections reserved for HTTP handlers and the reconciler on top of
	// two per running job (task record plus artifact writes)
	dbHTTPHeadroom = 4
)

// poolSize returns the configured pool cap, or one derived from the job
// concurrency when none is set.
func poolSize(cfg *config.Config) int {
	if cfg.Database.MaxOpenConns > 0 {
		return cfg.Database.MaxOpenConns
	}
	return 2*cfg.Task.MaxConcurrent + dbHTTPHeadroom
}

// setupAppDatabase opens the pgx-backed pool and waits for one ping.
func setupAppDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	size := poolSize(cfg)
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(max(size/2, 1))
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", maskDatabaseURL(cfg.Database.URL), err)
	}

	logger.Info("Database connection established", "max_open_conns", size)
	return db, nil
}
