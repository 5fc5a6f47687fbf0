package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/resumate-api/internal/store"
)

// CleanupOrphans fails every task left queued or running by a previous
// server process and returns every CV's match score mirror to idle. It must
// run before the queue accepts work. Errors are logged and never returned,
// so a broken cleanup cannot prevent startup.
func CleanupOrphans(ctx context.Context, tasks store.TaskStore, cvs store.CVStore, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "orphan_cleanup")

	failed, err := tasks.FailActive(ctx, RestartMessage)
	if err != nil {
		log.Error("failed to fail orphaned tasks", "error", err)
	} else {
		orphansFailed.Add(float64(failed))
		if failed > 0 {
			log.Info("failed orphaned tasks", "count", failed)
		}
	}

	if cvs == nil {
		return
	}
	reset, err := cvs.ResetMatchScoreStatuses(ctx)
	if err != nil {
		log.Error("failed to reset match score statuses", "error", err)
		return
	}
	if reset > 0 {
		log.Info("reset match score statuses", "count", reset)
	}
}
