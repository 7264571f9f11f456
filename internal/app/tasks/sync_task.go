package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgard/tgarchive/internal/archiver"
)

// newSyncTask archives messages posted since the last run.
func newSyncTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", SyncTask)

	return func(ctx context.Context) error {
		report, err := deps.Syncer.Sync(ctx, archiver.Options{})
		if errors.Is(err, context.Canceled) {
			log.InfoContext(ctx, "Scheduled sync interrupted", "messages", report.Messages)
			return nil
		}
		if err != nil {
			return fmt.Errorf("scheduled sync failed: %w", err)
		}
		log.InfoContext(ctx, "Scheduled sync finished", "messages", report.Messages, "last_id", report.LastID)
		return nil
	}
}
