package tasks

import (
	"context"
	"fmt"
	"time"
)

// newMaintenanceTask creates the scheduled task function for running database maintenance.
func newMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", MaintenanceTask)

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting database maintenance")
		startTime := time.Now()

		err := deps.Store.RunMaintenance(ctx)

		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "Database maintenance failed", "error", err, "duration", duration)
			return fmt.Errorf("database maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Database maintenance completed", "duration", duration)
		return nil
	}
}
