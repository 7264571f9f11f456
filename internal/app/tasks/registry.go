package tasks

import "context"

// Task names, matching the keys of the watch schedules.
const (
	SyncTask        = "sync"
	MaintenanceTask = "maintenance"
)

// ScheduledTaskFunc is the signature of every scheduled task. The context
// is cancelled on shutdown.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns the task functions keyed by name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		SyncTask:        newSyncTask(deps),
		MaintenanceTask: newMaintenanceTask(deps),
	}
	deps.Logger.Debug("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
