// Package tasks implements the jobs run by watch mode.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/tgarchive/internal/archiver"
)

// Syncer runs one sync pass.
type Syncer interface {
	Sync(ctx context.Context, opts archiver.Options) (archiver.Report, error)
}

// Maintainer runs database maintenance.
type Maintainer interface {
	RunMaintenance(ctx context.Context) error
}

// TaskDeps contains the dependencies of the scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Syncer Syncer
	Store  Maintainer
}
