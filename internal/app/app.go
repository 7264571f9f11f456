// Package app wires the archiver components together and manages their
// lifecycle for one-shot and watch runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/tgarchive/internal/app/tasks"
	"github.com/edgard/tgarchive/internal/archiver"
	"github.com/edgard/tgarchive/internal/config"
	"github.com/edgard/tgarchive/internal/database"
	"github.com/edgard/tgarchive/internal/media"
	"github.com/edgard/tgarchive/internal/metrics"
	"github.com/edgard/tgarchive/internal/mover"
	"github.com/edgard/tgarchive/internal/remote"
	"github.com/edgard/tgarchive/internal/users"
)

// Notifier receives the outcome of each sync run.
type Notifier interface {
	RunFinished(ctx context.Context, report archiver.Report, runErr error) error
}

// App owns the components of a sync process.
type App struct {
	logger   *slog.Logger
	cfg      *config.Config
	store    database.Store
	client   remote.Client
	mover    *mover.Mover
	engine   *archiver.Engine
	metrics  *metrics.Metrics
	notifier Notifier
}

// Option customizes an App.
type Option func(*App)

// WithNotifier posts a summary after every run.
func WithNotifier(n Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics records run metrics and, in watch mode, serves them.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates the media directories and builds the sync engine.
func New(cfg *config.Config, logger *slog.Logger, store database.Store, client remote.Client, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		logger: logger.With("component", "app"),
		cfg:    cfg,
		store:  store,
		client: client,
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.DownloadMedia || cfg.DownloadAvatars {
		for _, dir := range []string{cfg.MediaDir, cfg.MediaTmpDir, filepath.Join(cfg.MediaDir, cfg.ThumbnailsDir)} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	a.mover = mover.New(logger, 0)
	mediaResolver := media.NewResolver(media.Config{
		Download:  cfg.DownloadMedia,
		MediaDir:  cfg.MediaDir,
		TmpDir:    cfg.MediaTmpDir,
		ThumbsDir: cfg.ThumbnailsDir,
		MimeTypes: cfg.MediaMimeTypes,
	}, a.mover, logger)
	userResolver := users.NewResolver(users.Config{
		DownloadAvatars: cfg.DownloadAvatars,
		MediaDir:        cfg.MediaDir,
		TmpDir:          cfg.MediaTmpDir,
		Width:           cfg.AvatarSize[0],
		Height:          cfg.AvatarSize[1],
	}, a.mover, logger)

	mode := archiver.ModePlain
	if cfg.UseTakeout {
		mode = archiver.ModeTakeout
	}
	a.engine = archiver.New(archiver.Config{
		Group:      cfg.Group,
		Mode:       mode,
		BatchSize:  cfg.FetchBatchSize,
		FetchWait:  cfg.FetchWaitDuration(),
		FetchLimit: cfg.FetchLimit,
	}, store, mediaResolver, userResolver, a.metrics, logger)

	return a, nil
}

// Sync runs one sync pass and reports it to the notifier.
func (a *App) Sync(ctx context.Context, opts archiver.Options) (archiver.Report, error) {
	report, err := a.engine.Run(ctx, a.client, opts)
	if a.notifier != nil {
		_ = a.notifier.RunFinished(ctx, report, err)
	}
	return report, err
}

// Watch syncs immediately and then on the configured schedule until ctx
// is cancelled.
func (a *App) Watch(ctx context.Context) error {
	a.logger.Info("Starting watch mode", "schedule", a.cfg.Watch.Schedule)

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{Logger: a.logger, Syncer: a, Store: a.store})
	sched, err := NewScheduler(a.logger, map[string]string{
		tasks.SyncTask:        a.cfg.Watch.Schedule,
		tasks.MaintenanceTask: a.cfg.Watch.MaintenanceSchedule,
	}, taskMap)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gCtx); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return err
		}
		if err := sched.RunNow(tasks.SyncTask); err != nil {
			a.logger.Warn("Failed to trigger initial sync", "error", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := sched.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if a.metrics != nil && a.cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return a.metrics.Serve(gCtx, a.cfg.Metrics.Listen, a.logger)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Watch mode stopped due to error", "error", err)
		return err
	}
	a.logger.Info("Watch mode stopped")
	return ctx.Err()
}

// Close waits for queued file moves and reports the ones that failed.
func (a *App) Close() error {
	pending := a.mover.Pending()
	if pending > 0 {
		a.logger.Info("Waiting for file moves to finish", "pending", pending)
	}
	if err := a.mover.Close(); err != nil {
		return fmt.Errorf("some files could not be moved: %w", err)
	}
	return nil
}
