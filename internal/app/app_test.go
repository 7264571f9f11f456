package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edgard/tgarchive/internal/app/tasks"
	"github.com/edgard/tgarchive/internal/archiver"
	"github.com/edgard/tgarchive/internal/config"
	"github.com/edgard/tgarchive/internal/database"
	"github.com/edgard/tgarchive/internal/logger"
	"github.com/edgard/tgarchive/internal/remote"
)

type emptySession struct{}

func (emptySession) ResolveGroup(_ context.Context, id string) (remote.Group, error) {
	return remote.Group{ID: 1, Title: id}, nil
}

func (emptySession) FetchMessages(context.Context, remote.Group, int64, int, []int64) ([]remote.Message, error) {
	return nil, nil
}

func (emptySession) DownloadFile(context.Context, remote.Message, string) (string, error) {
	return "", errors.New("no media")
}

func (emptySession) DownloadThumb(context.Context, remote.Message, string) (string, error) {
	return "", errors.New("no media")
}

func (emptySession) DownloadAvatar(context.Context, remote.Sender, string) (string, error) {
	return "", nil
}

func (s emptySession) Takeout(ctx context.Context, fn func(context.Context, remote.Session) error) error {
	return fn(ctx, s)
}

type countingClient struct {
	mu    sync.Mutex
	runs  int
	after func()
}

func (c *countingClient) Run(ctx context.Context, fn func(context.Context, remote.Session) error) error {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
	err := fn(ctx, emptySession{})
	if c.after != nil {
		c.after()
	}
	return err
}

func (c *countingClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []archiver.Report
}

func (n *recordingNotifier) RunFinished(_ context.Context, report archiver.Report, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Group:          "club",
		AvatarSize:     []int{64, 64},
		MediaDir:       filepath.Join(dir, "media"),
		MediaTmpDir:    filepath.Join(dir, "tmp"),
		FetchBatchSize: 100,
		Watch:          config.WatchConfig{Schedule: "0 0 1 1 *"},
	}
}

func testStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "data.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, logger.Discard(), nil)
}

func TestSyncNotifies(t *testing.T) {
	t.Parallel()
	notifier := &recordingNotifier{}
	client := &countingClient{}
	a, err := New(testConfig(t), logger.Discard(), testStore(t), client, WithNotifier(notifier))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	report, err := a.Sync(context.Background(), archiver.Options{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Group != "club" || client.count() != 1 {
		t.Errorf("report = %+v, runs = %d", report, client.count())
	}
	if len(notifier.reports) != 1 || notifier.reports[0].RunID != report.RunID {
		t.Errorf("notified = %+v", notifier.reports)
	}
}

func TestWatchRunsInitialSync(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := &countingClient{after: cancel}
	a, err := New(testConfig(t), logger.Discard(), testStore(t), client)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	err = a.Watch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch() error = %v, want context.Canceled", err)
	}
	if client.count() != 1 {
		t.Errorf("runs = %d, want 1", client.count())
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	taskMap := map[string]tasks.ScheduledTaskFunc{
		tasks.SyncTask: func(context.Context) error { return nil },
	}
	s, err := NewScheduler(logger.Discard(), map[string]string{tasks.SyncTask: "not a cron"}, taskMap)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() accepted an invalid schedule")
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow() accepted an unknown task")
	}
}
