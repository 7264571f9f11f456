// Package archiver pulls group history from the remote service into the
// local archive database.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/tgarchive/internal/database"
	apperrors "github.com/edgard/tgarchive/internal/errors"
	"github.com/edgard/tgarchive/internal/media"
	"github.com/edgard/tgarchive/internal/metrics"
	"github.com/edgard/tgarchive/internal/remote"
	"github.com/edgard/tgarchive/internal/users"
)

// commitEvery is the number of messages written between commits.
const commitEvery = 300

// Mode is the kind of session a run fetches through.
type Mode string

const (
	ModePlain   Mode = "plain"
	ModeTakeout Mode = "takeout"
)

// Store is the part of the database the engine writes through.
type Store interface {
	LastMessage(ctx context.Context) (int64, time.Time, error)
	NewWriter() database.Writer
}

// Config holds the fetch settings of a run.
type Config struct {
	Group     string
	Mode      Mode
	BatchSize int
	// FetchWait is the pause between pages.
	FetchWait time.Duration
	// FetchLimit stops the run after this many messages; 0 means no limit.
	FetchLimit int
}

// Options select where a run starts.
type Options struct {
	// IDs fetches exactly these messages.
	IDs []int64
	// FromID starts after this id instead of the last archived one.
	FromID *int64
}

// Validate rejects option combinations that have no meaning.
func (o Options) Validate() error {
	if len(o.IDs) > 0 && o.FromID != nil {
		return apperrors.NewValidationError("message ids and from-id cannot be used together", nil)
	}
	if o.FromID != nil && *o.FromID < 0 {
		return apperrors.NewValidationError("from-id must not be negative", nil)
	}
	return nil
}

// Report summarizes a finished run.
type Report struct {
	RunID      uuid.UUID
	Group      string
	Mode       Mode
	StartID    int64
	LastID     int64
	Messages   int
	Media      int
	Skipped    int
	FloodWaits int
	Duration   time.Duration
}

// Engine runs sync passes.
type Engine struct {
	cfg     Config
	store   Store
	media   *media.Resolver
	users   *users.Resolver
	metrics *metrics.Metrics
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Engine. m may be nil.
func New(cfg Config, store Store, mediaResolver *media.Resolver, userResolver *users.Resolver, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePlain
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		media:   mediaResolver,
		users:   userResolver,
		metrics: m,
		logger:  logger.With("component", "archiver"),
		sleep:   sleepContext,
	}
}

// Run connects through client and archives new messages of the group.
// A cancelled run commits what it has written and returns context.Canceled.
func (e *Engine) Run(ctx context.Context, client remote.Client, opts Options) (Report, error) {
	report := Report{RunID: uuid.New(), Group: e.cfg.Group, Mode: e.cfg.Mode}
	if err := opts.Validate(); err != nil {
		return report, err
	}

	start := time.Now()
	logger := e.logger.With("run_id", report.RunID.String(), "group", e.cfg.Group)
	err := client.Run(ctx, func(ctx context.Context, s remote.Session) error {
		group, err := s.ResolveGroup(ctx, e.cfg.Group)
		if err != nil {
			return err
		}
		if e.cfg.Mode != ModeTakeout {
			return e.sync(ctx, s, group, opts, &report, logger)
		}
		logger.InfoContext(ctx, "Starting takeout session")
		return s.Takeout(ctx, func(ctx context.Context, ts remote.Session) error {
			return e.sync(ctx, ts, group, opts, &report, logger)
		})
	})
	report.Duration = time.Since(start)

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if e.metrics != nil {
		e.metrics.ObserveRun(string(report.Mode), report.LastID, report.Duration, err)
	}

	if errors.Is(err, context.Canceled) {
		logger.WarnContext(ctx, "Sync cancelled", "messages", report.Messages, "last_id", report.LastID)
		return report, context.Canceled
	}
	if err != nil {
		return report, err
	}
	logger.InfoContext(ctx, "Sync complete",
		"messages", report.Messages,
		"media", report.Media,
		"skipped", report.Skipped,
		"last_id", report.LastID,
		"duration", report.Duration.Round(time.Millisecond))
	return report, nil
}

func (e *Engine) sync(ctx context.Context, s remote.Session, group remote.Group, opts Options, report *Report, logger *slog.Logger) error {
	w := e.store.NewWriter()
	defer w.Close()

	err := e.fetchLoop(ctx, s, w, group, opts, report, logger)
	if cerr := w.Commit(ctx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

func (e *Engine) startID(ctx context.Context, opts Options, logger *slog.Logger) (int64, error) {
	if opts.FromID != nil {
		logger.InfoContext(ctx, "Fetching from given id", "from_id", *opts.FromID)
		return *opts.FromID, nil
	}
	last, date, err := e.store.LastMessage(ctx)
	if err != nil {
		return 0, err
	}
	if last > 0 {
		logger.InfoContext(ctx, "Fetching from last message", "last_id", last, "date", date)
	}
	return last, nil
}

func (e *Engine) fetchLoop(ctx context.Context, s remote.Session, w database.Writer, group remote.Group, opts Options, report *Report, logger *slog.Logger) error {
	var (
		offset  int64
		pending = opts.IDs
		batch   []int64
		err     error
	)
	if len(opts.IDs) == 0 {
		if offset, err = e.startID(ctx, opts, logger); err != nil {
			return err
		}
	}
	report.StartID = offset

	uncommitted := 0
	for {
		if len(opts.IDs) > 0 {
			if len(pending) == 0 {
				return nil
			}
			n := min(e.cfg.BatchSize, len(pending))
			batch, pending = pending[:n], pending[n:]
		}

		page, err := e.fetchPage(ctx, s, group, offset, batch, report, logger)
		if err != nil {
			return err
		}
		if len(page) == 0 && len(opts.IDs) == 0 {
			return nil
		}

		for _, msg := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			written, err := e.archive(ctx, s, w, msg, report, logger)
			if err != nil {
				return err
			}
			if msg.ID > offset {
				offset = msg.ID
			}
			if !written {
				continue
			}
			uncommitted++
			if uncommitted >= commitEvery {
				if err := w.Commit(ctx); err != nil {
					return err
				}
				uncommitted = 0
			}
			if e.cfg.FetchLimit > 0 && report.Messages >= e.cfg.FetchLimit {
				logger.InfoContext(ctx, "Reached the fetch limit", "limit", e.cfg.FetchLimit)
				return nil
			}
		}
		logger.InfoContext(ctx, "Fetched messages", "count", len(page), "total", report.Messages, "last_id", report.LastID)

		if len(opts.IDs) > 0 && len(pending) == 0 {
			return nil
		}
		if err := e.sleep(ctx, e.cfg.FetchWait); err != nil {
			return err
		}
	}
}

// fetchPage requests a page, sleeping through flood waits and asking for
// the same page again.
func (e *Engine) fetchPage(ctx context.Context, s remote.Session, group remote.Group, offset int64, ids []int64, report *Report, logger *slog.Logger) ([]remote.Message, error) {
	limit := e.cfg.BatchSize
	if len(ids) > 0 {
		limit = len(ids)
	}
	for {
		page, err := s.FetchMessages(ctx, group, offset, limit, ids)
		if err == nil {
			return page, nil
		}
		wait, ok := apperrors.AsFloodWait(err)
		if !ok {
			return nil, fmt.Errorf("failed to fetch messages after %d: %w", offset, err)
		}
		report.FloodWaits++
		if e.metrics != nil {
			e.metrics.ObserveFloodWait(wait)
		}
		logger.WarnContext(ctx, "Flood waited", "wait", wait, "offset", offset)
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// archive writes one message with its sender and media. It reports false
// for messages that were skipped.
func (e *Engine) archive(ctx context.Context, s remote.Session, w database.Writer, msg remote.Message, report *Report, logger *slog.Logger) (bool, error) {
	if msg.Sender == nil {
		logger.InfoContext(ctx, "Skipping message with no sender", "message_id", msg.ID)
		report.Skipped++
		if e.metrics != nil {
			e.metrics.MessagesSkipped.Inc()
		}
		return false, nil
	}

	user := e.users.Resolve(ctx, s, *msg.Sender)
	res, err := e.media.Resolve(ctx, s, msg)
	if err != nil {
		return false, err
	}

	if err := w.UpsertUser(ctx, &user); err != nil {
		return false, err
	}
	row := &database.Message{
		ID:       msg.ID,
		Type:     messageType(msg.Action),
		Date:     msg.Date,
		EditDate: msg.EditDate,
		Content:  msg.Text,
		ReplyTo:  msg.ReplyTo,
		UserID:   user.ID,
	}
	if res.Content != nil {
		row.Content = *res.Content
	}
	if res.Media != nil {
		if err := w.UpsertMedia(ctx, res.Media); err != nil {
			return false, err
		}
		row.MediaID = &res.Media.ID
		report.Media++
		if e.metrics != nil {
			e.metrics.MediaArchived.Inc()
		}
	}
	if err := w.UpsertMessage(ctx, row); err != nil {
		return false, err
	}

	report.Messages++
	if msg.ID > report.LastID {
		report.LastID = msg.ID
	}
	if e.metrics != nil {
		e.metrics.MessagesArchived.Inc()
	}
	return true, nil
}

func messageType(a remote.Action) string {
	switch a {
	case remote.ActionJoined:
		return database.MessageTypeUserJoined
	case remote.ActionLeft:
		return database.MessageTypeUserLeft
	}
	return database.MessageTypeMessage
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
