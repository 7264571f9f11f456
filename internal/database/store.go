package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/edgard/tgarchive/internal/errors"
)

// Store defines the archive database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// LastMessage returns the highest stored message id and its date.
	// Both are zero when the archive is empty.
	LastMessage(ctx context.Context) (int64, time.Time, error)

	// NewWriter opens a batched writer. Only one writer may be active at a time.
	NewWriter() Writer

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error

	Query
}

// Writer upserts archive records inside a transaction that is committed on demand.
// Writes use a context detached from cancellation so an interrupted sync can
// still commit what it already wrote.
type Writer interface {
	UpsertUser(ctx context.Context, user *User) error
	UpsertMedia(ctx context.Context, media *Media) error
	UpsertMessage(ctx context.Context, message *Message) error
	// Commit makes every write since the previous commit durable.
	Commit(ctx context.Context) error
	// Close rolls back writes that were not committed.
	Close() error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	loc    *time.Location
}

// NewStore creates a Store backed by sqlx. loc is the display timezone for
// the query surface; nil means UTC.
func NewStore(db *sqlx.DB, logger *slog.Logger, loc *time.Location) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if loc == nil {
		loc = time.UTC
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		loc:    loc,
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) LastMessage(ctx context.Context) (int64, time.Time, error) {
	var row struct {
		ID   int64  `db:"id"`
		Date string `db:"date"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, strftime('%Y-%m-%d %H:%M:%S', date) AS date FROM messages ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to read last message", "error", err)
		return 0, time.Time{}, apperrors.NewDatabaseError("failed to read last message", err)
	}
	date, err := parseTime(row.Date)
	if err != nil {
		return 0, time.Time{}, apperrors.NewDatabaseError("failed to read last message", err)
	}
	return row.ID, date.In(s.loc), nil
}

func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	return RunMaintenance(ctx, s.db)
}

func (s *sqlxStore) NewWriter() Writer {
	return &txWriter{db: s.db, logger: s.logger}
}

const (
	upsertUserQuery = `
        INSERT INTO users (id, username, first_name, last_name, tags, avatar)
        VALUES (:id, :username, :first_name, :last_name, :tags, :avatar)
        ON CONFLICT(id) DO UPDATE SET
            username = excluded.username,
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            tags = excluded.tags,
            avatar = COALESCE(excluded.avatar, users.avatar);
    `
	upsertMediaQuery = `
        INSERT INTO media (id, type, url, title, description, thumb)
        VALUES (:id, :type, :url, :title, :description, :thumb)
        ON CONFLICT(id) DO UPDATE SET
            type = excluded.type,
            url = excluded.url,
            title = excluded.title,
            description = excluded.description,
            thumb = excluded.thumb;
    `
	upsertMessageQuery = `
        INSERT INTO messages (id, type, date, edit_date, content, reply_to, user_id, media_id)
        VALUES (:id, :type, :date, :edit_date, :content, :reply_to, :user_id, :media_id)
        ON CONFLICT(id) DO UPDATE SET
            type = excluded.type,
            date = excluded.date,
            edit_date = excluded.edit_date,
            content = excluded.content,
            reply_to = excluded.reply_to,
            user_id = excluded.user_id,
            media_id = excluded.media_id;
    `
)

// txWriter batches upserts in one transaction until Commit.
type txWriter struct {
	db     *sqlx.DB
	logger *slog.Logger
	tx     *sqlx.Tx
}

func (w *txWriter) begin(ctx context.Context) (*sqlx.Tx, error) {
	if w.tx != nil {
		return w.tx, nil
	}
	tx, err := w.db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, apperrors.NewDatabaseError("failed to begin transaction", err)
	}
	w.tx = tx
	return tx, nil
}

func (w *txWriter) exec(ctx context.Context, query string, arg any) error {
	tx, err := w.begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.NamedExecContext(context.WithoutCancel(ctx), query, arg)
	return err
}

func (w *txWriter) UpsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot save nil user")
	}
	if err := w.exec(ctx, upsertUserQuery, user); err != nil {
		w.logger.ErrorContext(ctx, "Error saving user", "user_id", user.ID, "error", err)
		return apperrors.NewDatabaseError(fmt.Sprintf("failed to save user %d", user.ID), err)
	}
	return nil
}

func (w *txWriter) UpsertMedia(ctx context.Context, media *Media) error {
	if media == nil {
		return fmt.Errorf("cannot save nil media")
	}
	if err := w.exec(ctx, upsertMediaQuery, media); err != nil {
		w.logger.ErrorContext(ctx, "Error saving media", "media_id", media.ID, "error", err)
		return apperrors.NewDatabaseError(fmt.Sprintf("failed to save media %d", media.ID), err)
	}
	return nil
}

func (w *txWriter) UpsertMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.UserID == 0 {
		return fmt.Errorf("message %d must have a non-zero user_id", message.ID)
	}
	if message.Date.IsZero() {
		return fmt.Errorf("message %d must have a non-zero date", message.ID)
	}
	row := newMessageRow(message)
	if err := w.exec(ctx, upsertMessageQuery, row); err != nil {
		w.logger.ErrorContext(ctx, "Error saving message", "message_id", message.ID, "user_id", message.UserID, "error", err)
		return apperrors.NewDatabaseError(fmt.Sprintf("failed to save message %d", message.ID), err)
	}
	return nil
}

func (w *txWriter) Commit(ctx context.Context) error {
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx = nil
	if err := tx.Commit(); err != nil {
		w.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return apperrors.NewDatabaseError("failed to commit transaction", err)
	}
	return nil
}

func (w *txWriter) Close() error {
	if w.tx == nil {
		return nil
	}
	tx := w.tx
	w.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		w.logger.Warn("Error rolling back transaction", "error", err)
		return err
	}
	return nil
}
