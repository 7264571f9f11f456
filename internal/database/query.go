package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/edgard/tgarchive/internal/errors"
)

// Query is the read-only surface consumed by site renderers. Every date
// it returns is in the store's display timezone, and month and day
// boundaries are computed in that timezone.
type Query interface {
	Timeline(ctx context.Context) ([]Month, error)
	DayLine(ctx context.Context, year int, month time.Month, perPage int) ([]Day, error)
	Messages(ctx context.Context, year int, month time.Month, afterID int64, limit int) ([]ArchivedMessage, error)
	MessagesByIDRange(ctx context.Context, fromID, toID int64) ([]ArchivedMessage, error)
	MessageCount(ctx context.Context, year int, month time.Month) (int, error)
}

// bucketQuery counts messages per 15 minute UTC slot. Every real timezone
// offset is a multiple of 15 minutes, so a slot never straddles a local
// day boundary.
const bucketQuery = `
    SELECT strftime('%Y-%m-%d %H:', date) || printf('%02d', (CAST(strftime('%M', date) AS INTEGER) / 15) * 15) || ':00' AS slot,
           COUNT(*) AS n
    FROM messages
    {where}
    GROUP BY slot
    ORDER BY slot`

const messageSelect = `
    SELECT m.id,
           m.type,
           strftime('%Y-%m-%d %H:%M:%S', m.date) AS date,
           strftime('%Y-%m-%d %H:%M:%S', m.edit_date) AS edit_date,
           COALESCE(m.content, '') AS content,
           m.reply_to,
           COALESCE(m.user_id, 0) AS user_id,
           COALESCE(u.username, '') AS username,
           u.first_name,
           u.last_name,
           u.tags,
           u.avatar,
           md.id AS media_id,
           md.type AS media_type,
           md.url AS media_url,
           md.title AS media_title,
           md.description AS media_description,
           md.thumb AS media_thumb
    FROM messages m
    LEFT JOIN users u ON u.id = m.user_id
    LEFT JOIN media md ON md.id = m.media_id`

type bucket struct {
	Slot string `db:"slot"`
	N    int    `db:"n"`
}

type archivedRow struct {
	ID               int64   `db:"id"`
	Type             string  `db:"type"`
	Date             string  `db:"date"`
	EditDate         *string `db:"edit_date"`
	Content          string  `db:"content"`
	ReplyTo          *int64  `db:"reply_to"`
	UserID           int64   `db:"user_id"`
	Username         string  `db:"username"`
	FirstName        *string `db:"first_name"`
	LastName         *string `db:"last_name"`
	Tags             Tags    `db:"tags"`
	Avatar           *string `db:"avatar"`
	MediaID          *int64  `db:"media_id"`
	MediaType        *string `db:"media_type"`
	MediaURL         *string `db:"media_url"`
	MediaTitle       *string `db:"media_title"`
	MediaDescription *string `db:"media_description"`
	MediaThumb       *string `db:"media_thumb"`
}

// localBuckets returns per-slot counts with slot times in the display timezone.
func (s *sqlxStore) localBuckets(ctx context.Context, where string, args ...any) ([]time.Time, []int, error) {
	var rows []bucket
	if err := s.db.SelectContext(ctx, &rows, strings.Replace(bucketQuery, "{where}", where, 1), args...); err != nil {
		return nil, nil, err
	}
	times := make([]time.Time, 0, len(rows))
	counts := make([]int, 0, len(rows))
	for _, r := range rows {
		t, err := parseTime(r.Slot)
		if err != nil {
			return nil, nil, err
		}
		times = append(times, t.In(s.loc))
		counts = append(counts, r.N)
	}
	return times, counts, nil
}

func (s *sqlxStore) Timeline(ctx context.Context) ([]Month, error) {
	times, counts, err := s.localBuckets(ctx, "")
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build timeline", "error", err)
		return nil, apperrors.NewDatabaseError("failed to build timeline", err)
	}

	var months []Month
	for i, t := range times {
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, s.loc)
		if n := len(months); n > 0 && months[n-1].Date.Equal(start) {
			months[n-1].Count += counts[i]
			continue
		}
		months = append(months, Month{
			Date:  start,
			Slug:  start.Format("2006-01"),
			Label: start.Format("Jan 2006"),
			Count: counts[i],
		})
	}
	return months, nil
}

func (s *sqlxStore) DayLine(ctx context.Context, year int, month time.Month, perPage int) ([]Day, error) {
	if perPage <= 0 {
		return nil, fmt.Errorf("perPage must be positive, got %d", perPage)
	}
	from, to := s.monthRange(year, month)
	times, counts, err := s.localBuckets(ctx, "WHERE date >= ? AND date < ?", formatTime(from), formatTime(to))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build day index", "year", year, "month", int(month), "error", err)
		return nil, apperrors.NewDatabaseError("failed to build day index", err)
	}

	var days []Day
	seen := 0
	for i, t := range times {
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
		if n := len(days); n > 0 && days[n-1].Date.Equal(start) {
			days[n-1].Count += counts[i]
			seen += counts[i]
			continue
		}
		days = append(days, Day{
			Date:  start,
			Slug:  start.Format("2006-01-02"),
			Label: start.Format("02 Jan 2006"),
			Count: counts[i],
			Page:  seen/perPage + 1,
		})
		seen += counts[i]
	}
	return days, nil
}

func (s *sqlxStore) Messages(ctx context.Context, year int, month time.Month, afterID int64, limit int) ([]ArchivedMessage, error) {
	from, to := s.monthRange(year, month)
	query := messageSelect + `
    WHERE m.date >= ? AND m.date < ? AND m.id > ?
    ORDER BY m.id
    LIMIT ?`
	return s.selectMessages(ctx, query, formatTime(from), formatTime(to), afterID, limit)
}

func (s *sqlxStore) MessagesByIDRange(ctx context.Context, fromID, toID int64) ([]ArchivedMessage, error) {
	query := messageSelect + `
    WHERE m.id >= ? AND m.id <= ?
    ORDER BY m.id`
	return s.selectMessages(ctx, query, fromID, toID)
}

func (s *sqlxStore) MessageCount(ctx context.Context, year int, month time.Month) (int, error) {
	from, to := s.monthRange(year, month)
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE date >= ? AND date < ?`, formatTime(from), formatTime(to)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to count messages", "year", year, "month", int(month), "error", err)
		return 0, apperrors.NewDatabaseError("failed to count messages", err)
	}
	return n, nil
}

// monthRange is the UTC half-open interval covering a local calendar month.
func (s *sqlxStore) monthRange(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	return start.UTC(), start.AddDate(0, 1, 0).UTC()
}

func (s *sqlxStore) selectMessages(ctx context.Context, query string, args ...any) ([]ArchivedMessage, error) {
	var rows []archivedRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Failed to load messages", "error", err)
		return nil, apperrors.NewDatabaseError("failed to load messages", err)
	}

	out := make([]ArchivedMessage, 0, len(rows))
	for _, r := range rows {
		msg, err := s.toArchived(r)
		if err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Sprintf("failed to decode message %d", r.ID), err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *sqlxStore) toArchived(r archivedRow) (ArchivedMessage, error) {
	date, err := parseTime(r.Date)
	if err != nil {
		return ArchivedMessage{}, err
	}
	msg := ArchivedMessage{
		ID:      r.ID,
		Type:    r.Type,
		Date:    date.In(s.loc),
		Content: r.Content,
		ReplyTo: r.ReplyTo,
		User: User{
			ID:        r.UserID,
			Username:  r.Username,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Tags:      r.Tags,
			Avatar:    r.Avatar,
		},
	}
	if r.EditDate != nil && *r.EditDate != "" {
		edited, err := parseTime(*r.EditDate)
		if err != nil {
			return ArchivedMessage{}, err
		}
		edited = edited.In(s.loc)
		msg.EditDate = &edited
	}
	if r.MediaID != nil && r.MediaType != nil {
		msg.Media = &Media{
			ID:          *r.MediaID,
			Type:        *r.MediaType,
			URL:         r.MediaURL,
			Title:       r.MediaTitle,
			Description: r.MediaDescription,
			Thumb:       r.MediaThumb,
		}
		if *r.MediaType == MediaTypePoll && r.MediaDescription != nil {
			if err := json.NewDecoder(strings.NewReader(*r.MediaDescription)).Decode(&msg.Poll); err != nil {
				return ArchivedMessage{}, fmt.Errorf("invalid poll options: %w", err)
			}
		}
	}
	return msg, nil
}
