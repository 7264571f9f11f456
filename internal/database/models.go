package database

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Message types.
const (
	MessageTypeMessage    = "message"
	MessageTypeUserJoined = "user_joined"
	MessageTypeUserLeft   = "user_left"
)

// Media types.
const (
	MediaTypePhoto   = "photo"
	MediaTypeWebpage = "webpage"
	MediaTypePoll    = "poll"
)

// timeLayout is the UTC text form dates are stored in.
const timeLayout = "2006-01-02 15:04:05"

// Tags is a set of sender labels stored as a space separated string.
type Tags []string

// Value implements driver.Valuer.
func (t Tags) Value() (driver.Value, error) {
	return strings.Join(t, " "), nil
}

// Scan implements sql.Scanner.
func (t *Tags) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = nil
	case string:
		*t = strings.Fields(v)
	case []byte:
		*t = strings.Fields(string(v))
	default:
		return fmt.Errorf("unsupported tags type %T", src)
	}
	return nil
}

// User represents a row in the users table.
type User struct {
	ID        int64   `db:"id"`
	Username  string  `db:"username"`
	FirstName *string `db:"first_name"`
	LastName  *string `db:"last_name"`
	Tags      Tags    `db:"tags"`
	Avatar    *string `db:"avatar"`
}

// Media represents a row in the media table.
type Media struct {
	ID          int64   `db:"id"`
	Type        string  `db:"type"`
	URL         *string `db:"url"`
	Title       *string `db:"title"`
	Description *string `db:"description"`
	Thumb       *string `db:"thumb"`
}

// Message represents a row in the messages table.
type Message struct {
	ID       int64
	Type     string
	Date     time.Time
	EditDate *time.Time
	Content  string
	ReplyTo  *int64
	UserID   int64
	MediaID  *int64
}

// PollOption is one entry of a poll media description.
type PollOption struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
	Correct bool    `json:"correct"`
}

// Month is a timeline entry.
type Month struct {
	Date  time.Time
	Slug  string
	Label string
	Count int
}

// Day is an entry of a month's day index. Page is the page, counting
// PerPage messages per page within the month, holding the day's first message.
type Day struct {
	Date  time.Time
	Slug  string
	Label string
	Count int
	Page  int
}

// ArchivedMessage is a message joined with its sender and media, with
// dates converted to the display timezone.
type ArchivedMessage struct {
	ID       int64
	Type     string
	Date     time.Time
	EditDate *time.Time
	Content  string
	ReplyTo  *int64
	User     User
	Media    *Media
	Poll     []PollOption
}

// messageRow is the storage form of Message.
type messageRow struct {
	ID       int64   `db:"id"`
	Type     string  `db:"type"`
	Date     string  `db:"date"`
	EditDate *string `db:"edit_date"`
	Content  string  `db:"content"`
	ReplyTo  *int64  `db:"reply_to"`
	UserID   int64   `db:"user_id"`
	MediaID  *int64  `db:"media_id"`
}

func newMessageRow(m *Message) messageRow {
	row := messageRow{
		ID:      m.ID,
		Type:    m.Type,
		Date:    formatTime(m.Date),
		Content: m.Content,
		ReplyTo: m.ReplyTo,
		UserID:  m.UserID,
		MediaID: m.MediaID,
	}
	if m.EditDate != nil {
		s := formatTime(*m.EditDate)
		row.EditDate = &s
	}
	return row
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
