// Package remote defines the provider-neutral view of the messaging service
// that the sync pipeline works against. The telegram package implements it
// on top of MTProto; tests implement it with in-memory fakes.
package remote

import (
	"context"
	"errors"
	"time"
)

// ErrTransient marks failures the provider considers retryable: flood
// control, server errors, timeouts and dropped connections.
var ErrTransient = errors.New("transient remote error")

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Group is a resolved chat or channel.
type Group struct {
	ID    int64
	Title string
	// Ref is the adapter's input peer for the group.
	Ref any
}

// SenderKind distinguishes human accounts from channels posting as a sender.
type SenderKind int

const (
	SenderUser SenderKind = iota
	SenderChannel
)

// Sender is the author of a message.
type Sender struct {
	Kind      SenderKind
	ID        int64
	Username  string
	FirstName string
	LastName  string
	// Title is set for channels, including forbidden ones.
	Title string
	Bot   bool
	Scam  bool
	Fake  bool
	// Photo is the adapter's profile photo reference; nil when the sender has none.
	Photo any
}

// Action is the kind of service event a message represents.
type Action int

const (
	ActionNone Action = iota
	ActionJoined
	ActionLeft
)

// Message is a decoded remote message.
type Message struct {
	ID       int64
	Date     time.Time
	EditDate *time.Time
	Text     string
	ReplyTo  *int64
	Action   Action
	// Sender is nil when the author could not be resolved.
	Sender *Sender
	Media  Media
}

// Media is the tagged union of attachments. Exactly one of the concrete
// types below implements it.
type Media interface {
	isMedia()
}

// Sticker is a sticker document, archived as its alt emoji.
type Sticker struct {
	Alt string
}

// PollAnswer is one option of a poll together with its results.
type PollAnswer struct {
	Label   string
	Voters  int
	Correct bool
}

// Poll is a poll attachment. HasResults is false when the provider
// returned no result counts.
type Poll struct {
	Question    string
	Answers     []PollAnswer
	TotalVoters int
	HasResults  bool
}

// WebPage is a link preview.
type WebPage struct {
	URL         string
	Title       string
	Description string
}

// FileKind classifies downloadable attachments.
type FileKind int

const (
	FilePhoto FileKind = iota
	FileDocument
	FileContact
)

// File is a downloadable attachment.
type File struct {
	Kind     FileKind
	MimeType string
	// FileName is the provider's original basename when known, otherwise a
	// name derived from the kind and date.
	FileName string
	HasThumb bool
	// Ref is the adapter's location reference.
	Ref any
}

func (Sticker) isMedia() {}
func (Poll) isMedia()    {}
func (WebPage) isMedia() {}
func (File) isMedia()    {}

// Session is an authenticated connection to the provider. A takeout
// session exposes the same capabilities as a plain one.
type Session interface {
	ResolveGroup(ctx context.Context, identifier string) (Group, error)
	// FetchMessages returns up to limit messages with id greater than
	// offsetID in ascending order, or exactly the given ids when ids is
	// non-empty.
	FetchMessages(ctx context.Context, group Group, offsetID int64, limit int, ids []int64) ([]Message, error)
	// DownloadFile stores the attachment of msg under dir and returns the path.
	DownloadFile(ctx context.Context, msg Message, dir string) (string, error)
	// DownloadThumb stores a thumbnail of the attachment of msg under dir.
	DownloadThumb(ctx context.Context, msg Message, dir string) (string, error)
	// DownloadAvatar stores the profile photo of sender under dir. It returns
	// an empty path when the sender has no photo.
	DownloadAvatar(ctx context.Context, sender Sender, dir string) (string, error)
	// Takeout runs fn inside an export session. The export is finished when
	// fn returns, whatever the outcome.
	Takeout(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}

// Client connects to the provider and runs fn with an authenticated session.
type Client interface {
	Run(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}

// Prompter asks the operator to confirm before continuing.
type Prompter interface {
	Confirm(ctx context.Context, message string) error
}
