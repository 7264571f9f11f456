// Package media turns message attachments into media records, downloading
// files into a staging directory and handing them to the mover.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/edgard/tgarchive/internal/database"
	"github.com/edgard/tgarchive/internal/remote"
	"github.com/edgard/tgarchive/internal/resilience"
)

// Downloader fetches attachment bytes into a directory.
type Downloader interface {
	DownloadFile(ctx context.Context, msg remote.Message, dir string) (string, error)
	DownloadThumb(ctx context.Context, msg remote.Message, dir string) (string, error)
}

// Mover relocates a staged file to its final path.
type Mover interface {
	Submit(src, dst string) error
}

// Config controls which attachments are downloaded and where they go.
type Config struct {
	Download bool
	// MediaDir receives the final files.
	MediaDir string
	// TmpDir is the staging directory downloads are written to.
	TmpDir string
	// ThumbsDir is a subdirectory of MediaDir for thumbnails.
	ThumbsDir string
	// MimeTypes is the allow-list; empty allows everything.
	MimeTypes []string
	Backoff   resilience.BackoffConfig
}

// Result is what a message's attachment contributes to the archive.
type Result struct {
	// Media is nil when nothing is stored for the attachment.
	Media *database.Media
	// Content, when set, replaces the message text.
	Content *string
}

// Resolver resolves message attachments.
type Resolver struct {
	cfg    Config
	mover  Mover
	logger *slog.Logger
}

// NewResolver creates a Resolver. A zero Backoff uses the default one.
func NewResolver(cfg Config, mover Mover, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff == (resilience.BackoffConfig{}) {
		cfg.Backoff = resilience.DefaultBackoffConfig()
	}
	return &Resolver{cfg: cfg, mover: mover, logger: logger.With("component", "media")}
}

// Resolve builds the media record of msg. The only error it returns is a
// context error; download failures are logged and yield no record.
func (r *Resolver) Resolve(ctx context.Context, dl Downloader, msg remote.Message) (Result, error) {
	switch m := msg.Media.(type) {
	case nil:
		return Result{}, nil
	case remote.Sticker:
		alt := m.Alt
		return Result{Content: &alt}, nil
	case remote.Poll:
		return Result{Media: pollMedia(msg.ID, m)}, nil
	case remote.WebPage:
		return Result{Media: webPageMedia(msg.ID, m)}, nil
	case remote.File:
		media, err := r.resolveFile(ctx, dl, msg, m)
		return Result{Media: media}, err
	}
	return Result{}, nil
}

func pollMedia(id int64, p remote.Poll) *database.Media {
	if !p.HasResults {
		return nil
	}
	options := make([]database.PollOption, 0, len(p.Answers))
	for _, a := range p.Answers {
		opt := database.PollOption{Label: a.Label, Count: a.Voters, Correct: a.Correct}
		if p.TotalVoters > 0 {
			opt.Percent = float64(a.Voters) / float64(p.TotalVoters) * 100
		}
		options = append(options, opt)
	}
	desc, err := json.Marshal(options)
	if err != nil {
		return nil
	}
	return &database.Media{
		ID:          id,
		Type:        database.MediaTypePoll,
		Title:       strPtr(p.Question),
		Description: strPtr(string(desc)),
	}
}

func webPageMedia(id int64, w remote.WebPage) *database.Media {
	m := &database.Media{
		ID:    id,
		Type:  database.MediaTypeWebpage,
		URL:   strPtr(w.URL),
		Title: strPtr(w.Title),
	}
	if w.Description != "" {
		m.Description = strPtr(w.Description)
	}
	return m
}

// Allowed reports whether a MIME type passes the allow-list. Files with an
// unknown type are always allowed.
func (r *Resolver) Allowed(mimeType string) bool {
	if len(r.cfg.MimeTypes) == 0 || mimeType == "" {
		return true
	}
	return slices.Contains(r.cfg.MimeTypes, mimeType)
}

func (r *Resolver) resolveFile(ctx context.Context, dl Downloader, msg remote.Message, file remote.File) (*database.Media, error) {
	if !r.cfg.Download {
		return nil, nil
	}
	if !r.Allowed(file.MimeType) {
		r.logger.InfoContext(ctx, "Skipping media", "message_id", msg.ID, "name", file.FileName, "mime_type", file.MimeType)
		return nil, nil
	}

	r.logger.InfoContext(ctx, "Downloading media", "message_id", msg.ID)
	staged, err := r.download(ctx, msg, func(ctx context.Context) (string, error) {
		return dl.DownloadFile(ctx, msg, r.cfg.TmpDir)
	})
	if err != nil {
		return nil, r.failed(ctx, msg, "media", err)
	}

	basename := filepath.Base(file.FileName)
	name := FileName(msg.ID, basename)
	if err := r.mover.Submit(staged, filepath.Join(r.cfg.MediaDir, name)); err != nil {
		os.Remove(staged)
		r.logger.ErrorContext(ctx, "Failed to queue media move", "message_id", msg.ID, "path", staged, "error", err)
		return nil, nil
	}

	media := &database.Media{
		ID:    msg.ID,
		Type:  database.MediaTypePhoto,
		URL:   strPtr(name),
		Title: strPtr(basename),
	}
	if file.Kind == remote.FilePhoto && file.HasThumb {
		media.Thumb = r.thumbnail(ctx, dl, msg, basename)
	}
	return media, nil
}

func (r *Resolver) thumbnail(ctx context.Context, dl Downloader, msg remote.Message, basename string) *string {
	staged, err := r.download(ctx, msg, func(ctx context.Context) (string, error) {
		return dl.DownloadThumb(ctx, msg, r.cfg.TmpDir)
	})
	if err != nil {
		_ = r.failed(ctx, msg, "thumbnail", err)
		return nil
	}
	name := ThumbName(msg.ID, basename)
	if err := r.mover.Submit(staged, filepath.Join(r.cfg.MediaDir, r.cfg.ThumbsDir, name)); err != nil {
		os.Remove(staged)
		r.logger.ErrorContext(ctx, "Failed to queue thumbnail move", "message_id", msg.ID, "path", staged, "error", err)
		return nil
	}
	return &name
}

// download retries transient failures without limit, doubling the pause
// each time.
func (r *Resolver) download(ctx context.Context, msg remote.Message, fetch func(ctx context.Context) (string, error)) (string, error) {
	var path string
	err := resilience.Forever(ctx, r.cfg.Backoff, remote.IsTransient,
		func(err error, wait time.Duration) {
			r.logger.ErrorContext(ctx, "Error downloading media, sleeping", "message_id", msg.ID, "wait", wait, "error", err)
		},
		func(ctx context.Context) error {
			p, err := fetch(ctx)
			if err != nil {
				return err
			}
			path = p
			return nil
		})
	return path, err
}

// failed logs a download failure and keeps only context errors.
func (r *Resolver) failed(ctx context.Context, msg remote.Message, what string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	r.logger.ErrorContext(ctx, fmt.Sprintf("Failed to download %s", what), "message_id", msg.ID, "error", err)
	return nil
}

func strPtr(s string) *string { return &s }
