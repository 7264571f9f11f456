// Package users maps message senders to user records and keeps their
// avatars on disk.
package users

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/image/draw"

	"github.com/edgard/tgarchive/internal/database"
	"github.com/edgard/tgarchive/internal/remote"
)

// Tags stored on a user record, space separated.
const (
	TagBot  = "bot"
	TagScam = "scam"
	TagFake = "fake"
)

const jpegQuality = 90

// AvatarDownloader fetches a sender's profile photo.
type AvatarDownloader interface {
	DownloadAvatar(ctx context.Context, sender remote.Sender, dir string) (string, error)
}

// Mover relocates a staged file to its final path.
type Mover interface {
	Submit(src, dst string) error
}

// Config controls avatar handling.
type Config struct {
	DownloadAvatars bool
	MediaDir        string
	TmpDir          string
	// Width and Height bound the stored avatar; the aspect ratio is kept.
	Width  int
	Height int
}

// Resolver converts senders to user records.
type Resolver struct {
	cfg    Config
	mover  Mover
	logger *slog.Logger

	mu     sync.Mutex
	queued map[int64]string
}

// NewResolver creates a Resolver. mover may be nil when avatars are not
// downloaded.
func NewResolver(cfg Config, mover Mover, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:    cfg,
		mover:  mover,
		logger: logger.With("component", "users"),
		queued: make(map[int64]string),
	}
}

// Resolve builds the user record for sender. Avatar failures are logged and
// leave the avatar empty; Resolve itself never fails.
func (r *Resolver) Resolve(ctx context.Context, dl AvatarDownloader, sender remote.Sender) database.User {
	if sender.Kind == remote.SenderChannel {
		return database.User{ID: sender.ID, Username: sender.Title}
	}

	user := database.User{
		ID:        sender.ID,
		Username:  sender.Username,
		FirstName: optional(sender.FirstName),
		LastName:  optional(sender.LastName),
		Tags:      tags(sender),
	}
	if user.Username == "" {
		user.Username = strconv.FormatInt(sender.ID, 10)
	}
	if r.cfg.DownloadAvatars && sender.Photo != nil {
		user.Avatar = r.avatar(ctx, dl, sender)
	}
	return user
}

func tags(s remote.Sender) database.Tags {
	var t database.Tags
	if s.Bot {
		t = append(t, TagBot)
	}
	if s.Scam {
		t = append(t, TagScam)
	}
	if s.Fake {
		t = append(t, TagFake)
	}
	return t
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Resolver) avatar(ctx context.Context, dl AvatarDownloader, sender remote.Sender) *string {
	if name, ok := r.cached(sender.ID); ok {
		return &name
	}

	staged, err := dl.DownloadAvatar(ctx, sender, r.cfg.TmpDir)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to download avatar", "user_id", sender.ID, "error", err)
		return nil
	}
	if staged == "" {
		return nil
	}
	defer os.Remove(staged)

	name := "avatar_" + strconv.FormatInt(sender.ID, 10) + ".jpg"
	out := filepath.Join(r.cfg.TmpDir, name)
	if err := resizeAvatar(staged, out, r.cfg.Width, r.cfg.Height); err != nil {
		r.logger.ErrorContext(ctx, "Failed to process avatar", "user_id", sender.ID, "path", staged, "error", err)
		return nil
	}
	if err := r.mover.Submit(out, filepath.Join(r.cfg.MediaDir, name)); err != nil {
		os.Remove(out)
		r.logger.ErrorContext(ctx, "Failed to queue avatar move", "user_id", sender.ID, "error", err)
		return nil
	}

	r.mu.Lock()
	r.queued[sender.ID] = name
	r.mu.Unlock()
	return &name
}

// cached looks for an avatar queued in this run or already in the media
// directory, in either the current or the legacy "avatar_<id> <name>" form.
func (r *Resolver) cached(id int64) (string, bool) {
	r.mu.Lock()
	name, ok := r.queued[id]
	r.mu.Unlock()
	if ok {
		return name, true
	}

	prefix := filepath.Join(r.cfg.MediaDir, "avatar_"+strconv.FormatInt(id, 10))
	for _, pattern := range []string{prefix + ".*", prefix + " *"} {
		matches, err := filepath.Glob(pattern)
		if err == nil && len(matches) > 0 {
			return filepath.Base(matches[0]), true
		}
	}
	return "", false
}

func resizeAvatar(src, dst string, width, height int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	img, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("failed to decode avatar: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, fit(img, width, height), &jpeg.Options{Quality: jpegQuality}); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to encode avatar: %w", err)
	}
	return out.Close()
}

// fit scales img down to fit in width x height, keeping its aspect ratio.
// Images already inside the box are returned unchanged.
func fit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 || (w <= width && h <= height) {
		return img
	}
	if w*height > h*width {
		h = max(1, h*width/w)
		w = width
	} else {
		w = max(1, w*height/h)
		h = height
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
