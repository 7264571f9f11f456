package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gotd/td/tg"

	"github.com/edgard/tgarchive/internal/remote"
)

var errNoFile = errors.New("message has no downloadable file")

// DownloadFile stores the attachment of msg under dir. The file is named
// after the message id; the caller computes the final name.
func (s *session) DownloadFile(ctx context.Context, msg remote.Message, dir string) (string, error) {
	ref, err := refOf(msg)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, "dl_"+strconv.FormatInt(msg.ID, 10))

	if ref.vcard != nil {
		if err := os.WriteFile(dst, ref.vcard, 0o644); err != nil {
			return "", fmt.Errorf("failed to write contact card: %w", err)
		}
		return dst, nil
	}
	err = s.downloadRefreshing(ctx, ref, dst, func(r *fileRef) tg.InputFileLocationClass { return r.location })
	if err != nil {
		return "", err
	}
	return dst, nil
}

// DownloadThumb stores the thumbnail size of a photo attachment under dir.
func (s *session) DownloadThumb(ctx context.Context, msg remote.Message, dir string) (string, error) {
	ref, err := refOf(msg)
	if err != nil {
		return "", err
	}
	if ref.thumb == nil {
		return "", errNoFile
	}
	dst := filepath.Join(dir, "dl_thumb_"+strconv.FormatInt(msg.ID, 10))
	err = s.downloadRefreshing(ctx, ref, dst, func(r *fileRef) tg.InputFileLocationClass { return r.thumb })
	if err != nil {
		return "", err
	}
	return dst, nil
}

// DownloadAvatar stores the big version of the sender's current profile photo.
func (s *session) DownloadAvatar(ctx context.Context, sender remote.Sender, dir string) (string, error) {
	ref, ok := sender.Photo.(*avatarRef)
	if !ok || ref == nil {
		return "", nil
	}
	dst := filepath.Join(dir, "dl_avatar_"+strconv.FormatInt(sender.ID, 10))
	loc := &tg.InputPeerPhotoFileLocation{Big: true, Peer: ref.peer, PhotoID: ref.photoID}
	if err := s.download(ctx, loc, dst); err != nil {
		return "", markTransient(err)
	}
	return dst, nil
}

func refOf(msg remote.Message) (*fileRef, error) {
	file, ok := msg.Media.(remote.File)
	if !ok {
		return nil, errNoFile
	}
	ref, ok := file.Ref.(*fileRef)
	if !ok || ref == nil {
		return nil, errNoFile
	}
	return ref, nil
}

// downloadRefreshing downloads the location picked from ref. An expired
// file reference is refreshed once by fetching the message again.
func (s *session) downloadRefreshing(ctx context.Context, ref *fileRef, dst string, pick func(*fileRef) tg.InputFileLocationClass) error {
	err := s.download(ctx, pick(ref), dst)
	if err == nil || !isFileReferenceError(err) {
		return markTransient(err)
	}

	s.logger.DebugContext(ctx, "File reference expired, refetching message", "message_id", ref.msgID)
	fresh, ferr := s.refetch(ctx, ref.peer, ref.msgID)
	if ferr != nil {
		return markTransient(errors.Join(err, ferr))
	}
	freshRef, ferr := refOf(fresh)
	if ferr != nil || pick(freshRef) == nil {
		return markTransient(err)
	}
	*ref = *freshRef
	return markTransient(s.download(ctx, pick(ref), dst))
}

func (s *session) download(ctx context.Context, loc tg.InputFileLocationClass, dst string) error {
	if _, err := s.downloader.Download(s.api, loc).ToPath(ctx, dst); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
