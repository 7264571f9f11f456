package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	apperrors "github.com/edgard/tgarchive/internal/errors"
	"github.com/edgard/tgarchive/internal/remote"
)

// session implements remote.Session. A takeout session is a copy whose
// api wraps every request in the takeout.
type session struct {
	api         *tg.Client
	invoker     tg.Invoker
	downloader  *downloader.Downloader
	prompter    remote.Prompter
	sessionPath string
	logger      *slog.Logger
	takeoutID   int64
}

var _ remote.Session = (*session)(nil)

// wrapRPCError maps provider failures to the shared taxonomy.
func (s *session) wrapRPCError(op string, err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return apperrors.NewFloodWaitError(wait, err)
	}
	if tgerr.Is(err, "TAKEOUT_INVALID", "TAKEOUT_REQUIRED") {
		return apperrors.NewTakeoutInvalidError(s.sessionPath, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// markTransient wraps err with remote.ErrTransient when a retry can succeed.
func markTransient(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", remote.ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if _, ok := tgerr.AsFloodWait(err); ok {
		return true
	}
	if rpcErr, ok := tgerr.As(err); ok {
		return rpcErr.Code >= 500 || rpcErr.IsOneOf("TIMEOUT", "RPC_CALL_FAIL") || isFileReferenceError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isFileReferenceError(err error) bool {
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.IsOneOf("FILE_REFERENCE_EXPIRED", "FILE_REFERENCE_INVALID", "FILE_REFERENCE_EMPTY")
	}
	return false
}
