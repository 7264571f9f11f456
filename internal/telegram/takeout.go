package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	apperrors "github.com/edgard/tgarchive/internal/errors"
	"github.com/edgard/tgarchive/internal/remote"
	"github.com/edgard/tgarchive/internal/resilience"
)

const (
	takeoutAttempts    = 3
	takeoutFileMaxSize = 4000 << 20
	takeoutFinishWait  = 30 * time.Second
)

// takeoutInvoker wraps every request in invokeWithTakeout.
type takeoutInvoker struct {
	id   int64
	next tg.Invoker
}

type encoderObject struct {
	bin.Encoder
}

func (encoderObject) Decode(*bin.Buffer) error {
	return errors.New("decode not supported")
}

func (t takeoutInvoker) Invoke(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
	return t.next.Invoke(ctx, &tg.InvokeWithTakeoutRequest{
		TakeoutID: t.id,
		Query:     encoderObject{input},
	}, output)
}

func isTakeoutInitDelay(err error) bool {
	return tgerr.Is(err, "TAKEOUT_INIT_DELAY")
}

// Takeout opens an export session, runs fn with a session whose requests
// are wrapped in it and finishes it when fn returns. Finishing uses a
// context detached from ctx so it also happens after cancellation.
//
// While the account has not approved the export, the provider answers
// with TAKEOUT_INIT_DELAY. The operator is asked to approve it on another
// device and negotiation is retried, three attempts in total.
func (s *session) Takeout(ctx context.Context, fn func(ctx context.Context, s remote.Session) error) error {
	if s.takeoutID != 0 {
		return fn(ctx, s)
	}

	var id int64
	res := resilience.Bounded(ctx, resilience.BoundedConfig{
		MaxAttempts: takeoutAttempts,
		Retryable:   isTakeoutInitDelay,
		BeforeRetry: s.awaitTakeoutApproval,
	}, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			s.logger.InfoContext(ctx, "Trying takeout again", "attempt", attempt)
		}
		t, err := s.api.AccountInitTakeoutSession(ctx, &tg.AccountInitTakeoutSessionRequest{
			MessageUsers:      true,
			MessageChats:      true,
			MessageMegagroups: true,
			MessageChannels:   true,
			Files:             true,
			FileMaxSize:       takeoutFileMaxSize,
		})
		if err != nil {
			return err
		}
		id = t.ID
		return nil
	})
	if res.Err != nil {
		switch {
		case res.Exhausted:
			s.logger.ErrorContext(ctx, "Could not initiate takeout", "attempts", res.Attempts)
			return apperrors.NewTakeoutFailedError(res.Attempts, res.Err)
		case tgerr.Is(res.Err, "TAKEOUT_INVALID"):
			return apperrors.NewTakeoutInvalidError(s.sessionPath, res.Err)
		default:
			return s.wrapRPCError("start takeout", res.Err)
		}
	}

	ts := *s
	ts.takeoutID = id
	ts.invoker = takeoutInvoker{id: id, next: s.invoker}
	ts.api = tg.NewClient(ts.invoker)
	s.logger.InfoContext(ctx, "Takeout session started", "takeout_id", id)

	// The provider may invalidate a takeout right away; probe it before use.
	err := ts.probe(ctx)
	if err == nil {
		err = fn(ctx, &ts)
	}
	ts.finish(ctx, err == nil)
	return err
}

func (s *session) awaitTakeoutApproval(ctx context.Context, attempt int, err error) error {
	var wait time.Duration
	if rpcErr, ok := tgerr.As(err); ok {
		wait = time.Duration(rpcErr.Argument) * time.Second
	}
	s.logger.WarnContext(ctx, "Takeout request must be approved",
		"attempt", attempt, "wait", wait)
	if s.prompter == nil {
		return err
	}
	msg := fmt.Sprintf("Please allow the data export request received from Telegram on your device, "+
		"or wait %s. Press Enter after allowing it to continue.", wait)
	return s.prompter.Confirm(ctx, msg)
}

func (s *session) probe(ctx context.Context) error {
	if _, err := s.api.UsersGetUsers(ctx, []tg.InputUserClass{&tg.InputUserSelf{}}); err != nil {
		if tgerr.Is(err, "TAKEOUT_INVALID") {
			s.logger.ErrorContext(ctx, "Takeout invalidated, delete the session file and try again", "path", s.sessionPath)
			return apperrors.NewTakeoutInvalidError(s.sessionPath, err)
		}
		return s.wrapRPCError("probe takeout", err)
	}
	return nil
}

func (s *session) finish(ctx context.Context, success bool) {
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), takeoutFinishWait)
	defer cancel()
	if _, err := s.api.AccountFinishTakeoutSession(finishCtx, &tg.AccountFinishTakeoutSessionRequest{Success: success}); err != nil {
		s.logger.WarnContext(ctx, "Failed to finish takeout session", "takeout_id", s.takeoutID, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "Takeout session finished", "takeout_id", s.takeoutID, "success", success)
}
