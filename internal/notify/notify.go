// Package notify posts sync run summaries to a chat through the Bot API.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/tgarchive/internal/archiver"
)

// messageSender is the part of *bot.Bot the notifier uses.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Notifier sends run summaries to one chat.
type Notifier struct {
	sender messageSender
	chatID int64
	logger *slog.Logger
}

// NewTelegramBot creates a Bot API client. The getMe handshake is skipped
// so a notifier never delays startup.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "notify")

	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return b, nil
}

// New creates a Notifier posting to chatID.
func New(b *bot.Bot, chatID int64, logger *slog.Logger) *Notifier {
	return newNotifier(b, chatID, logger)
}

func newNotifier(sender messageSender, chatID int64, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, chatID: chatID, logger: logger.With("component", "notify")}
}

// RunFinished posts the outcome of a sync run. Delivery failures are
// logged and returned; they never affect the run itself.
func (n *Notifier) RunFinished(ctx context.Context, report archiver.Report, runErr error) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	_, err := n.sender.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   Summary(report, runErr),
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to send run summary", "chat_id", n.chatID, "error", err)
		return fmt.Errorf("failed to send run summary: %w", err)
	}
	n.logger.DebugContext(ctx, "Sent run summary", "chat_id", n.chatID, "run_id", report.RunID)
	return nil
}

// Summary renders a run report as plain text.
func Summary(report archiver.Report, runErr error) string {
	var b strings.Builder
	switch {
	case errors.Is(runErr, context.Canceled):
		fmt.Fprintf(&b, "Sync of %s was cancelled.\n", report.Group)
	case runErr != nil:
		fmt.Fprintf(&b, "Sync of %s failed: %v\n", report.Group, runErr)
	default:
		fmt.Fprintf(&b, "Sync of %s finished.\n", report.Group)
	}
	fmt.Fprintf(&b, "Mode: %s\n", report.Mode)
	fmt.Fprintf(&b, "Messages: %d (media %d, skipped %d)\n", report.Messages, report.Media, report.Skipped)
	if report.LastID > 0 {
		fmt.Fprintf(&b, "Last message id: %d\n", report.LastID)
	}
	if report.FloodWaits > 0 {
		fmt.Fprintf(&b, "Flood waits: %d\n", report.FloodWaits)
	}
	fmt.Fprintf(&b, "Duration: %s", report.Duration.Round(time.Second))
	return b.String()
}
