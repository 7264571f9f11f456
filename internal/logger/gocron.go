package logger

import (
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// gocronLogger routes scheduler logs through slog. Scheduler chatter is
// demoted one level so it only shows with debug logging.
type gocronLogger struct {
	logger *slog.Logger
}

// NewGocronLogger returns a gocron.Logger backed by logger.
//
//nolint:ireturn // gocron.WithLogger takes the interface
func NewGocronLogger(logger *slog.Logger) gocron.Logger {
	return &gocronLogger{logger: logger.With("component", "gocron")}
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *gocronLogger) Info(msg string, args ...any)  { l.logger.Debug(msg, args...) }
func (l *gocronLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *gocronLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
