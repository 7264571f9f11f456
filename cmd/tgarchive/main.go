// Package main contains the entrypoint for the tgarchive command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/edgard/tgarchive/internal/app"
	"github.com/edgard/tgarchive/internal/archiver"
	"github.com/edgard/tgarchive/internal/config"
	"github.com/edgard/tgarchive/internal/database"
	"github.com/edgard/tgarchive/internal/logger"
	"github.com/edgard/tgarchive/internal/metrics"
	"github.com/edgard/tgarchive/internal/notify"
	"github.com/edgard/tgarchive/internal/telegram"
)

const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode)
}

// idList collects message ids from repeated or comma separated -id flags.
type idList []int64

func (l *idList) String() string {
	parts := make([]string, len(*l))
	for i, id := range *l {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid message id %q", part)
		}
		*l = append(*l, id)
	}
	return nil
}

type flags struct {
	configPath    string
	sessionPath   string
	newConfig     bool
	sync          bool
	watch         bool
	ids           idList
	fromID        *int64
	importSession string
	verbose       bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("tgarchive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "./config.yaml", "Path to configuration file")
	fs.StringVar(&f.sessionPath, "session", "", "Path to the session file (overrides session_path)")
	fs.BoolVar(&f.newConfig, "new", false, "Write a sample configuration to -config and exit")
	fs.BoolVar(&f.sync, "sync", false, "Sync new messages once and exit (default action)")
	fs.BoolVar(&f.watch, "watch", false, "Keep running and sync on the configured schedule")
	fs.Var(&f.ids, "id", "Sync only these message ids (repeatable, comma separated)")
	fs.Func("from-id", "Sync messages after this id instead of the last archived one", func(s string) error {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id < 0 {
			return fmt.Errorf("invalid message id %q", s)
		}
		f.fromID = &id
		return nil
	})
	fs.StringVar(&f.importSession, "import-session", "", "Convert a Telethon or gotd session file and store it as the session")
	fs.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.sync && f.watch {
		return nil, errors.New("-sync and -watch cannot be used together")
	}
	if f.watch && (len(f.ids) > 0 || f.fromID != nil) {
		return nil, errors.New("-id and -from-id only apply to -sync")
	}
	return f, nil
}

// run wires the components for the requested action and returns the
// process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitError
	}

	if f.newConfig {
		return writeSampleConfig(f.configPath, stdout, stderr)
	}
	if f.importSession != "" {
		return importSession(f, stdout, stderr)
	}

	opts := archiver.Options{IDs: f.ids, FromID: f.fromID}
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", f.configPath, "error", err)
		return exitError
	}
	if f.sessionPath != "" {
		cfg.SessionPath = f.sessionPath
	}

	level := cfg.Log.Level
	if f.verbose {
		level = "debug"
	}
	log := logger.NewLogger(level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Debug("Logger initialized", "level", level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.DBPath)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		return exitError
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log, cfg.Location())

	client, err := telegram.NewClient(telegram.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		SessionPath: cfg.SessionPath,
		Phone:       cfg.Phone,
		Proxy:       cfg.Proxy,
	}, telegram.NewTerminal(os.Stdin, stdout), log)
	if err != nil {
		log.Error("Failed to create Telegram client", "error", err)
		return exitError
	}

	appOpts := []app.Option{app.WithMetrics(metrics.New())}
	if cfg.Notify.BotToken != "" {
		b, err := notify.NewTelegramBot(cfg.Notify.BotToken, log)
		if err != nil {
			log.Error("Failed to create notifier", "error", err)
			return exitError
		}
		appOpts = append(appOpts, app.WithNotifier(notify.New(b, cfg.Notify.ChatID, log)))
	}

	a, err := app.New(cfg, log, store, client, appOpts...)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		return exitError
	}

	if f.watch {
		err = a.Watch(ctx)
	} else {
		_, err = a.Sync(ctx, opts)
	}
	if closeErr := a.Close(); closeErr != nil {
		log.Error("Failed to finish file moves", "error", closeErr)
		if err == nil {
			err = closeErr
		}
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		log.Info("Stopped by operator")
		return exitCancelled
	default:
		log.Error("Sync failed", "error", err)
		return exitError
	}
}

func writeSampleConfig(path string, stdout, stderr io.Writer) int {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "%s already exists\n", path)
		return exitError
	}
	if err := os.WriteFile(path, config.SampleConfig, 0o600); err != nil {
		fmt.Fprintf(stderr, "failed to write %s: %v\n", path, err)
		return exitError
	}
	fmt.Fprintf(stdout, "Wrote sample configuration to %s\n", path)
	return exitOK
}

func importSession(f *flags, stdout, stderr io.Writer) int {
	dst := f.sessionPath
	if dst == "" {
		dst = "session.json"
		if cfg, err := config.Load(f.configPath); err == nil {
			dst = cfg.SessionPath
		}
	}
	converted, err := telegram.ImportSession(f.importSession, dst)
	if err != nil {
		fmt.Fprintf(stderr, "failed to import session: %v\n", err)
		return exitError
	}
	if converted {
		fmt.Fprintf(stdout, "Converted %s and saved it to %s\n", f.importSession, dst)
	} else {
		fmt.Fprintf(stdout, "Copied %s to %s\n", f.importSession, dst)
	}
	return exitOK
}
