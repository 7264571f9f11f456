// Package telegram implements the remote client contracts on top of the
// gotd MTProto stack: session persistence, the interactive login, group
// resolution, history paging, takeout sessions and file downloads.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"

	"github.com/edgard/tgarchive/internal/config"
	apperrors "github.com/edgard/tgarchive/internal/errors"
	"github.com/edgard/tgarchive/internal/remote"
)

// Options configures a Client.
type Options struct {
	APIID       int
	APIHash     string
	SessionPath string
	// Phone skips the phone prompt of the interactive login when set.
	Phone string
	Proxy config.ProxyConfig
}

// Client connects to Telegram and runs callbacks with an authenticated session.
type Client struct {
	opts     Options
	terminal *Terminal
	prompter remote.Prompter
	logger   *slog.Logger
}

var _ remote.Client = (*Client)(nil)

// NewClient creates a Client. terminal answers the interactive login and
// the takeout confirmation prompts.
func NewClient(opts Options, terminal *Terminal, logger *slog.Logger) (*Client, error) {
	if opts.APIID <= 0 || opts.APIHash == "" {
		return nil, apperrors.NewConfigError("api_id and api_hash are required", nil)
	}
	if opts.SessionPath == "" {
		return nil, apperrors.NewConfigError("session path is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:     opts,
		terminal: terminal,
		prompter: terminal,
		logger:   logger.With("component", "telegram"),
	}, nil
}

// Run connects, signs in when the stored session is not authorized and
// calls fn with the session.
//
// The connection lives on a context detached from ctx, so requests that
// must run after an interrupt, like finishing a takeout, still reach the
// server. It is closed once fn returns. fn itself receives ctx.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, s remote.Session) error) error {
	if err := os.MkdirAll(filepath.Dir(c.opts.SessionPath), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tgOpts := tdtelegram.Options{
		SessionStorage: &FileSessionStorage{Path: c.opts.SessionPath},
		NoUpdates:      true,
	}
	resolver, err := proxyResolver(c.opts.Proxy)
	if err != nil {
		return apperrors.NewConfigError("invalid proxy configuration", err)
	}
	if resolver != nil {
		tgOpts.Resolver = resolver
		c.logger.Info("Connecting through proxy", "addr", c.opts.Proxy.Addr, "port", c.opts.Proxy.Port)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	client := tdtelegram.NewClient(c.opts.APIID, c.opts.APIHash, tgOpts)
	return client.Run(connCtx, func(context.Context) error {
		if err := c.authenticate(ctx, client); err != nil {
			return err
		}
		s := &session{
			api:         client.API(),
			invoker:     client,
			downloader:  downloader.NewDownloader(),
			prompter:    c.prompter,
			sessionPath: c.opts.SessionPath,
			logger:      c.logger,
		}
		return fn(ctx, s)
	})
}

func (c *Client) authenticate(ctx context.Context, client *tdtelegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewAuthError("failed to check authorization", err)
	}
	if status.Authorized {
		c.logger.Debug("Session already authorized")
		return nil
	}
	if c.terminal == nil {
		return apperrors.NewAuthError("session is not authorized and no terminal is available", nil)
	}

	c.logger.Info("Session not authorized, starting interactive login")
	flow := auth.NewFlow(authenticator{term: c.terminal, phone: c.opts.Phone}, auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return apperrors.NewAuthError("login failed", err)
	}
	c.logger.Info("Login successful")
	return nil
}
