package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// Terminal talks to the operator over stdin and stdout. It answers the
// interactive login and implements remote.Prompter.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewTerminal creates a Terminal on the given streams. Passwords are read
// without echo when in is a terminal.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, fd: int(in.Fd())}
}

// newTerminalFromReader is used by tests; it never disables echo.
func newTerminalFromReader(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, fd: -1}
}

type lineResult struct {
	line string
	err  error
}

// readLine reads one line. It returns early with the context error on
// cancellation; the pending read then completes in the background.
func (t *Terminal) readLine(ctx context.Context, prompt string, secret bool) (string, error) {
	fmt.Fprint(t.out, prompt)

	ch := make(chan lineResult, 1)
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if secret && t.fd >= 0 && term.IsTerminal(t.fd) {
			b, err := term.ReadPassword(t.fd)
			fmt.Fprintln(t.out)
			ch <- lineResult{line: string(b), err: err}
			return
		}
		line, err := t.in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- lineResult{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

// Confirm prints message and blocks until the operator presses Enter.
func (t *Terminal) Confirm(ctx context.Context, message string) error {
	_, err := t.readLine(ctx, message+"\n", false)
	return err
}

// authenticator adapts Terminal to auth.UserAuthenticator. Sign up is not
// supported: the account must exist.
type authenticator struct {
	term  *Terminal
	phone string
}

var _ auth.UserAuthenticator = authenticator{}

func (a authenticator) Phone(ctx context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return a.term.readLine(ctx, "Enter phone number (international format): ", false)
}

func (a authenticator) Password(ctx context.Context) (string, error) {
	return a.term.readLine(ctx, "Enter 2FA password: ", true)
}

func (a authenticator) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.term.readLine(ctx, "Enter the login code sent by Telegram: ", false)
}

func (a authenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (a authenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported, register the account with an official client first")
}
