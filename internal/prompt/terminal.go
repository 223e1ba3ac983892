// Package prompt asks the user for profile passwords on the terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/TheMichaelB/roclient/internal/config"
	"github.com/TheMichaelB/roclient/internal/events"
	"github.com/TheMichaelB/roclient/internal/models"
)

type readResult struct {
	line string
	err  error
}

// Terminal reads passwords without echo when stdin is a terminal and falls
// back to reading a plain line otherwise. Submitting an empty line, EOF or
// running into the timeout counts as a cancel.
type Terminal struct {
	label   string
	timeout time.Duration
	out     io.Writer
	read    func() (string, error)
	logger  *events.Logger

	mu sync.Mutex
	// pending is an unfinished read left over from a prompt that gave up.
	// The next prompt picks it up instead of racing it for input.
	pending chan readResult
}

// Option customises a Terminal.
type Option func(*Terminal)

// WithInput reads lines from r instead of the terminal.
func WithInput(r io.Reader) Option {
	return func(t *Terminal) {
		br := bufio.NewReader(r)
		t.read = func() (string, error) { return readLine(br) }
	}
}

// WithOutput writes the prompt label to w.
func WithOutput(w io.Writer) Option {
	return func(t *Terminal) {
		t.out = w
	}
}

// NewTerminal creates a terminal prompter.
func NewTerminal(cfg *config.PromptConfig, logger *events.Logger, opts ...Option) *Terminal {
	t := &Terminal{
		label:   cfg.Label,
		timeout: cfg.Timeout,
		out:     os.Stderr,
		logger:  logger.WithField("component", "prompt"),
	}
	if t.label == "" {
		t.label = "Password for %s: "
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		t.read = func() (string, error) {
			pw, err := term.ReadPassword(fd)
			fmt.Fprintln(t.out)
			return string(pw), err
		}
	} else {
		br := bufio.NewReader(os.Stdin)
		t.read = func() (string, error) { return readLine(br) }
	}

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PromptPassword asks for the password of profile.
func (t *Terminal) PromptPassword(ctx context.Context, profile models.Profile) (string, error) {
	label := t.label
	if strings.Contains(label, "%s") {
		label = fmt.Sprintf(label, profile.Label())
	}
	return t.ask(ctx, label, profile.ID)
}

// ReadSecret asks for any secret under label, with the same cancel rules
// as PromptPassword.
func (t *Terminal) ReadSecret(ctx context.Context, label string) (string, error) {
	return t.ask(ctx, label, "")
}

func (t *Terminal) ask(ctx context.Context, label, profileID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	color.New(color.Bold).Fprint(t.out, label)

	if t.pending == nil {
		ch := make(chan readResult, 1)
		read := t.read
		go func() {
			line, err := read()
			ch <- readResult{line: line, err: err}
		}()
		t.pending = ch
	}

	var timeout <-chan time.Time
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-t.pending:
		t.pending = nil
		switch {
		case errors.Is(res.err, io.EOF):
			return "", models.ErrUserCancelled
		case res.err != nil:
			return "", fmt.Errorf("read password: %w", res.err)
		case res.line == "":
			return "", models.ErrUserCancelled
		}
		return res.line, nil
	case <-timeout:
		fmt.Fprintln(t.out)
		t.logger.WithField("profile_id", profileID).Info("Password prompt timed out")
		return "", models.ErrUserCancelled
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return "", ctx.Err()
	}
}

// readLine returns one line without its terminator. A final line without a
// newline is returned as is; EOF is only reported when nothing was read.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
