// Package notify delivers desktop notifications to logged-in users via
// notify-send, so people get told why their game just died.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Urgency maps to notify-send's urgency levels.
type Urgency int

const (
	Low Urgency = iota
	Normal
	Critical
)

func (u Urgency) String() string {
	switch u {
	case Low:
		return "low"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// Runner executes an external command and returns its stdout. It exists
// so tests can fake the who and notify-send invocations.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// whoLine matches one line of who(1) output: username first, the
// display name parenthesized at the end, e.g. "kid tty2 2026-08-31 09:12 (:0)".
var whoLine = regexp.MustCompile(`(?m)^(\S+).*\(([^)]+)\)\s*$`)

// Notifier sends notifications into users' desktop sessions.
type Notifier struct {
	runner Runner
	logger *slog.Logger

	// expire is how long the notification stays on screen.
	expire time.Duration
}

// New creates a Notifier. A nil runner gets the real ExecRunner.
func New(runner Runner, logger *slog.Logger) *Notifier {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Notifier{
		runner: runner,
		logger: logger,
		expire: 10 * time.Second,
	}
}

// Send shows the message in every desktop session the user currently
// has open. The daemon runs as root, so it switches to the user with
// sudo and points notify-send at the user's session bus. A user with no
// open session gets nothing; that is not an error.
func (n *Notifier) Send(ctx context.Context, username string, uid uint32, message string, urgency Urgency) error {
	out, err := n.runner.Run(ctx, "who")
	if err != nil {
		return fmt.Errorf("cannot list sessions: %w", err)
	}

	busAddress := fmt.Sprintf("unix:path=/run/user/%d/bus", uid)
	var firstErr error
	for _, match := range whoLine.FindAllStringSubmatch(string(out), -1) {
		user, display := match[1], match[2]
		if user != username || !strings.HasPrefix(display, ":") {
			continue
		}
		_, err := n.runner.Run(ctx, "sudo",
			"-u", username,
			"DISPLAY="+display,
			"DBUS_SESSION_BUS_ADDRESS="+busAddress,
			"notify-send",
			"--app-name=focusd",
			"--urgency="+urgency.String(),
			fmt.Sprintf("--expire-time=%d", n.expire.Milliseconds()),
			message,
		)
		if err != nil {
			n.logger.Warn("notification failed", "user", username, "display", display, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
