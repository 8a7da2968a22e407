package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

// fakeRunner records invocations and plays back canned who output.
type fakeRunner struct {
	whoOutput string
	fail      bool
	calls     [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if name == "who" {
		return []byte(f.whoOutput), nil
	}
	if f.fail {
		return nil, errors.New("exit status 1")
	}
	return nil, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendTargetsUserSessions(t *testing.T) {
	runner := &fakeRunner{whoOutput: "kid      tty2         2026-08-31 09:12 (:0)\n" +
		"other    tty3         2026-08-31 08:40 (:1)\n" +
		"kid      pts/1        2026-08-31 10:03 (192.168.1.17)\n"}
	n := New(runner, discard())

	if err := n.Send(context.Background(), "kid", 1000, "game will quit in 4 minutes", Normal); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	// One who call plus exactly one notify-send: the ssh session has no
	// display and other's session belongs to someone else.
	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 commands, got %v", runner.calls)
	}
	cmd := runner.calls[1]
	joined := strings.Join(cmd, " ")
	for _, want := range []string{"sudo", "-u kid", "DISPLAY=:0", "DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/1000/bus", "notify-send", "--urgency=normal", "game will quit in 4 minutes"} {
		if !strings.Contains(joined, want) {
			t.Errorf("command %q missing %q", joined, want)
		}
	}
}

func TestSendNoSessionIsNotAnError(t *testing.T) {
	runner := &fakeRunner{whoOutput: ""}
	n := New(runner, discard())

	if err := n.Send(context.Background(), "kid", 1000, "hello", Critical); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("expected only the who call, got %v", runner.calls)
	}
}

func TestSendReportsNotifyFailure(t *testing.T) {
	runner := &fakeRunner{whoOutput: "kid tty2 2026-08-31 09:12 (:0)\n", fail: true}
	n := New(runner, discard())

	if err := n.Send(context.Background(), "kid", 1000, "hello", Low); err == nil {
		t.Error("expected an error when notify-send fails")
	}
}

func TestUrgencyStrings(t *testing.T) {
	for u, want := range map[Urgency]string{Low: "low", Normal: "normal", Critical: "critical"} {
		if got := u.String(); got != want {
			t.Errorf("Urgency(%d).String() = %q, want %q", u, got, want)
		}
	}
}
