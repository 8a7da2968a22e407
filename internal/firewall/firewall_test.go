package firewall

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/snapshot"
	"github.com/hostfocus/focusd/internal/timeline"
)

// fakeRunner records every iptables invocation and plays back a canned
// --list output.
type fakeRunner struct {
	listOutput string
	calls      []string
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	call := strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if strings.Contains(call, "--list") {
		return []byte(f.listOutput), nil
	}
	return nil, nil
}

func newTestFirewall(runner Runner) *Firewall {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(runner, "FOCUSD-", logger, metrics.New())
}

func reject(t *testing.T, start, end string) timeline.Rejected {
	t.Helper()
	s, err := timeline.ParseTimeOfDay(start)
	if err != nil {
		t.Fatalf("bad start %q: %v", start, err)
	}
	e, err := timeline.ParseTimeOfDay(end)
	if err != nil {
		t.Fatalf("bad end %q: %v", end, err)
	}
	return timeline.Rejected(timeline.Interval{Start: s, End: e})
}

func TestTeardownRemovesOnlyOwnChains(t *testing.T) {
	runner := &fakeRunner{listOutput: `Chain INPUT (policy ACCEPT)
Chain FORWARD (policy ACCEPT)
Chain OUTPUT (policy ACCEPT)
Chain FOCUSD-0 (1 references)
Chain FOCUSD-1 (1 references)
Chain DOCKER-USER (0 references)
`}
	fw := newTestFirewall(runner)

	if err := fw.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown() error: %v", err)
	}

	joined := strings.Join(runner.calls, "\n")
	for _, want := range []string{
		"--delete OUTPUT --jump FOCUSD-0",
		"--flush FOCUSD-0",
		"--delete-chain FOCUSD-0",
		"--flush FOCUSD-1",
		"--delete-chain FOCUSD-1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing invocation %q in:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "DOCKER-USER") || strings.Contains(joined, "--flush INPUT") {
		t.Errorf("touched chains we do not own:\n%s", joined)
	}
}

func TestApplyInstallsChainsPerWindow(t *testing.T) {
	runner := &fakeRunner{listOutput: "Chain OUTPUT (policy ACCEPT)\n"}
	fw := newTestFirewall(runner)

	snap := snapshot.New(time.Now())
	snap.Users[1000] = snapshot.UserPolicy{
		Username: "kid",
		IPs: map[string][]timeline.Rejected{
			"news.ycombinator.com": {
				reject(t, "0000", "1215"),
				reject(t, "1337", "2400"),
			},
		},
	}

	if err := fw.Apply(context.Background(), snap); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	joined := strings.Join(runner.calls, "\n")
	// Two windows, each as destination and as source: four chains.
	for _, want := range []string{
		"--new-chain FOCUSD-0",
		"--new-chain FOCUSD-1",
		"--new-chain FOCUSD-2",
		"--new-chain FOCUSD-3",
		"--append FOCUSD-0 --match time --kerneltz --timestart 00:00 --timestop 12:15 --match owner --uid-owner 1000 --destination news.ycombinator.com --jump DROP",
		"--append FOCUSD-1 --match time --kerneltz --timestart 00:00 --timestop 12:15 --match owner --uid-owner 1000 --source news.ycombinator.com --jump DROP",
		"--append FOCUSD-2 --match time --kerneltz --timestart 13:37 --match owner --uid-owner 1000 --destination news.ycombinator.com --jump DROP",
		"--append OUTPUT --jump FOCUSD-0",
		"--append OUTPUT --jump FOCUSD-3",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing invocation %q in:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "--new-chain FOCUSD-4") {
		t.Errorf("expected exactly four chains:\n%s", joined)
	}
}

func TestApplyFullDayRejectionSkipsTimeMatch(t *testing.T) {
	runner := &fakeRunner{listOutput: "Chain OUTPUT (policy ACCEPT)\n"}
	fw := newTestFirewall(runner)

	snap := snapshot.New(time.Now())
	snap.Users[1000] = snapshot.UserPolicy{
		Username: "kid",
		IPs: map[string][]timeline.Rejected{
			"gambling.example": {timeline.Rejected(timeline.FullDay)},
		},
	}

	if err := fw.Apply(context.Background(), snap); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	joined := strings.Join(runner.calls, "\n")
	want := "--append FOCUSD-0 --match owner --uid-owner 1000 --destination gambling.example --jump DROP"
	if !strings.Contains(joined, want) {
		t.Errorf("missing invocation %q in:\n%s", want, joined)
	}
	if strings.Contains(joined, "--timestart") {
		t.Errorf("full-day rejection must not carry a time match:\n%s", joined)
	}
}

func TestApplyTearsDownStaleChainsFirst(t *testing.T) {
	runner := &fakeRunner{listOutput: "Chain FOCUSD-0 (1 references)\n"}
	fw := newTestFirewall(runner)

	if err := fw.Apply(context.Background(), snapshot.New(time.Now())); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	joined := strings.Join(runner.calls, "\n")
	if !strings.Contains(joined, "--delete-chain FOCUSD-0") {
		t.Errorf("expected the stale chain to be removed:\n%s", joined)
	}
	if strings.Contains(joined, "--new-chain") {
		t.Errorf("an empty snapshot must install nothing:\n%s", joined)
	}
}
