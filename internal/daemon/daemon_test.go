package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hostfocus/focusd/internal/compiler"
	"github.com/hostfocus/focusd/internal/config"
	"github.com/hostfocus/focusd/internal/firewall"
	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/snapshot"
	"github.com/hostfocus/focusd/internal/timeline"
	"github.com/hostfocus/focusd/internal/users"
)

// recordingRunner counts iptables invocations across goroutines.
type recordingRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for _, a := range args {
		if a == "--list" {
			return []byte("Chain OUTPUT (policy ACCEPT)\n"), nil
		}
	}
	return nil, nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testDaemon(t *testing.T) (*Daemon, *snapshot.Store) {
	t.Helper()
	dir := t.TempDir()
	mainFile := filepath.Join(dir, "policy.yaml")
	extDir := filepath.Join(dir, "policy.d")
	if err := os.Mkdir(extDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	today := timeline.DayOfWeekAt(time.Now())
	yaml := fmt.Sprintf(`users:
  kid:
    %s:
      processes:
        - binary: /usr/bin/game
          permitted:
            - start: 1000
              end: 1800
`, today)
	if err := os.WriteFile(mainFile, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := config.Default()
	cfg.Policy.MainFile = mainFile
	cfg.Policy.ExtensionsDir = extDir
	cfg.Tick.Interval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Tick.WatchFiles = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	comp := compiler.New(
		compiler.Options{MainFile: mainFile, ExtensionsDir: extDir},
		users.StaticResolver{"kid": 1000},
		logger, m,
	)
	store := snapshot.NewStore()
	return New(cfg, comp, store, nil, nil, logger, m), store
}

func TestTickPublishesSnapshot(t *testing.T) {
	d, store := testDaemon(t)

	d.tick(context.Background())
	snap := store.Current()
	if snap == nil {
		t.Fatal("expected a snapshot after the first tick")
	}
	if _, ok := snap.Users[1000]; !ok {
		t.Errorf("expected uid 1000 in the snapshot, got %v", snap.Users)
	}

	// An unchanged second tick must not publish a new revision.
	d.tick(context.Background())
	if got := store.Current(); got.Revision != snap.Revision {
		t.Errorf("revision changed without a source change: %s -> %s", snap.Revision, got.Revision)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d, store := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	// Wait for the initial tick to land, then cancel.
	deadline := time.After(2 * time.Second)
	for store.Current() == nil {
		select {
		case <-deadline:
			t.Fatal("daemon never published a snapshot")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop on context cancellation")
	}
}

func TestRunWatcherCloseTearsDownFirewall(t *testing.T) {
	d, store := testDaemon(t)
	runner := &recordingRunner{}
	d.firewall = firewall.New(runner, "FOCUSD-", d.logger, d.metrics)
	d.cfg.Tick.WatchFiles = true

	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background())
	}()

	deadline := time.After(2 * time.Second)
	for store.Current() == nil {
		select {
		case <-deadline:
			t.Fatal("daemon never published a snapshot")
		case <-time.After(10 * time.Millisecond):
		}
	}
	before := runner.count()

	// A dying watcher must exit through the same teardown path as a
	// cancelled context, not leave the chains installed.
	if err := d.watcher.Close(); err != nil {
		t.Fatalf("close watcher: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop when the watcher closed")
	}
	if runner.count() <= before {
		t.Error("expected a firewall teardown after the watcher closed")
	}
}
