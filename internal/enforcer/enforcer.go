// Package enforcer sweeps the process table against the current
// snapshot: processes running outside their permitted windows are
// killed along with their children, and processes nearing the end of a
// window get their user warned.
package enforcer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/notify"
	"github.com/hostfocus/focusd/internal/procfs"
	"github.com/hostfocus/focusd/internal/snapshot"
	"github.com/hostfocus/focusd/internal/timeline"
)

// Scanner lists running processes. *procfs.Table implements it; tests
// substitute a fixed list.
type Scanner interface {
	Processes() ([]procfs.Process, error)
}

// Notifier sends a message to a user's desktop sessions.
type Notifier interface {
	Send(ctx context.Context, username string, uid uint32, message string, urgency notify.Urgency) error
}

// Enforcer applies a snapshot's process windows to the live process
// table.
type Enforcer struct {
	scanner  Scanner
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// warningThreshold is how close to a window's end the quit-soon
	// warning fires.
	warningThreshold time.Duration

	// kill delivers SIGKILL; replaced in tests.
	kill func(pid int) error

	// now pins the clock in tests.
	now func() time.Time
}

// New creates an Enforcer.
func New(scanner Scanner, notifier Notifier, warningThreshold time.Duration, logger *slog.Logger, m *metrics.Metrics) *Enforcer {
	return &Enforcer{
		scanner:          scanner,
		notifier:         notifier,
		logger:           logger,
		metrics:          m,
		warningThreshold: warningThreshold,
		kill: func(pid int) error {
			return unix.Kill(pid, unix.SIGKILL)
		},
		now: time.Now,
	}
}

// Sweep examines every process owned by a user the snapshot watches.
// A process matching a binary pattern is either inside a permitted
// window (warn when the window is about to close), or outside all of
// them (notify, then kill the process and its descendants). Scan
// failures abort the sweep; per-process failures don't.
func (e *Enforcer) Sweep(ctx context.Context, snap *snapshot.Snapshot) error {
	procs, err := e.scanner.Processes()
	if err != nil {
		return err
	}
	now := timeline.TimeOfDayAt(e.now())

	killed := make(map[int]bool)
	for _, proc := range procs {
		if killed[proc.PID] || proc.Exe == "" {
			continue
		}
		user, ok := snap.Users[proc.UID]
		if !ok {
			continue
		}
		for _, pw := range user.Processes {
			if !pw.Binary.Match(proc.Exe) {
				continue
			}
			remaining, allowed := remainingNow(pw.Allowed, now)
			if !allowed {
				e.terminate(ctx, proc, procs, user, killed)
				break
			}
			if remaining < e.warningThreshold {
				minutes := int(remaining.Minutes())
				message := fmt.Sprintf("%s will quit in %d minutes", proc.Exe, minutes)
				if err := e.notifier.Send(ctx, user.Username, proc.UID, message, notify.Normal); err != nil {
					e.logger.Warn("cannot warn user", "user", user.Username, "error", err)
				}
				e.metrics.WarningEmitted()
			}
			break
		}
	}
	return nil
}

// remainingNow returns how long the window containing now still lasts.
// The windows are disjoint, so at most one contains now.
func remainingNow(windows []timeline.Accepted, now timeline.TimeOfDay) (time.Duration, bool) {
	for _, w := range windows {
		if d, ok := timeline.Interval(w).Remaining(now); ok {
			return d, true
		}
	}
	return 0, false
}

// terminate notifies the user and kills the process tree rooted at the
// offender, children first so a parent cannot respawn what we already
// reaped.
func (e *Enforcer) terminate(ctx context.Context, proc procfs.Process, all []procfs.Process, user snapshot.UserPolicy, killed map[int]bool) {
	message := fmt.Sprintf("%s is not permitted at this time, stopping it", proc.Exe)
	if err := e.notifier.Send(ctx, user.Username, proc.UID, message, notify.Critical); err != nil {
		e.logger.Warn("cannot notify user before kill", "user", user.Username, "error", err)
	}

	for _, pid := range processTree(proc.PID, all) {
		if killed[pid] {
			continue
		}
		if err := e.kill(pid); err != nil {
			e.logger.Warn("cannot kill process", "pid", pid, "error", err)
			continue
		}
		killed[pid] = true
	}
	e.logger.Info("killed process tree", "root", proc.PID, "exe", proc.Exe, "user", user.Username)
	e.metrics.ProcessKilled()
}

// processTree returns the pids of root and all its descendants, deepest
// first.
func processTree(root int, all []procfs.Process) []int {
	children := make(map[int][]int, len(all))
	for _, p := range all {
		children[p.PPID] = append(children[p.PPID], p.PID)
	}
	for _, c := range children {
		sort.Ints(c)
	}

	var pids []int
	var walk func(pid int)
	walk = func(pid int) {
		for _, child := range children[pid] {
			walk(child)
		}
		pids = append(pids, pid)
	}
	walk(root)
	return pids
}
