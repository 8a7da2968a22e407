// Package daemon runs the tick loop tying everything together: refresh
// the policy sources, publish new snapshots, regenerate the firewall,
// and sweep the process table.
package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hostfocus/focusd/internal/compiler"
	"github.com/hostfocus/focusd/internal/config"
	"github.com/hostfocus/focusd/internal/enforcer"
	"github.com/hostfocus/focusd/internal/firewall"
	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/snapshot"
)

// Daemon owns the periodic tick. The HTTP server runs beside it,
// reading from the shared snapshot store.
type Daemon struct {
	cfg      *config.Config
	compiler *compiler.Compiler
	store    *snapshot.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// firewall and enforcer are nil when disabled in the config.
	firewall *firewall.Firewall
	enforcer *enforcer.Enforcer

	watcher *fsnotify.Watcher
}

// New assembles a Daemon. Pass nil for firewall or enforcer to disable
// that backend.
func New(cfg *config.Config, comp *compiler.Compiler, store *snapshot.Store, fw *firewall.Firewall, enf *enforcer.Enforcer, logger *slog.Logger, m *metrics.Metrics) *Daemon {
	return &Daemon{
		cfg:      cfg,
		compiler: comp,
		store:    store,
		firewall: fw,
		enforcer: enf,
		logger:   logger,
		metrics:  m,
	}
}

// Run ticks until the context is cancelled. Between the periodic ticks,
// a write to any policy source triggers a debounced immediate tick, and
// SIGHUP forces a full recompile. On shutdown the firewall chains are
// torn down so no stale rules outlive the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if d.cfg.Tick.WatchFiles {
		if err := d.startWatcher(); err != nil {
			// Degraded but functional: the periodic tick still runs.
			d.logger.Warn("file watching disabled", "error", err)
		} else {
			defer d.watcher.Close()
		}
	}

	ticker := time.NewTicker(d.cfg.Tick.Interval.Duration)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return d.shutdown()

		case <-ticker.C:
			d.tick(ctx)

		case sig := <-sigCh:
			d.logger.Info("received signal, forcing recompile", "signal", sig)
			d.compiler.Invalidate()
			d.tick(ctx)

		case event, ok := <-d.watcherEvents():
			if !ok {
				d.logger.Warn("file watcher closed, shutting down")
				return d.shutdown()
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(d.cfg.Tick.Debounce.Duration)
				debounceCh = debounceTimer.C
			}

		case err, ok := <-d.watcherErrors():
			if !ok {
				d.logger.Warn("file watcher closed, shutting down")
				return d.shutdown()
			}
			d.logger.Error("file watcher error", "error", err)

		case <-debounceCh:
			debounceCh = nil
			debounceTimer = nil
			// The main file may have been replaced; re-add the watch.
			if d.watcher != nil {
				_ = d.watcher.Add(d.cfg.Policy.MainFile)
			}
			d.logger.Info("policy sources changed on disk")
			d.tick(ctx)
		}
	}
}

// tick runs one refresh-and-compile cycle and fans the result out to
// the store, the firewall, and the enforcement sweep.
func (d *Daemon) tick(ctx context.Context) {
	start := time.Now()
	snap, err := d.compiler.LoadTick()
	switch {
	case err != nil:
		d.metrics.Tick("error", time.Since(start).Seconds())
		d.logger.Error("tick failed, keeping previous snapshot", "error", err)
	case snap == nil:
		d.metrics.Tick("unchanged", time.Since(start).Seconds())
	default:
		d.store.Publish(snap)
		d.logger.Info("snapshot published", "revision", snap.Revision, "users", len(snap.Users))
		if d.firewall != nil {
			if err := d.firewall.Apply(ctx, snap); err != nil {
				d.logger.Error("firewall regeneration failed", "error", err)
			}
		}
		d.metrics.Tick("changed", time.Since(start).Seconds())
	}

	if d.enforcer != nil {
		if current := d.store.Current(); current != nil {
			if err := d.enforcer.Sweep(ctx, current); err != nil {
				d.logger.Error("enforcement sweep failed", "error", err)
			}
		}
	}
}

// shutdown removes our firewall chains so nothing stays blocked after
// the daemon exits.
func (d *Daemon) shutdown() error {
	if d.firewall == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.firewall.Teardown(ctx); err != nil {
		d.logger.Error("firewall teardown failed", "error", err)
		return err
	}
	return nil
}

func (d *Daemon) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(d.cfg.Policy.MainFile); err != nil {
		d.logger.Warn("cannot watch main policy file", "path", d.cfg.Policy.MainFile, "error", err)
	}
	if err := watcher.Add(d.cfg.Policy.ExtensionsDir); err != nil {
		d.logger.Warn("cannot watch extensions directory", "dir", d.cfg.Policy.ExtensionsDir, "error", err)
	}
	d.watcher = watcher
	d.logger.Info("watching policy sources",
		"main", d.cfg.Policy.MainFile,
		"extensions", d.cfg.Policy.ExtensionsDir,
		"debounce", d.cfg.Tick.Debounce.Duration)
	return nil
}

func (d *Daemon) watcherEvents() <-chan fsnotify.Event {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Events
}

func (d *Daemon) watcherErrors() <-chan error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Errors
}
