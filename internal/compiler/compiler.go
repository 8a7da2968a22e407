// Package compiler maintains the cache of on-disk policy sources and
// compiles them into per-day snapshots.
//
// The cache is keyed by absolute file path. The main policy file is
// permanent; extension files only live for the calendar day they were
// last written on, after which they are dropped from the cache and
// deleted from disk.
package compiler

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hostfocus/focusd/internal/faults"
	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/policy"
	"github.com/hostfocus/focusd/internal/snapshot"
	"github.com/hostfocus/focusd/internal/timeline"
	"github.com/hostfocus/focusd/internal/users"
)

// entry is one cached policy source, reduced to the rules that apply
// today.
type entry struct {
	// latestUpdate is the file's mtime at the last successful parse.
	// Zero until the source has been parsed once.
	latestUpdate time.Time

	// creationDate orders sources for the compile fold. Taken from the
	// filesystem's birth time where available, otherwise the mtime at
	// first sight.
	creationDate time.Time

	// extractedOn is the calendar day users was reduced for. An entry
	// extracted on a previous day must be re-parsed even when the file
	// itself is untouched, because the weekday selection changed.
	extractedOn time.Time

	// users holds today's rules per username.
	users map[string]policy.DayPolicy
}

// Options configures a Compiler.
type Options struct {
	// MainFile is the weekly policy file. A tick fails outright if it
	// cannot be read and parsed.
	MainFile string

	// ExtensionsDir holds single-day extension fragments. Unreadable or
	// malformed fragments are skipped with a warning, not fatal.
	ExtensionsDir string
}

// Compiler refreshes policy sources and compiles snapshots. Not safe for
// concurrent use; the daemon drives it from a single tick loop.
type Compiler struct {
	opts     Options
	resolver users.Resolver
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// now is replaced in tests to pin the calendar day.
	now func() time.Time

	cache        map[string]*entry
	lastCompiled time.Time
}

// New creates a Compiler with an empty cache.
func New(opts Options, resolver users.Resolver, logger *slog.Logger, m *metrics.Metrics) *Compiler {
	return &Compiler{
		opts:     opts,
		resolver: resolver,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		cache:    make(map[string]*entry),
	}
}

// Invalidate forces the next LoadTick to recompile even when no source
// changed. Used for SIGHUP.
func (c *Compiler) Invalidate() {
	c.lastCompiled = time.Time{}
}

// parseFunc reduces one source to today's rules per username.
type parseFunc func(r io.Reader) (map[string]policy.DayPolicy, error)

// LoadTick runs one refresh cycle: re-stat the main file, scan the
// extensions directory, drop dead cache entries, and recompile when
// anything changed or the calendar day rolled over since the last
// compile. Returns the new snapshot when one was built, or nil when the
// previous snapshot is still current.
//
// A main file failure aborts the tick so the previous snapshot stays in
// effect. Extension failures only skip the offending file.
func (c *Compiler) LoadTick() (*snapshot.Snapshot, error) {
	now := c.now()
	today := timeline.DayOfWeekAt(now)
	changed := false

	mainChanged, err := c.refresh(c.opts.MainFile, false, func(r io.Reader) (map[string]policy.DayPolicy, error) {
		f, err := policy.Parse(r)
		if err != nil {
			return nil, err
		}
		rules := make(map[string]policy.DayPolicy)
		for name, week := range f.Users {
			if day, ok := week[today]; ok {
				rules[name] = day
			}
		}
		return rules, nil
	})
	if err != nil {
		c.recordFailure(err)
		return nil, err
	}
	changed = changed || mainChanged

	seen := map[string]bool{c.opts.MainFile: true}
	dirEntries, err := os.ReadDir(c.opts.ExtensionsDir)
	if err != nil {
		c.logger.Warn("cannot scan extensions directory",
			"dir", c.opts.ExtensionsDir, "error", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(c.opts.ExtensionsDir, de.Name())
		seen[path] = true
		extChanged, err := c.refresh(path, true, func(r io.Reader) (map[string]policy.DayPolicy, error) {
			ext, err := policy.ParseExtension(r)
			if err != nil {
				return nil, err
			}
			return ext.Users, nil
		})
		if err != nil {
			c.recordFailure(err)
			c.logger.Warn("skipping extension", "path", path, "error", err)
			continue
		}
		changed = changed || extChanged
	}

	// Entries whose file vanished, or whose content is no longer from
	// today, must not contribute to the next snapshot.
	for path, e := range c.cache {
		if !seen[path] || (path != c.opts.MainFile && !sameDay(e.latestUpdate, now)) {
			delete(c.cache, path)
			changed = true
		}
	}
	c.metrics.SetCacheEntries(len(c.cache))

	if !changed && sameDay(c.lastCompiled, now) {
		return nil, nil
	}
	snap := c.compile(now)
	c.lastCompiled = now
	return snap, nil
}

// refresh brings one source's cache entry up to date. It reports whether
// the entry changed. An unchanged file is still re-parsed after a day
// rollover so the weekday selection tracks the calendar. With todayOnly
// set, a source whose mtime is not from today is evicted from the cache
// and deleted from disk.
func (c *Compiler) refresh(path string, todayOnly bool, parse parseFunc) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, faults.Wrap(faults.KindFilesystem, err, "cannot stat policy source %s", path)
	}
	latest := info.ModTime()

	if todayOnly && !sameDay(latest, c.now()) {
		_, cached := c.cache[path]
		delete(c.cache, path)
		if err := os.Remove(path); err != nil {
			c.logger.Warn("cannot delete expired extension", "path", path, "error", err)
		} else {
			c.logger.Info("deleted expired extension", "path", path)
		}
		return cached, nil
	}

	e, ok := c.cache[path]
	if !ok {
		created, haveBirth := birthTime(path)
		if !haveBirth {
			created = latest
		}
		e = &entry{creationDate: created}
		c.cache[path] = e
	}
	if !latest.After(e.latestUpdate) && sameDay(e.extractedOn, c.now()) {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, faults.Wrap(faults.KindFilesystem, err, "cannot open policy source %s", path)
	}
	defer f.Close()

	parsed, err := parse(f)
	if err != nil {
		return false, err
	}
	e.users = parsed
	e.latestUpdate = latest
	e.extractedOn = c.now()
	return true, nil
}

// compile folds all cached sources, ordered by creation date, into a
// snapshot. Users whose name does not resolve to a uid are skipped with
// a warning so a typo in one username cannot block everyone else's
// policy.
func (c *Compiler) compile(now time.Time) *snapshot.Snapshot {
	type contribution struct {
		processes map[policy.Binary][]timeline.Diff
		ips       map[string][]timeline.Diff
		web       map[string][]timeline.Diff
	}

	paths := make([]string, 0, len(c.cache))
	for path := range c.cache {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		a, b := c.cache[paths[i]], c.cache[paths[j]]
		if !a.creationDate.Equal(b.creationDate) {
			return a.creationDate.Before(b.creationDate)
		}
		return paths[i] < paths[j]
	})

	perUser := make(map[string]*contribution)
	for _, path := range paths {
		for name, day := range c.cache[path].users {
			u, ok := perUser[name]
			if !ok {
				u = &contribution{
					processes: make(map[policy.Binary][]timeline.Diff),
					ips:       make(map[string][]timeline.Diff),
					web:       make(map[string][]timeline.Diff),
				}
				perUser[name] = u
			}
			for _, rule := range day.Processes {
				u.processes[rule.Binary] = append(u.processes[rule.Binary], ruleDiff(rule.Permitted, rule.Forbidden))
			}
			for _, rule := range day.IP {
				u.ips[rule.Domain] = append(u.ips[rule.Domain], ruleDiff(rule.Permitted, rule.Forbidden))
			}
			for _, rule := range day.Web {
				u.web[rule.Domain] = append(u.web[rule.Domain], ruleDiff(rule.Permitted, rule.Forbidden))
			}
		}
	}

	snap := snapshot.New(now)
	for name, u := range perUser {
		uid, err := c.resolver.Resolve(name)
		if err != nil {
			c.metrics.UserSkipped()
			c.logger.Warn("skipping user, name does not resolve", "user", name, "error", err)
			continue
		}
		up := snapshot.UserPolicy{
			Username: name,
			IPs:      make(map[string][]timeline.Rejected, len(u.ips)),
			Web:      make(map[string][]timeline.Accepted, len(u.web)),
		}
		for binary, diffs := range u.processes {
			up.Processes = append(up.Processes, snapshot.ProcessWindows{
				Binary:  binary,
				Allowed: timeline.ComputeAccepted(diffs),
			})
		}
		sort.Slice(up.Processes, func(i, j int) bool {
			return up.Processes[i].Binary.String() < up.Processes[j].Binary.String()
		})
		for domain, diffs := range u.ips {
			up.IPs[domain] = timeline.ComputeRejected(diffs)
		}
		for domain, diffs := range u.web {
			up.Web[domain] = timeline.ComputeAccepted(diffs)
		}
		snap.Users[uid] = up
	}
	c.metrics.SnapshotBuilt(len(snap.Users))
	return snap
}

func (c *Compiler) recordFailure(err error) {
	if kind, ok := faults.KindOf(err); ok {
		c.metrics.SourceFailure(kind.String())
	} else {
		c.metrics.SourceFailure("unknown")
	}
}

func ruleDiff(permitted, forbidden []timeline.Interval) timeline.Diff {
	var d timeline.Diff
	for _, iv := range permitted {
		d.Accepted = append(d.Accepted, timeline.Accepted(iv))
	}
	for _, iv := range forbidden {
		d.Rejected = append(d.Rejected, timeline.Rejected(iv))
	}
	return d
}

// sameDay reports whether two instants fall on the same local calendar
// day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
