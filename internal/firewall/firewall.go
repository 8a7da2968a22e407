// Package firewall renders a snapshot's rejected IP windows into
// iptables chains. Every regeneration tears down all chains carrying
// the configured prefix and rebuilds them from scratch, so the rules on
// the box always mirror exactly one snapshot.
package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/hostfocus/focusd/internal/metrics"
	"github.com/hostfocus/focusd/internal/snapshot"
	"github.com/hostfocus/focusd/internal/timeline"
)

// Runner executes one iptables invocation. Tests substitute a recorder.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner shells out to the real iptables binary.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "iptables", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("iptables %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("iptables %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// Firewall owns every chain whose name starts with its prefix.
type Firewall struct {
	runner  Runner
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Firewall. A nil runner gets the real ExecRunner.
func New(runner Runner, prefix string, logger *slog.Logger, m *metrics.Metrics) *Firewall {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Firewall{runner: runner, prefix: prefix, logger: logger, metrics: m}
}

var chainLine = regexp.MustCompile(`(?m)^Chain ([A-Za-z0-9-]+) `)

// listChains returns the installed chains carrying our prefix.
func (f *Firewall) listChains(ctx context.Context) ([]string, error) {
	out, err := f.runner.Run(ctx, "--table", "filter", "--list")
	if err != nil {
		return nil, err
	}
	var chains []string
	for _, match := range chainLine.FindAllStringSubmatch(string(out), -1) {
		if strings.HasPrefix(match[1], f.prefix) {
			chains = append(chains, match[1])
		}
	}
	return chains, nil
}

// Teardown removes every chain we own: unlink it from OUTPUT, flush it,
// delete it. Run on shutdown and before every Apply.
func (f *Firewall) Teardown(ctx context.Context) error {
	chains, err := f.listChains(ctx)
	if err != nil {
		return err
	}
	for _, chain := range chains {
		// The unlink fails harmlessly when the jump was already gone.
		if _, err := f.runner.Run(ctx, "--table", "filter", "--delete", "OUTPUT", "--jump", chain); err != nil {
			f.logger.Debug("no jump to unlink", "chain", chain, "error", err)
		}
		if _, err := f.runner.Run(ctx, "--table", "filter", "--flush", chain); err != nil {
			return err
		}
		if _, err := f.runner.Run(ctx, "--table", "filter", "--delete-chain", chain); err != nil {
			return err
		}
	}
	f.metrics.SetFirewallChains(0)
	return nil
}

// Apply rebuilds the chains from the snapshot. Each rejected window of
// each watched domain yields two chains, one matching the domain as
// destination and one as source, each holding a single DROP rule gated
// on the window and the owning uid. Chains are numbered FOCUSD-0,
// FOCUSD-1, ... in a deterministic order.
func (f *Firewall) Apply(ctx context.Context, snap *snapshot.Snapshot) error {
	if err := f.Teardown(ctx); err != nil {
		return err
	}

	uids := make([]uint32, 0, len(snap.Users))
	for uid := range snap.Users {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	index := 0
	for _, uid := range uids {
		user := snap.Users[uid]
		domains := make([]string, 0, len(user.IPs))
		for domain := range user.IPs {
			domains = append(domains, domain)
		}
		sort.Strings(domains)

		for _, domain := range domains {
			for _, rejected := range user.IPs[domain] {
				for _, direction := range []string{"--destination", "--source"} {
					if err := f.installChain(ctx, index, uid, domain, direction, timeline.Interval(rejected)); err != nil {
						return err
					}
					index++
				}
			}
		}
	}
	f.metrics.SetFirewallChains(index)
	f.logger.Info("firewall applied", "chains", index, "revision", snap.Revision)
	return nil
}

// installChain creates one numbered chain with its DROP rule and links
// it from OUTPUT.
func (f *Firewall) installChain(ctx context.Context, index int, uid uint32, domain, direction string, window timeline.Interval) error {
	name := fmt.Sprintf("%s%d", f.prefix, index)
	if _, err := f.runner.Run(ctx, "--table", "filter", "--new-chain", name); err != nil {
		return err
	}

	rule := []string{"--table", "filter", "--append", name}
	// A full-day rejection needs no time gate. The time match reads the
	// kernel timezone so the windows line up with local wall clock.
	if window != timeline.FullDay {
		rule = append(rule, "--match", "time", "--kerneltz", "--timestart", window.Start.String())
		if window.End != timeline.DayEnd {
			rule = append(rule, "--timestop", window.End.String())
		}
	}
	rule = append(rule,
		"--match", "owner", "--uid-owner", fmt.Sprintf("%d", uid),
		direction, domain,
		"--jump", "DROP",
	)
	if _, err := f.runner.Run(ctx, rule...); err != nil {
		return err
	}

	_, err := f.runner.Run(ctx, "--table", "filter", "--append", "OUTPUT", "--jump", name)
	return err
}
