package config

import "time"

// ApplyDefaults fills zero-valued fields with the daemon defaults. It is
// called after YAML parsing and before validation.
func ApplyDefaults(cfg *Config) {
	// ── Policy sources ──
	if cfg.Policy.MainFile == "" {
		cfg.Policy.MainFile = "/etc/focusd/policy.yaml"
	}
	if cfg.Policy.ExtensionsDir == "" {
		cfg.Policy.ExtensionsDir = "/etc/focusd/policy.d"
	}

	// ── Tick ──
	// watch_files defaults to true. A plain bool cannot distinguish
	// "explicitly false" from "not set", so the default is applied only
	// when the whole block is zero-valued; set watch_files: false next to
	// a custom interval to disable watching.
	if cfg.Tick == (TickConfig{}) {
		cfg.Tick.WatchFiles = true
	}
	if cfg.Tick.Interval.Duration == 0 {
		cfg.Tick.Interval.Duration = time.Minute
	}
	if cfg.Tick.Debounce.Duration == 0 {
		cfg.Tick.Debounce.Duration = 2 * time.Second
	}

	// ── Enforcement ──
	// enabled defaults to true, same block-zero rule as tick.watch_files.
	if cfg.Enforcement == (EnforcementConfig{}) {
		cfg.Enforcement.Enabled = true
	}
	if cfg.Enforcement.WarningThreshold.Duration == 0 {
		cfg.Enforcement.WarningThreshold.Duration = 5 * time.Minute
	}

	// ── Firewall ──
	if cfg.Firewall == (FirewallConfig{}) {
		cfg.Firewall.Enabled = true
	}
	if cfg.Firewall.ChainPrefix == "" {
		cfg.Firewall.ChainPrefix = "FOCUSD-"
	}

	// ── Serve ──
	if cfg.Serve.Host == "" {
		cfg.Serve.Host = "127.0.0.1"
	}
	if cfg.Serve.Port == 0 {
		cfg.Serve.Port = 7878
	}
	if cfg.Serve.LongPollTimeout.Duration == 0 {
		cfg.Serve.LongPollTimeout.Duration = time.Hour
	}
	if cfg.Serve.RatePerPeer == 0 {
		cfg.Serve.RatePerPeer = 5
	}
	if cfg.Serve.RateBurst == 0 {
		cfg.Serve.RateBurst = 10
	}

	// ── Logging ──
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
