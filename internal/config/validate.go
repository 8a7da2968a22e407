package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for errors. It collects ALL errors
// rather than stopping at the first one, returning them as a joined
// message.
func Validate(cfg *Config) error {
	var errs []string

	// ── Policy sources ──
	if cfg.Policy.MainFile == "" {
		errs = append(errs, "policy.main_file must not be empty")
	}
	if cfg.Policy.ExtensionsDir == "" {
		errs = append(errs, "policy.extensions_dir must not be empty")
	}

	// ── Tick ──
	if cfg.Tick.Interval.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("tick.interval must be positive (got %s)", cfg.Tick.Interval.Duration))
	}
	if cfg.Tick.Debounce.Duration < 0 {
		errs = append(errs, fmt.Sprintf("tick.debounce must not be negative (got %s)", cfg.Tick.Debounce.Duration))
	}

	// ── Enforcement ──
	if cfg.Enforcement.WarningThreshold.Duration < 0 {
		errs = append(errs, fmt.Sprintf("enforcement.warning_threshold must not be negative (got %s)", cfg.Enforcement.WarningThreshold.Duration))
	}

	// ── Firewall ──
	if cfg.Firewall.Enabled && cfg.Firewall.ChainPrefix == "" {
		errs = append(errs, "firewall.chain_prefix must not be empty when the firewall is enabled")
	}

	// ── Serve ──
	if cfg.Serve.Port < 1 || cfg.Serve.Port > 65535 {
		errs = append(errs, fmt.Sprintf("serve.port must be 1-65535 (got %d)", cfg.Serve.Port))
	}
	if cfg.Serve.LongPollTimeout.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("serve.long_poll_timeout must be positive (got %s)", cfg.Serve.LongPollTimeout.Duration))
	}
	if cfg.Serve.RatePerPeer <= 0 {
		errs = append(errs, fmt.Sprintf("serve.rate_per_peer must be positive (got %g)", cfg.Serve.RatePerPeer))
	}
	if cfg.Serve.RateBurst < 1 {
		errs = append(errs, fmt.Sprintf("serve.rate_burst must be at least 1 (got %d)", cfg.Serve.RateBurst))
	}

	// ── Logging ──
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be json or text (got %q)", cfg.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
