// Package config handles YAML configuration parsing, defaults, and
// validation for the focusd daemon. This is the daemon's own settings file,
// not the policy sources — those live in internal/policy.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for focusd.
type Config struct {
	Policy      PolicyConfig      `yaml:"policy"`
	Tick        TickConfig        `yaml:"tick"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Firewall    FirewallConfig    `yaml:"firewall"`
	Serve       ServeConfig       `yaml:"serve"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PolicyConfig locates the policy sources on disk.
type PolicyConfig struct {
	// MainFile is the weekly policy document.
	MainFile string `yaml:"main_file"`

	// ExtensionsDir holds ad-hoc single-day extension files. Files whose
	// modification date is no longer today are deleted on the next tick.
	ExtensionsDir string `yaml:"extensions_dir"`
}

// TickConfig controls the refresh-and-compile cycle.
type TickConfig struct {
	Interval   Duration `yaml:"interval"`    // period between ticks
	Debounce   Duration `yaml:"debounce"`    // quiet time after a file event before an immediate tick
	WatchFiles bool     `yaml:"watch_files"` // watch policy sources with fsnotify
}

// EnforcementConfig controls the process-killing loop.
type EnforcementConfig struct {
	Enabled          bool     `yaml:"enabled"`
	WarningThreshold Duration `yaml:"warning_threshold"` // warn when this close to a window's end
}

// FirewallConfig controls the iptables backend.
type FirewallConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ChainPrefix string `yaml:"chain_prefix"`
}

// ServeConfig controls the localhost policy endpoint consumed by the
// browser extension.
type ServeConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	LongPollTimeout Duration `yaml:"long_poll_timeout"`
	RatePerPeer     float64  `yaml:"rate_per_peer"` // requests per second per peer
	RateBurst       int      `yaml:"rate_burst"`
}

// LoggingConfig defines log output level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Duration is a time.Duration that supports YAML string parsing (e.g.,
// "60s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Load reads, parses, applies defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}
