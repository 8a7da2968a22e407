// Package policy parses the on-disk YAML policy sources: the main weekly
// policy file and the single-day extension files dropped next to it.
package policy

import (
	"bytes"
	"errors"
	"io"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/hostfocus/focusd/internal/faults"
	"github.com/hostfocus/focusd/internal/timeline"
)

// Binary is a glob over absolute executable paths, e.g. "/usr/bin/chromium"
// or "/**/snap/game/**".
type Binary struct {
	Pattern string
}

// NewBinary validates the glob pattern.
func NewBinary(pattern string) (Binary, error) {
	if !doublestar.ValidatePattern(pattern) {
		return Binary{}, faults.New(faults.KindParse, "invalid glob %q", pattern)
	}
	return Binary{Pattern: pattern}, nil
}

// Match reports whether the executable path matches the glob.
func (b Binary) Match(path string) bool {
	ok, err := doublestar.Match(b.Pattern, path)
	return err == nil && ok
}

// String returns the glob pattern.
func (b Binary) String() string {
	return b.Pattern
}

// UnmarshalYAML decodes and validates the glob string.
func (b *Binary) UnmarshalYAML(value *yaml.Node) error {
	var pattern string
	if err := value.Decode(&pattern); err != nil {
		return err
	}
	parsed, err := NewBinary(pattern)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalYAML emits the glob pattern.
func (b Binary) MarshalYAML() (interface{}, error) {
	return b.Pattern, nil
}

// ProcessRule windows one binary pattern: the process may only run during
// the permitted windows, minus the forbidden ones.
type ProcessRule struct {
	Binary    Binary              `yaml:"binary"`
	Permitted []timeline.Interval `yaml:"permitted"`
	Forbidden []timeline.Interval `yaml:"forbidden"`
}

// DomainRule windows one domain name, for the ip and web rule kinds.
type DomainRule struct {
	Domain    string              `yaml:"domain"`
	Permitted []timeline.Interval `yaml:"permitted"`
	Forbidden []timeline.Interval `yaml:"forbidden"`
}

// DayPolicy holds one user's concrete rules for a single day.
type DayPolicy struct {
	// Processes limits when the matched binaries may run.
	Processes []ProcessRule `yaml:"processes"`

	// IP limits when the domains may be reached at the packet level.
	// This doesn't help with e.g. youtube.com, which load-balances
	// across millions of addresses; use Web for those.
	IP []DomainRule `yaml:"ip"`

	// Web limits when the domains may be loaded in the browser. Requires
	// the companion browser extension.
	Web []DomainRule `yaml:"web"`
}

// File is the main policy file: per user, a full week of day entries.
type File struct {
	Users map[string]Week `yaml:"users"`
}

// Extension is an ad-hoc single-day policy fragment: per user, one
// DayPolicy implicitly valid for the day the file was written.
type Extension struct {
	Users map[string]DayPolicy `yaml:"users"`
}

// Parse reads and resolves the main policy file. Errors carry
// faults.KindParse, or faults.KindCycle for unresolvable day aliases.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, asParseFault(err)
	}
	return &f, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte) (*File, error) {
	return Parse(bytes.NewReader(data))
}

// ParseExtension reads a single-day extension file.
func ParseExtension(r io.Reader) (*Extension, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var e Extension
	if err := dec.Decode(&e); err != nil {
		return nil, asParseFault(err)
	}
	return &e, nil
}

// ParseExtensionBytes is ParseExtension over an in-memory document.
func ParseExtensionBytes(data []byte) (*Extension, error) {
	return ParseExtension(bytes.NewReader(data))
}

// asParseFault tags a yaml error as a parse fault, keeping an existing
// fault kind (such as a cycle) when one is already in the chain.
func asParseFault(err error) error {
	var f *faults.Fault
	if errors.As(err, &f) {
		return err
	}
	return faults.Wrap(faults.KindParse, err, "invalid policy document")
}
