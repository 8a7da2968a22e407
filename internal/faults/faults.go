// Package faults defines the recoverable failure kinds used across focusd.
// The tick loop distinguishes file-level from user-level failures by kind,
// so these are explicit values rather than opaque wrapped strings.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide fatal-vs-skip.
type Kind int

const (
	// KindParse marks malformed YAML or a bad time/day token. Fatal for the
	// file that produced it; the main policy file aborts the tick, an
	// extension file is skipped.
	KindParse Kind = iota

	// KindCycle marks a cycle among day-of-week aliases. Fatal at parse time
	// for that file.
	KindCycle

	// KindFilesystem marks a missing or unreadable file or directory.
	// Logged and skipped.
	KindFilesystem

	// KindResolution marks an unknown OS user name. The user is skipped,
	// other users still compile.
	KindResolution

	// KindInvariant marks a structurally invalid value, such as an interval
	// with start after end. Rejected at the parse boundary.
	KindInvariant
)

// String returns the kind's name for logging.
func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindCycle:
		return "cycle"
	case KindFilesystem:
		return "filesystem"
	case KindResolution:
		return "resolution"
	case KindInvariant:
		return "invariant"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Fault is an error with a classification kind.
type Fault struct {
	Knd Kind
	Msg string
	Err error // optional underlying cause
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Knd, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Knd, f.Msg)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Kind returns the classification of the fault.
func (f *Fault) Kind() Kind {
	return f.Knd
}

// New creates a Fault with the given kind and message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Knd: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault with the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Fault {
	return &Fault{Knd: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. The second return is false
// when no Fault is present in the chain.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Knd, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
