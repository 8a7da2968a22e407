//go:build !linux

package compiler

import "time"

// birthTime is unavailable off Linux; callers fall back to the mtime.
func birthTime(string) (time.Time, bool) {
	return time.Time{}, false
}
