// Package snapshot holds the compiled policy for the current day and the
// store that publishes it to concurrent readers.
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hostfocus/focusd/internal/policy"
	"github.com/hostfocus/focusd/internal/timeline"
)

// ProcessWindows pairs a binary glob with the windows in which matching
// processes may run.
type ProcessWindows struct {
	Binary  policy.Binary
	Allowed []timeline.Accepted
}

// UserPolicy is one user's fully resolved policy for today.
type UserPolicy struct {
	// Username is kept for logging and notifications; enforcement keys on
	// the uid.
	Username string

	// Processes lists binary patterns with their permitted windows.
	// Anything outside the windows is killed.
	Processes []ProcessWindows

	// IPs maps domains to the windows in which they are blocked at the
	// packet level.
	IPs map[string][]timeline.Rejected

	// Web maps domains to the windows in which the browser may load them.
	Web map[string][]timeline.Accepted
}

// Snapshot is the compiled policy for the current calendar day. It is
// immutable once built: a new snapshot replaces the old one wholesale.
type Snapshot struct {
	// Revision identifies this build; the browser extension compares
	// revisions to detect change.
	Revision string

	// BuiltAt is when the snapshot was compiled.
	BuiltAt time.Time

	// Users maps resolved uids to their policy.
	Users map[uint32]UserPolicy
}

// New creates an empty snapshot with a fresh revision.
func New(builtAt time.Time) *Snapshot {
	return &Snapshot{
		Revision: uuid.NewString(),
		BuiltAt:  builtAt,
		Users:    make(map[uint32]UserPolicy),
	}
}

// WebJSON serializes the given user's web windows as the JSON document the
// browser extension consumes: a map from domain to permitted windows. An
// unknown uid yields an empty object.
func (s *Snapshot) WebJSON(uid uint32) ([]byte, error) {
	up, ok := s.Users[uid]
	if !ok || len(up.Web) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(up.Web)
}
