// Package users resolves OS account names to numeric user ids, memoizing
// lookups since the same names recur on every compile.
package users

import (
	"os/user"
	"strconv"
	"sync"

	"github.com/hostfocus/focusd/internal/faults"
)

// Resolver maps a username to its numeric uid. Implementations return a
// faults.KindResolution error for unknown accounts.
type Resolver interface {
	Resolve(username string) (uint32, error)
}

// OSResolver resolves against the local account database via os/user,
// caching successful lookups. Safe for concurrent use.
type OSResolver struct {
	mu    sync.Mutex
	cache map[string]uint32
}

// NewOSResolver creates an empty OSResolver.
func NewOSResolver() *OSResolver {
	return &OSResolver{cache: make(map[string]uint32)}
}

// Resolve returns the uid for the given username.
func (r *OSResolver) Resolve(username string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uid, ok := r.cache[username]; ok {
		return uid, nil
	}
	account, err := user.Lookup(username)
	if err != nil {
		return 0, faults.Wrap(faults.KindResolution, err, "unknown user %q", username)
	}
	uid64, err := strconv.ParseUint(account.Uid, 10, 32)
	if err != nil {
		return 0, faults.Wrap(faults.KindResolution, err, "non-numeric uid %q for user %q", account.Uid, username)
	}
	uid := uint32(uid64)
	r.cache[username] = uid
	return uid, nil
}

// StaticResolver resolves from a fixed table. Unknown names fail with a
// resolution fault; it exists for tests and for the validate subcommand,
// which must not require the real account database.
type StaticResolver map[string]uint32

// Resolve returns the uid from the table.
func (r StaticResolver) Resolve(username string) (uint32, error) {
	uid, ok := r[username]
	if !ok {
		return 0, faults.New(faults.KindResolution, "unknown user %q", username)
	}
	return uid, nil
}
