package snapshot

import "sync"

// Store publishes snapshots to concurrent readers. The compiler is the
// only writer; readers never observe a partially built snapshot because
// publication swaps a pointer to an immutable value.
//
// Change notification is a separate primitive from the data lock: each
// publish closes the previous watch channel exactly once, so every waiter
// wakes without re-polling.
type Store struct {
	mu      sync.RWMutex
	current *Snapshot
	changed chan struct{}
}

// NewStore creates a Store with no snapshot yet.
func NewStore() *Store {
	return &Store{changed: make(chan struct{})}
}

// Current returns the latest published snapshot, or nil before the first
// publish.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Changed returns a channel that is closed on the next publish. Callers
// must re-fetch the channel after it fires; a fired channel never fires
// again.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Watch returns the current snapshot together with the channel that
// fires on the next publish. The pair is read under one lock, so a
// publish can never slip between the two: either the snapshot already
// reflects it, or the channel will fire for it.
func (s *Store) Watch() (*Snapshot, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.changed
}

// Publish atomically replaces the current snapshot and wakes all waiters.
func (s *Store) Publish(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
	close(s.changed)
	s.changed = make(chan struct{})
}
