package checkout

import "sync"

// sessionLocks provides a per-session-id exclusive critical section so
// mutations on different sessions run fully in parallel while mutations
// on one session serialize. Entries are reference-counted and removed
// when the last holder releases, so the map stays bounded by the number
// of sessions with in-flight mutations.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the caller holds the exclusive lock for id and
// returns the release function.
func (l *sessionLocks) acquire(id string) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
