package registry

import "sync"

// Locks hands out one mutex per key.
// Entries are reference counted and dropped once no goroutine holds or waits
// for them, so the table does not grow with the number of keys ever seen.
type Locks[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks[K comparable]() *Locks[K] {
	return &Locks[K]{entries: make(map[K]*lockEntry)}
}

// Lock blocks until the lock for key is held and returns its release func.
// The release func must be called exactly once.
func (l *Locks[K]) Lock(key K) func() {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Locks[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
