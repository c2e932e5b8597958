package storage

import (
	"context"
	"slices"
	"sync"
)

// MemoryLog is an in-memory Log for testing.
// Data is lost when the process exits.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][]Record
	closed  bool
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[string][]Record)}
}

// Append implements Log.
func (m *MemoryLog) Append(_ context.Context, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for _, r := range records {
		m.records[r.EntityID] = append(m.records[r.EntityID], r.clone())
	}
	return nil
}

// ReadBackward implements Log.
func (m *MemoryLog) ReadBackward(_ context.Context, entityID string) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	src := m.records[entityID]
	out := make([]Record, len(src))
	for i, r := range src {
		out[len(src)-1-i] = r.clone()
	}
	return newSliceIterator(out), nil
}

// Close implements Log.
func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}

// Len returns the number of records of an entity.
func (m *MemoryLog) Len(entityID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[entityID])
}

// MemorySnapshotStore is an in-memory SnapshotStore.
type MemorySnapshotStore struct {
	mu     sync.RWMutex
	snaps  map[string]Snapshot
	writes int
	closed bool
}

// NewMemorySnapshotStore creates an empty snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]Snapshot)}
}

// ReadSnapshot implements SnapshotStore.
func (m *MemorySnapshotStore) ReadSnapshot(_ context.Context, entityID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot{}, ErrStoreClosed
	}
	s, ok := m.snaps[entityID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	s.State = slices.Clone(s.State)
	return s, nil
}

// WriteSnapshot implements SnapshotStore.
func (m *MemorySnapshotStore) WriteSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	snap.State = slices.Clone(snap.State)
	m.snaps[snap.EntityID] = snap
	m.writes++
	return nil
}

// Close implements SnapshotStore.
func (m *MemorySnapshotStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.snaps = nil
	return nil
}

// Writes returns how many snapshots have been written.
func (m *MemorySnapshotStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// MemoryEventStore is an in-memory EventStore.
type MemoryEventStore struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
}

// NewMemoryEventStore creates an empty event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// Append implements EventStore.
func (m *MemoryEventStore) Append(_ context.Context, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for _, r := range records {
		m.records = append(m.records, r.clone())
	}
	return nil
}

// Read implements EventStore.
func (m *MemoryEventStore) Read(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	var out []Record
	for _, r := range m.records {
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		if filter.Match(r) {
			out = append(out, r.clone())
		}
	}
	return out, nil
}

// Close implements EventStore.
func (m *MemoryEventStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}

// Len returns the number of stored events.
func (m *MemoryEventStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
