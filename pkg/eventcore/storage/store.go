// Package storage provides the durable side of eventcore: append-only entity
// logs read newest-first, snapshot stores, and the bus event store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// Sentinel errors for storage operations.
var (
	// ErrNotFound indicates a snapshot doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrCorruptLog indicates a log whose framing cannot be decoded.
	ErrCorruptLog = errors.New("corrupt log")
)

// Log is an append-only per-entity event log.
// Implementations must be safe for concurrent use.
type Log interface {
	// Append writes records at the end of their entities' logs, in order.
	Append(ctx context.Context, records ...Record) error

	// ReadBackward iterates an entity's records newest first.
	// An entity without records yields an empty iterator, not an error.
	ReadBackward(ctx context.Context, entityID string) (Iterator, error)

	// Close releases any resources (files, connections).
	Close() error
}

// Iterator walks records. Next must be called before the first Record.
//
//	for it.Next() {
//	    rec := it.Record()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Record() Record
	Err() error
	Close() error
}

// SnapshotStore keeps the latest snapshot per entity.
type SnapshotStore interface {
	// ReadSnapshot returns ErrNotFound if the entity has no snapshot.
	ReadSnapshot(ctx context.Context, entityID string) (Snapshot, error)

	// WriteSnapshot supersedes any earlier snapshot of the entity.
	WriteSnapshot(ctx context.Context, snap Snapshot) error

	Close() error
}

// EventStore keeps every event posted to the bus.
type EventStore interface {
	Append(ctx context.Context, records ...Record) error

	// Read returns matching records in append order.
	Read(ctx context.Context, filter Filter) ([]Record, error)

	Close() error
}

// Filter selects events by class, entity and time. Zero fields match everything.
type Filter struct {
	Classes  []eventcore.MessageClass
	EntityID string
	// Since is inclusive, Until is exclusive.
	Since time.Time
	Until time.Time
	// Limit caps the number of records; 0 means no limit.
	Limit int
}

// Match reports whether rec passes the filter (Limit is not considered).
func (f Filter) Match(rec Record) bool {
	if len(f.Classes) > 0 {
		found := false
		for _, c := range f.Classes {
			if c == rec.Class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EntityID != "" && f.EntityID != rec.EntityID {
		return false
	}
	ts := rec.Context.Timestamp
	if !f.Since.IsZero() && ts.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ts.Before(f.Until) {
		return false
	}
	return true
}
