package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// RedisSnapshotStore keeps one snapshot per entity under "<prefix>:<entityType>:<id>".
// Network failures are reported as transient errors so callers may retry.
type RedisSnapshotStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	ownsClient bool

	mu     sync.RWMutex
	closed bool
}

// RedisOption configures a RedisSnapshotStore.
type RedisOption func(*RedisSnapshotStore)

// WithRedisOwnership makes Close also close the client.
func WithRedisOwnership() RedisOption {
	return func(s *RedisSnapshotStore) { s.ownsClient = true }
}

// NewRedisSnapshotStore creates a store for entityType using client.
func NewRedisSnapshotStore(client redis.UniversalClient, prefix, entityType string, opts ...RedisOption) *RedisSnapshotStore {
	if prefix == "" {
		prefix = "eventcore"
	}
	s := &RedisSnapshotStore{client: client, keyPrefix: prefix + ":" + entityType + ":"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadSnapshot implements SnapshotStore.
func (s *RedisSnapshotStore) ReadSnapshot(ctx context.Context, entityID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, ErrStoreClosed
	}

	data, err := s.client.Get(ctx, s.keyPrefix+entityID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, ecerrors.Transient(err, "redis read snapshot")
	}
	return decodeSnapshot(data)
}

// WriteSnapshot implements SnapshotStore.
func (s *RedisSnapshotStore) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyPrefix+snap.EntityID, data, 0).Err(); err != nil {
		return ecerrors.Transient(err, "redis write snapshot")
	}
	return nil
}

// Close implements SnapshotStore.
func (s *RedisSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
