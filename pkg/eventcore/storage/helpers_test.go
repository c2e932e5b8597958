package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(entityID string, version int64) storage.Record {
	return storage.Record{
		EntityID:   entityID,
		EntityType: "order",
		Class:      "OrderUpdated",
		Payload:    []byte(fmt.Sprintf(`{"n":%d}`, version)),
		Context: eventcore.Context{
			ID:        fmt.Sprintf("%s-%d", entityID, version),
			Timestamp: epoch.Add(time.Duration(version) * time.Minute),
			Version:   version,
			EntityID:  entityID,
		},
		Version: version,
	}
}

func versions(t *testing.T, it storage.Iterator) []int64 {
	t.Helper()
	defer it.Close()
	var out []int64
	for it.Next() {
		out = append(out, it.Record().Version)
	}
	require.NoError(t, it.Err())
	return out
}

// testLogContract runs the behavior every Log must share.
func testLogContract(t *testing.T, open func(t *testing.T) storage.Log) {
	ctx := context.Background()

	t.Run("unknown entity is empty", func(t *testing.T) {
		l := open(t)
		it, err := l.ReadBackward(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, versions(t, it))
	})

	t.Run("reads newest first", func(t *testing.T) {
		l := open(t)
		require.NoError(t, l.Append(ctx, record("o-1", 1), record("o-1", 2)))
		require.NoError(t, l.Append(ctx, record("o-1", 3)))
		require.NoError(t, l.Append(ctx, record("o-2", 1)))

		it, err := l.ReadBackward(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 2, 1}, versions(t, it))

		it, err = l.ReadBackward(ctx, "o-2")
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, versions(t, it))
	})

	t.Run("round trips records", func(t *testing.T) {
		l := open(t)
		want := record("o-9", 1)
		require.NoError(t, l.Append(ctx, want))

		it, err := l.ReadBackward(ctx, "o-9")
		require.NoError(t, err)
		defer it.Close()
		require.True(t, it.Next())
		assert.Equal(t, want, it.Record())
	})

	t.Run("closed log rejects calls", func(t *testing.T) {
		l := open(t)
		require.NoError(t, l.Close())
		assert.ErrorIs(t, l.Append(ctx, record("o-1", 1)), storage.ErrStoreClosed)
		_, err := l.ReadBackward(ctx, "o-1")
		assert.ErrorIs(t, err, storage.ErrStoreClosed)
	})
}

// testSnapshotContract runs the behavior every SnapshotStore must share.
func testSnapshotContract(t *testing.T, open func(t *testing.T) storage.SnapshotStore) {
	ctx := context.Background()

	t.Run("missing snapshot", func(t *testing.T) {
		s := open(t)
		_, err := s.ReadSnapshot(ctx, "nobody")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("latest write wins", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.WriteSnapshot(ctx, storage.Snapshot{EntityID: "o-1", State: []byte(`{"v":1}`), Version: 1, Timestamp: epoch}))
		require.NoError(t, s.WriteSnapshot(ctx, storage.Snapshot{EntityID: "o-1", State: []byte(`{"v":5}`), Version: 5, Timestamp: epoch}))

		snap, err := s.ReadSnapshot(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, "o-1", snap.EntityID)
		assert.Equal(t, int64(5), snap.Version)
		assert.JSONEq(t, `{"v":5}`, string(snap.State))
		assert.True(t, epoch.Equal(snap.Timestamp))
	})

	t.Run("closed store rejects calls", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())
		_, err := s.ReadSnapshot(ctx, "o-1")
		assert.ErrorIs(t, err, storage.ErrStoreClosed)
	})
}

// testEventStoreContract runs the behavior every EventStore must share.
func testEventStoreContract(t *testing.T, open func(t *testing.T) storage.EventStore) {
	ctx := context.Background()

	seed := func(t *testing.T) storage.EventStore {
		s := open(t)
		placed := record("o-1", 1)
		placed.Class = "OrderPlaced"
		require.NoError(t, s.Append(ctx, placed, record("o-1", 2), record("o-2", 3), record("o-1", 4)))
		return s
	}

	tests := []struct {
		name   string
		filter storage.Filter
		want   []string
	}{
		{"everything", storage.Filter{}, []string{"o-1-1", "o-1-2", "o-2-3", "o-1-4"}},
		{"by class", storage.Filter{Classes: []eventcore.MessageClass{"OrderPlaced"}}, []string{"o-1-1"}},
		{"by entity", storage.Filter{EntityID: "o-2"}, []string{"o-2-3"}},
		{"since inclusive", storage.Filter{Since: epoch.Add(2 * time.Minute)}, []string{"o-1-2", "o-2-3", "o-1-4"}},
		{"until exclusive", storage.Filter{Until: epoch.Add(2 * time.Minute)}, []string{"o-1-1"}},
		{"limit", storage.Filter{EntityID: "o-1", Limit: 2}, []string{"o-1-1", "o-1-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seed(t)
			recs, err := s.Read(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(recs))
			for _, r := range recs {
				ids = append(ids, r.Context.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
