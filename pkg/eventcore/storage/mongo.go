package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

type snapshotBSON struct {
	ID        string    `bson:"_id"`
	State     []byte    `bson:"state"`
	Version   int64     `bson:"version"`
	Timestamp time.Time `bson:"timestamp"`
}

// MongoSnapshotStore keeps snapshots of one entity type in a collection,
// one document per entity keyed by its id.
type MongoSnapshotStore struct {
	coll *mongo.Collection

	mu     sync.RWMutex
	closed bool
}

// NewMongoSnapshotStore creates a store on db, using a collection named
// "snapshots_<entityType>".
func NewMongoSnapshotStore(db *mongo.Database, entityType string) *MongoSnapshotStore {
	return &MongoSnapshotStore{coll: db.Collection("snapshots_" + entityType)}
}

// ReadSnapshot implements SnapshotStore.
func (s *MongoSnapshotStore) ReadSnapshot(ctx context.Context, entityID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, ErrStoreClosed
	}

	var doc snapshotBSON
	err := s.coll.FindOne(ctx, bson.M{"_id": entityID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, ecerrors.Transient(err, "mongo read snapshot")
	}
	return Snapshot{
		EntityID:  doc.ID,
		State:     doc.State,
		Version:   doc.Version,
		Timestamp: doc.Timestamp,
	}, nil
}

// WriteSnapshot implements SnapshotStore.
func (s *MongoSnapshotStore) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": snap.EntityID},
		bson.M{"$set": bson.M{
			"state":     snap.State,
			"version":   snap.Version,
			"timestamp": snap.Timestamp,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return ecerrors.Transient(err, "mongo write snapshot")
	}
	return nil
}

// Close implements SnapshotStore. The client stays connected.
func (s *MongoSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
