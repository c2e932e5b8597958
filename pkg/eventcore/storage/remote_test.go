package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

func TestRedisSnapshotStore(t *testing.T) {
	addr := os.Getenv("EVENTCORE_REDIS_ADDR")
	if addr == "" {
		t.Skip("EVENTCORE_REDIS_ADDR not set")
	}

	testSnapshotContract(t, func(t *testing.T) storage.SnapshotStore {
		client := redis.NewClient(&redis.Options{Addr: addr})
		require.NoError(t, client.Ping(context.Background()).Err())
		prefix := "eventcore-test-" + uuid.NewString()
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := client.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
			client.Close()
		})
		return storage.NewRedisSnapshotStore(client, prefix, "order")
	})
}

func TestMongoSnapshotStore(t *testing.T) {
	uri := os.Getenv("EVENTCORE_MONGO_URI")
	if uri == "" {
		t.Skip("EVENTCORE_MONGO_URI not set")
	}

	testSnapshotContract(t, func(t *testing.T) storage.SnapshotStore {
		client, err := mongo.Connect(options.Client().ApplyURI(uri).SetTimeout(5 * time.Second))
		require.NoError(t, err)
		db := client.Database("eventcore_test_" + uuid.NewString()[:8])
		t.Cleanup(func() {
			ctx := context.Background()
			_ = db.Drop(ctx)
			_ = client.Disconnect(ctx)
		})
		return storage.NewMongoSnapshotStore(db, "order")
	})
}
