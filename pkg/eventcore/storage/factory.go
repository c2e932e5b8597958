package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
)

// Factory supplies the stores an application needs. Logs and snapshot stores
// are scoped to one entity type and cached, so repeated calls for the same
// type return the same store.
type Factory interface {
	Log(entityType string) (Log, error)
	Snapshots(entityType string) (SnapshotStore, error)
	Events() (EventStore, error)
	Close() error
}

// SettingsFactory builds stores from config.StorageSettings. It owns every
// client it opens (SQLite, Redis, MongoDB) and closes them on Close.
type SettingsFactory struct {
	settings config.StorageSettings
	logger   *slog.Logger

	mu        sync.Mutex
	closed    bool
	logs      map[string]Log
	snapshots map[string]SnapshotStore
	events    EventStore

	db    *sql.DB
	redis redis.UniversalClient
	mongo *mongo.Client
}

// NewFactory validates the backend names and returns a factory. Connections
// are opened lazily on first use.
func NewFactory(settings config.StorageSettings, logger *slog.Logger) (*SettingsFactory, error) {
	s := config.DefaultSettings()
	s.Storage = settings
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("storage settings: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsFactory{
		settings:  settings,
		logger:    logger,
		logs:      make(map[string]Log),
		snapshots: make(map[string]SnapshotStore),
	}, nil
}

// Log returns the log for entityType.
func (f *SettingsFactory) Log(entityType string) (Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	if l, ok := f.logs[entityType]; ok {
		return l, nil
	}

	var (
		l   Log
		err error
	)
	switch f.settings.Log {
	case config.BackendMemory:
		l = NewMemoryLog()
	case config.BackendFile:
		l, err = NewFileLog(filepath.Join(f.settings.Dir, entityType),
			WithPageSize(f.settings.PageSize), WithSync(f.settings.Sync))
	case config.BackendSQLite:
		var db *sql.DB
		if db, err = f.sqlite(); err == nil {
			l = NewSQLiteLog(db, entityType)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s log for %s: %w", f.settings.Log, entityType, err)
	}
	f.logs[entityType] = l
	f.logger.Debug("opened entity log", slog.String("backend", f.settings.Log), slog.String("entity_type", entityType))
	return l, nil
}

// Snapshots returns the snapshot store for entityType.
func (f *SettingsFactory) Snapshots(entityType string) (SnapshotStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	if s, ok := f.snapshots[entityType]; ok {
		return s, nil
	}

	var (
		s   SnapshotStore
		err error
	)
	switch f.settings.Snapshots {
	case config.BackendMemory:
		s = NewMemorySnapshotStore()
	case config.BackendSQLite:
		var db *sql.DB
		if db, err = f.sqlite(); err == nil {
			s = NewSQLiteSnapshotStore(db, entityType)
		}
	case config.BackendRedis:
		s = NewRedisSnapshotStore(f.redisClient(), f.settings.Redis.Prefix, entityType)
	case config.BackendMongo:
		var client *mongo.Client
		if client, err = f.mongoClient(); err == nil {
			s = NewMongoSnapshotStore(client.Database(f.settings.Mongo.Database), entityType)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s snapshots for %s: %w", f.settings.Snapshots, entityType, err)
	}
	f.snapshots[entityType] = s
	f.logger.Debug("opened snapshot store", slog.String("backend", f.settings.Snapshots), slog.String("entity_type", entityType))
	return s, nil
}

// Events returns the bus-side event store.
func (f *SettingsFactory) Events() (EventStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	if f.events != nil {
		return f.events, nil
	}
	switch f.settings.Events {
	case config.BackendSQLite:
		db, err := f.sqlite()
		if err != nil {
			return nil, fmt.Errorf("open sqlite event store: %w", err)
		}
		f.events = NewSQLiteEventStore(db)
	default:
		f.events = NewMemoryEventStore()
	}
	return f.events, nil
}

// Close closes every store handed out and then the shared clients.
func (f *SettingsFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, l := range f.logs {
		errs = append(errs, l.Close())
	}
	for _, s := range f.snapshots {
		errs = append(errs, s.Close())
	}
	if f.events != nil {
		errs = append(errs, f.events.Close())
	}
	if f.db != nil {
		errs = append(errs, f.db.Close())
	}
	if f.redis != nil {
		errs = append(errs, f.redis.Close())
	}
	if f.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), f.settings.Mongo.Timeout)
		errs = append(errs, f.mongo.Disconnect(ctx))
		cancel()
	}
	return errors.Join(errs...)
}

func (f *SettingsFactory) sqlite() (*sql.DB, error) {
	if f.db != nil {
		return f.db, nil
	}
	db, err := OpenSQLite(f.settings.SQLitePath)
	if err != nil {
		return nil, err
	}
	f.db = db
	return db, nil
}

func (f *SettingsFactory) redisClient() redis.UniversalClient {
	if f.redis == nil {
		f.redis = redis.NewClient(&redis.Options{
			Addr:     f.settings.Redis.Addr,
			Password: f.settings.Redis.Password,
			DB:       f.settings.Redis.DB,
		})
	}
	return f.redis
}

func (f *SettingsFactory) mongoClient() (*mongo.Client, error) {
	if f.mongo != nil {
		return f.mongo, nil
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(f.settings.Mongo.URI).
		SetTimeout(f.settings.Mongo.Timeout))
	if err != nil {
		return nil, err
	}
	f.mongo = client
	return client, nil
}
