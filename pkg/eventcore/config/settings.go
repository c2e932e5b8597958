package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// Backend names accepted in the storage section.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Executor names accepted in the bus section.
const (
	ExecutorSync = "sync"
	ExecutorPool = "pool"
)

// Settings is the typed view of an eventcore configuration document.
type Settings struct {
	Storage    StorageSettings    `envPrefix:"STORAGE_"`
	Repository RepositorySettings `envPrefix:"REPOSITORY_"`
	Bus        BusSettings        `envPrefix:"BUS_"`
	Log        LogSettings        `envPrefix:"LOG_"`
	Retry      RetrySettings      `envPrefix:"RETRY_"`
}

// StorageSettings selects the log, snapshot and event store backends.
type StorageSettings struct {
	Log       string `env:"LOG"`
	Snapshots string `env:"SNAPSHOTS"`
	Events    string `env:"EVENTS"`

	// Dir is the root directory of the file log.
	Dir string `env:"DIR"`
	// PageSize is the backward read page of the file log in bytes.
	PageSize int `env:"PAGE_SIZE"`
	// Sync fsyncs every file log append.
	Sync bool `env:"SYNC"`

	// SQLitePath is shared by every sqlite backend.
	SQLitePath string `env:"SQLITE_PATH"`

	Redis RedisSettings `envPrefix:"REDIS_"`
	Mongo MongoSettings `envPrefix:"MONGO_"`
}

// RedisSettings configures the Redis snapshot store.
type RedisSettings struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
	Prefix   string `env:"PREFIX"`
}

// MongoSettings configures the MongoDB snapshot store.
type MongoSettings struct {
	URI      string        `env:"URI"`
	Database string        `env:"DATABASE"`
	Timeout  time.Duration `env:"TIMEOUT"`
}

// RepositorySettings configures entity repositories.
type RepositorySettings struct {
	// SnapshotEvery writes a snapshot each time an entity's version crosses a
	// multiple of this value. Zero disables snapshots.
	SnapshotEvery int `env:"SNAPSHOT_EVERY"`
}

// BusSettings configures subscriber delivery.
type BusSettings struct {
	Executor  string `env:"EXECUTOR"`
	Workers   int    `env:"WORKERS"`
	QueueSize int    `env:"QUEUE_SIZE"`
}

// LogSettings configures the production logger.
type LogSettings struct {
	Level    string `env:"LEVEL"`
	Encoding string `env:"ENCODING"`
	Sampling bool   `env:"SAMPLING"`
}

// RetrySettings configures retries of snapshot writes.
type RetrySettings struct {
	MaxAttempts    int           `env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF"`
}

// DefaultSettings returns in-memory storage, synchronous delivery and JSON
// info logging.
func DefaultSettings() Settings {
	return Settings{
		Storage: StorageSettings{
			Log:        BackendMemory,
			Snapshots:  BackendMemory,
			Events:     BackendMemory,
			Dir:        "data",
			PageSize:   100 * 1024,
			SQLitePath: "eventcore.db",
			Redis:      RedisSettings{Addr: "localhost:6379", Prefix: "eventcore"},
			Mongo:      MongoSettings{URI: "mongodb://localhost:27017", Database: "eventcore", Timeout: 10 * time.Second},
		},
		Repository: RepositorySettings{SnapshotEvery: 100},
		Bus:        BusSettings{Executor: ExecutorSync, Workers: 4, QueueSize: 256},
		Log:        LogSettings{Level: "info", Encoding: "json", Sampling: true},
		Retry: RetrySettings{
			MaxAttempts:    ecerrors.DefaultRetry.MaxAttempts,
			InitialBackoff: ecerrors.DefaultRetry.InitialBackoff,
			MaxBackoff:     ecerrors.DefaultRetry.MaxBackoff,
		},
	}
}

// SettingsFrom reads Settings from cfg, falling back to DefaultSettings for
// every missing key.
func SettingsFrom(cfg Config) Settings {
	d := DefaultSettings()

	st := cfg.Sub("storage")
	rd := st.Sub("redis")
	mg := st.Sub("mongo")
	bus := cfg.Sub("bus")
	lg := cfg.Sub("log")
	rt := cfg.Sub("retry")

	return Settings{
		Storage: StorageSettings{
			Log:        st.String("log", d.Storage.Log),
			Snapshots:  st.String("snapshots", d.Storage.Snapshots),
			Events:     st.String("events", d.Storage.Events),
			Dir:        st.String("dir", d.Storage.Dir),
			PageSize:   st.Int("page_size", d.Storage.PageSize),
			Sync:       st.Bool("sync", d.Storage.Sync),
			SQLitePath: st.String("sqlite_path", d.Storage.SQLitePath),
			Redis: RedisSettings{
				Addr:     rd.String("addr", d.Storage.Redis.Addr),
				Password: rd.String("password", d.Storage.Redis.Password),
				DB:       rd.Int("db", d.Storage.Redis.DB),
				Prefix:   rd.String("prefix", d.Storage.Redis.Prefix),
			},
			Mongo: MongoSettings{
				URI:      mg.String("uri", d.Storage.Mongo.URI),
				Database: mg.String("database", d.Storage.Mongo.Database),
				Timeout:  mg.Duration("timeout", d.Storage.Mongo.Timeout),
			},
		},
		Repository: RepositorySettings{
			SnapshotEvery: cfg.Int("repository.snapshot_every", d.Repository.SnapshotEvery),
		},
		Bus: BusSettings{
			Executor:  bus.String("executor", d.Bus.Executor),
			Workers:   bus.Int("workers", d.Bus.Workers),
			QueueSize: bus.Int("queue_size", d.Bus.QueueSize),
		},
		Log: LogSettings{
			Level:    lg.String("level", d.Log.Level),
			Encoding: lg.String("encoding", d.Log.Encoding),
			Sampling: lg.Bool("sampling", d.Log.Sampling),
		},
		Retry: RetrySettings{
			MaxAttempts:    rt.Int("max_attempts", d.Retry.MaxAttempts),
			InitialBackoff: rt.Duration("initial_backoff", d.Retry.InitialBackoff),
			MaxBackoff:     rt.Duration("max_backoff", d.Retry.MaxBackoff),
		},
	}
}

// Validate reports every unknown backend or executor name and every
// out-of-range number.
func (s Settings) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %v)", field, value, allowed))
		}
	}
	check("storage.log", s.Storage.Log, BackendMemory, BackendFile, BackendSQLite)
	check("storage.snapshots", s.Storage.Snapshots, BackendMemory, BackendSQLite, BackendRedis, BackendMongo)
	check("storage.events", s.Storage.Events, BackendMemory, BackendSQLite)
	check("bus.executor", s.Bus.Executor, ExecutorSync, ExecutorPool)
	check("log.encoding", s.Log.Encoding, "json", "console")

	if s.Storage.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.page_size: must be positive, got %d", s.Storage.PageSize))
	}
	if s.Repository.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("repository.snapshot_every: must not be negative, got %d", s.Repository.SnapshotEvery))
	}
	if s.Bus.Executor == ExecutorPool && s.Bus.Workers <= 0 {
		errs = append(errs, fmt.Errorf("bus.workers: must be positive for the pool executor, got %d", s.Bus.Workers))
	}
	return errors.Join(errs...)
}

// RetryConfig converts the retry section for use with errors.WithRetryContext.
func (r RetrySettings) RetryConfig() ecerrors.RetryConfig {
	cfg := ecerrors.DefaultRetry
	if r.MaxAttempts > 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoff > 0 {
		cfg.InitialBackoff = r.InitialBackoff
	}
	if r.MaxBackoff > 0 {
		cfg.MaxBackoff = r.MaxBackoff
	}
	return cfg
}
