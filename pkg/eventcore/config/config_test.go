package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
)

func TestConfig_Accessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":    "orders",
		"enabled": true,
		"workers": 8,
		"ratio":   0.5,
		"whole":   4.0,
		"frac":    4.5,
		"timeout": "1m30s",
		"seconds": 2,
		"tags":    []any{"a", "b"},
		"mixed":   []any{"a", 1},
	})

	assert.Equal(t, "orders", cfg.String("name", "x"))
	assert.Equal(t, "x", cfg.String("enabled", "x"))
	assert.True(t, cfg.Bool("enabled", false))
	assert.Equal(t, 8, cfg.Int("workers", 1))
	assert.Equal(t, 4, cfg.Int("whole", 1))
	assert.Equal(t, 1, cfg.Int("frac", 1))
	assert.InDelta(t, 0.5, cfg.Float("ratio", 0), 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, 2*time.Second, cfg.Duration("seconds", 0))
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("tags", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("mixed", []string{"d"}))
	assert.False(t, cfg.Has("missing"))
}

func TestConfig_NilMap(t *testing.T) {
	cfg := config.New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.Equal(t, "d", cfg.String("any", "d"))
	assert.False(t, cfg.Sub("any").Has("x"))
}

func TestConfig_DottedPathsAndSub(t *testing.T) {
	cfg := config.New(map[string]any{
		"storage": map[string]any{
			"log": "file",
			"redis": map[string]any{
				"addr": "cache:6379",
			},
		},
	})

	assert.Equal(t, "file", cfg.String("storage.log", "memory"))
	assert.Equal(t, "cache:6379", cfg.String("storage.redis.addr", ""))
	assert.Equal(t, "cache:6379", cfg.Sub("storage").Sub("redis").String("addr", ""))
	assert.False(t, cfg.Has("storage.log.deeper"))
	assert.False(t, cfg.Sub("storage.log").Has("anything"))
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte("bus:\n  executor: pool\n  workers: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, "pool", cfg.String("bus.executor", ""))
	assert.Equal(t, 3, cfg.Int("bus.workers", 0))

	_, err = config.FromYAML([]byte("bus: [unclosed"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"repository":{"snapshot_every":10}}`))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Int("repository.snapshot_every", 0))

	_, err = config.FromJSON([]byte(`{`))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "c.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("log:\n  level: debug\n"), 0o600))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.String("log.level", ""))

	txtPath := filepath.Join(dir, "c.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))
	_, err = config.FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSettingsFrom_Defaults(t *testing.T) {
	s := config.SettingsFrom(config.New(nil))
	assert.Equal(t, config.DefaultSettings(), s)
	require.NoError(t, s.Validate())
	assert.Equal(t, config.ExecutorSync, s.Bus.Executor)
}

func TestSettingsFrom_Overrides(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
storage:
  log: sqlite
  snapshots: redis
  events: sqlite
  sqlite_path: /tmp/ec.db
  redis:
    addr: cache:6379
    db: 2
repository:
  snapshot_every: 5
bus:
  executor: pool
  workers: 2
retry:
  max_attempts: 5
  initial_backoff: 10ms
`))
	require.NoError(t, err)

	s := config.SettingsFrom(cfg)
	require.NoError(t, s.Validate())
	assert.Equal(t, config.BackendSQLite, s.Storage.Log)
	assert.Equal(t, config.BackendRedis, s.Storage.Snapshots)
	assert.Equal(t, "/tmp/ec.db", s.Storage.SQLitePath)
	assert.Equal(t, "cache:6379", s.Storage.Redis.Addr)
	assert.Equal(t, 2, s.Storage.Redis.DB)
	assert.Equal(t, 5, s.Repository.SnapshotEvery)
	assert.Equal(t, config.ExecutorPool, s.Bus.Executor)
	assert.Equal(t, 2, s.Bus.Workers)

	rc := s.Retry.RetryConfig()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, rc.InitialBackoff)
}

func TestSettings_Validate(t *testing.T) {
	s := config.DefaultSettings()
	s.Storage.Log = "cassandra"
	s.Bus.Executor = "threads"
	s.Repository.SnapshotEvery = -1

	err := s.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "storage.log")
	assert.ErrorContains(t, err, "bus.executor")
	assert.ErrorContains(t, err, "repository.snapshot_every")
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bus":{"executor":"nope"}}`), 0o600))

	_, err := config.LoadSettings(path)
	assert.ErrorContains(t, err, "bus.executor")
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  log: file\n  dir: /from/file\n"), 0o600))

	t.Setenv("EVENTCORE_STORAGE_DIR", "/from/env")
	t.Setenv("EVENTCORE_BUS_EXECUTOR", "pool")
	t.Setenv("EVENTCORE_BUS_WORKERS", "8")
	t.Setenv("EVENTCORE_STORAGE_MONGO_TIMEOUT", "3s")
	t.Setenv("EVENTCORE_LOG_SAMPLING", "false")

	s, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, config.BackendFile, s.Storage.Log)
	assert.Equal(t, "/from/env", s.Storage.Dir)
	assert.Equal(t, config.ExecutorPool, s.Bus.Executor)
	assert.Equal(t, 8, s.Bus.Workers)
	assert.Equal(t, 3*time.Second, s.Storage.Mongo.Timeout)
	assert.False(t, s.Log.Sampling)
	assert.Equal(t, 256, s.Bus.QueueSize)
}

func TestLoadSettings_NoFile(t *testing.T) {
	t.Setenv("EVENTCORE_REPOSITORY_SNAPSHOT_EVERY", "-2")
	_, err := config.LoadSettings("")
	assert.ErrorContains(t, err, "repository.snapshot_every")

	t.Setenv("EVENTCORE_REPOSITORY_SNAPSHOT_EVERY", "10")
	s, err := config.LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, 10, s.Repository.SnapshotEvery)
	assert.Equal(t, config.BackendMemory, s.Storage.Log)

	t.Setenv("EVENTCORE_BUS_WORKERS", "many")
	_, err = config.LoadSettings("")
	assert.ErrorContains(t, err, "parse env")
}
