package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// OpenSQLite opens a SQLite database and creates the eventcore schema.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return db, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS entity_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data BLOB NOT NULL,
		UNIQUE (entity_type, entity_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		state BLOB NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		class TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		data BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_class ON events(class)`,
	`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
}

// sqliteReadPage is how many rows a backward iterator fetches per query.
const sqliteReadPage = 256

// SQLiteLog stores entity logs of one entity type in a shared database.
// It is suitable for single-process production use. Appending a version that
// already exists fails, which protects against concurrent writers.
type SQLiteLog struct {
	db         *sql.DB
	entityType string

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteLog creates a log for entityType on db. The caller owns db.
func NewSQLiteLog(db *sql.DB, entityType string) *SQLiteLog {
	return &SQLiteLog{db: db, entityType: entityType}
}

// Append implements Log. All records are written in one transaction.
func (s *SQLiteLog) Append(ctx context.Context, records ...Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		data, err := encodeRecord(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_log (entity_type, entity_id, version, data)
			VALUES (?, ?, ?, ?)
		`, s.entityType, r.EntityID, r.Version, data); err != nil {
			return fmt.Errorf("append %s v%d: %w", r.EntityID, r.Version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ReadBackward implements Log. Rows are fetched lazily in pages.
func (s *SQLiteLog) ReadBackward(ctx context.Context, entityID string) (Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return &sqliteIterator{ctx: ctx, log: s, entityID: entityID, before: -1}, nil
}

// Close implements Log. The database stays open.
func (s *SQLiteLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type sqliteIterator struct {
	ctx      context.Context
	log      *SQLiteLog
	entityID string
	before   int64 // seq upper bound, -1 before the first page
	buf      []Record
	done     bool
	cur      Record
	err      error
}

func (it *sqliteIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if len(it.buf) == 0 {
		if it.done {
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
		if len(it.buf) == 0 {
			return false
		}
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	return true
}

func (it *sqliteIterator) fetch() error {
	query := `SELECT seq, data FROM entity_log
		WHERE entity_type = ? AND entity_id = ?`
	args := []any{it.log.entityType, it.entityID}
	if it.before >= 0 {
		query += ` AND seq < ?`
		args = append(args, it.before)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, sqliteReadPage)

	rows, err := it.log.db.QueryContext(it.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("read log %s: %w", it.entityID, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			seq  int64
			data []byte
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return fmt.Errorf("scan log row: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		it.buf = append(it.buf, rec)
		it.before = seq
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate log rows: %w", err)
	}
	if n < sqliteReadPage {
		it.done = true
	}
	return nil
}

func (it *sqliteIterator) Record() Record { return it.cur }
func (it *sqliteIterator) Err() error     { return it.err }
func (it *sqliteIterator) Close() error   { return nil }

// SQLiteSnapshotStore keeps snapshots of one entity type in a shared database.
type SQLiteSnapshotStore struct {
	db         *sql.DB
	entityType string

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteSnapshotStore creates a snapshot store for entityType on db.
func NewSQLiteSnapshotStore(db *sql.DB, entityType string) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{db: db, entityType: entityType}
}

// ReadSnapshot implements SnapshotStore.
func (s *SQLiteSnapshotStore) ReadSnapshot(ctx context.Context, entityID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, ErrStoreClosed
	}

	var (
		snap = Snapshot{EntityID: entityID}
		ts   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, timestamp, state FROM snapshots
		WHERE entity_type = ? AND entity_id = ?
	`, s.entityType, entityID).Scan(&snap.Version, &ts, &snap.State)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return snap, nil
}

// WriteSnapshot implements SnapshotStore.
// An older snapshot never replaces a newer one.
func (s *SQLiteSnapshotStore) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (entity_type, entity_id, version, timestamp, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			version = excluded.version,
			timestamp = excluded.timestamp,
			state = excluded.state
		WHERE excluded.version >= snapshots.version
	`, s.entityType, snap.EntityID, snap.Version, snap.Timestamp.UTC().Format(time.RFC3339Nano), snap.State)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Close implements SnapshotStore.
func (s *SQLiteSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SQLiteEventStore keeps posted events in a shared database.
type SQLiteEventStore struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteEventStore creates an event store on db.
func NewSQLiteEventStore(db *sql.DB) *SQLiteEventStore {
	return &SQLiteEventStore{db: db}
}

// Append implements EventStore.
func (s *SQLiteEventStore) Append(ctx context.Context, records ...Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		data, err := encodeRecord(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (event_id, class, entity_id, ts, data)
			VALUES (?, ?, ?, ?, ?)
		`, r.Context.ID, string(r.Class), r.EntityID, r.Context.Timestamp.UnixNano(), data); err != nil {
			return fmt.Errorf("append event %s: %w", r.Context.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Read implements EventStore.
func (s *SQLiteEventStore) Read(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		where []string
		args  []any
	)
	if len(filter.Classes) > 0 {
		marks := make([]string, len(filter.Classes))
		for i, c := range filter.Classes {
			marks[i] = "?"
			args = append(args, string(c))
		}
		where = append(where, "class IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := "SELECT data FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Close implements EventStore.
func (s *SQLiteEventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
