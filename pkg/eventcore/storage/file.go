package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/randalmurphal/eventcore/pkg/eventcore/registry"
)

// FileLog stores one log file per entity under a directory.
// Each record is framed as payload || uint32 length, so logs can be read
// from the end without an index.
type FileLog struct {
	dir      string
	pageSize int
	sync     bool
	writers  *registry.Locks[string]

	mu     sync.RWMutex
	closed bool
}

// FileOption configures a FileLog.
type FileOption func(*FileLog)

// WithPageSize sets the initial read page size of iterators.
func WithPageSize(n int) FileOption {
	return func(l *FileLog) { l.pageSize = n }
}

// WithSync makes every Append fsync the entity file.
func WithSync(enabled bool) FileOption {
	return func(l *FileLog) { l.sync = enabled }
}

// NewFileLog creates a file log rooted at dir, creating the directory if needed.
func NewFileLog(dir string, opts ...FileOption) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	l := &FileLog{
		dir:      dir,
		pageSize: DefaultPageSize,
		writers:  registry.NewLocks[string](),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append implements Log.
// Records of one entity are written with a single write call while holding
// that entity's writer lock.
func (l *FileLog) Append(ctx context.Context, records ...Record) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrStoreClosed
	}

	order, batches := groupByEntity(records)
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.appendEntity(id, batches[id]); err != nil {
			return err
		}
	}
	return nil
}

func (l *FileLog) appendEntity(entityID string, records []Record) error {
	path, err := l.path(entityID)
	if err != nil {
		return err
	}

	var buf []byte
	for _, r := range records {
		data, err := encodeRecord(r)
		if err != nil {
			return err
		}
		buf = appendFrame(buf, data)
	}

	unlock := l.writers.Lock(entityID)
	defer unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", entityID, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("append log %s: %w", entityID, err)
	}
	if l.sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync log %s: %w", entityID, err)
		}
	}
	return f.Close()
}

// ReadBackward implements Log.
// The iterator sees the file as it was when opened.
func (l *FileLog) ReadBackward(_ context.Context, entityID string) (Iterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrStoreClosed
	}

	path, err := l.path(entityID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return newSliceIterator(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", entityID, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log %s: %w", entityID, err)
	}
	return &fileIterator{file: f, cursor: NewCursor(f, info.Size(), l.pageSize)}, nil
}

// Close implements Log.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Dir returns the directory holding the entity files.
func (l *FileLog) Dir() string {
	return l.dir
}

func (l *FileLog) path(entityID string) (string, error) {
	if entityID == "" {
		return "", errors.New("empty entity id")
	}
	name := url.PathEscape(entityID)
	if name == "." || name == ".." {
		name = url.PathEscape("%" + entityID)
	}
	return filepath.Join(l.dir, name), nil
}

type fileIterator struct {
	file   *os.File
	cursor *Cursor
	cur    Record
	err    error
}

func (it *fileIterator) Next() bool {
	if it.err != nil || !it.cursor.Next() {
		return false
	}
	rec, err := decodeRecord(it.cursor.Payload())
	if err != nil {
		it.err = err
		return false
	}
	it.cur = rec
	return true
}

func (it *fileIterator) Record() Record { return it.cur }

func (it *fileIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.cursor.Err()
}

func (it *fileIterator) Close() error {
	return it.file.Close()
}

// groupByEntity splits records per entity, keeping first-seen entity order.
func groupByEntity(records []Record) ([]string, map[string][]Record) {
	var order []string
	batches := make(map[string][]Record)
	for _, r := range records {
		if _, ok := batches[r.EntityID]; !ok {
			order = append(order, r.EntityID)
		}
		batches[r.EntityID] = append(batches[r.EntityID], r)
	}
	return order, batches
}
