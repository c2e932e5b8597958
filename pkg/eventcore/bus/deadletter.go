package bus

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

// ErrDeadLettersFull indicates the dead-letter store reached its capacity.
var ErrDeadLettersFull = errors.New("dead-letter store is full")

// DefaultDeadLetterCapacity bounds MemoryDeadLetters when no size is given.
const DefaultDeadLetterCapacity = 10000

// DeadLetter records a delivery that failed for one subscriber.
// The event itself is already stored; only the delivery is retried.
type DeadLetter struct {
	Record     storage.Record `json:"record"`
	Subscriber string         `json:"subscriber"`
	Error      string         `json:"error"`

	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// EventID returns the id of the undelivered event.
func (d DeadLetter) EventID() string {
	return d.Record.Context.ID
}

// Class returns the class of the undelivered event.
func (d DeadLetter) Class() eventcore.MessageClass {
	return d.Record.Class
}

func (d DeadLetter) key() deadLetterKey {
	return deadLetterKey{eventID: d.EventID(), subscriber: d.Subscriber}
}

type deadLetterKey struct {
	eventID    string
	subscriber string
}

// DeadLetterStore keeps failed deliveries until they are redelivered.
type DeadLetterStore interface {
	// Add records a failure. A second failure for the same event and
	// subscriber updates the existing entry.
	Add(ctx context.Context, letter DeadLetter) error
	// List returns up to limit entries, oldest first. limit <= 0 lists all.
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	// Remove drops the entry for eventID and subscriber.
	Remove(ctx context.Context, eventID, subscriber string) error
	Len(ctx context.Context) (int, error)
}

// MemoryDeadLetters is an in-memory DeadLetterStore.
type MemoryDeadLetters struct {
	mu       sync.RWMutex
	letters  map[deadLetterKey]DeadLetter
	capacity int
}

// NewMemoryDeadLetters creates a store holding up to capacity entries.
func NewMemoryDeadLetters(capacity int) *MemoryDeadLetters {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCapacity
	}
	return &MemoryDeadLetters{letters: make(map[deadLetterKey]DeadLetter), capacity: capacity}
}

// Add implements DeadLetterStore.
func (m *MemoryDeadLetters) Add(_ context.Context, letter DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := letter.key()
	if prev, ok := m.letters[k]; ok {
		prev.Attempts += max(letter.Attempts, 1)
		prev.Error = letter.Error
		prev.LastFailedAt = letter.LastFailedAt
		m.letters[k] = prev
		return nil
	}
	if len(m.letters) >= m.capacity {
		return ErrDeadLettersFull
	}
	if letter.Attempts == 0 {
		letter.Attempts = 1
	}
	if letter.FirstFailedAt.IsZero() {
		letter.FirstFailedAt = letter.LastFailedAt
	}
	m.letters[k] = letter
	return nil
}

// List implements DeadLetterStore.
func (m *MemoryDeadLetters) List(_ context.Context, limit int) ([]DeadLetter, error) {
	m.mu.RLock()
	out := make([]DeadLetter, 0, len(m.letters))
	for _, l := range m.letters {
		out = append(out, l)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b DeadLetter) int {
		return cmp.Or(
			a.FirstFailedAt.Compare(b.FirstFailedAt),
			cmp.Compare(a.EventID(), b.EventID()),
			cmp.Compare(a.Subscriber, b.Subscriber),
		)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Remove implements DeadLetterStore.
func (m *MemoryDeadLetters) Remove(_ context.Context, eventID, subscriber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.letters, deadLetterKey{eventID: eventID, subscriber: subscriber})
	return nil
}

// Len implements DeadLetterStore.
func (m *MemoryDeadLetters) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.letters), nil
}
