package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
)

// Executor runs subscriber deliveries.
type Executor interface {
	// Submit schedules task. It never blocks on a saturated executor; such
	// tasks run on the caller's goroutine instead.
	Submit(task func())
	// Close waits for submitted tasks to finish. Tasks submitted after
	// Close run on the caller's goroutine.
	Close()
}

// SyncExecutor runs every task on the caller's goroutine.
type SyncExecutor struct{}

// Submit implements Executor.
func (SyncExecutor) Submit(task func()) { task() }

// Close implements Executor.
func (SyncExecutor) Close() {}

// PoolExecutor runs tasks on a fixed set of workers fed by a bounded queue.
// When every worker is busy and the queue is full, Submit runs the task
// inline, so a task may itself submit tasks without waiting on its own pool.
type PoolExecutor struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	wg     sync.WaitGroup
	inline atomic.Int64
}

// NewPoolExecutor starts workers goroutines reading from a queue of
// queueSize tasks.
func NewPoolExecutor(workers, queueSize int) *PoolExecutor {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &PoolExecutor{tasks: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for range workers {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit implements Executor.
func (p *PoolExecutor) Submit(task func()) {
	p.mu.RLock()
	queued := false
	if !p.closed {
		select {
		case p.tasks <- task:
			queued = true
		default:
		}
	}
	p.mu.RUnlock()
	if queued {
		return
	}
	p.inline.Add(1)
	task()
}

// InlineRuns returns how many tasks ran on the submitter's goroutine because
// the pool was saturated or closed.
func (p *PoolExecutor) InlineRuns() int64 {
	return p.inline.Load()
}

// Close implements Executor.
func (p *PoolExecutor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// NewExecutor builds the executor selected by s.
func NewExecutor(s config.BusSettings) (Executor, error) {
	switch s.Executor {
	case "", config.ExecutorSync:
		return SyncExecutor{}, nil
	case config.ExecutorPool:
		if s.Workers <= 0 {
			return nil, fmt.Errorf("pool executor needs workers > 0, got %d", s.Workers)
		}
		return NewPoolExecutor(s.Workers, s.QueueSize), nil
	default:
		return nil, fmt.Errorf("unknown executor %q", s.Executor)
	}
}
