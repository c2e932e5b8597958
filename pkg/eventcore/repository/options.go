package repository

import (
	"log/slog"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

// Option configures a repository.
type Option func(*settings)

type settings struct {
	snapshots     storage.SnapshotStore
	snapshotEvery int
	clock         eventcore.Clock
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	retry         ecerrors.RetryConfig
}

func defaults() settings {
	return settings{
		clock:   eventcore.DefaultClock(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		retry:   ecerrors.DefaultRetry,
	}
}

func apply(opts []Option) settings {
	s := defaults()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithSnapshots writes a snapshot to store each time an entity's version
// crosses a multiple of every. Ignored by process manager repositories,
// which always persist state.
func WithSnapshots(store storage.SnapshotStore, every int) Option {
	return func(s *settings) {
		s.snapshots = store
		s.snapshotEvery = every
	}
}

// WithClock sets the clock stamping events and snapshots.
func WithClock(clock eventcore.Clock) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRetry sets how state and snapshot writes are retried.
func WithRetry(cfg ecerrors.RetryConfig) Option {
	return func(s *settings) { s.retry = cfg }
}
