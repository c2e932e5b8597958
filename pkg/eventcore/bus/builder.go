package bus

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
	"github.com/randalmurphal/eventcore/pkg/eventcore/enrich"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

// ErrorHandler is told about every failed event dispatcher or subscriber.
type ErrorHandler func(evt eventcore.Event, handler string, err error)

// Builder configures a Bus.
type Builder struct {
	store       storage.EventStore
	codec       eventcore.Codec
	executor    Executor
	settings    *config.BusSettings
	logger      *slog.Logger
	enricher    *enrich.Enricher
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	clock       eventcore.Clock
	deadLetters DeadLetterStore
	onError     ErrorHandler
}

// NewBuilder starts a bus with an in-memory event store, the sync executor
// and slog.Default.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithEventStore sets where posted events are persisted.
func (b *Builder) WithEventStore(s storage.EventStore) *Builder {
	b.store = s
	return b
}

// WithCodec sets the codec used to persist and redeliver payloads.
func (b *Builder) WithCodec(c eventcore.Codec) *Builder {
	b.codec = c
	return b
}

// WithExecutor sets the subscriber executor. It takes precedence over
// WithSettings.
func (b *Builder) WithExecutor(e Executor) *Builder {
	b.executor = e
	return b
}

// WithSettings selects the executor from configuration.
func (b *Builder) WithSettings(s config.BusSettings) *Builder {
	b.settings = &s
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithEnricher enables enrichment of delivered events.
func (b *Builder) WithEnricher(e *enrich.Enricher) *Builder {
	b.enricher = e
	return b
}

// WithMetrics sets the metrics recorder.
func (b *Builder) WithMetrics(m observability.MetricsRecorder) *Builder {
	b.metrics = m
	return b
}

// WithSpans sets the span manager.
func (b *Builder) WithSpans(s observability.SpanManager) *Builder {
	b.spans = s
	return b
}

// WithClock sets the clock used to stamp messages missing a timestamp.
func (b *Builder) WithClock(c eventcore.Clock) *Builder {
	b.clock = c
	return b
}

// WithDeadLetters sets where failed deliveries are recorded.
func (b *Builder) WithDeadLetters(d DeadLetterStore) *Builder {
	b.deadLetters = d
	return b
}

// OnError sets a hook for failed event dispatchers and subscribers.
func (b *Builder) OnError(fn ErrorHandler) *Builder {
	b.onError = fn
	return b
}

// Build validates the configuration and returns the bus.
func (b *Builder) Build() (*Bus, error) {
	bus := &Bus{
		store:       b.store,
		codec:       b.codec,
		executor:    b.executor,
		logger:      b.logger,
		enricher:    b.enricher,
		metrics:     b.metrics,
		spans:       b.spans,
		clock:       b.clock,
		deadLetters: b.deadLetters,
		onError:     b.onError,
		subscribers: make(map[eventcore.MessageClass][]*Subscriber),
	}
	if bus.executor == nil {
		if b.settings != nil {
			e, err := NewExecutor(*b.settings)
			if err != nil {
				return nil, fmt.Errorf("bus: %w", err)
			}
			bus.executor = e
		} else {
			bus.executor = SyncExecutor{}
		}
	}
	if bus.store == nil {
		bus.store = storage.NewMemoryEventStore()
	}
	if bus.codec == nil {
		bus.codec = eventcore.NewJSONCodec()
	}
	if bus.logger == nil {
		bus.logger = slog.Default()
	}
	if bus.metrics == nil {
		bus.metrics = observability.NoopMetrics{}
	}
	if bus.spans == nil {
		bus.spans = observability.NoopSpanManager{}
	}
	if bus.clock == nil {
		bus.clock = eventcore.DefaultClock()
	}
	if bus.deadLetters == nil {
		bus.deadLetters = NewMemoryDeadLetters(0)
	}
	if bus.enricher != nil {
		if err := bus.enricher.Validate(); err != nil {
			return nil, fmt.Errorf("bus: %w", err)
		}
	}
	bus.commands = NewCommandRegistry(bus.logger)
	bus.events = NewEventRegistry(bus.logger)
	return bus, nil
}
