package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// MetricsRecorder records eventcore metrics.
// Use NewMetricsRecorder for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordCommand records a dispatched command and whether it failed.
	RecordCommand(ctx context.Context, class eventcore.MessageClass, duration time.Duration, err error)

	// RecordEventPosted records an event persisted by the bus.
	RecordEventPosted(ctx context.Context, class eventcore.MessageClass)

	// RecordDelivery records one subscriber delivery.
	RecordDelivery(ctx context.Context, subscriber string, class eventcore.MessageClass, duration time.Duration, err error)

	// RecordDeadEvent records an event without subscribers.
	RecordDeadEvent(ctx context.Context, class eventcore.MessageClass)

	// RecordReplay records how many events were replayed to load an entity.
	RecordReplay(ctx context.Context, entityType string, events int)

	// RecordSnapshot records a snapshot write.
	RecordSnapshot(ctx context.Context, entityType string, sizeBytes int64)
}

type otelMetrics struct {
	commands       metric.Int64Counter
	commandLatency metric.Float64Histogram
	commandErrors  metric.Int64Counter
	eventsPosted   metric.Int64Counter
	deliveries     metric.Int64Counter
	deliveryErrors metric.Int64Counter
	deadEvents     metric.Int64Counter
	replayed       metric.Int64Histogram
	snapshotSize   metric.Int64Histogram
}

func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter("eventcore")
	m := &otelMetrics{}
	var err error

	if m.commands, err = meter.Int64Counter("eventcore.commands",
		metric.WithDescription("Number of dispatched commands")); err != nil {
		return nil, err
	}
	if m.commandLatency, err = meter.Float64Histogram("eventcore.command.latency_ms",
		metric.WithDescription("Command dispatch latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.commandErrors, err = meter.Int64Counter("eventcore.command.errors",
		metric.WithDescription("Number of failed commands")); err != nil {
		return nil, err
	}
	if m.eventsPosted, err = meter.Int64Counter("eventcore.events.posted",
		metric.WithDescription("Number of events persisted by the bus")); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("eventcore.deliveries",
		metric.WithDescription("Number of subscriber deliveries")); err != nil {
		return nil, err
	}
	if m.deliveryErrors, err = meter.Int64Counter("eventcore.delivery.errors",
		metric.WithDescription("Number of failed subscriber deliveries")); err != nil {
		return nil, err
	}
	if m.deadEvents, err = meter.Int64Counter("eventcore.events.dead",
		metric.WithDescription("Number of events posted without subscribers")); err != nil {
		return nil, err
	}
	if m.replayed, err = meter.Int64Histogram("eventcore.replay.events",
		metric.WithDescription("Events replayed per entity load")); err != nil {
		return nil, err
	}
	if m.snapshotSize, err = meter.Int64Histogram("eventcore.snapshot.size_bytes",
		metric.WithDescription("Snapshot size in bytes"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder on the global OTel meter
// provider. Configure the provider first with otel.SetMeterProvider.
func NewMetricsRecorder() MetricsRecorder {
	return NewMetricsRecorderWith(otel.GetMeterProvider())
}

// NewMetricsRecorderWith returns a MetricsRecorder on provider. If the
// instruments cannot be created it logs a warning and returns NoopMetrics.
func NewMetricsRecorderWith(provider metric.MeterProvider) MetricsRecorder {
	m, err := newOtelMetrics(provider)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func classAttr(class eventcore.MessageClass) attribute.KeyValue {
	return attribute.String("class", string(class))
}

func (m *otelMetrics) RecordCommand(ctx context.Context, class eventcore.MessageClass, duration time.Duration, err error) {
	attrs := metric.WithAttributes(classAttr(class))
	m.commands.Add(ctx, 1, attrs)
	m.commandLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.commandErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordEventPosted(ctx context.Context, class eventcore.MessageClass) {
	m.eventsPosted.Add(ctx, 1, metric.WithAttributes(classAttr(class)))
}

func (m *otelMetrics) RecordDelivery(ctx context.Context, subscriber string, class eventcore.MessageClass, _ time.Duration, err error) {
	attrs := metric.WithAttributes(classAttr(class), attribute.String("subscriber", subscriber))
	m.deliveries.Add(ctx, 1, attrs)
	if err != nil {
		m.deliveryErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordDeadEvent(ctx context.Context, class eventcore.MessageClass) {
	m.deadEvents.Add(ctx, 1, metric.WithAttributes(classAttr(class)))
}

func (m *otelMetrics) RecordReplay(ctx context.Context, entityType string, events int) {
	m.replayed.Record(ctx, int64(events), metric.WithAttributes(attribute.String("entity_type", entityType)))
}

func (m *otelMetrics) RecordSnapshot(ctx context.Context, entityType string, sizeBytes int64) {
	m.snapshotSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("entity_type", entityType)))
}
