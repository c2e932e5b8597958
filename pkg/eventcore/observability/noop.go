package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordCommand(context.Context, eventcore.MessageClass, time.Duration, error) {}

func (NoopMetrics) RecordEventPosted(context.Context, eventcore.MessageClass) {}

func (NoopMetrics) RecordDelivery(context.Context, string, eventcore.MessageClass, time.Duration, error) {
}

func (NoopMetrics) RecordDeadEvent(context.Context, eventcore.MessageClass) {}

func (NoopMetrics) RecordReplay(context.Context, string, int) {}

func (NoopMetrics) RecordSnapshot(context.Context, string, int64) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

func (NoopSpanManager) StartDispatchSpan(ctx context.Context, _ eventcore.Command) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartPostSpan(ctx context.Context, _ eventcore.Event) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartDeliverySpan(ctx context.Context, _ string, _ eventcore.Event) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
