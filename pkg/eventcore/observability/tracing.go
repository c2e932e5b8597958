package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDispatchSpan starts a span for a command dispatch.
	StartDispatchSpan(ctx context.Context, cmd eventcore.Command) (context.Context, trace.Span)

	// StartPostSpan starts a span for posting an event.
	StartPostSpan(ctx context.Context, evt eventcore.Event) (context.Context, trace.Span)

	// StartDeliverySpan starts a span for one subscriber delivery.
	// It should be a child of the post span.
	StartDeliverySpan(ctx context.Context, subscriber string, evt eventcore.Event) (context.Context, trace.Span)

	// EndSpanWithError completes a span, recording err if non-nil.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager on the global OTel tracer provider.
func NewSpanManager() SpanManager {
	return NewSpanManagerWith(otel.GetTracerProvider())
}

// NewSpanManagerWith returns a SpanManager on provider.
func NewSpanManagerWith(provider trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: provider.Tracer("eventcore")}
}

func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, cmd eventcore.Command) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "eventcore.dispatch "+string(cmd.Class()),
		trace.WithAttributes(
			attribute.String("message.class", string(cmd.Class())),
			attribute.String("message.id", cmd.Context.ID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartPostSpan(ctx context.Context, evt eventcore.Event) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "eventcore.post "+string(evt.Class()),
		trace.WithAttributes(
			attribute.String("message.class", string(evt.Class())),
			attribute.String("message.id", evt.Context.ID),
			attribute.String("entity.id", evt.Context.EntityID),
			attribute.Int64("entity.version", evt.Context.Version),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, subscriber string, evt eventcore.Event) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "eventcore.deliver "+subscriber,
		trace.WithAttributes(
			attribute.String("subscriber", subscriber),
			attribute.String("message.class", string(evt.Class())),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
