// Package observability carries eventcore's structured logging, metrics and
// tracing.
//
// Logging goes through log/slog; NewLogger builds a production slog.Logger on
// top of zap. Metrics and tracing use OpenTelemetry and have no-op variants
// for when they are disabled. Every Log helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// EnrichLogger adds message and entity fields to a logger.
func EnrichLogger(logger *slog.Logger, class eventcore.MessageClass, entityID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("class", string(class)),
		slog.String("entity_id", entityID),
	)
}

// LogDispatchComplete logs a handled command.
func LogDispatchComplete(logger *slog.Logger, class eventcore.MessageClass, entityID string, events int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("command dispatched",
		slog.String("class", string(class)),
		slog.String("entity_id", entityID),
		slog.Int("events", events),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchError logs a command that failed.
func LogDispatchError(logger *slog.Logger, class eventcore.MessageClass, err error) {
	if logger == nil {
		return
	}
	logger.Error("command dispatch failed",
		slog.String("class", string(class)),
		slog.String("error", err.Error()),
	)
}

// LogDeadEvent logs an event no subscriber listens to.
func LogDeadEvent(logger *slog.Logger, evt eventcore.Event) {
	if logger == nil {
		return
	}
	logger.Warn("dead event: no subscribers",
		slog.String("class", string(evt.Class())),
		slog.String("event_id", evt.Context.ID),
		slog.String("entity_id", evt.Context.EntityID),
	)
}

// LogSubscriberError logs a subscriber that failed or panicked.
func LogSubscriberError(logger *slog.Logger, subscriber string, evt eventcore.Event, err error) {
	if logger == nil {
		return
	}
	logger.Error("subscriber failed",
		slog.String("subscriber", subscriber),
		slog.String("class", string(evt.Class())),
		slog.String("event_id", evt.Context.ID),
		slog.String("error", err.Error()),
	)
}

// LogEventDispatcherError logs a failed event dispatcher, such as a
// process manager repository.
func LogEventDispatcherError(logger *slog.Logger, dispatcher string, evt eventcore.Event, err error) {
	if logger == nil {
		return
	}
	logger.Error("event dispatcher failed",
		slog.String("dispatcher", dispatcher),
		slog.String("class", string(evt.Class())),
		slog.String("event_id", evt.Context.ID),
		slog.String("error", err.Error()),
	)
}

// LogEnrichmentError logs an event delivered without enrichments because
// building them failed.
func LogEnrichmentError(logger *slog.Logger, evt eventcore.Event, err error) {
	if logger == nil {
		return
	}
	logger.Warn("enrichment failed",
		slog.String("class", string(evt.Class())),
		slog.String("event_id", evt.Context.ID),
		slog.String("error", err.Error()),
	)
}

// LogUnregisterMismatch logs a class that was skipped on unregister because
// another dispatcher owns it.
func LogUnregisterMismatch(logger *slog.Logger, class eventcore.MessageClass, registered, given string) {
	if logger == nil {
		return
	}
	logger.Warn("another dispatcher is registered for class",
		slog.String("class", string(class)),
		slog.String("registered", registered),
		slog.String("given", given),
	)
}

// LogNoConversion logs an enrichment field dropped for lack of a function.
func LogNoConversion(logger *slog.Logger, field, sourceType, targetType string) {
	if logger == nil {
		return
	}
	logger.Debug("no enrichment function, field excluded",
		slog.String("field", field),
		slog.String("source_type", sourceType),
		slog.String("target_type", targetType),
	)
}

// LogSnapshot logs a written snapshot.
func LogSnapshot(logger *slog.Logger, entityType, entityID string, version int64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("snapshot saved",
		slog.String("entity_type", entityType),
		slog.String("entity_id", entityID),
		slog.Int64("version", version),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogSnapshotError logs a snapshot failure. Snapshots are an optimization,
// so this is a warning.
func LogSnapshotError(logger *slog.Logger, entityType, entityID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("snapshot failed",
		slog.String("entity_type", entityType),
		slog.String("entity_id", entityID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation returns a function reporting the milliseconds elapsed since
// the call.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
