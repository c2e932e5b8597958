// Package bus routes commands to their single dispatcher and posts the
// resulting events: each event is persisted first, then handed to every event
// dispatcher of its class and finally delivered to every subscriber through
// an Executor.
//
//	b, err := bus.NewBuilder().
//	    WithEventStore(events).
//	    WithCodec(codec).
//	    WithLogger(logger).
//	    Build()
//	if err != nil { ... }
//	defer b.Close()
//
//	_ = b.Register(orders)         // command side
//	_ = b.Register(fulfillment)    // command and event side
//	_ = b.Subscribe(notifications)
//
//	events, err := b.Dispatch(ctx, eventcore.NewCommand(clock, CreateOrder{OrderID: "42"}))
//
// A subscriber failure never reaches the caller. It is logged, recorded in
// the DeadLetterStore and can be retried with Redeliver.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/enrich"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

// ErrBusClosed is returned by every operation after Close.
var ErrBusClosed = errors.New("bus closed")

// Bus is the command and event pipeline.
type Bus struct {
	store       storage.EventStore
	codec       eventcore.Codec
	executor    Executor
	logger      *slog.Logger
	enricher    *enrich.Enricher
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	clock       eventcore.Clock
	deadLetters DeadLetterStore
	onError     ErrorHandler

	commands *Registry[eventcore.CommandDispatcher]
	events   *EventRegistry

	subMu       sync.RWMutex
	subscribers map[eventcore.MessageClass][]*Subscriber

	closed atomic.Bool
}

// Commands returns the command dispatcher registry.
func (b *Bus) Commands() *Registry[eventcore.CommandDispatcher] { return b.commands }

// Events returns the event dispatcher registry.
func (b *Bus) Events() *Registry[eventcore.EventDispatcher] { return b.events }

// DeadLetters returns the dead-letter store.
func (b *Bus) DeadLetters() DeadLetterStore { return b.deadLetters }

// Register adds d on every side it implements. Registration is
// all-or-nothing: a failure on the event side undoes what this call claimed
// on the command side, leaving earlier registrations of d untouched.
func (b *Bus) Register(d any) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	cd, isCommand := d.(eventcore.CommandDispatcher)
	ed, isEvent := d.(eventcore.EventDispatcher)
	if !isCommand && !isEvent {
		return fmt.Errorf("%w: %s is neither a command nor an event dispatcher", eventcore.ErrNoMessageClasses, eventcore.NameOf(d))
	}
	var claimed []eventcore.MessageClass
	if isCommand {
		added, err := b.commands.register(cd)
		if err != nil {
			return err
		}
		claimed = added
	}
	if isEvent {
		if _, err := b.events.register(ed); err != nil {
			if isCommand {
				b.commands.release(cd, claimed)
			}
			return err
		}
	}
	return nil
}

// Unregister removes d from every side it implements.
func (b *Bus) Unregister(d any) {
	if cd, ok := d.(eventcore.CommandDispatcher); ok {
		b.commands.Unregister(cd)
	}
	if ed, ok := d.(eventcore.EventDispatcher); ok {
		b.events.Unregister(ed)
	}
}

// Subscribe adds s for each of its classes. Subscribing twice is a no-op.
func (b *Bus) Subscribe(s *Subscriber) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, c := range s.Classes() {
		if !slices.Contains(b.subscribers[c], s) {
			b.subscribers[c] = append(b.subscribers[c], s)
		}
	}
	return nil
}

// Unsubscribe removes s. It returns ErrNotSubscribed if s was not subscribed
// to any class.
func (b *Bus) Unsubscribe(s *Subscriber) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	found := false
	for _, c := range s.Classes() {
		subs := b.subscribers[c]
		i := slices.Index(subs, s)
		if i < 0 {
			continue
		}
		found = true
		subs = slices.Delete(slices.Clone(subs), i, i+1)
		if len(subs) == 0 {
			delete(b.subscribers, c)
		} else {
			b.subscribers[c] = subs
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", eventcore.ErrNotSubscribed, s.Name())
	}
	return nil
}

// HasSubscribers reports whether class has at least one subscriber.
func (b *Bus) HasSubscribers(class eventcore.MessageClass) bool {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers[class]) > 0
}

func (b *Bus) subscribersFor(class eventcore.MessageClass) []*Subscriber {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return slices.Clone(b.subscribers[class])
}

// Dispatch routes cmd to its dispatcher, posts the events it produced and
// returns them.
func (b *Bus) Dispatch(ctx context.Context, cmd eventcore.Command) ([]eventcore.Event, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	class := cmd.Class()
	b.fillContext(&cmd.Context)

	ctx, span := b.spans.StartDispatchSpan(ctx, cmd)
	start := time.Now()
	events, err := b.dispatch(ctx, cmd)
	b.metrics.RecordCommand(ctx, class, time.Since(start), err)
	b.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogDispatchError(b.logger, class, err)
		return nil, err
	}
	observability.LogDispatchComplete(b.logger, class, "", len(events), float64(time.Since(start).Microseconds())/1000)
	return events, nil
}

func (b *Bus) dispatch(ctx context.Context, cmd eventcore.Command) ([]eventcore.Event, error) {
	class := cmd.Class()
	d, ok := b.commands.DispatcherFor(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", eventcore.ErrUnsupportedCommand, class)
	}
	events, err := d.DispatchCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	for _, evt := range events {
		if err := b.Post(ctx, evt); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// Post persists evt, runs the event dispatchers of its class and delivers it
// to the subscribers of its class. Once the event is stored, handler failures
// are logged and never returned. Events produced by the event dispatchers are
// posted afterwards.
func (b *Bus) Post(ctx context.Context, evt eventcore.Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.fillContext(&evt.Context)
	class := evt.Class()

	ctx, span := b.spans.StartPostSpan(ctx, evt)
	rec, err := storage.NewRecord(b.codec, evt)
	if err == nil {
		err = b.store.Append(ctx, rec)
	}
	if err != nil {
		err = fmt.Errorf("post %s: store: %w", class, err)
		b.spans.EndSpanWithError(span, err)
		return err
	}
	b.metrics.RecordEventPosted(ctx, class)

	produced := b.dispatchEvent(ctx, evt)

	subs := b.subscribersFor(class)
	if len(subs) == 0 {
		observability.LogDeadEvent(b.logger, evt)
		b.metrics.RecordDeadEvent(ctx, class)
	}
	if len(subs) > 0 {
		delivery := Delivery{Event: evt, Enrichments: b.enrich(evt)}
		taskCtx := context.WithoutCancel(ctx)
		for _, s := range subs {
			b.executor.Submit(func() { b.deliver(taskCtx, s, delivery, rec) })
		}
	}
	b.spans.EndSpanWithError(span, nil)

	for _, p := range produced {
		if err := b.Post(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// dispatchEvent runs every event dispatcher of evt's class and collects the
// events they produced. A failing dispatcher is logged and skipped.
func (b *Bus) dispatchEvent(ctx context.Context, evt eventcore.Event) []eventcore.Event {
	var out []eventcore.Event
	for _, d := range b.events.DispatchersFor(evt.Class()) {
		name := eventcore.NameOf(d)
		produced, err := b.guard(name, func() ([]eventcore.Event, error) {
			return d.DispatchEvent(ctx, evt)
		})
		if err != nil {
			observability.LogEventDispatcherError(b.logger, name, evt, err)
			b.reportError(evt, name, err)
			continue
		}
		out = append(out, produced...)
	}
	return out
}

func (b *Bus) enrich(evt eventcore.Event) []enrich.Enrichment {
	if b.enricher == nil || evt.Context.DoNotEnrich {
		return nil
	}
	out, err := b.enricher.Enrich(evt)
	if err != nil {
		observability.LogEnrichmentError(b.logger, evt, err)
		return nil
	}
	return out
}

func (b *Bus) deliver(ctx context.Context, s *Subscriber, d Delivery, rec storage.Record) {
	ctx, span := b.spans.StartDeliverySpan(ctx, s.Name(), d.Event)
	start := time.Now()
	_, err := b.guard(s.Name(), func() ([]eventcore.Event, error) {
		return nil, s.Deliver(ctx, d)
	})
	b.metrics.RecordDelivery(ctx, s.Name(), d.Event.Class(), time.Since(start), err)
	b.spans.EndSpanWithError(span, err)
	if err == nil {
		return
	}
	observability.LogSubscriberError(b.logger, s.Name(), d.Event, err)
	b.reportError(d.Event, s.Name(), err)
	now := b.clock.Now()
	letter := DeadLetter{Record: rec, Subscriber: s.Name(), Error: err.Error(), FirstFailedAt: now, LastFailedAt: now}
	if dlErr := b.deadLetters.Add(ctx, letter); dlErr != nil {
		b.logger.Error("dead letter not recorded",
			slog.String("subscriber", s.Name()),
			slog.String("event_id", d.Event.Context.ID),
			slog.String("error", dlErr.Error()),
		)
	}
}

// guard runs fn and turns a panic into a *eventcore.PanicError.
func (b *Bus) guard(name string, fn func() ([]eventcore.Event, error)) (events []eventcore.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &eventcore.PanicError{Handler: name, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

func (b *Bus) reportError(evt eventcore.Event, handler string, err error) {
	if b.onError != nil {
		b.onError(evt, handler, err)
	}
}

func (b *Bus) fillContext(c *eventcore.Context) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = b.clock.Now()
	}
}

// Redeliver retries up to limit dead letters (all when limit <= 0) and
// returns how many succeeded. Entries whose subscriber is gone stay stored.
func (b *Bus) Redeliver(ctx context.Context, limit int) (int, error) {
	if b.closed.Load() {
		return 0, ErrBusClosed
	}
	letters, err := b.deadLetters.List(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list dead letters: %w", err)
	}
	delivered := 0
	for _, l := range letters {
		sub := b.findSubscriber(l.Class(), l.Subscriber)
		if sub == nil {
			continue
		}
		evt, err := l.Record.Event(b.codec)
		if err != nil {
			return delivered, fmt.Errorf("redeliver %s: %w", l.EventID(), err)
		}
		d := Delivery{Event: evt, Enrichments: b.enrich(evt)}
		_, err = b.guard(sub.Name(), func() ([]eventcore.Event, error) {
			return nil, sub.Deliver(ctx, d)
		})
		b.metrics.RecordDelivery(ctx, sub.Name(), evt.Class(), 0, err)
		if err != nil {
			observability.LogSubscriberError(b.logger, sub.Name(), evt, err)
			l.Error = err.Error()
			l.LastFailedAt = b.clock.Now()
			l.Attempts = 1
			if err := b.deadLetters.Add(ctx, l); err != nil {
				return delivered, err
			}
			continue
		}
		if err := b.deadLetters.Remove(ctx, l.EventID(), l.Subscriber); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

func (b *Bus) findSubscriber(class eventcore.MessageClass, name string) *Subscriber {
	for _, s := range b.subscribersFor(class) {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Close waits for pending deliveries and drops every registration and
// subscription. The event store is left open; its owner closes it.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.executor.Close()
	b.commands.Clear()
	b.events.Clear()
	b.subMu.Lock()
	clear(b.subscribers)
	b.subMu.Unlock()
	return nil
}
