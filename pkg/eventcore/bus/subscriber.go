package bus

import (
	"context"
	"fmt"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/enrich"
	"github.com/randalmurphal/eventcore/pkg/eventcore/handler"
)

// Delivery is what a subscriber receives for one event.
type Delivery struct {
	Event eventcore.Event
	// Enrichments is empty when the event is marked DoNotEnrich or no
	// enrichment is bound to its class.
	Enrichments []enrich.Enrichment
}

// Enrichment returns the first enrichment of type T.
func Enrichment[T any](d Delivery) (T, bool) {
	for _, e := range d.Enrichments {
		if v, ok := enrich.As[T](e); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// DeliveryFunc handles one delivered event.
type DeliveryFunc func(ctx context.Context, d Delivery) error

// Handle adapts a function on payload type M into a DeliveryFunc.
func Handle[M eventcore.Message](fn func(ctx context.Context, msg M, d Delivery) error) DeliveryFunc {
	return func(ctx context.Context, d Delivery) error {
		msg, ok := d.Event.Message.(M)
		if !ok {
			return fmt.Errorf("%w: %s payload is %T", eventcore.ErrUnsupportedEvent, d.Event.Class(), d.Event.Message)
		}
		return fn(ctx, msg, d)
	}
}

// Subscriber receives the events of the classes it declares.
type Subscriber struct {
	name  string
	table *handler.Table[DeliveryFunc]
}

// Name returns the subscriber name used in logs, metrics and dead letters.
func (s *Subscriber) Name() string { return s.name }

// Classes returns the subscribed event classes.
func (s *Subscriber) Classes() []eventcore.MessageClass { return s.table.Classes() }

// Deliver runs the handler for d's event class.
func (s *Subscriber) Deliver(ctx context.Context, d Delivery) error {
	fn, ok := s.table.Lookup(d.Event.Class())
	if !ok {
		return fmt.Errorf("%w: %s has no handler for %s", eventcore.ErrUnsupportedEvent, s.name, d.Event.Class())
	}
	return fn(ctx, d)
}

// SubscriberBuilder collects the handlers of a subscriber.
type SubscriberBuilder struct {
	name    string
	handler *handler.Builder[DeliveryFunc]
}

// NewSubscriber starts a subscriber called name.
func NewSubscriber(name string) *SubscriberBuilder {
	return &SubscriberBuilder{name: name, handler: handler.NewBuilder[DeliveryFunc]()}
}

// On handles events of class with fn.
func (b *SubscriberBuilder) On(class eventcore.MessageClass, fn DeliveryFunc) *SubscriberBuilder {
	b.handler.On(class, fn)
	return b
}

// Build returns the subscriber. At least one class is required.
func (b *SubscriberBuilder) Build() (*Subscriber, error) {
	table, err := b.handler.Build()
	if err != nil {
		return nil, fmt.Errorf("subscriber %s: %w", b.name, err)
	}
	if table.Len() == 0 {
		return nil, fmt.Errorf("%w: subscriber %s", eventcore.ErrNoMessageClasses, b.name)
	}
	return &Subscriber{name: b.name, table: table}, nil
}

// MustBuild is Build that panics on error.
func (b *SubscriberBuilder) MustBuild() *Subscriber {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
