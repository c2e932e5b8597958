/*
Package eventcore is an event-sourcing and CQRS runtime.

# Overview

Domain objects are never stored as mutable rows. Every state change is an
immutable event appended to the log of the entity that produced it, and the
current state is rebuilt by replaying that log, optionally starting from a
snapshot. Commands go to exactly one dispatcher; the events they produce are
persisted and then delivered to any number of subscribers.

This package holds the message model shared by the subpackages:

  - MessageClass, Message, Context, Command and Event
  - Codec and JSONCodec, which decode payloads through an explicit type table
  - Clock, injected wherever a timestamp is taken
  - CommandDispatcher and EventDispatcher, the routing contracts
  - sentinel and typed errors

# Messages

Payloads are plain structs with a value-receiver MessageClass method:

	type CreateOrder struct {
	    OrderID  string `json:"order_id"`
	    Customer string `json:"customer"`
	}

	func (CreateOrder) MessageClass() eventcore.MessageClass { return "orders.CreateOrder" }

The entity a command targets is read from its first field, which must end
in "id", unless the payload implements Identified.

# Putting it together

	codec := eventcore.NewJSONCodec()
	eventcore.RegisterType[CreateOrder](codec)
	eventcore.RegisterType[OrderCreated](codec)

	orders := repository.New(Orders.New, storage.NewMemoryLog(), codec)

	b, err := bus.NewBuilder().WithCodec(codec).Build()
	if err != nil {
	    log.Fatal(err)
	}
	if err := b.Register(orders); err != nil {
	    log.Fatal(err)
	}
	events, err := b.Dispatch(ctx, eventcore.NewCommand(nil, CreateOrder{OrderID: "42"}))

# Subpackages

  - storage: entity logs read newest first, snapshot stores, event stores
  - entity: table-driven aggregates and process managers
  - repository: load, dispatch and snapshot entities
  - bus: command routing, event posting, subscribers, dead letters
  - enrich: projection of event and context fields into enrichments
  - config, observability, errors: configuration, logging and telemetry, retries
*/
package eventcore
