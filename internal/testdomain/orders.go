// Package testdomain is a small order-handling domain shared by tests and
// benchmarks.
package testdomain

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/entity"
)

// Entity type names.
const (
	OrderType       = "order"
	FulfillmentType = "fulfillment"
)

// ErrOrderExists is returned when creating an order twice.
var ErrOrderExists = errors.New("order already exists")

// ErrUnknownOrder is returned for commands on an order never created.
var ErrUnknownOrder = errors.New("unknown order")

// Commands.
type (
	CreateOrder struct {
		OrderID  string `json:"order_id"`
		Customer string `json:"customer"`
	}
	AddLine struct {
		OrderID string `json:"order_id"`
		SKU     string `json:"sku"`
		Qty     int    `json:"qty"`
	}
	CancelOrder struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	}
	ShipOrder struct {
		ShipmentID string `json:"shipment_id"`
		OrderID    string `json:"order_id"`
	}
)

func (CreateOrder) MessageClass() eventcore.MessageClass { return "orders.CreateOrder" }
func (AddLine) MessageClass() eventcore.MessageClass     { return "orders.AddLine" }
func (CancelOrder) MessageClass() eventcore.MessageClass { return "orders.CancelOrder" }
func (ShipOrder) MessageClass() eventcore.MessageClass   { return "orders.ShipOrder" }

// Events.
type (
	OrderCreated struct {
		OrderID  string `json:"order_id"`
		Customer string `json:"customer"`
	}
	LineAdded struct {
		OrderID string `json:"order_id"`
		SKU     string `json:"sku"`
		Qty     int    `json:"qty"`
	}
	OrderCancelled struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	}
	OrderShipped struct {
		OrderID string `json:"order_id"`
		Lines   int    `json:"lines"`
	}
)

func (OrderCreated) MessageClass() eventcore.MessageClass   { return "orders.OrderCreated" }
func (LineAdded) MessageClass() eventcore.MessageClass      { return "orders.LineAdded" }
func (OrderCancelled) MessageClass() eventcore.MessageClass { return "orders.OrderCancelled" }
func (OrderShipped) MessageClass() eventcore.MessageClass   { return "orders.OrderShipped" }

// OrderState is the state of the order aggregate.
type OrderState struct {
	Created   bool           `json:"created"`
	Customer  string         `json:"customer"`
	Lines     map[string]int `json:"lines"`
	Cancelled bool           `json:"cancelled"`
}

// Orders is the order aggregate type.
var Orders = entity.NewAggregate(OrderType, func(string) OrderState {
	return OrderState{Lines: map[string]int{}}
}).
	Command(eventcore.ClassOf[CreateOrder](), createOrder).
	Command(eventcore.ClassOf[AddLine](), addLine).
	Command(eventcore.ClassOf[CancelOrder](), cancelOrder).
	Apply(eventcore.ClassOf[OrderCreated](), func(s OrderState, evt eventcore.Event) (OrderState, error) {
		e := evt.Message.(OrderCreated)
		s.Created = true
		s.Customer = e.Customer
		return s, nil
	}).
	Apply(eventcore.ClassOf[LineAdded](), func(s OrderState, evt eventcore.Event) (OrderState, error) {
		e := evt.Message.(LineAdded)
		lines := make(map[string]int, len(s.Lines)+1)
		for k, v := range s.Lines {
			lines[k] = v
		}
		lines[e.SKU] += e.Qty
		s.Lines = lines
		return s, nil
	}).
	Apply(eventcore.ClassOf[OrderCancelled](), func(s OrderState, _ eventcore.Event) (OrderState, error) {
		s.Cancelled = true
		return s, nil
	}).
	MustBuild()

func createOrder(_ context.Context, s OrderState, cmd eventcore.Command) ([]eventcore.Message, error) {
	c := cmd.Message.(CreateOrder)
	if s.Created {
		return nil, fmt.Errorf("%w: %s", ErrOrderExists, c.OrderID)
	}
	return []eventcore.Message{OrderCreated{OrderID: c.OrderID, Customer: c.Customer}}, nil
}

func addLine(_ context.Context, s OrderState, cmd eventcore.Command) ([]eventcore.Message, error) {
	c := cmd.Message.(AddLine)
	if !s.Created {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, c.OrderID)
	}
	return []eventcore.Message{LineAdded{OrderID: c.OrderID, SKU: c.SKU, Qty: c.Qty}}, nil
}

func cancelOrder(_ context.Context, s OrderState, cmd eventcore.Command) ([]eventcore.Message, error) {
	c := cmd.Message.(CancelOrder)
	if !s.Created {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, c.OrderID)
	}
	if s.Cancelled {
		return nil, nil
	}
	return []eventcore.Message{OrderCancelled{OrderID: c.OrderID, Reason: c.Reason}}, nil
}

// FulfillmentState is the state of the fulfillment process manager.
type FulfillmentState struct {
	Lines     int  `json:"lines"`
	Cancelled bool `json:"cancelled"`
	Shipped   bool `json:"shipped"`
}

// Fulfillment tracks orders until they ship. It is keyed by order id.
var Fulfillment = entity.NewManager[FulfillmentState](FulfillmentType, nil).
	Event(eventcore.ClassOf[LineAdded](), func(_ context.Context, s FulfillmentState, evt eventcore.Event) (FulfillmentState, []eventcore.Message, error) {
		s.Lines += evt.Message.(LineAdded).Qty
		return s, nil, nil
	}).
	Event(eventcore.ClassOf[OrderCancelled](), func(_ context.Context, s FulfillmentState, _ eventcore.Event) (FulfillmentState, []eventcore.Message, error) {
		s.Cancelled = true
		return s, nil, nil
	}).
	Command(eventcore.ClassOf[ShipOrder](), func(_ context.Context, s FulfillmentState, cmd eventcore.Command) (FulfillmentState, []eventcore.Message, error) {
		if s.Cancelled || s.Shipped {
			return s, nil, nil
		}
		s.Shipped = true
		return s, []eventcore.Message{OrderShipped{OrderID: cmd.Message.(ShipOrder).OrderID, Lines: s.Lines}}, nil
	}).
	MustBuild()

// Codec returns a JSON codec knowing every message of the domain.
func Codec() *eventcore.JSONCodec {
	c := eventcore.NewJSONCodec()
	eventcore.RegisterType[CreateOrder](c)
	eventcore.RegisterType[AddLine](c)
	eventcore.RegisterType[CancelOrder](c)
	eventcore.RegisterType[ShipOrder](c)
	eventcore.RegisterType[OrderCreated](c)
	eventcore.RegisterType[LineAdded](c)
	eventcore.RegisterType[OrderCancelled](c)
	eventcore.RegisterType[OrderShipped](c)
	return c
}
