package entity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventcore/internal/testdomain"
	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/entity"
	"github.com/randalmurphal/eventcore/pkg/eventcore/handler"
)

var clock = eventcore.FixedClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

func event(msg eventcore.Message, version int64) eventcore.Event {
	evt := eventcore.NewEvent(clock, msg)
	evt.Context.Version = version
	return evt
}

func TestAggregate_HandleDoesNotChangeState(t *testing.T) {
	order := testdomain.Orders.New("42")

	msgs, err := order.HandleCommand(context.Background(),
		eventcore.NewCommand(clock, testdomain.CreateOrder{OrderID: "42", Customer: "ada"}))
	require.NoError(t, err)
	assert.Equal(t, []eventcore.Message{testdomain.OrderCreated{OrderID: "42", Customer: "ada"}}, msgs)
	assert.Zero(t, order.Version())
	assert.False(t, order.State().Created)
}

func TestAggregate_ApplyAdvancesVersion(t *testing.T) {
	order := testdomain.Orders.New("42")

	require.NoError(t, order.Apply(event(testdomain.OrderCreated{OrderID: "42", Customer: "ada"}, 1)))
	require.NoError(t, order.Apply(event(testdomain.LineAdded{OrderID: "42", SKU: "tea", Qty: 2}, 2)))

	assert.Equal(t, int64(2), order.Version())
	assert.Equal(t, "ada", order.State().Customer)
	assert.Equal(t, map[string]int{"tea": 2}, order.State().Lines)
}

func TestAggregate_Errors(t *testing.T) {
	order := testdomain.Orders.New("42")

	_, err := order.HandleCommand(context.Background(), eventcore.NewCommand(clock, testdomain.ShipOrder{OrderID: "42"}))
	assert.ErrorIs(t, err, eventcore.ErrUnsupportedCommand)

	err = order.Apply(event(testdomain.OrderCreated{OrderID: "42"}, 2))
	assert.ErrorIs(t, err, eventcore.ErrVersionGap)

	err = order.Apply(event(testdomain.OrderShipped{OrderID: "42"}, 1))
	assert.ErrorIs(t, err, eventcore.ErrUnsupportedEvent)
	assert.Zero(t, order.Version())

	_, err = order.HandleCommand(context.Background(), eventcore.NewCommand(clock, testdomain.AddLine{OrderID: "42"}))
	assert.ErrorIs(t, err, testdomain.ErrUnknownOrder)
}

func TestAggregate_StateRoundTrip(t *testing.T) {
	order := testdomain.Orders.New("42")
	require.NoError(t, order.Apply(event(testdomain.OrderCreated{OrderID: "42", Customer: "ada"}, 1)))
	require.NoError(t, order.Apply(event(testdomain.LineAdded{OrderID: "42", SKU: "tea", Qty: 1}, 2)))

	state, err := order.MarshalState()
	require.NoError(t, err)

	restored := testdomain.Orders.New("42")
	require.NoError(t, restored.RestoreState(state, order.Version()))
	assert.Equal(t, order.State(), restored.State())
	assert.Equal(t, int64(2), restored.Version())

	assert.Error(t, restored.RestoreState([]byte("{"), 3))
	assert.Equal(t, int64(2), restored.Version())
}

func TestAggregate_Classes(t *testing.T) {
	order := testdomain.Orders.New("1")
	assert.Equal(t, "order", order.Type())
	assert.Equal(t, []eventcore.MessageClass{"orders.AddLine", "orders.CancelOrder", "orders.CreateOrder"}, order.CommandClasses())
	assert.Equal(t, []eventcore.MessageClass{"orders.LineAdded", "orders.OrderCancelled", "orders.OrderCreated"}, order.EventClasses())
}

func TestAggregateBuilder_Errors(t *testing.T) {
	noop := func(context.Context, int, eventcore.Command) ([]eventcore.Message, error) { return nil, nil }

	_, err := entity.NewAggregate[int]("counter", nil).
		Command("Inc", noop).
		Command("Inc", noop).
		Build()
	assert.ErrorIs(t, err, handler.ErrDuplicateHandler)

	_, err = entity.NewAggregate[int]("counter", nil).
		Apply("", func(s int, _ eventcore.Event) (int, error) { return s, nil }).
		Build()
	assert.ErrorIs(t, err, handler.ErrInvalidHandler)

	assert.Panics(t, func() {
		entity.NewAggregate[int]("counter", nil).Command("Inc", nil).MustBuild()
	})
}

func TestAggregate_ZeroInitialState(t *testing.T) {
	typ := entity.NewAggregate[int]("counter", nil).
		Apply("Incremented", func(s int, _ eventcore.Event) (int, error) { return s + 1, nil }).
		MustBuild()

	c := typ.New("c")
	assert.Zero(t, c.State())
	require.NoError(t, c.RestoreState([]byte("41"), 41))
	assert.Equal(t, 41, c.State())
}
