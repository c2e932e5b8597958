package bus_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventcore/internal/testdomain"
	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/bus"
	"github.com/randalmurphal/eventcore/pkg/eventcore/config"
	"github.com/randalmurphal/eventcore/pkg/eventcore/enrich"
	"github.com/randalmurphal/eventcore/pkg/eventcore/handler"
	"github.com/randalmurphal/eventcore/pkg/eventcore/repository"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

var (
	now   = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock = eventcore.FixedClock(now)
)

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *logBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []map[string]any
	for _, line := range bytes.Split(l.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func (l *logBuffer) find(t *testing.T, msg string) map[string]any {
	t.Helper()
	for _, r := range l.records(t) {
		if r["msg"] == msg {
			return r
		}
	}
	return nil
}

func newLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

type harness struct {
	bus    *bus.Bus
	store  *storage.MemoryEventStore
	logs   *logBuffer
	errors []string
	mu     sync.Mutex
}

func newHarness(t *testing.T, configure ...func(*bus.Builder)) *harness {
	t.Helper()
	logger, logs := newLogger()
	h := &harness{store: storage.NewMemoryEventStore(), logs: logs}
	b := bus.NewBuilder().
		WithEventStore(h.store).
		WithCodec(testdomain.Codec()).
		WithClock(clock).
		WithLogger(logger).
		OnError(func(_ eventcore.Event, handler string, _ error) {
			h.mu.Lock()
			h.errors = append(h.errors, handler)
			h.mu.Unlock()
		})
	for _, c := range configure {
		c(b)
	}
	var err error
	h.bus, err = b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.bus.Close() })
	return h
}

func (h *harness) failures() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.errors...)
}

func (h *harness) registerOrders(t *testing.T) {
	t.Helper()
	orders := repository.New(testdomain.Orders.New, storage.NewMemoryLog(), testdomain.Codec(), repository.WithClock(clock))
	fulfillment := repository.NewProcessManagers(testdomain.Fulfillment.New, storage.NewMemorySnapshotStore(),
		handler.NewBuilder[repository.IDExtractor]().
			On(eventcore.ClassOf[testdomain.LineAdded](), repository.ByEntityID).
			On(eventcore.ClassOf[testdomain.OrderCancelled](), repository.ByEntityID).
			On(eventcore.ClassOf[testdomain.ShipOrder](), func(msg eventcore.Message, _ eventcore.Context) (string, error) {
				return msg.(testdomain.ShipOrder).OrderID, nil
			}).
			MustBuild(),
		repository.WithClock(clock))
	require.NoError(t, h.bus.Register(orders))
	require.NoError(t, h.bus.Register(fulfillment))
}

func created(id string) eventcore.Event {
	evt := eventcore.NewEvent(clock, testdomain.OrderCreated{OrderID: id, Customer: "ada"})
	evt.Context.EntityID = id
	return evt
}

func TestPost_DeadEvent(t *testing.T) {
	h := newHarness(t)
	evt := created("42")

	require.NoError(t, h.bus.Post(context.Background(), evt))

	recs, err := h.store.Read(context.Background(), storage.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, evt.Context.ID, recs[0].Context.ID)

	dead := h.logs.find(t, "dead event: no subscribers")
	require.NotNil(t, dead)
	assert.Equal(t, "WARN", dead["level"])
	assert.Equal(t, "orders.OrderCreated", dead["class"])
}

func TestPost_FailingSubscribersDoNotAffectStoredEvent(t *testing.T) {
	h := newHarness(t)
	var good atomic.Int32
	class := eventcore.ClassOf[testdomain.OrderCreated]()

	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("panics").
		On(class, func(context.Context, bus.Delivery) error { panic("boom") }).
		MustBuild()))
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("errors").
		On(class, func(context.Context, bus.Delivery) error { return errors.New("nope") }).
		MustBuild()))
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("good").
		On(class, func(context.Context, bus.Delivery) error { good.Add(1); return nil }).
		MustBuild()))

	evt := created("42")
	require.NoError(t, h.bus.Post(context.Background(), evt))

	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, int32(1), good.Load())
	assert.ElementsMatch(t, []string{"panics", "errors"}, h.failures())

	letters, err := h.bus.DeadLetters().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	for _, l := range letters {
		assert.Equal(t, evt.Context.ID, l.EventID())
		assert.Equal(t, 1, l.Attempts)
		assert.Equal(t, now, l.FirstFailedAt)
	}
	assert.Nil(t, h.logs.find(t, "dead event: no subscribers"))
	assert.NotNil(t, h.logs.find(t, "subscriber failed"))
}

type failingStore struct{ storage.EventStore }

func (failingStore) Append(context.Context, ...storage.Record) error {
	return errors.New("disk full")
}

func TestPost_StoreFailureSkipsDelivery(t *testing.T) {
	h := newHarness(t, func(b *bus.Builder) {
		b.WithEventStore(failingStore{storage.NewMemoryEventStore()})
	})
	called := false
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("s").
		On(eventcore.ClassOf[testdomain.OrderCreated](), func(context.Context, bus.Delivery) error { called = true; return nil }).
		MustBuild()))

	err := h.bus.Post(context.Background(), created("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, called)
}

func TestPost_FillsMissingContext(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bus.Post(context.Background(), eventcore.Event{Message: testdomain.OrderCreated{OrderID: "1"}}))

	recs, err := h.store.Read(context.Background(), storage.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].Context.ID)
	assert.Equal(t, now, recs[0].Context.Timestamp)
}

func TestDispatch_Unsupported(t *testing.T) {
	h := newHarness(t)
	_, err := h.bus.Dispatch(context.Background(), eventcore.NewCommand(clock, testdomain.CreateOrder{OrderID: "1"}))
	require.ErrorIs(t, err, eventcore.ErrUnsupportedCommand)
	assert.NotNil(t, h.logs.find(t, "command dispatch failed"))
}

func TestDispatch_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.registerOrders(t)

	var shipped []testdomain.OrderShipped
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("shipping").
		On(eventcore.ClassOf[testdomain.OrderShipped](), bus.Handle(func(_ context.Context, msg testdomain.OrderShipped, _ bus.Delivery) error {
			shipped = append(shipped, msg)
			return nil
		})).
		MustBuild()))

	ctx := context.Background()
	for _, msg := range []eventcore.Message{
		testdomain.CreateOrder{OrderID: "42", Customer: "ada"},
		testdomain.AddLine{OrderID: "42", SKU: "a", Qty: 2},
		testdomain.AddLine{OrderID: "42", SKU: "b", Qty: 3},
	} {
		events, err := h.bus.Dispatch(ctx, eventcore.NewCommand(clock, msg))
		require.NoError(t, err)
		require.Len(t, events, 1)
	}

	events, err := h.bus.Dispatch(ctx, eventcore.NewCommand(clock, testdomain.ShipOrder{ShipmentID: "s-1", OrderID: "42"}))
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, []testdomain.OrderShipped{{OrderID: "42", Lines: 5}}, shipped)
	assert.Equal(t, 4, h.store.Len())

	lines, err := h.store.Read(ctx, storage.Filter{Classes: []eventcore.MessageClass{eventcore.ClassOf[testdomain.LineAdded]()}})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, []int64{2, 3}, []int64{lines[0].Version, lines[1].Version})
	assert.Empty(t, h.failures())
}

func TestDispatch_HandlerErrorIsReturned(t *testing.T) {
	h := newHarness(t)
	h.registerOrders(t)

	_, err := h.bus.Dispatch(context.Background(), eventcore.NewCommand(clock, testdomain.AddLine{OrderID: "nope", SKU: "a", Qty: 1}))
	require.ErrorIs(t, err, testdomain.ErrUnknownOrder)
	assert.Zero(t, h.store.Len())
}

type bothSides struct {
	fakeDispatcher
	events []eventcore.MessageClass
}

func (b *bothSides) EventClasses() []eventcore.MessageClass { return b.events }

func (b *bothSides) DispatchEvent(context.Context, eventcore.Event) ([]eventcore.Event, error) {
	return nil, nil
}

func TestRegister_AllOrNothingAcrossSides(t *testing.T) {
	h := newHarness(t)
	first := &bothSides{fakeDispatcher: fakeDispatcher{name: "first", classes: []eventcore.MessageClass{"cmd.A"}}, events: []eventcore.MessageClass{"evt.X"}}
	require.NoError(t, h.bus.Register(first))

	// No event classes and not a process manager: the command side is undone.
	second := &bothSides{fakeDispatcher: fakeDispatcher{name: "second", classes: []eventcore.MessageClass{"cmd.B"}}}
	require.ErrorIs(t, h.bus.Register(second), eventcore.ErrNoMessageClasses)
	assert.False(t, h.bus.Commands().HasDispatcher("cmd.B"))

	// A command-side conflict leaves the event side untouched.
	third := &bothSides{fakeDispatcher: fakeDispatcher{name: "third", classes: []eventcore.MessageClass{"cmd.A"}}, events: []eventcore.MessageClass{"evt.Y"}}
	require.ErrorIs(t, h.bus.Register(third), eventcore.ErrDispatcherConflict)
	assert.False(t, h.bus.Events().HasDispatcher("evt.Y"))

	h.bus.Unregister(first)
	assert.Empty(t, h.bus.Commands().Classes())
	assert.Empty(t, h.bus.Events().Classes())

	require.ErrorIs(t, h.bus.Register(struct{}{}), eventcore.ErrNoMessageClasses)
}

func TestRegister_FailedReRegistrationKeepsEarlierClaims(t *testing.T) {
	h := newHarness(t)
	d := &bothSides{fakeDispatcher: fakeDispatcher{name: "d", classes: []eventcore.MessageClass{"cmd.A"}}, events: []eventcore.MessageClass{"evt.X"}}
	require.NoError(t, h.bus.Register(d))

	d.classes = []eventcore.MessageClass{"cmd.A", "cmd.B"}
	d.events = nil
	require.ErrorIs(t, h.bus.Register(d), eventcore.ErrNoMessageClasses)

	owner, ok := h.bus.Commands().DispatcherFor("cmd.A")
	require.True(t, ok, "cmd.A was owned before the failed call")
	assert.Same(t, d, owner)
	assert.False(t, h.bus.Commands().HasDispatcher("cmd.B"))
	assert.True(t, h.bus.Events().HasDispatcher("evt.X"))
}

type reactingDispatcher struct {
	bothSides
	calls atomic.Int32
	emit  []eventcore.Event
	err   error
}

func (r *reactingDispatcher) DispatchEvent(context.Context, eventcore.Event) ([]eventcore.Event, error) {
	r.calls.Add(1)
	return r.emit, r.err
}

func reacting(name string, class eventcore.MessageClass) *reactingDispatcher {
	return &reactingDispatcher{bothSides: bothSides{fakeDispatcher: fakeDispatcher{name: name, pm: true}, events: []eventcore.MessageClass{class}}}
}

func TestPost_EveryEventDispatcherRuns(t *testing.T) {
	h := newHarness(t)
	class := eventcore.ClassOf[testdomain.OrderCreated]()

	line := eventcore.NewEvent(clock, testdomain.LineAdded{OrderID: "1", SKU: "a", Qty: 1})
	projection := reacting("projection", class)
	failing := reacting("failing", class)
	failing.err = errors.New("projection store down")
	fulfillment := reacting("fulfillment", class)
	fulfillment.emit = []eventcore.Event{line}

	for _, d := range []*reactingDispatcher{projection, failing, fulfillment} {
		require.NoError(t, h.bus.Register(d))
	}
	require.NoError(t, h.bus.Register(projection))
	assert.Len(t, h.bus.Events().DispatchersFor(class), 3)

	require.NoError(t, h.bus.Post(context.Background(), created("1")))

	assert.Equal(t, int32(1), projection.calls.Load())
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), fulfillment.calls.Load())
	assert.Equal(t, []string{"failing"}, h.failures())
	assert.Equal(t, 2, h.store.Len(), "the produced LineAdded is posted too")

	h.bus.Unregister(failing)
	assert.Len(t, h.bus.Events().DispatchersFor(class), 2)
}

type panickingDispatcher struct{ bothSides }

func (p *panickingDispatcher) DispatchEvent(context.Context, eventcore.Event) ([]eventcore.Event, error) {
	panic("dispatcher down")
}

func TestPost_EventDispatcherPanicIsContained(t *testing.T) {
	h := newHarness(t)
	class := eventcore.ClassOf[testdomain.OrderCreated]()
	d := &panickingDispatcher{bothSides{fakeDispatcher: fakeDispatcher{name: "pm", pm: true}, events: []eventcore.MessageClass{class}}}
	require.NoError(t, h.bus.Register(d))

	require.NoError(t, h.bus.Post(context.Background(), created("1")))
	assert.Equal(t, []string{"pm"}, h.failures())
	assert.NotNil(t, h.logs.find(t, "event dispatcher failed"))
	// Dispatchers are not subscribers: the event is still reported as dead.
	assert.NotNil(t, h.logs.find(t, "dead event: no subscribers"))
}

type orderView struct {
	Customer string `json:"customer" by:"customer"`
	Actor    string `json:"actor" by:"context.actor_id"`
}

func TestPost_Enrichment(t *testing.T) {
	en := enrich.New(nil)
	enrich.Bind[testdomain.OrderCreated, orderView](en)
	require.NoError(t, en.AddFunction(enrich.Identity[string]()))
	h := newHarness(t, func(b *bus.Builder) { b.WithEnricher(en) })

	var got []bus.Delivery
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("view").
		On(eventcore.ClassOf[testdomain.OrderCreated](), func(_ context.Context, d bus.Delivery) error {
			got = append(got, d)
			return nil
		}).
		MustBuild()))

	evt := eventcore.NewEvent(clock, testdomain.OrderCreated{OrderID: "1", Customer: "ada"}, eventcore.WithActor("clerk"))
	require.NoError(t, h.bus.Post(context.Background(), evt))
	skip := eventcore.NewEvent(clock, testdomain.OrderCreated{OrderID: "2", Customer: "bob"}, eventcore.WithoutEnrichment())
	require.NoError(t, h.bus.Post(context.Background(), skip))

	require.Len(t, got, 2)
	view, ok := bus.Enrichment[orderView](got[0])
	require.True(t, ok)
	assert.Equal(t, orderView{Customer: "ada", Actor: "clerk"}, view)
	assert.Empty(t, got[1].Enrichments)
}

func TestBuild_InvalidEnrichment(t *testing.T) {
	type broken struct {
		Total int `json:"total" by:"total"`
	}
	en := enrich.New(nil)
	enrich.Bind[testdomain.OrderCreated, broken](en)

	_, err := bus.NewBuilder().WithEnricher(en).Build()
	require.ErrorIs(t, err, enrich.ErrUnresolvedReference)
}

func TestBuild_ExecutorFromSettings(t *testing.T) {
	_, err := bus.NewBuilder().WithSettings(config.BusSettings{Executor: "threads"}).Build()
	require.Error(t, err)

	b, err := bus.NewBuilder().WithSettings(config.BusSettings{Executor: config.ExecutorPool, Workers: 2, QueueSize: 4}).Build()
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestPost_PoolExecutor(t *testing.T) {
	h := newHarness(t, func(b *bus.Builder) { b.WithExecutor(bus.NewPoolExecutor(4, 8)) })
	var delivered atomic.Int32
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("counter").
		On(eventcore.ClassOf[testdomain.OrderCreated](), func(context.Context, bus.Delivery) error {
			delivered.Add(1)
			return nil
		}).
		MustBuild()))

	const n = 100
	for i := range n {
		require.NoError(t, h.bus.Post(context.Background(), created(string(rune('a'+i%26)))))
		// Persisted before Post returns, whatever the workers are doing.
		assert.Equal(t, i+1, h.store.Len())
	}
	require.NoError(t, h.bus.Close())
	assert.Equal(t, int32(n), delivered.Load())
}

func TestPost_SubscriberPostsFollowUpOnPool(t *testing.T) {
	h := newHarness(t, func(b *bus.Builder) { b.WithExecutor(bus.NewPoolExecutor(1, 0)) })
	followed := make(chan eventcore.Event, 1)

	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("reactor").
		On(eventcore.ClassOf[testdomain.OrderCreated](), func(ctx context.Context, d bus.Delivery) error {
			line := eventcore.NewEvent(clock, testdomain.LineAdded{OrderID: d.Event.Context.EntityID, SKU: "sku-1", Qty: 1})
			line.Context.EntityID = d.Event.Context.EntityID
			return h.bus.Post(ctx, line)
		}).
		MustBuild()))
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("lines").
		On(eventcore.ClassOf[testdomain.LineAdded](), func(_ context.Context, d bus.Delivery) error {
			followed <- d.Event
			return nil
		}).
		MustBuild()))

	require.NoError(t, h.bus.Post(context.Background(), created("7")))

	select {
	case evt := <-followed:
		assert.Equal(t, "7", evt.Context.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up event was not delivered")
	}
	assert.Equal(t, 2, h.store.Len())
	assert.Empty(t, h.failures())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	h := newHarness(t)
	class := eventcore.ClassOf[testdomain.OrderCreated]()
	s := bus.NewSubscriber("s").On(class, func(context.Context, bus.Delivery) error { return nil }).MustBuild()

	require.NoError(t, h.bus.Subscribe(s))
	require.NoError(t, h.bus.Subscribe(s))
	assert.True(t, h.bus.HasSubscribers(class))

	require.NoError(t, h.bus.Unsubscribe(s))
	assert.False(t, h.bus.HasSubscribers(class))
	require.ErrorIs(t, h.bus.Unsubscribe(s), eventcore.ErrNotSubscribed)

	_, err := bus.NewSubscriber("empty").Build()
	require.ErrorIs(t, err, eventcore.ErrNoMessageClasses)
}

func TestRedeliver(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	require.NoError(t, h.bus.Subscribe(bus.NewSubscriber("flaky").
		On(eventcore.ClassOf[testdomain.OrderCreated](), bus.Handle(func(_ context.Context, msg testdomain.OrderCreated, _ bus.Delivery) error {
			if calls.Add(1) < 3 {
				return errors.New("not yet")
			}
			assert.Equal(t, "ada", msg.Customer)
			return nil
		})).
		MustBuild()))

	ctx := context.Background()
	require.NoError(t, h.bus.Post(ctx, created("1")))

	n, err := h.bus.Redeliver(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	letters, err := h.bus.DeadLetters().List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 2, letters[0].Attempts)

	n, err = h.bus.Redeliver(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	count, err := h.bus.DeadLetters().Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.registerOrders(t)
	require.NoError(t, h.bus.Close())
	require.NoError(t, h.bus.Close())

	assert.Empty(t, h.bus.Commands().Classes())
	_, err := h.bus.Dispatch(context.Background(), eventcore.NewCommand(clock, testdomain.CreateOrder{OrderID: "1"}))
	require.ErrorIs(t, err, bus.ErrBusClosed)
	require.ErrorIs(t, h.bus.Post(context.Background(), created("1")), bus.ErrBusClosed)
}
