package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/eventcore/internal/testdomain"
	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/bus"
	"github.com/randalmurphal/eventcore/pkg/eventcore/repository"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

var clock = eventcore.FixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

func newBus(b *testing.B, log storage.Log, opts ...repository.Option) *bus.Bus {
	b.Helper()
	bb, err := bus.NewBuilder().WithCodec(testdomain.Codec()).WithClock(clock).Build()
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = bb.Close() })
	opts = append(opts, repository.WithClock(clock))
	if err := bb.Register(repository.New(testdomain.Orders.New, log, testdomain.Codec(), opts...)); err != nil {
		b.Fatal(err)
	}
	return bb
}

func dispatch(b *testing.B, bb *bus.Bus, msg eventcore.Message) {
	if _, err := bb.Dispatch(context.Background(), eventcore.NewCommand(clock, msg)); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkDispatch_NewEntity creates a fresh order per iteration.
func BenchmarkDispatch_NewEntity(b *testing.B) {
	bb := newBus(b, storage.NewMemoryLog())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dispatch(b, bb, testdomain.CreateOrder{OrderID: fmt.Sprint(i), Customer: "c"})
	}
}

// BenchmarkDispatch_GrowingHistory appends to one order whose history grows
// with b.N, with and without snapshots.
func BenchmarkDispatch_GrowingHistory(b *testing.B) {
	for _, every := range []int{0, 100} {
		b.Run(fmt.Sprintf("snapshot_every_%d", every), func(b *testing.B) {
			log, err := storage.NewFileLog(b.TempDir())
			if err != nil {
				b.Fatal(err)
			}
			b.Cleanup(func() { _ = log.Close() })
			bb := newBus(b, log, repository.WithSnapshots(storage.NewMemorySnapshotStore(), every))
			dispatch(b, bb, testdomain.CreateOrder{OrderID: "42", Customer: "c"})

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				dispatch(b, bb, testdomain.AddLine{OrderID: "42", SKU: "sku", Qty: 1})
			}
		})
	}
}

// BenchmarkPost_Subscribers fans one event out to 10 subscribers.
func BenchmarkPost_Subscribers(b *testing.B) {
	for _, executor := range []string{"sync", "pool"} {
		b.Run(executor, func(b *testing.B) {
			var exec bus.Executor = bus.SyncExecutor{}
			if executor == "pool" {
				exec = bus.NewPoolExecutor(4, 1024)
			}
			bb, err := bus.NewBuilder().WithCodec(testdomain.Codec()).WithClock(clock).WithExecutor(exec).Build()
			if err != nil {
				b.Fatal(err)
			}
			defer bb.Close()
			for i := range 10 {
				s := bus.NewSubscriber(fmt.Sprint("s", i)).
					On(eventcore.ClassOf[testdomain.OrderCreated](), func(context.Context, bus.Delivery) error { return nil }).
					MustBuild()
				if err := bb.Subscribe(s); err != nil {
					b.Fatal(err)
				}
			}
			evt := eventcore.NewEvent(clock, testdomain.OrderCreated{OrderID: "1", Customer: "c"})

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				evt.Context.ID = ""
				if err := bb.Post(context.Background(), evt); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
