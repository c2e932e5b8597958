package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/entity"
	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/handler"
	"github.com/randalmurphal/eventcore/pkg/eventcore/registry"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

// IDExtractor returns the process manager id a command or event is for.
type IDExtractor func(msg eventcore.Message, mctx eventcore.Context) (string, error)

// ByMessageID extracts the id the way aggregates do: from Identified or the
// payload's first id field.
func ByMessageID(msg eventcore.Message, _ eventcore.Context) (string, error) {
	return eventcore.ExtractID(msg)
}

// ByEntityID routes an event to the process manager sharing its entity id.
func ByEntityID(_ eventcore.Message, mctx eventcore.Context) (string, error) {
	if mctx.EntityID == "" {
		return "", eventcore.ErrMissingID
	}
	return mctx.EntityID, nil
}

// ProcessManagerRepository dispatches commands and events to state-stored
// process managers of one type. Every handled class needs an IDExtractor.
// State is written to the store after every handled message.
type ProcessManagerRepository[P entity.ProcessManager] struct {
	settings
	entityType string
	newManager func(id string) P
	store      storage.SnapshotStore
	extractors *handler.Table[IDExtractor]
	locks      *registry.Locks[string]
	commands   []eventcore.MessageClass
	events     []eventcore.MessageClass
}

var (
	_ eventcore.CommandDispatcher        = (*ProcessManagerRepository[entity.ProcessManager])(nil)
	_ eventcore.EventDispatcher          = (*ProcessManagerRepository[entity.ProcessManager])(nil)
	_ eventcore.ProcessManagerDispatcher = (*ProcessManagerRepository[entity.ProcessManager])(nil)
)

// NewProcessManagers creates a process manager repository keeping state in store.
func NewProcessManagers[P entity.ProcessManager](
	newManager func(id string) P,
	store storage.SnapshotStore,
	extractors *handler.Table[IDExtractor],
	opts ...Option,
) *ProcessManagerRepository[P] {
	proto := newManager("")
	return &ProcessManagerRepository[P]{
		settings:   apply(opts),
		entityType: proto.Type(),
		newManager: newManager,
		store:      store,
		extractors: extractors,
		locks:      registry.NewLocks[string](),
		commands:   proto.CommandClasses(),
		events:     proto.EventClasses(),
	}
}

// Name returns the entity type.
func (r *ProcessManagerRepository[P]) Name() string { return r.entityType }

// IsProcessManager implements eventcore.ProcessManagerDispatcher.
func (r *ProcessManagerRepository[P]) IsProcessManager() bool { return true }

// CommandClasses implements eventcore.CommandDispatcher.
func (r *ProcessManagerRepository[P]) CommandClasses() []eventcore.MessageClass {
	return slices.Clone(r.commands)
}

// EventClasses implements eventcore.EventDispatcher.
func (r *ProcessManagerRepository[P]) EventClasses() []eventcore.MessageClass {
	return slices.Clone(r.events)
}

// Load returns the stored process manager, or a fresh one.
func (r *ProcessManagerRepository[P]) Load(ctx context.Context, id string) (P, error) {
	pm := r.newManager(id)
	snap, err := r.store.ReadSnapshot(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return pm, nil
	}
	if err != nil {
		return pm, err
	}
	return pm, pm.RestoreState(snap.State, snap.Version)
}

// DispatchCommand implements eventcore.CommandDispatcher.
func (r *ProcessManagerRepository[P]) DispatchCommand(ctx context.Context, cmd eventcore.Command) ([]eventcore.Event, error) {
	return r.dispatch(ctx, cmd.Class(), cmd.Message, cmd.Context, true, func(pm P) ([]eventcore.Message, error) {
		return pm.HandleCommand(ctx, cmd)
	})
}

// DispatchEvent implements eventcore.EventDispatcher.
func (r *ProcessManagerRepository[P]) DispatchEvent(ctx context.Context, evt eventcore.Event) ([]eventcore.Event, error) {
	return r.dispatch(ctx, evt.Class(), evt.Message, evt.Context, false, func(pm P) ([]eventcore.Message, error) {
		return pm.HandleEvent(ctx, evt)
	})
}

func (r *ProcessManagerRepository[P]) dispatch(
	ctx context.Context,
	class eventcore.MessageClass,
	msg eventcore.Message,
	mctx eventcore.Context,
	fromCommand bool,
	handle func(P) ([]eventcore.Message, error),
) ([]eventcore.Event, error) {
	extract, ok := r.extractors.Lookup(class)
	if !ok {
		return nil, &eventcore.DispatchError{Class: class, Op: "extract",
			Err: fmt.Errorf("%w for %s in %s", eventcore.ErrNoIDExtractor, class, r.entityType)}
	}
	id, err := extract(msg, mctx)
	if err != nil {
		return nil, &eventcore.DispatchError{Class: class, Op: "extract", Err: err}
	}
	fail := func(op string, err error) ([]eventcore.Event, error) {
		return nil, &eventcore.DispatchError{Class: class, EntityID: id, Op: op, Err: err}
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	pm, err := r.Load(ctx, id)
	if err != nil {
		return fail("load", err)
	}
	before := pm.Version()
	msgs, err := handle(pm)
	if err != nil {
		return fail("handle", err)
	}
	// Each produced event takes the next version; the stored version covers
	// them all so the next handling continues after the last one.
	version := max(pm.Version(), before+int64(len(msgs)))

	state, err := pm.MarshalState()
	if err != nil {
		return fail("encode", err)
	}
	snap := storage.Snapshot{EntityID: id, State: state, Version: version, Timestamp: r.clock.Now()}
	if _, err := ecerrors.Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.store.WriteSnapshot(ctx, snap)
	}); err != nil {
		return fail("store", err)
	}

	events := make([]eventcore.Event, 0, len(msgs))
	for i, m := range msgs {
		evt := eventcore.NewEvent(r.clock, m, eventcore.WithActor(mctx.ActorID))
		evt.Context.Version = before + int64(i) + 1
		evt.Context.EntityID = id
		evt.Context.EntityType = r.entityType
		evt.Context.DoNotEnrich = mctx.DoNotEnrich
		if fromCommand {
			evt.Context.CommandID = mctx.ID
		}
		events = append(events, evt)
	}
	return events, nil
}
