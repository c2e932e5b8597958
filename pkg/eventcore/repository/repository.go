// Package repository loads entities from storage, hands them commands and
// events, and persists the outcome.
//
// Repository serves event-sourced aggregates: state is rebuilt from the
// latest snapshot plus the events after it, and new events are appended to
// the entity log. ProcessManagerRepository serves state-stored process
// managers. Both serialize work per entity id.
package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/entity"
	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/registry"
	"github.com/randalmurphal/eventcore/pkg/eventcore/storage"
)

// Repository dispatches commands to event-sourced entities of one type.
// It implements eventcore.CommandDispatcher.
type Repository[E entity.Entity] struct {
	settings
	entityType string
	newEntity  func(id string) E
	log        storage.Log
	codec      eventcore.Codec
	locks      *registry.Locks[string]
	commands   []eventcore.MessageClass
}

var _ eventcore.CommandDispatcher = (*Repository[entity.Entity])(nil)

// New creates a repository. newEntity must return a fresh entity at version 0;
// it is also called once with an empty id to learn the type and classes.
func New[E entity.Entity](newEntity func(id string) E, log storage.Log, codec eventcore.Codec, opts ...Option) *Repository[E] {
	proto := newEntity("")
	return &Repository[E]{
		settings:   apply(opts),
		entityType: proto.Type(),
		newEntity:  newEntity,
		log:        log,
		codec:      codec,
		locks:      registry.NewLocks[string](),
		commands:   proto.CommandClasses(),
	}
}

// Name returns the entity type.
func (r *Repository[E]) Name() string { return r.entityType }

// CommandClasses implements eventcore.CommandDispatcher.
func (r *Repository[E]) CommandClasses() []eventcore.MessageClass {
	return slices.Clone(r.commands)
}

// Load rebuilds the entity from its latest snapshot and the events after it.
// An entity without history is returned fresh at version 0.
func (r *Repository[E]) Load(ctx context.Context, id string) (E, error) {
	e := r.newEntity(id)

	if r.snapshots != nil {
		snap, err := r.snapshots.ReadSnapshot(ctx, id)
		switch {
		case err == nil:
			if err := e.RestoreState(snap.State, snap.Version); err != nil {
				return e, err
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			// replay from the start instead
			observability.LogSnapshotError(r.logger, r.entityType, id, "read", err)
		}
	}

	pending, err := r.readAfter(ctx, id, e.Version())
	if err != nil {
		return e, err
	}
	for i := len(pending) - 1; i >= 0; i-- {
		evt, err := pending[i].Event(r.codec)
		if err != nil {
			return e, fmt.Errorf("decode %s v%d: %w", id, pending[i].Version, err)
		}
		if err := e.Apply(evt); err != nil {
			return e, err
		}
	}
	r.metrics.RecordReplay(ctx, r.entityType, len(pending))
	return e, nil
}

// readAfter returns the records newer than version, newest first.
func (r *Repository[E]) readAfter(ctx context.Context, id string, version int64) ([]storage.Record, error) {
	it, err := r.log.ReadBackward(ctx, id)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []storage.Record
	for it.Next() {
		rec := it.Record()
		if rec.Version <= version {
			break
		}
		out = append(out, rec)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("read log of %s %s: %w", r.entityType, id, err)
	}
	return out, nil
}

// DispatchCommand implements eventcore.CommandDispatcher. The entity is
// loaded, handles the command, applies the resulting events and has them
// appended to its log in one batch.
func (r *Repository[E]) DispatchCommand(ctx context.Context, cmd eventcore.Command) ([]eventcore.Event, error) {
	class := cmd.Class()
	id, err := eventcore.ExtractID(cmd.Message)
	if err != nil {
		return nil, &eventcore.DispatchError{Class: class, Op: "extract", Err: err}
	}
	fail := func(op string, err error) ([]eventcore.Event, error) {
		return nil, &eventcore.DispatchError{Class: class, EntityID: id, Op: op, Err: err}
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	e, err := r.Load(ctx, id)
	if err != nil {
		return fail("load", err)
	}
	before := e.Version()

	msgs, err := e.HandleCommand(ctx, cmd)
	if err != nil {
		return fail("handle", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	events := make([]eventcore.Event, 0, len(msgs))
	records := make([]storage.Record, 0, len(msgs))
	for _, m := range msgs {
		evt := stamp(r.clock, m, cmd, id, r.entityType, e.Version()+1)
		if err := e.Apply(evt); err != nil {
			return fail("apply", err)
		}
		rec, err := storage.NewRecord(r.codec, evt)
		if err != nil {
			return fail("encode", err)
		}
		events = append(events, evt)
		records = append(records, rec)
	}

	if err := r.log.Append(ctx, records...); err != nil {
		return fail("append", err)
	}
	r.maybeSnapshot(ctx, e, before)
	return events, nil
}

func (r *Repository[E]) maybeSnapshot(ctx context.Context, e E, before int64) {
	if r.snapshots == nil || r.snapshotEvery <= 0 {
		return
	}
	every := int64(r.snapshotEvery)
	if before/every == e.Version()/every {
		return
	}

	state, err := e.MarshalState()
	if err != nil {
		observability.LogSnapshotError(r.logger, r.entityType, e.ID(), "marshal", err)
		return
	}
	snap := storage.Snapshot{EntityID: e.ID(), State: state, Version: e.Version(), Timestamp: r.clock.Now()}
	if _, err := ecerrors.Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.snapshots.WriteSnapshot(ctx, snap)
	}); err != nil {
		observability.LogSnapshotError(r.logger, r.entityType, e.ID(), "write", err)
		return
	}
	observability.LogSnapshot(r.logger, r.entityType, e.ID(), snap.Version, len(state))
	r.metrics.RecordSnapshot(ctx, r.entityType, int64(len(state)))
}

// stamp wraps a produced payload in an event caused by cause.
func stamp(clock eventcore.Clock, msg eventcore.Message, cause eventcore.Command, entityID, entityType string, version int64) eventcore.Event {
	evt := eventcore.NewEvent(clock, msg, eventcore.WithActor(cause.Context.ActorID))
	evt.Context.Version = version
	evt.Context.EntityID = entityID
	evt.Context.EntityType = entityType
	evt.Context.CommandID = cause.Context.ID
	evt.Context.DoNotEnrich = cause.Context.DoNotEnrich
	return evt
}
