package entity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/handler"
)

// CommandFunc decides which events a command causes given the current state.
type CommandFunc[S any] func(ctx context.Context, state S, cmd eventcore.Command) ([]eventcore.Message, error)

// ApplyFunc returns the state after evt.
type ApplyFunc[S any] func(state S, evt eventcore.Event) (S, error)

// AggregateType describes one kind of aggregate: its initial state and the
// handler tables for commands and events.
type AggregateType[S any] struct {
	name     string
	initial  func(id string) S
	commands *handler.Table[CommandFunc[S]]
	appliers *handler.Table[ApplyFunc[S]]
}

// AggregateBuilder assembles an AggregateType.
type AggregateBuilder[S any] struct {
	name     string
	initial  func(id string) S
	commands *handler.Builder[CommandFunc[S]]
	appliers *handler.Builder[ApplyFunc[S]]
}

// NewAggregate starts an aggregate type named name. A nil initial yields
// the zero S.
func NewAggregate[S any](name string, initial func(id string) S) *AggregateBuilder[S] {
	return &AggregateBuilder[S]{
		name:     name,
		initial:  initial,
		commands: handler.NewBuilder[CommandFunc[S]](),
		appliers: handler.NewBuilder[ApplyFunc[S]](),
	}
}

// Command registers the handler for a command class.
func (b *AggregateBuilder[S]) Command(class eventcore.MessageClass, fn CommandFunc[S]) *AggregateBuilder[S] {
	b.commands.On(class, fn)
	return b
}

// Apply registers the applier for an event class.
func (b *AggregateBuilder[S]) Apply(class eventcore.MessageClass, fn ApplyFunc[S]) *AggregateBuilder[S] {
	b.appliers.On(class, fn)
	return b
}

// Build validates both tables.
func (b *AggregateBuilder[S]) Build() (*AggregateType[S], error) {
	commands, err := b.commands.Build()
	if err != nil {
		return nil, fmt.Errorf("aggregate %s commands: %w", b.name, err)
	}
	appliers, err := b.appliers.Build()
	if err != nil {
		return nil, fmt.Errorf("aggregate %s appliers: %w", b.name, err)
	}
	initial := b.initial
	if initial == nil {
		initial = zeroState[S]
	}
	return &AggregateType[S]{name: b.name, initial: initial, commands: commands, appliers: appliers}, nil
}

// MustBuild is Build that panics on error.
func (b *AggregateBuilder[S]) MustBuild() *AggregateType[S] {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the entity type name.
func (t *AggregateType[S]) Name() string { return t.name }

// New returns a fresh aggregate at version 0.
func (t *AggregateType[S]) New(id string) *Aggregate[S] {
	return &Aggregate[S]{typ: t, id: id, state: t.initial(id)}
}

// Aggregate is a table-driven Entity with state S.
// S is serialized as JSON for snapshots.
type Aggregate[S any] struct {
	typ     *AggregateType[S]
	id      string
	version int64
	state   S
}

var _ Entity = (*Aggregate[struct{}])(nil)

func (a *Aggregate[S]) ID() string     { return a.id }
func (a *Aggregate[S]) Type() string   { return a.typ.name }
func (a *Aggregate[S]) Version() int64 { return a.version }

// State returns the current state.
func (a *Aggregate[S]) State() S { return a.state }

func (a *Aggregate[S]) CommandClasses() []eventcore.MessageClass { return a.typ.commands.Classes() }
func (a *Aggregate[S]) EventClasses() []eventcore.MessageClass   { return a.typ.appliers.Classes() }

// HandleCommand implements Entity.
func (a *Aggregate[S]) HandleCommand(ctx context.Context, cmd eventcore.Command) ([]eventcore.Message, error) {
	fn, ok := a.typ.commands.Lookup(cmd.Class())
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", eventcore.ErrUnsupportedCommand, cmd.Class(), a.typ.name)
	}
	return fn(ctx, a.state, cmd)
}

// Apply implements Entity.
func (a *Aggregate[S]) Apply(evt eventcore.Event) error {
	if want := a.version + 1; evt.Context.Version != want {
		return fmt.Errorf("%w: %s %s expected version %d, got %d",
			eventcore.ErrVersionGap, a.typ.name, a.id, want, evt.Context.Version)
	}
	fn, ok := a.typ.appliers.Lookup(evt.Class())
	if !ok {
		return fmt.Errorf("%w: %s on %s", eventcore.ErrUnsupportedEvent, evt.Class(), a.typ.name)
	}
	next, err := fn(a.state, evt)
	if err != nil {
		return err
	}
	a.state = next
	a.version = evt.Context.Version
	return nil
}

// MarshalState implements Stateful.
func (a *Aggregate[S]) MarshalState() ([]byte, error) {
	return json.Marshal(a.state)
}

// RestoreState implements Stateful.
func (a *Aggregate[S]) RestoreState(state []byte, version int64) error {
	next := a.typ.initial(a.id)
	if err := json.Unmarshal(state, &next); err != nil {
		return fmt.Errorf("restore %s %s: %w", a.typ.name, a.id, err)
	}
	a.state = next
	a.version = version
	return nil
}
