// Package entity defines what repositories need from domain objects and
// provides table-driven implementations for aggregates and process managers.
//
// An aggregate is event-sourced: HandleCommand decides which events happen
// without touching state, and Apply evolves state one event at a time. A
// process manager is state-stored: its handlers change state directly and the
// whole state is persisted after every message.
package entity

import (
	"context"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// Stateful is the part shared by every entity kind.
type Stateful interface {
	ID() string
	Type() string
	// Version counts the changes applied so far. Zero means never changed.
	Version() int64
	MarshalState() ([]byte, error)
	// RestoreState replaces the state with a snapshot taken at version.
	RestoreState(state []byte, version int64) error
}

// Entity is an event-sourced aggregate.
type Entity interface {
	Stateful
	CommandClasses() []eventcore.MessageClass
	EventClasses() []eventcore.MessageClass
	// HandleCommand returns the payloads of the events the command causes.
	// It must not change state.
	HandleCommand(ctx context.Context, cmd eventcore.Command) ([]eventcore.Message, error)
	// Apply evolves state with evt. evt.Context.Version must be Version()+1.
	Apply(evt eventcore.Event) error
}

// ProcessManager is a state-stored coordinator reacting to commands and events.
type ProcessManager interface {
	Stateful
	CommandClasses() []eventcore.MessageClass
	EventClasses() []eventcore.MessageClass
	HandleCommand(ctx context.Context, cmd eventcore.Command) ([]eventcore.Message, error)
	HandleEvent(ctx context.Context, evt eventcore.Event) ([]eventcore.Message, error)
}

func zeroState[S any](string) S {
	var zero S
	return zero
}
