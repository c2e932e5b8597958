package entity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/handler"
)

// ReactFunc changes process manager state in response to a command or event
// and may emit events.
type ReactFunc[S, M any] func(ctx context.Context, state S, msg M) (S, []eventcore.Message, error)

// ManagerType describes one kind of process manager.
type ManagerType[S any] struct {
	name     string
	initial  func(id string) S
	commands *handler.Table[ReactFunc[S, eventcore.Command]]
	events   *handler.Table[ReactFunc[S, eventcore.Event]]
}

// ManagerBuilder assembles a ManagerType.
type ManagerBuilder[S any] struct {
	name     string
	initial  func(id string) S
	commands *handler.Builder[ReactFunc[S, eventcore.Command]]
	events   *handler.Builder[ReactFunc[S, eventcore.Event]]
}

// NewManager starts a process manager type named name.
func NewManager[S any](name string, initial func(id string) S) *ManagerBuilder[S] {
	return &ManagerBuilder[S]{
		name:     name,
		initial:  initial,
		commands: handler.NewBuilder[ReactFunc[S, eventcore.Command]](),
		events:   handler.NewBuilder[ReactFunc[S, eventcore.Event]](),
	}
}

// Command registers the handler for a command class.
func (b *ManagerBuilder[S]) Command(class eventcore.MessageClass, fn ReactFunc[S, eventcore.Command]) *ManagerBuilder[S] {
	b.commands.On(class, fn)
	return b
}

// Event registers the handler for an event class.
func (b *ManagerBuilder[S]) Event(class eventcore.MessageClass, fn ReactFunc[S, eventcore.Event]) *ManagerBuilder[S] {
	b.events.On(class, fn)
	return b
}

// Build validates both tables. A process manager may handle no commands or
// no events, but not neither.
func (b *ManagerBuilder[S]) Build() (*ManagerType[S], error) {
	commands, err := b.commands.Build()
	if err != nil {
		return nil, fmt.Errorf("process manager %s commands: %w", b.name, err)
	}
	events, err := b.events.Build()
	if err != nil {
		return nil, fmt.Errorf("process manager %s events: %w", b.name, err)
	}
	if commands.Len() == 0 && events.Len() == 0 {
		return nil, fmt.Errorf("process manager %s: %w", b.name, eventcore.ErrNoMessageClasses)
	}
	initial := b.initial
	if initial == nil {
		initial = zeroState[S]
	}
	return &ManagerType[S]{name: b.name, initial: initial, commands: commands, events: events}, nil
}

// MustBuild is Build that panics on error.
func (b *ManagerBuilder[S]) MustBuild() *ManagerType[S] {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the entity type name.
func (t *ManagerType[S]) Name() string { return t.name }

// New returns a fresh process manager at version 0.
func (t *ManagerType[S]) New(id string) *Manager[S] {
	return &Manager[S]{typ: t, id: id, state: t.initial(id)}
}

// Manager is a table-driven ProcessManager with state S.
// Every handled message advances the version by the number of messages it
// produced, and by one when it produced none.
type Manager[S any] struct {
	typ     *ManagerType[S]
	id      string
	version int64
	state   S
}

var _ ProcessManager = (*Manager[struct{}])(nil)

func (m *Manager[S]) ID() string     { return m.id }
func (m *Manager[S]) Type() string   { return m.typ.name }
func (m *Manager[S]) Version() int64 { return m.version }

// State returns the current state.
func (m *Manager[S]) State() S { return m.state }

func (m *Manager[S]) CommandClasses() []eventcore.MessageClass { return m.typ.commands.Classes() }
func (m *Manager[S]) EventClasses() []eventcore.MessageClass   { return m.typ.events.Classes() }

// HandleCommand implements ProcessManager.
func (m *Manager[S]) HandleCommand(ctx context.Context, cmd eventcore.Command) ([]eventcore.Message, error) {
	fn, ok := m.typ.commands.Lookup(cmd.Class())
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", eventcore.ErrUnsupportedCommand, cmd.Class(), m.typ.name)
	}
	return react(ctx, m, fn, cmd)
}

// HandleEvent implements ProcessManager.
func (m *Manager[S]) HandleEvent(ctx context.Context, evt eventcore.Event) ([]eventcore.Message, error) {
	fn, ok := m.typ.events.Lookup(evt.Class())
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", eventcore.ErrUnsupportedEvent, evt.Class(), m.typ.name)
	}
	return react(ctx, m, fn, evt)
}

func react[S, M any](ctx context.Context, m *Manager[S], fn ReactFunc[S, M], msg M) ([]eventcore.Message, error) {
	next, out, err := fn(ctx, m.state, msg)
	if err != nil {
		return nil, err
	}
	m.state = next
	m.version += int64(max(1, len(out)))
	return out, nil
}

// MarshalState implements Stateful.
func (m *Manager[S]) MarshalState() ([]byte, error) {
	return json.Marshal(m.state)
}

// RestoreState implements Stateful.
func (m *Manager[S]) RestoreState(state []byte, version int64) error {
	next := m.typ.initial(m.id)
	if err := json.Unmarshal(state, &next); err != nil {
		return fmt.Errorf("restore %s %s: %w", m.typ.name, m.id, err)
	}
	m.state = next
	m.version = version
	return nil
}
