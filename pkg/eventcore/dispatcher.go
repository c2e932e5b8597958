package eventcore

import (
	"context"
	"fmt"
)

// CommandDispatcher handles the commands of the classes it declares.
type CommandDispatcher interface {
	CommandClasses() []MessageClass
	DispatchCommand(ctx context.Context, cmd Command) ([]Event, error)
}

// EventDispatcher changes state in response to the events it declares.
// Events it returns are published after the triggering event.
type EventDispatcher interface {
	EventClasses() []MessageClass
	DispatchEvent(ctx context.Context, evt Event) ([]Event, error)
}

// ProcessManagerDispatcher marks dispatchers that may legitimately declare no
// classes on one side, such as process managers driven only by events.
type ProcessManagerDispatcher interface {
	IsProcessManager() bool
}

// Named is implemented by dispatchers and subscribers with a readable name.
type Named interface {
	Name() string
}

// NameOf returns v's Name if it has one, otherwise its Go type.
func NameOf(v any) string {
	if n, ok := v.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", v)
}

// IsProcessManager reports whether d opted out of the non-empty class check.
func IsProcessManager(d any) bool {
	pm, ok := d.(ProcessManagerDispatcher)
	return ok && pm.IsProcessManager()
}
