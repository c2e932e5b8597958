package eventcore

import (
	"time"

	"github.com/google/uuid"
)

// MessageClass is the routing tag of a command or event payload.
type MessageClass string

// Message is a command or event payload.
// Implementations should use value receivers so the class can be read from a
// zero value.
type Message interface {
	MessageClass() MessageClass
}

// Context is the envelope carried next to every payload.
type Context struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`
	// ActorID identifies who produced the message.
	ActorID string `json:"actor_id,omitempty"`
	// Timestamp is taken from the injected clock.
	Timestamp time.Time `json:"timestamp"`
	// Version is the entity version after an event was applied. Zero for commands.
	Version int64 `json:"version,omitempty"`
	// EntityID and EntityType locate the entity that produced an event.
	EntityID   string `json:"entity_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	// CommandID links an event to the command that produced it.
	CommandID string `json:"command_id,omitempty"`
	// DoNotEnrich disables enrichment for subscribers.
	DoNotEnrich bool `json:"do_not_enrich,omitempty"`
}

// Command is a request routed to exactly one dispatcher.
type Command struct {
	Message Message
	Context Context
}

// Class returns the routing class of the command payload.
func (c Command) Class() MessageClass {
	if c.Message == nil {
		return ""
	}
	return c.Message.MessageClass()
}

// Event is an immutable fact produced by an entity.
type Event struct {
	Message Message
	Context Context
}

// Class returns the routing class of the event payload.
func (e Event) Class() MessageClass {
	if e.Message == nil {
		return ""
	}
	return e.Message.MessageClass()
}

// ContextOption adjusts a Context under construction.
type ContextOption func(*Context)

// WithActor sets the producing actor.
func WithActor(actorID string) ContextOption {
	return func(c *Context) { c.ActorID = actorID }
}

// WithMessageID sets a specific message ID instead of a generated UUID.
func WithMessageID(id string) ContextOption {
	return func(c *Context) { c.ID = id }
}

// WithoutEnrichment marks the message as not to be enriched.
func WithoutEnrichment() ContextOption {
	return func(c *Context) { c.DoNotEnrich = true }
}

// NewCommand wraps msg in a command with a fresh ID and a timestamp from clock.
// A nil clock falls back to DefaultClock.
func NewCommand(clock Clock, msg Message, opts ...ContextOption) Command {
	return Command{Message: msg, Context: newContext(clock, opts)}
}

// NewEvent wraps msg in an event with a fresh ID and a timestamp from clock.
func NewEvent(clock Clock, msg Message, opts ...ContextOption) Event {
	return Event{Message: msg, Context: newContext(clock, opts)}
}

func newContext(clock Clock, opts []ContextOption) Context {
	if clock == nil {
		clock = DefaultClock()
	}
	c := Context{ID: uuid.NewString(), Timestamp: clock.Now()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ClassOf returns the class of a zero M.
func ClassOf[M Message]() MessageClass {
	var zero M
	return zero.MessageClass()
}

// ClassesOf returns the classes of the given messages.
func ClassesOf(msgs ...Message) []MessageClass {
	out := make([]MessageClass, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageClass()
	}
	return out
}
