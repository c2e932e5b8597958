package eventcore

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for routing and registration.
var (
	// ErrUnsupportedCommand indicates no dispatcher or handler exists for a command class.
	ErrUnsupportedCommand = errors.New("unsupported command")

	// ErrUnsupportedEvent indicates an entity has no applier or reactor for an event class.
	ErrUnsupportedEvent = errors.New("unsupported event")

	// ErrDispatcherConflict indicates a message class is already owned by another dispatcher.
	ErrDispatcherConflict = errors.New("message class already has a registered dispatcher")

	// ErrNoMessageClasses indicates a dispatcher or subscriber declared no classes.
	ErrNoMessageClasses = errors.New("no message classes declared")

	// ErrNotSubscribed indicates Unsubscribe was called for an unknown subscriber.
	ErrNotSubscribed = errors.New("subscriber not subscribed")
)

// Sentinel errors for entity identity and replay.
var (
	// ErrNoIDExtractor indicates a process manager has no id extractor for a class.
	ErrNoIDExtractor = errors.New("no id extractor")

	// ErrMissingID indicates a payload has no usable id field.
	ErrMissingID = errors.New("missing entity id")

	// ErrVersionGap indicates replayed events are not consecutive.
	ErrVersionGap = errors.New("event version gap")
)

// RegistrationError reports the classes that blocked a registration.
type RegistrationError struct {
	// Dispatcher names the dispatcher that was rejected.
	Dispatcher string
	// Classes are the conflicting classes, sorted.
	Classes []MessageClass
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	names := make([]string, len(e.Classes))
	for i, c := range e.Classes {
		names[i] = string(c)
	}
	if len(names) == 1 {
		return fmt.Sprintf("cannot register dispatcher %s for class %s: already registered", e.Dispatcher, names[0])
	}
	return fmt.Sprintf("cannot register dispatcher %s for classes (%s): already registered",
		e.Dispatcher, strings.Join(names, ", "))
}

// Unwrap returns ErrDispatcherConflict.
func (e *RegistrationError) Unwrap() error {
	return ErrDispatcherConflict
}

// MissingIDError reports a payload whose first field is not an id field.
type MissingIDError struct {
	Class MessageClass
	// Field is the name of the first field, empty if the payload has no fields.
	Field string
}

// Error implements the error interface.
func (e *MissingIDError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: message %s has no fields", ErrMissingID, e.Class)
	}
	return fmt.Sprintf("%s: first field %q of message %s does not end with \"id\"", ErrMissingID, e.Field, e.Class)
}

// Unwrap returns ErrMissingID.
func (e *MissingIDError) Unwrap() error {
	return ErrMissingID
}

// DispatchError wraps a failure with the message and entity it concerned.
type DispatchError struct {
	Class    MessageClass
	EntityID string
	// Op is the failed step ("extract", "load", "handle", "apply", "append").
	Op  string
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("dispatch %s: %s: %v", e.Class, e.Op, e.Err)
	}
	return fmt.Sprintf("dispatch %s to %s: %s: %v", e.Class, e.EntityID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// PanicError captures a recovered panic from a handler.
type PanicError struct {
	Handler string
	Value   any
	Stack   string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Handler, e.Value)
}
