// Package handler builds explicit message-class handler tables.
//
// Entities and subscribers declare what they handle by listing
// class -> function pairs on a Builder at startup. The resulting Table is
// immutable and safe for concurrent lookups.
//
//	commands, err := handler.NewBuilder[CommandFunc]().
//	    On("orders.CreateOrder", createOrder).
//	    On("orders.CancelOrder", cancelOrder).
//	    Build()
package handler

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// Errors returned by Builder.Build.
var (
	// ErrDuplicateHandler indicates a class was given two handlers.
	ErrDuplicateHandler = errors.New("duplicate handler for message class")

	// ErrInvalidHandler indicates an empty class or a nil handler.
	ErrInvalidHandler = errors.New("invalid handler")
)

// Table maps message classes to handlers of type H.
// A nil *Table behaves as an empty table.
type Table[H any] struct {
	entries map[eventcore.MessageClass]H
	classes []eventcore.MessageClass
}

// Lookup returns the handler registered for class.
func (t *Table[H]) Lookup(class eventcore.MessageClass) (H, bool) {
	if t == nil {
		var zero H
		return zero, false
	}
	h, ok := t.entries[class]
	return h, ok
}

// Has reports whether class has a handler.
func (t *Table[H]) Has(class eventcore.MessageClass) bool {
	_, ok := t.Lookup(class)
	return ok
}

// Classes returns the handled classes in ascending order.
func (t *Table[H]) Classes() []eventcore.MessageClass {
	if t == nil {
		return nil
	}
	return slices.Clone(t.classes)
}

// Len returns the number of handled classes.
func (t *Table[H]) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Builder collects class -> handler pairs.
// Errors are accumulated and reported by Build, so calls can be chained.
type Builder[H any] struct {
	entries map[eventcore.MessageClass]H
	errs    []error
}

// NewBuilder starts an empty table.
func NewBuilder[H any]() *Builder[H] {
	return &Builder[H]{entries: make(map[eventcore.MessageClass]H)}
}

// On registers h for class.
func (b *Builder[H]) On(class eventcore.MessageClass, h H) *Builder[H] {
	switch {
	case class == "":
		b.errs = append(b.errs, fmt.Errorf("%w: empty message class", ErrInvalidHandler))
	case isNil(h):
		b.errs = append(b.errs, fmt.Errorf("%w: nil handler for %s", ErrInvalidHandler, class))
	default:
		if _, dup := b.entries[class]; dup {
			b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateHandler, class))
			return b
		}
		b.entries[class] = h
	}
	return b
}

// Build returns the table, or every registration error joined.
func (b *Builder[H]) Build() (*Table[H], error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	t := &Table[H]{
		entries: make(map[eventcore.MessageClass]H, len(b.entries)),
		classes: make([]eventcore.MessageClass, 0, len(b.entries)),
	}
	for c, h := range b.entries {
		t.entries[c] = h
		t.classes = append(t.classes, c)
	}
	slices.Sort(t.classes)
	return t, nil
}

// MustBuild is Build that panics on error. Intended for package-level tables.
func (b *Builder[H]) MustBuild() *Table[H] {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

func isNil(h any) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Interface, reflect.Chan, reflect.Slice:
		return v.IsNil()
	}
	return false
}
