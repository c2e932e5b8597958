package bus

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
	"github.com/randalmurphal/eventcore/pkg/eventcore/registry"
)

// Registry routes each message class to at most one dispatcher of type D.
// Lookups run concurrently; Register and Unregister are exclusive.
// The command side uses it; event classes fan out through EventRegistry.
type Registry[D comparable] struct {
	side    string
	classes func(D) []eventcore.MessageClass
	claims  *registry.Claims[eventcore.MessageClass, D]
	logger  *slog.Logger
}

// NewCommandRegistry creates a registry for command dispatchers.
func NewCommandRegistry(logger *slog.Logger) *Registry[eventcore.CommandDispatcher] {
	return newRegistry("command", eventcore.CommandDispatcher.CommandClasses, logger)
}

func newRegistry[D comparable](side string, classes func(D) []eventcore.MessageClass, logger *slog.Logger) *Registry[D] {
	return &Registry[D]{
		side:    side,
		classes: classes,
		claims:  registry.NewClaims[eventcore.MessageClass, D](),
		logger:  logger,
	}
}

// Register claims every class d declares. If any class belongs to another
// dispatcher nothing is registered and a *eventcore.RegistrationError lists
// the conflicts. Process managers may declare no classes.
func (r *Registry[D]) Register(d D) error {
	_, err := r.register(d)
	return err
}

// register is Register returning the classes d did not already own.
func (r *Registry[D]) register(d D) ([]eventcore.MessageClass, error) {
	classes := r.classes(d)
	if len(classes) == 0 {
		if eventcore.IsProcessManager(d) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s dispatcher %s", eventcore.ErrNoMessageClasses, r.side, eventcore.NameOf(d))
	}
	added, conflicts := r.claims.ClaimNew(d, classes)
	if len(conflicts) > 0 {
		return nil, &eventcore.RegistrationError{Dispatcher: eventcore.NameOf(d), Classes: conflicts}
	}
	return added, nil
}

// release drops the given classes of d without logging.
func (r *Registry[D]) release(d D, classes []eventcore.MessageClass) {
	r.claims.Release(d, classes)
}

// Unregister releases the classes owned by d. Classes owned by another
// dispatcher are logged and left alone.
func (r *Registry[D]) Unregister(d D) {
	for _, m := range r.claims.Release(d, r.classes(d)) {
		if !m.Owned {
			continue
		}
		observability.LogUnregisterMismatch(r.logger, m.Key, eventcore.NameOf(m.Current), eventcore.NameOf(d))
	}
}

// DispatcherFor returns the dispatcher registered for class.
func (r *Registry[D]) DispatcherFor(class eventcore.MessageClass) (D, bool) {
	return r.claims.Owner(class)
}

// HasDispatcher reports whether class has a dispatcher.
func (r *Registry[D]) HasDispatcher(class eventcore.MessageClass) bool {
	return r.claims.Has(class)
}

// Classes returns the registered classes in ascending order.
func (r *Registry[D]) Classes() []eventcore.MessageClass {
	return r.claims.Keys()
}

// Clear drops every registration.
func (r *Registry[D]) Clear() {
	r.claims.Clear()
}

// EventRegistry maps each event class to the set of event dispatchers that
// react to it. Unlike Registry, any number of dispatchers may share a class.
type EventRegistry struct {
	mu     sync.RWMutex
	byType map[eventcore.MessageClass][]eventcore.EventDispatcher
	logger *slog.Logger
}

// NewEventRegistry creates a registry for event dispatchers.
func NewEventRegistry(logger *slog.Logger) *EventRegistry {
	return &EventRegistry{
		byType: make(map[eventcore.MessageClass][]eventcore.EventDispatcher),
		logger: logger,
	}
}

// Register adds d for every class it declares. Registering the same
// dispatcher twice is a no-op. Process managers may declare no classes.
func (r *EventRegistry) Register(d eventcore.EventDispatcher) error {
	_, err := r.register(d)
	return err
}

func (r *EventRegistry) register(d eventcore.EventDispatcher) ([]eventcore.MessageClass, error) {
	classes := d.EventClasses()
	if len(classes) == 0 {
		if eventcore.IsProcessManager(d) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: event dispatcher %s", eventcore.ErrNoMessageClasses, eventcore.NameOf(d))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var added []eventcore.MessageClass
	for _, c := range classes {
		if slices.Contains(r.byType[c], d) {
			continue
		}
		r.byType[c] = append(r.byType[c], d)
		added = append(added, c)
	}
	return added, nil
}

// Unregister removes d from the classes it declares. Classes d was not
// registered for are logged and skipped.
func (r *EventRegistry) Unregister(d eventcore.EventDispatcher) {
	type mismatch struct {
		class      eventcore.MessageClass
		registered string
	}
	r.mu.Lock()
	var missing []mismatch
	for _, c := range d.EventClasses() {
		ds := r.byType[c]
		i := slices.Index(ds, d)
		if i < 0 {
			if len(ds) > 0 {
				missing = append(missing, mismatch{class: c, registered: dispatcherNames(ds)})
			}
			continue
		}
		r.remove(c, i)
	}
	r.mu.Unlock()
	for _, m := range missing {
		observability.LogUnregisterMismatch(r.logger, m.class, m.registered, eventcore.NameOf(d))
	}
}

// release drops d from classes without logging.
func (r *EventRegistry) release(d eventcore.EventDispatcher, classes []eventcore.MessageClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range classes {
		if i := slices.Index(r.byType[c], d); i >= 0 {
			r.remove(c, i)
		}
	}
}

func dispatcherNames(ds []eventcore.EventDispatcher) string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = eventcore.NameOf(d)
	}
	return strings.Join(names, ",")
}

func (r *EventRegistry) remove(c eventcore.MessageClass, i int) {
	ds := slices.Delete(slices.Clone(r.byType[c]), i, i+1)
	if len(ds) == 0 {
		delete(r.byType, c)
		return
	}
	r.byType[c] = ds
}

// DispatchersFor returns the dispatchers registered for class, in
// registration order.
func (r *EventRegistry) DispatchersFor(class eventcore.MessageClass) []eventcore.EventDispatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byType[class])
}

// HasDispatcher reports whether class has at least one dispatcher.
func (r *EventRegistry) HasDispatcher(class eventcore.MessageClass) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[class]) > 0
}

// Classes returns the registered classes in ascending order.
func (r *EventRegistry) Classes() []eventcore.MessageClass {
	r.mu.RLock()
	classes := make([]eventcore.MessageClass, 0, len(r.byType))
	for c := range r.byType {
		classes = append(classes, c)
	}
	r.mu.RUnlock()
	slices.Sort(classes)
	return classes
}

// Clear drops every registration.
func (r *EventRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byType)
}
