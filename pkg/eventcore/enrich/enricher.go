package enrich

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// Enrichment is one enrichment message built for an event.
type Enrichment struct {
	// Class is the class of the enriched event.
	Class eventcore.MessageClass
	// Name is the enrichment schema name.
	Name string
	// Value is the enrichment struct, unset fields left at their zero value.
	Value any
	// Fields holds the values that were filled, by enrichment field name.
	Fields map[string]any
}

// As returns the enrichment value as T.
func As[T any](e Enrichment) (T, bool) {
	v, ok := e.Value.(T)
	return v, ok
}

type binding struct {
	eventType  reflect.Type
	targetType reflect.Type
	event      Schema
	enrichment Schema
}

// Enricher builds enrichment messages for the event classes bound to it.
// Validation results are cached until a function or binding is added.
type Enricher struct {
	mu        sync.RWMutex
	functions *Functions
	bindings  map[eventcore.MessageClass][]binding
	results   map[eventcore.MessageClass][]ValidationResult
	// gen changes whenever cached results become stale. A result computed
	// under an older gen is returned but not cached.
	gen    uint64
	logger *slog.Logger
}

// New creates an enricher with no bindings or functions.
func New(logger *slog.Logger) *Enricher {
	return &Enricher{
		functions: NewFunctions(),
		bindings:  make(map[eventcore.MessageClass][]binding),
		results:   make(map[eventcore.MessageClass][]ValidationResult),
		logger:    logger,
	}
}

// Bind enriches events of type E with N. N's fields carry `by` references
// into E or the event context.
func Bind[E eventcore.Message, N any](e *Enricher) {
	class := eventcore.ClassOf[E]()
	b := binding{
		eventType:  derefType(reflect.TypeFor[E]()),
		targetType: derefType(reflect.TypeFor[N]()),
		event:      SchemaFor[E](),
		enrichment: SchemaFor[N](),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings[class] = append(e.bindings[class], b)
	delete(e.results, class)
	e.gen++
}

// AddFunction registers a conversion function and drops cached results.
func (e *Enricher) AddFunction(fn Function) error {
	if err := e.functions.Add(fn); err != nil {
		return err
	}
	e.mu.Lock()
	clear(e.results)
	e.gen++
	e.mu.Unlock()
	return nil
}

// CanEnrich reports whether any enrichment is bound to class.
func (e *Enricher) CanEnrich(class eventcore.MessageClass) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.bindings[class]) > 0
}

// Validate checks every binding and returns the first reference error.
func (e *Enricher) Validate() error {
	e.mu.RLock()
	classes := make([]eventcore.MessageClass, 0, len(e.bindings))
	for c := range e.bindings {
		classes = append(classes, c)
	}
	e.mu.RUnlock()
	for _, c := range classes {
		if _, err := e.Results(c); err != nil {
			return err
		}
	}
	return nil
}

// Results returns the validation results of the bindings of class, in
// binding order.
func (e *Enricher) Results(class eventcore.MessageClass) ([]ValidationResult, error) {
	e.mu.RLock()
	cached, ok := e.results[class]
	bindings := e.bindings[class]
	gen := e.gen
	e.mu.RUnlock()
	if ok {
		return cached, nil
	}

	results := make([]ValidationResult, len(bindings))
	for i, b := range bindings {
		r, err := NewReferenceValidator(e.functions, b.event, b.enrichment, e.logger).Validate()
		if err != nil {
			return nil, err
		}
		results[i] = r
	}

	e.mu.Lock()
	if e.gen == gen {
		e.results[class] = results
	}
	e.mu.Unlock()
	return results, nil
}

// Enrich builds the enrichments of evt. Events marked DoNotEnrich and
// unbound classes yield none.
func (e *Enricher) Enrich(evt eventcore.Event) ([]Enrichment, error) {
	if evt.Context.DoNotEnrich || evt.Message == nil {
		return nil, nil
	}
	class := evt.Class()
	e.mu.RLock()
	bindings := e.bindings[class]
	e.mu.RUnlock()
	if len(bindings) == 0 {
		return nil, nil
	}
	results, err := e.Results(class)
	if err != nil {
		return nil, err
	}

	msg := reflect.ValueOf(evt.Message)
	for msg.Kind() == reflect.Pointer {
		msg = msg.Elem()
	}
	ctx := reflect.ValueOf(evt.Context)

	out := make([]Enrichment, 0, len(bindings))
	for i, b := range bindings {
		if msg.Type() != b.eventType {
			return nil, fmt.Errorf("enrich %s: payload is %s, bound to %s", class, msg.Type(), b.eventType)
		}
		en, err := build(b, results[i], msg, ctx)
		if err != nil {
			return nil, fmt.Errorf("enrich %s into %s: %w", class, b.enrichment.Name, err)
		}
		en.Class = class
		out = append(out, en)
	}
	return out, nil
}

func build(b binding, r ValidationResult, msg, ctx reflect.Value) (Enrichment, error) {
	target := reflect.New(b.targetType).Elem()
	fields := make(map[string]any, len(r.mappings))
	for _, m := range r.mappings {
		src := msg
		if m.FromContext {
			src = ctx
		}
		if m.Source.Index == nil || m.Target.Index == nil {
			return Enrichment{}, fmt.Errorf("field %s has no struct index", m.Target.Name)
		}
		v, err := m.Function.Apply(src.FieldByIndex(m.Source.Index).Interface())
		if err != nil {
			return Enrichment{}, fmt.Errorf("field %s: %w", m.Target.Name, err)
		}
		fields[m.Target.Name] = v
		if v != nil {
			target.FieldByIndex(m.Target.Index).Set(reflect.ValueOf(v))
		}
	}
	return Enrichment{Name: b.enrichment.Name, Value: target.Interface(), Fields: fields}, nil
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
