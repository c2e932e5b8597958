package enrich

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/randalmurphal/eventcore/pkg/eventcore/observability"
)

// Reference validation errors.
var (
	// ErrNoReference indicates an enrichment field without a `by` reference.
	ErrNoReference = errors.New("enrichment field has no by reference")

	// ErrUnresolvedReference indicates a `by` reference naming no known field.
	ErrUnresolvedReference = errors.New("enrichment reference does not resolve")
)

const contextMarker = "context"

// ReferenceError describes an enrichment field whose reference is unusable.
type ReferenceError struct {
	// Reference is the `by` value, empty for ErrNoReference.
	Reference string
	// Source is the schema the reference was resolved against.
	Source string
	// Enrichment and Field name the offending enrichment field.
	Enrichment string
	Field      string
	Err        error
}

// Error implements the error interface.
func (e *ReferenceError) Error() string {
	if errors.Is(e.Err, ErrNoReference) {
		return fmt.Sprintf("enrichment field %s.%s has no by reference", e.Enrichment, e.Field)
	}
	return fmt.Sprintf("no field %q in %s, referenced by enrichment field %s.%s",
		lastSegment(e.Reference), e.Source, e.Enrichment, e.Field)
}

// Unwrap returns ErrNoReference or ErrUnresolvedReference.
func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// Mapping links one resolved source field to one enrichment field.
type Mapping struct {
	Source      Field
	FromContext bool
	Target      Field
	Function    Function
}

// SourceKey is the source field name, prefixed with "context." for context fields.
func (m Mapping) SourceKey() string {
	if m.FromContext {
		return contextMarker + "." + m.Source.Name
	}
	return m.Source.Name
}

// ValidationResult holds the usable mappings of one enrichment schema.
// It is not modified after Validate returns it.
type ValidationResult struct {
	mappings []Mapping
}

// Mappings returns the usable mappings in enrichment field order.
func (r ValidationResult) Mappings() []Mapping {
	return slices.Clone(r.mappings)
}

// Functions returns the conversion function of each mapping.
func (r ValidationResult) Functions() []Function {
	out := make([]Function, len(r.mappings))
	for i, m := range r.mappings {
		out[i] = m.Function
	}
	return out
}

// FieldMap returns, for each source field, the enrichment fields it fills.
func (r ValidationResult) FieldMap() map[string][]string {
	out := make(map[string][]string)
	for _, m := range r.mappings {
		key := m.SourceKey()
		out[key] = append(out[key], m.Target.Name)
	}
	return out
}

// Targets returns the enrichment fields filled from source.
func (r ValidationResult) Targets(source string) []string {
	return r.FieldMap()[source]
}

// Len returns the number of usable mappings.
func (r ValidationResult) Len() int {
	return len(r.mappings)
}

// ReferenceValidator checks the `by` references of an enrichment schema
// against an event schema and the context schema.
type ReferenceValidator struct {
	functions  FunctionLookup
	event      Schema
	context    Schema
	enrichment Schema
	logger     *slog.Logger
}

// NewReferenceValidator creates a validator. A nil logger discards output.
func NewReferenceValidator(functions FunctionLookup, event, enrichment Schema, logger *slog.Logger) *ReferenceValidator {
	return &ReferenceValidator{
		functions:  functions,
		event:      event,
		context:    ContextSchema,
		enrichment: enrichment,
		logger:     logger,
	}
}

// Validate resolves every enrichment field. The first field with a missing
// or unresolved reference aborts validation. Resolved fields without a
// conversion function are left out of the result.
func (v *ReferenceValidator) Validate() (ValidationResult, error) {
	var result ValidationResult
	for _, target := range v.enrichment.Fields {
		if target.By == "" {
			return ValidationResult{}, &ReferenceError{
				Source:     v.event.Name,
				Enrichment: v.enrichment.Name,
				Field:      target.Name,
				Err:        ErrNoReference,
			}
		}
		fromContext := strings.Contains(target.By, contextMarker)
		schema := v.event
		if fromContext {
			schema = v.context
		}
		source, ok := schema.Field(lastSegment(target.By))
		if !ok {
			return ValidationResult{}, &ReferenceError{
				Reference:  target.By,
				Source:     schema.Name,
				Enrichment: v.enrichment.Name,
				Field:      target.Name,
				Err:        ErrUnresolvedReference,
			}
		}
		fn, ok := v.functions.FunctionFor(source.Type, target.Type)
		if !ok {
			observability.LogNoConversion(v.logger, v.enrichment.Name+"."+target.Name,
				typeKey(source.Type), typeKey(target.Type))
			continue
		}
		result.mappings = append(result.mappings, Mapping{
			Source:      source,
			FromContext: fromContext,
			Target:      target,
			Function:    fn,
		})
	}
	return result, nil
}

func lastSegment(ref string) string {
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
