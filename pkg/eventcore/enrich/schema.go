// Package enrich projects event and context fields into enrichment messages
// delivered to subscribers next to the event.
//
// An enrichment schema names, for each of its fields, the source it is filled
// from with a `by` reference. References containing "context" resolve against
// the event context; all others against the event payload. Dotted references
// resolve to their last segment:
//
//	type OrderView struct {
//	    Customer string `json:"customer" by:"orders.OrderCreated.customer_id"`
//	    PlacedAt string `json:"placed_at" by:"context.timestamp"`
//	}
//
// A ReferenceValidator checks the references once per configuration. A
// reference that resolves to nothing is a configuration error. A resolved
// field is only used when a conversion Function from its type to the target
// type is registered; otherwise it is left out, so registering functions
// later can only add fields.
package enrich

import (
	"reflect"
	"strings"

	"github.com/randalmurphal/eventcore/pkg/eventcore"
)

// Field describes one field of a schema.
type Field struct {
	Name string
	Type reflect.Type
	// By is the source reference of an enrichment field.
	By string
	// Index locates the field in its Go struct. Nil for hand-written schemas.
	Index []int
}

// Schema lists the fields of an event, context or enrichment message.
type Schema struct {
	Name   string
	Fields []Field
}

// Field returns the field called name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ContextSchema is the schema of eventcore.Context.
var ContextSchema = SchemaFor[eventcore.Context]()

// SchemaFor derives a schema from the exported fields of struct T. Field
// names come from `json` tags when present, references from `by` tags.
func SchemaFor[T any]() Schema {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s := Schema{Name: t.String()}
	if t.Kind() != reflect.Struct {
		return s
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		s.Fields = append(s.Fields, Field{
			Name:  name,
			Type:  sf.Type,
			By:    sf.Tag.Get("by"),
			Index: sf.Index,
		})
	}
	return s
}
