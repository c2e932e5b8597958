package eventcore

import (
	"fmt"
	"reflect"
	"strings"
)

// Identified is implemented by payloads that name their entity directly.
type Identified interface {
	EntityID() string
}

// ExtractID returns the entity id carried by msg.
//
// Payloads implementing Identified are asked directly. Otherwise the first
// declared struct field must have a name ending in "id" (any case) and its
// value, formatted with %v, is the id. Anything else is a MissingIDError.
func ExtractID(msg Message) (string, error) {
	if msg == nil {
		return "", &MissingIDError{}
	}
	if idr, ok := msg.(Identified); ok {
		return idr.EntityID(), nil
	}

	v := reflect.ValueOf(msg)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", &MissingIDError{Class: msg.MessageClass()}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || v.NumField() == 0 {
		return "", &MissingIDError{Class: msg.MessageClass()}
	}

	field := v.Type().Field(0)
	if !strings.HasSuffix(strings.ToLower(field.Name), "id") {
		return "", &MissingIDError{Class: msg.MessageClass(), Field: field.Name}
	}
	return fmt.Sprint(v.Field(0)), nil
}
