package eventcore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/eventcore/pkg/eventcore/registry"
)

// ErrUnknownClass indicates the codec has no type registered for a class.
var ErrUnknownClass = errors.New("unknown message class")

// Codec converts payloads to bytes and back.
// Decode needs the class because the bytes carry no type information.
type Codec interface {
	Encode(msg Message) ([]byte, error)
	Decode(class MessageClass, data []byte) (Message, error)
}

type decodeFunc func(data []byte) (Message, error)

// JSONCodec encodes payloads as JSON and decodes them through an explicit type table.
type JSONCodec struct {
	types *registry.Registry[MessageClass, decodeFunc]
}

// NewJSONCodec creates a codec with an empty type table.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{types: registry.New[MessageClass, decodeFunc]()}
}

// RegisterType adds M to the codec's type table under M's class.
// Decoded values are returned as M, not *M.
func RegisterType[M Message](c *JSONCodec) {
	c.types.Register(ClassOf[M](), func(data []byte) (Message, error) {
		var m M
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	})
}

// Encode implements Codec.
func (c *JSONCodec) Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("encode nil message")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageClass(), err)
	}
	return data, nil
}

// Decode implements Codec.
func (c *JSONCodec) Decode(class MessageClass, data []byte) (Message, error) {
	dec, ok := c.types.Get(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	msg, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", class, err)
	}
	return msg, nil
}

// Classes returns the registered classes in ascending order.
func (c *JSONCodec) Classes() []MessageClass {
	return c.types.Keys()
}
