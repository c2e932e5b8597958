package enrich

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/randalmurphal/eventcore/pkg/eventcore/registry"
)

// ErrDuplicateFunction indicates a second function for the same type pair.
var ErrDuplicateFunction = errors.New("enrichment function already registered")

// Function converts a source field value into a target field value.
type Function interface {
	Source() reflect.Type
	Target() reflect.Type
	Apply(v any) (any, error)
}

type typedFunc[S, T any] struct {
	fn func(S) (T, error)
}

// Func wraps fn as a Function from S to T.
func Func[S, T any](fn func(S) (T, error)) Function {
	return typedFunc[S, T]{fn: fn}
}

// Identity is a Function copying values of type T unchanged.
func Identity[T any]() Function {
	return Func(func(v T) (T, error) { return v, nil })
}

func (f typedFunc[S, T]) Source() reflect.Type { return reflect.TypeFor[S]() }
func (f typedFunc[S, T]) Target() reflect.Type { return reflect.TypeFor[T]() }

func (f typedFunc[S, T]) Apply(v any) (any, error) {
	s, ok := v.(S)
	if !ok {
		return nil, fmt.Errorf("enrich: want %s, got %T", f.Source(), v)
	}
	return f.fn(s)
}

// FunctionLookup finds the function converting source into target.
type FunctionLookup interface {
	FunctionFor(source, target reflect.Type) (Function, bool)
}

// Functions is a concurrency-safe set of functions keyed by type pair.
type Functions struct {
	mu  sync.Mutex
	reg *registry.Registry[string, Function]
}

// NewFunctions creates an empty set.
func NewFunctions() *Functions {
	return &Functions{reg: registry.New[string, Function]()}
}

// Add registers fn. Only one function may exist per type pair.
func (fs *Functions) Add(fn Function) error {
	key := pairKey(fn.Source(), fn.Target())
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.reg.Has(key) {
		return fmt.Errorf("%w: %s -> %s", ErrDuplicateFunction, fn.Source(), fn.Target())
	}
	fs.reg.Register(key, fn)
	return nil
}

// FunctionFor implements FunctionLookup.
func (fs *Functions) FunctionFor(source, target reflect.Type) (Function, bool) {
	return fs.reg.Get(pairKey(source, target))
}

// Len returns the number of functions.
func (fs *Functions) Len() int {
	return fs.reg.Len()
}

func pairKey(source, target reflect.Type) string {
	return typeKey(source) + " -> " + typeKey(target)
}

func typeKey(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
