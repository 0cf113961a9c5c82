package seq

import (
	"fmt"
	"maps"
	"slices"

	"github.com/on-the-ground/effect_stack/shared/helper"
)

// Vars is the frozen context threaded through a chain. Binding a name yields
// a new Vars; the old one is never modified.
type Vars struct {
	names  []string
	values map[string]any
}

func (v Vars) with(name string, value any) Vars {
	values := maps.Clone(v.values)
	if values == nil {
		values = make(map[string]any)
	}
	values[name] = value
	return Vars{
		names:  append(slices.Clone(v.names), name),
		values: values,
	}
}

// Lookup returns the value bound to name.
func (v Vars) Lookup(name string) (any, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Names returns the bound names in binding order.
func (v Vars) Names() []string {
	return slices.Clone(v.names)
}

func (v Vars) Len() int {
	return len(v.names)
}

// Get returns the value bound to name, asserted to T.
func Get[T any](vars Vars, name string) (T, error) {
	val, ok := vars.Lookup(name)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return helper.As[T](val)
}
