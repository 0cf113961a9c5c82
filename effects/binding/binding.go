package binding

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/on-the-ground/effect_stack/effects"
	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
)

const Family = effectmodel.FamilyBinding

const OpLookup effects.Operation = "lookup"

// ErrKeyNotFound is returned when no binding handler knows the key.
var ErrKeyNotFound = errors.New("key not found")

// Payload defines a key-based lookup payload.
type Payload string

var lookupOp = effects.Define[any](Family, OpLookup)

// Lookup builds a lookup instruction for key.
func Lookup(key string) effects.Effect[any] {
	return lookupOp(Payload(key))
}

// Effect performs a key-based lookup against the runtime carried by ctx.
//
// Returns either the value found or an error if the key is not found and no
// handler below provides it.
func Effect(ctx context.Context, key string) (any, error) {
	return effects.Perform(ctx, Lookup(key))
}

// Handler serves lookups from bindingMap. A key missing here is looked up
// in the binding handlers registered before this one.
func Handler(bindingMap map[string]any) effects.Handler {
	bh := bindingHandler{bindingMap: normalizeBindingMap(bindingMap)}
	return effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpLookup: bh.handle,
	})
}

// normalizeBindingMap copies bm so later changes by the caller are not seen.
func normalizeBindingMap(bm map[string]any) map[string]any {
	if bm == nil {
		return make(map[string]any)
	}
	return maps.Clone(bm)
}

type bindingHandler struct {
	bindingMap map[string]any
}

// handle looks up the key in the local bindingMap.
// - If found: returns the value.
// - If not found: delegates to the handler below, if any.
// - Otherwise: returns a key-not-found error.
func (bh bindingHandler) handle(ctx context.Context, instr effects.Instruction, resume effects.Resume) (any, error) {
	key, err := effects.Arg[Payload](instr, 0)
	if err != nil {
		return nil, err
	}
	if v, ok := bh.bindingMap[string(key)]; ok {
		return v, nil
	}
	v, err := resume(ctx)
	if errors.Is(err, effects.ErrUnhandledEffect) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, err
}
