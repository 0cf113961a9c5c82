package effects

import (
	"context"
)

// Resume continues the handler search below the calling handler, either with
// the same instruction or with the override. The result is fully resolved.
type Resume func(ctx context.Context, override ...Instruction) (any, error)

// HandleFunc serves one operation. ctx is the cancellation context of the
// innermost active scope: ctx.Done() is its abort signal and OnCancel(ctx, ...)
// registers cleanup on it.
//
// A HandleFunc may return a plain value, another Instruction (delegation),
// an Awaitable, or an error. Returning a *Halt short-circuits the run.
type HandleFunc func(ctx context.Context, instr Instruction, resume Resume) (any, error)

// Finalizer post-processes the outcome of a run. It receives the settled value
// and the pending halt, if any, and may replace either one.
type Finalizer func(value any, halt *Halt) (any, *Halt)

// Handler gives meaning to the operations of one family.
type Handler struct {
	Family   Family
	Handles  map[Operation]HandleFunc
	Finalize Finalizer

	// PerRun, when set, builds the handler afresh for every run, so state the
	// handler keeps is never shared between concurrent runs. Handles and
	// Finalize of the template are ignored.
	PerRun func() Handler
}

// HandlerPerRun returns a Handler of family instantiated by build at the start
// of every run.
func HandlerPerRun(family Family, build func() Handler) Handler {
	return Handler{Family: family, PerRun: build}
}

func (h Handler) instantiate() Handler {
	if h.PerRun == nil {
		return h
	}
	inst := h.PerRun()
	inst.Family, inst.PerRun = h.Family, nil
	return inst
}

// HandlerOf builds a Handler for family from (operation, HandleFunc) pairs.
func HandlerOf(family Family, handles map[Operation]HandleFunc) Handler {
	return Handler{Family: family, Handles: handles}
}

// WithFinalizer returns a copy of h with its finalizer set to f.
func (h Handler) WithFinalizer(f Finalizer) Handler {
	h.Finalize = f
	return h
}
