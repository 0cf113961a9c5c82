// Package seq describes linear programs as immutable chains of steps.
//
// Steps are recorded, not run. A terminal operation (Value or Return) folds
// them in order, from empty Vars and a nil last value, resolving every step's
// result before the next one starts. The first error, halts included, stops
// the fold and is returned as is.
//
//	res, err := seq.New().
//	    BindAs("user", func(ctx context.Context, _ any, _ seq.Vars) (any, error) {
//	        return state.Load("user:1"), nil
//	    }).
//	    Tap(func(ctx context.Context, last any) (any, error) {
//	        return log.Info("loaded"), nil
//	    }).
//	    Value(ctx)
package seq

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/on-the-ground/effect_stack/effects"
	"go.uber.org/zap"
)

var (
	ErrDuplicateName = errors.New("duplicate name in chain")
	ErrUnknownName   = errors.New("unknown name in chain")
)

// BindFunc computes a value from the last value and the bound names.
// The returned value may be an instruction or an Awaitable; it is resolved.
type BindFunc func(ctx context.Context, last any, vars Vars) (any, error)

// ChainFunc computes a value from the last value only.
type ChainFunc func(ctx context.Context, last any) (any, error)

// Predicate guards a When step.
type Predicate func(last any, vars Vars) bool

type frame struct {
	vars Vars
	last any
}

type step struct {
	kind string
	key  string
	run  func(ctx context.Context, f frame) (frame, error)
}

// Builder is an immutable chain of steps. Every method returns a new Builder,
// so a prefix can be shared by several chains.
type Builder struct {
	steps []step
	keys  map[string]struct{}
	err   error
}

func New() Builder {
	return Builder{}
}

func (b Builder) append(s step) Builder {
	next := Builder{
		steps: append(slices.Clone(b.steps), s),
		keys:  b.keys,
		err:   b.err,
	}
	if s.key == "" {
		return next
	}
	if _, dup := b.keys[s.key]; dup && next.err == nil {
		next.err = fmt.Errorf("%w: %q", ErrDuplicateName, s.key)
	}
	next.keys = make(map[string]struct{}, len(b.keys)+1)
	for k := range b.keys {
		next.keys[k] = struct{}{}
	}
	next.keys[s.key] = struct{}{}
	return next
}

// Bind stores the resolved result of fn under a positional key ("$<index>")
// and makes it the last value.
func (b Builder) Bind(fn BindFunc) Builder {
	return b.BindAs("$"+strconv.Itoa(len(b.steps)), fn)
}

// BindAs stores the resolved result of fn under name and makes it the last
// value. Names must be unique within the chain; a duplicate makes the
// terminal operation fail with ErrDuplicateName.
func (b Builder) BindAs(name string, fn BindFunc) Builder {
	return b.append(step{
		kind: "bind",
		key:  name,
		run: func(ctx context.Context, f frame) (frame, error) {
			v, err := resolve(ctx, fn, f)
			if err != nil {
				return f, err
			}
			return frame{vars: f.vars.with(name, v), last: v}, nil
		},
	})
}

// Chain replaces the last value with the resolved result of fn.
func (b Builder) Chain(fn ChainFunc) Builder {
	return b.append(step{
		kind: "chain",
		run: func(ctx context.Context, f frame) (frame, error) {
			v, err := resolve(ctx, ignoreVars(fn), f)
			if err != nil {
				return f, err
			}
			return frame{vars: f.vars, last: v}, nil
		},
	})
}

// Tap resolves fn for its effects only.
func (b Builder) Tap(fn ChainFunc) Builder {
	return b.Do(ignoreVars(fn))
}

// Do resolves fn for its effects only; unlike Tap it also sees the bound names.
func (b Builder) Do(fn BindFunc) Builder {
	return b.append(step{
		kind: "do",
		run: func(ctx context.Context, f frame) (frame, error) {
			_, err := resolve(ctx, fn, f)
			return f, err
		},
	})
}

// When resolves then for its effects only, and only if pred holds.
func (b Builder) When(pred Predicate, then BindFunc) Builder {
	return b.append(step{
		kind: "when",
		run: func(ctx context.Context, f frame) (frame, error) {
			if !pred(f.last, f.vars) {
				return f, nil
			}
			_, err := resolve(ctx, then, f)
			return f, err
		},
	})
}

// Len returns the number of recorded steps.
func (b Builder) Len() int {
	return len(b.steps)
}

// Value runs the chain and returns its last value.
func (b Builder) Value(ctx context.Context) (any, error) {
	f, err := b.fold(ctx)
	if err != nil {
		return nil, err
	}
	return f.last, nil
}

// Return runs the chain, then resolves fn over the final frame as the result.
func (b Builder) Return(ctx context.Context, fn BindFunc) (any, error) {
	f, err := b.fold(ctx)
	if err != nil {
		return nil, err
	}
	return resolve(ctx, fn, f)
}

// Program returns the chain as a program for Stack.Run.
func (b Builder) Program() effects.Program {
	return b.Value
}

func (b Builder) fold(ctx context.Context) (frame, error) {
	if b.err != nil {
		return frame{}, b.err
	}
	f := frame{}
	for i, s := range b.steps {
		if ctx.Err() != nil {
			return f, context.Cause(ctx)
		}
		next, err := s.run(ctx, f)
		if err != nil {
			effects.Logger(ctx).Debug("chain step failed",
				zap.Int("step", i),
				zap.String("kind", s.kind),
				zap.String("key", s.key),
				zap.Error(err),
			)
			return f, err
		}
		f = next
	}
	return f, nil
}

func resolve(ctx context.Context, fn BindFunc, f frame) (any, error) {
	v, err := fn(ctx, f.last, f.vars)
	if err != nil {
		return nil, err
	}
	return effects.Resolve(ctx, v)
}

func ignoreVars(fn ChainFunc) BindFunc {
	return func(ctx context.Context, last any, _ Vars) (any, error) {
		return fn(ctx, last)
	}
}
