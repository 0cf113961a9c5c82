// Package resource pairs acquisition with guaranteed release.
//
//	db := resource.New(openDB, closeDB, "db")
//	res, err := resource.Use(resource.Bind("db", db)).In(ctx,
//	    func(ctx context.Context, vals resource.Values) (any, error) {
//	        conn, err := resource.Get[*sql.DB](vals, "db")
//	        ...
//	    })
//
// Resources are acquired in declaration order and released in reverse, once
// each, whether the body succeeds, fails, halts or is cancelled from outside.
package resource

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/shared/helper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type AcquireFunc func(ctx context.Context) (any, error)

type ReleaseFunc func(ctx context.Context, value any) error

// Descriptor describes one resource. A Descriptor serves exactly one scope
// entry; Blueprints build a fresh one every time.
type Descriptor struct {
	Acquire AcquireFunc
	Release ReleaseFunc
	Label   string
}

// Blueprint builds the Descriptor of a resource for one scope entry.
type Blueprint func() Descriptor

// New returns a Blueprint for acquire and release. A nil release is a no-op.
func New(acquire AcquireFunc, release ReleaseFunc, label ...string) Blueprint {
	if acquire == nil {
		panic("resource.New: nil acquire")
	}
	var l string
	if len(label) > 0 {
		l = label[0]
	}
	return func() Descriptor {
		return Descriptor{Acquire: acquire, Release: release, Label: l}
	}
}

type binding struct {
	name      string
	blueprint Blueprint
}

// Group is an ordered set of named blueprints.
type Group []binding

// Bind starts a Group with one named blueprint.
func Bind(name string, bp Blueprint) Group {
	return Group{{name: name, blueprint: bp}}
}

// And returns g with one more named blueprint.
func (g Group) And(name string, bp Blueprint) Group {
	return append(slices.Clone(g), binding{name: name, blueprint: bp})
}

// Values holds the acquired resources by name.
type Values struct {
	values map[string]any
}

func (v Values) Lookup(name string) (any, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Get returns the resource acquired under name, asserted to T.
func Get[T any](vals Values, name string) (T, error) {
	val, ok := vals.Lookup(name)
	if !ok {
		var zero T
		return zero, fmt.Errorf("no resource %q in scope", name)
	}
	return helper.As[T](val)
}

// Body is the code running while the resources of a Scope are held.
type Body func(ctx context.Context, vals Values) (any, error)

// Scope is the merged, ordered declaration built by Use.
type Scope struct {
	bindings []binding
}

// Use merges groups in order. A name declared twice is a programming error
// and panics.
func Use(groups ...Group) Scope {
	seen := make(map[string]struct{})
	var bindings []binding
	for _, g := range groups {
		for _, b := range g {
			if _, dup := seen[b.name]; dup {
				panic(fmt.Sprintf("resource.Use: duplicate resource %q", b.name))
			}
			if b.blueprint == nil {
				panic(fmt.Sprintf("resource.Use: nil blueprint for %q", b.name))
			}
			seen[b.name] = struct{}{}
			bindings = append(bindings, b)
		}
	}
	return Scope{bindings: bindings}
}

type held struct {
	name  string
	desc  Descriptor
	value any
	once  sync.Once
}

func (h *held) label() string {
	if h.desc.Label != "" {
		return h.desc.Label
	}
	return h.name
}

// In acquires the resources, runs body under a child scope and releases
// every acquired resource in reverse order. A failing acquisition stops the
// later ones. Release failures are logged, never returned.
//
// A cleanup on the enclosing scope aborts and tears down this scope, then
// releases whatever is still held, if that scope is torn down first. The
// cleanup is removed again when In returns.
func (s Scope) In(ctx context.Context, body Body) (any, error) {
	ctl, err := effects.Fork(ctx)
	if err != nil {
		return nil, err
	}
	if ctl.Aborted() {
		ctl.Teardown(true)
		return nil, ctl.Cause()
	}
	scopeCtx := ctl.Context()
	logger := effects.Logger(ctx)

	var (
		mu       sync.Mutex
		acquired []*held
	)
	releaseAll := func(ctx context.Context) {
		mu.Lock()
		hs := slices.Clone(acquired)
		mu.Unlock()

		var errs error
		for i := len(hs) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, release(ctx, hs[i]))
		}
		if errs != nil {
			logger.Warn("resource release failed",
				zap.String("controller", ctl.Id),
				zap.Errors("errors", multierr.Errors(errs)),
			)
		}
	}
	deregister, err := effects.AddCleanup(ctx, func(cctx context.Context) error {
		ctl.Abort(effects.ErrAborted)
		ctl.Teardown(true)
		releaseAll(cctx)
		return nil
	})
	if err != nil {
		ctl.Teardown(false)
		return nil, err
	}
	defer deregister()

	res, err := func() (any, error) {
		vals := Values{values: make(map[string]any, len(s.bindings))}
		for _, b := range s.bindings {
			h := &held{name: b.name, desc: b.blueprint()}
			v, err := acquire(scopeCtx, h.desc)
			if err != nil {
				logger.Debug("resource acquisition failed",
					zap.String("resource", h.label()),
					zap.Error(err),
				)
				return nil, err
			}
			h.value = v
			mu.Lock()
			acquired = append(acquired, h)
			mu.Unlock()
			vals.values[b.name] = v
		}
		return evaluate(scopeCtx, body, vals)
	}()

	if err != nil {
		ctl.Abort(err)
	}
	ctl.Teardown(err != nil)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effects.Config(ctx).CleanupTimeout)
	defer cancel()
	releaseAll(cctx)

	if err != nil {
		return nil, err
	}
	return res, nil
}

func acquire(ctx context.Context, desc Descriptor) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, effects.NewRecoveredPanic(r)
		}
	}()
	v, err = desc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return effects.Resolve(ctx, v)
}

func evaluate(ctx context.Context, body Body, vals Values) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, effects.NewRecoveredPanic(r)
		}
	}()
	v, err = body(ctx, vals)
	if err != nil {
		return nil, err
	}
	return effects.Resolve(ctx, v)
}

func release(ctx context.Context, h *held) (err error) {
	h.once.Do(func() {
		if h.desc.Release == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("release of %s panicked: %v", h.label(), r)
			}
		}()
		if rerr := h.desc.Release(ctx, h.value); rerr != nil {
			err = fmt.Errorf("release of %s: %w", h.label(), rerr)
		}
	})
	return err
}
