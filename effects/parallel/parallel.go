// Package parallel runs independent branches concurrently.
//
// Every branch runs under its own controller, forked from the controller
// carried by the ctx the combinator is called with. Results of All and Map
// are ordered by input position, never by completion.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/shared/helper"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateKey = errors.New("duplicate branch key")
	ErrNoBranches   = errors.New("no branches to race")

	errLostRace = errors.New("branch lost the race")
)

// Branch is one unit of concurrent work. Its ctx carries the branch's own
// controller. The returned value is resolved like any program result.
type Branch func(ctx context.Context) (any, error)

// Named is a Branch with a key for All.
type Named struct {
	Key    string
	Branch Branch
}

func Name(key string, branch Branch) Named {
	return Named{Key: key, Branch: branch}
}

type Options struct {
	// Limit caps the number of branches running at once; zero or less means
	// no limit.
	Limit int
}

// BranchError reports the failure of one branch.
type BranchError struct {
	Index int
	Key   string
	Err   error
}

func (e *BranchError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("branch %q (#%d) failed: %v", e.Key, e.Index, e.Err)
	}
	return fmt.Sprintf("branch #%d failed: %v", e.Index, e.Err)
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

// Record holds the results of All under the keys of its branches, in input
// order.
type Record struct {
	keys   []string
	values map[string]any
}

func (r Record) Keys() []string {
	return slices.Clone(r.keys)
}

func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Values returns the results in input order.
func (r Record) Values() []any {
	values := make([]any, len(r.keys))
	for i, k := range r.keys {
		values[i] = r.values[k]
	}
	return values
}

func (r Record) Len() int {
	return len(r.keys)
}

// Field returns the result stored under key, asserted to T.
func Field[T any](r Record, key string) (T, error) {
	v, ok := r.Get(key)
	if !ok {
		var zero T
		return zero, fmt.Errorf("no branch %q in record", key)
	}
	return helper.As[T](v)
}

// All runs every branch concurrently and collects their results under the
// branch keys. The first failing branch aborts all the others and its error
// is returned wrapped in a *BranchError.
func All(ctx context.Context, branches ...Named) (Record, error) {
	keys := make([]string, len(branches))
	seen := make(map[string]struct{}, len(branches))
	for i, b := range branches {
		if _, dup := seen[b.Key]; dup {
			return Record{}, fmt.Errorf("%w: %q", ErrDuplicateKey, b.Key)
		}
		seen[b.Key] = struct{}{}
		keys[i] = b.Key
	}

	values, err := collect(ctx, effects.Config(ctx).Parallel.Limit, len(branches), func(i int) (string, Branch) {
		return branches[i].Key, branches[i].Branch
	})
	if err != nil {
		return Record{}, err
	}

	record := Record{keys: keys, values: make(map[string]any, len(keys))}
	for i, k := range keys {
		record.values[k] = values[i]
	}
	return record, nil
}

// Map applies fn to every item concurrently, bounded by the parallel limit of
// the run, and returns the results in item order.
func Map[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	return MapWith(ctx, Options{Limit: effects.Config(ctx).Parallel.Limit}, items, fn)
}

func MapWith[T, R any](ctx context.Context, opts Options, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	values, err := collect(ctx, opts.Limit, len(items), func(i int) (string, Branch) {
		return "", func(ctx context.Context) (any, error) {
			return fn(ctx, items[i])
		}
	})
	if err != nil {
		return nil, err
	}

	results := make([]R, len(values))
	for i, v := range values {
		if results[i], err = helper.As[R](v); err != nil {
			return nil, &BranchError{Index: i, Err: err}
		}
	}
	return results, nil
}

func collect(ctx context.Context, limit, n int, branchAt func(i int) (string, Branch)) ([]any, error) {
	sv, err := newSupervisor(ctx, n)
	if err != nil {
		return nil, err
	}

	values := make([]any, n)
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range n {
		key, branch := branchAt(i)
		g.Go(func() error {
			v, err := sv.run(i, branch)
			if err != nil {
				sv.fail(i, key, err)
				return err
			}
			values[i] = v
			return nil
		})
	}

	// branches aborted by a sibling fail too; the first failure is reported
	failed := g.Wait() != nil
	sv.teardownAll(failed)
	if failed {
		return nil, sv.err
	}
	return values, nil
}

// Race runs every branch concurrently and returns the value of the first one
// to succeed. Every other branch is aborted at once and torn down as soon as
// its body returns, so its cleanups run after its own work has stopped; the
// winner's scope is closed normally. If every branch fails, the first failure
// to arrive is returned wrapped in a *BranchError.
//
// Race returns once every branch has returned; branches are expected to
// honor ctx.Done().
func Race(ctx context.Context, branches ...Branch) (any, error) {
	if len(branches) == 0 {
		return nil, ErrNoBranches
	}
	sv, err := newSupervisor(ctx, len(branches))
	if err != nil {
		return nil, err
	}

	type outcome struct {
		index int
		value any
		err   error
	}
	outcomes := make(chan outcome, len(branches))
	for i, branch := range branches {
		go func() {
			v, err := sv.run(i, branch)
			outcomes <- outcome{index: i, value: v, err: err}
		}()
	}

	var (
		winner   = -1
		value    any
		firstErr error
	)
	for range branches {
		o := <-outcomes
		c := sv.branches[o.index]
		switch {
		case o.err == nil && winner < 0:
			winner, value = o.index, o.value
			sv.abortExcept(winner, errLostRace)
			c.Teardown(false)
		case o.err != nil && winner < 0:
			if firstErr == nil {
				firstErr = &BranchError{Index: o.index, Err: o.err}
			}
			c.Abort(o.err)
			c.Teardown(true)
		default:
			c.Teardown(true)
		}
	}

	if winner < 0 {
		return nil, firstErr
	}
	return value, nil
}
