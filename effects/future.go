package effects

import (
	"context"

	"github.com/on-the-ground/effect_stack/effects/internal/handlers"
)

// Future is an Awaitable settled once by a background goroutine or a worker.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

var _ Awaitable = (*Future)(nil)

// Async runs fn in its own goroutine and returns its Future. A panic in fn
// settles the Future with a *RecoveredPanic.
func Async(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.value, f.err = nil, NewRecoveredPanic(r)
			}
		}()
		f.value, f.err = fn(ctx)
	}()
	return f
}

// FutureOf adapts a resumable result channel, as returned by the worker
// dispatchers, into a Future.
func FutureOf[R any](resultCh <-chan handlers.ResumableResult[R]) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		res, ok := <-resultCh
		if !ok {
			f.err = handlers.ErrDispatcherStopped
			return
		}
		f.value, f.err = res.Value, res.Err
	}()
	return f
}

// Settled returns an already settled Future.
func Settled(value any, err error) *Future {
	f := &Future{done: make(chan struct{}), value: value, err: err}
	close(f.done)
	return f
}

// Await blocks until the Future settles or ctx is done. A settled Future
// always wins over a done ctx.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}
