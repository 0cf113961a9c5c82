package handlers

import (
	"context"
	"errors"
	"sync"

	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
)

// ErrDispatcherStopped is returned by Submit once the dispatcher's context is done.
var ErrDispatcherStopped = errors.New("worker dispatcher stopped")

// WorkerDispatcher hands messages to long-lived worker goroutines.
// Workers run until the context given at construction is done.
type WorkerDispatcher[T any] interface {
	Submit(ctx context.Context, msg T) error
	// Done is closed once every worker goroutine has returned.
	Done() <-chan struct{}
}

type workerPool[T any] struct {
	ctx     context.Context
	route   func(T) chan T
	stopped chan struct{}
}

func (wp workerPool[T]) Submit(ctx context.Context, msg T) error {
	select {
	case <-wp.ctx.Done():
		return ErrDispatcherStopped
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.ctx.Done():
		return ErrDispatcherStopped
	case wp.route(msg) <- msg:
		return nil
	}
}

func (wp workerPool[T]) Done() <-chan struct{} {
	return wp.stopped
}

// --- single queue ---

// NewSingleQueue starts one worker. Messages are handled in submission order.
func NewSingleQueue[T any](
	ctx context.Context,
	bufferSize int,
	handleFn func(context.Context, T),
) WorkerDispatcher[T] {
	effCh := make(chan T, bufferSize)
	return startWorkers(ctx, []chan T{effCh}, handleFn, func(T) chan T {
		return effCh
	})
}

// --- partitioned queue ---

// NewPartitionedQueue starts numWorkers workers and routes every message by the
// hash of its PartitionKey, so messages sharing a key keep their order.
func NewPartitionedQueue[T effectmodel.Partitionable](
	ctx context.Context,
	numWorkers, bufferSize int,
	handleFn func(context.Context, T),
) WorkerDispatcher[T] {
	channels := make([]chan T, numWorkers)
	for i := range channels {
		channels[i] = make(chan T, bufferSize)
	}
	return startWorkers(ctx, channels, handleFn, func(msg T) chan T {
		return channels[getIndexByHash(msg, len(channels))]
	})
}

func startWorkers[T any](
	ctx context.Context,
	channels []chan T,
	handleFn func(context.Context, T),
	route func(T) chan T,
) WorkerDispatcher[T] {
	stopped := make(chan struct{})
	ready := sync.WaitGroup{}
	running := sync.WaitGroup{}
	for _, ch := range channels {
		ready.Add(1)
		running.Add(1)
		go func(ch chan T) {
			defer running.Done()
			ready.Done()
			for {
				select {
				case msg := <-ch:
					handleFn(ctx, msg)
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	ready.Wait()

	go func() {
		running.Wait()
		close(stopped)
	}()

	return workerPool[T]{ctx: ctx, route: route, stopped: stopped}
}
