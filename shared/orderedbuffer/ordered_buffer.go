package orderedbuffer

import (
	"context"
	"slices"
	"sync/atomic"
)

type CompareFunc[T any] func(a, b T) int

// OrderedBoundedBuffer reorders values within a sliding window. Once more
// than maxBufLen values are held, the smallest one is emitted. Insert is not
// safe for concurrent use; Close may race with it.
type OrderedBoundedBuffer[T any] struct {
	data      []T
	maxBufLen int
	compare   CompareFunc[T]

	sink   chan T
	closed atomic.Bool
}

func NewOrderedBoundedBuffer[T any](maxBufLen int, cmp CompareFunc[T]) *OrderedBoundedBuffer[T] {
	maxBufLen = max(maxBufLen, 1)
	return &OrderedBoundedBuffer[T]{
		data:      make([]T, 0, maxBufLen+1),
		maxBufLen: maxBufLen,
		compare:   cmp,
		sink:      make(chan T, maxBufLen*2),
	}
}

// Insert adds val to the window. It reports false once the buffer is closed
// or ctx is done before an evicted value could be emitted.
func (b *OrderedBoundedBuffer[T]) Insert(ctx context.Context, val T) bool {
	if b.closed.Load() {
		return false
	}

	// equal values keep their arrival order
	idx, found := slices.BinarySearchFunc(b.data, val, (func(a, b T) int)(b.compare))
	for found && idx < len(b.data) && b.compare(b.data[idx], val) == 0 {
		idx++
	}
	b.data = slices.Insert(b.data, idx, val)

	if len(b.data) > b.maxBufLen {
		evicted := b.data[0]
		b.data = b.data[1:]
		select {
		case <-ctx.Done():
			return false
		case b.sink <- evicted:
		}
	}
	return true
}

func (b *OrderedBoundedBuffer[T]) Source() <-chan T {
	return b.sink
}

// Close flushes the window in order and closes Source. Later calls are no-ops.
func (b *OrderedBoundedBuffer[T]) Close(ctx context.Context) {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(b.sink)
		for _, v := range b.data {
			select {
			case <-ctx.Done():
				return
			case b.sink <- v:
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
