package stream

import (
	"context"
	"sync"
	"time"

	"github.com/on-the-ground/effect_stack/shared/orderedbuffer"
	"go.uber.org/zap"
)

// Payload is a sealed interface for stream stages.
type Payload interface {
	start(ctx context.Context, logger *zap.Logger)
}

// Map applies MapFn to every value of Source.
type Map[T any, R any] struct {
	Source <-chan T
	Sink   chan<- R
	MapFn  func(T) R
}

func (m Map[T, R]) start(ctx context.Context, logger *zap.Logger) {
	spawn(logger, "map", func() {
		defer close(m.Sink)
		forEach(ctx, m.Source, func(v T) bool {
			return send(ctx, m.Sink, m.MapFn(v))
		})
	})
}

// Filter forwards the values of Source matching Predicate.
type Filter[T any] struct {
	Source    <-chan T
	Sink      chan<- T
	Predicate func(T) bool
}

func (f Filter[T]) start(ctx context.Context, logger *zap.Logger) {
	spawn(logger, "filter", func() {
		defer close(f.Sink)
		forEach(ctx, f.Source, func(v T) bool {
			return !f.Predicate(v) || send(ctx, f.Sink, v)
		})
	})
}

// Merge forwards every value of Sources. Sink closes after the last source.
type Merge[T any] struct {
	Sources []<-chan T
	Sink    chan<- T
}

func (m Merge[T]) start(ctx context.Context, logger *zap.Logger) {
	var wg sync.WaitGroup
	wg.Add(len(m.Sources))
	for _, source := range m.Sources {
		spawn(logger, "merge", func() {
			defer wg.Done()
			forEach(ctx, source, func(v T) bool {
				return send(ctx, m.Sink, v)
			})
		})
	}
	go func() {
		wg.Wait()
		close(m.Sink)
	}()
}

// Broadcast copies every value of Source to all Sinks. A sink that is not
// ready misses the value; the drop is logged.
type Broadcast[T any] struct {
	Source <-chan T
	Sinks  []chan<- T
}

func (b Broadcast[T]) start(ctx context.Context, logger *zap.Logger) {
	spawn(logger, "broadcast", func() {
		defer func() {
			for _, sink := range b.Sinks {
				close(sink)
			}
		}()
		forEach(ctx, b.Source, func(v T) bool {
			for i, sink := range b.Sinks {
				select {
				case sink <- v:
				default:
					logger.Debug("stream sink is full, dropped a value", zap.Int("sink", i))
				}
			}
			return true
		})
	})
}

// OrderBy reorders Source within a window of WindowSize values.
type OrderBy[T any] struct {
	Source     <-chan T
	Sink       chan<- T
	WindowSize int
	CmpFn      orderedbuffer.CompareFunc[T]
}

func (o OrderBy[T]) start(ctx context.Context, logger *zap.Logger) {
	buf := orderedbuffer.NewOrderedBoundedBuffer(o.WindowSize, o.CmpFn)
	done := make(chan struct{})
	spawn(logger, "order_by", func() {
		defer close(done)
		for ordered := range buf.Source() {
			if !send(ctx, o.Sink, ordered) {
				return
			}
		}
	})
	spawn(logger, "order_by", func() {
		defer func() {
			buf.Close(ctx)
			<-done
			close(o.Sink)
		}()
		forEach(ctx, o.Source, func(v T) bool {
			if !buf.Insert(ctx, v) {
				logger.Debug("ordered buffer closed")
				return false
			}
			return true
		})
	})
}

// Started is a value stamped with a start time, such as a state change.
type Started interface {
	Start() time.Time
}

// ByStart orders values by their start time.
func ByStart[T Started](a, b T) int {
	return a.Start().Compare(b.Start())
}
