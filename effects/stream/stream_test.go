package stream_test

import (
	"cmp"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/effects/log"
	"github.com/on-the-ground/effect_stack/effects/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStack() *effects.Stack {
	return effects.NewStack(stream.Handler()).WithLogger(log.NewTestLogger())
}

func collect[T any](t *testing.T, ch <-chan T) []T {
	t.Helper()
	var got []T
	timeout := time.After(time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, v)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
			return got
		}
	}
}

func feed[T any](values ...T) <-chan T {
	source := make(chan T)
	go func() {
		defer close(source)
		for _, v := range values {
			source <- v
		}
	}()
	return source
}

func TestStreamEffect_MapFilter(t *testing.T) {
	_, err := newStack().Run(context.Background(), func(ctx context.Context) (any, error) {
		mapSink := make(chan string)
		filterSink := make(chan string)

		require.NoError(t, stream.Effect(ctx, stream.Map[int, string]{
			Source: feed(1, 2, 3, 4, 5),
			Sink:   mapSink,
			MapFn:  func(v int) string { return fmt.Sprintf("v=%d", v) },
		}))
		require.NoError(t, stream.Effect(ctx, stream.Filter[string]{
			Source:    mapSink,
			Sink:      filterSink,
			Predicate: func(v string) bool { return v == "v=2" || v == "v=4" },
		}))

		assert.Equal(t, []string{"v=2", "v=4"}, collect(t, filterSink))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestStreamEffect_MergeClosesAfterLastSource(t *testing.T) {
	_, err := newStack().Run(context.Background(), func(ctx context.Context) (any, error) {
		sink := make(chan int)
		require.NoError(t, stream.Effect(ctx, stream.Merge[int]{
			Sources: []<-chan int{feed(1, 2), feed(3), feed[int]()},
			Sink:    sink,
		}))

		assert.ElementsMatch(t, []int{1, 2, 3}, collect(t, sink))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestStreamEffect_BroadcastToEverySink(t *testing.T) {
	_, err := newStack().Run(context.Background(), func(ctx context.Context) (any, error) {
		first, second := make(chan int, 3), make(chan int, 3)
		require.NoError(t, stream.Effect(ctx, stream.Broadcast[int]{
			Source: feed(1, 2, 3),
			Sinks:  []chan<- int{first, second},
		}))

		assert.Equal(t, []int{1, 2, 3}, collect(t, first))
		assert.Equal(t, []int{1, 2, 3}, collect(t, second))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestStreamEffect_OrderBy(t *testing.T) {
	_, err := newStack().Run(context.Background(), func(ctx context.Context) (any, error) {
		sink := make(chan int)
		require.NoError(t, stream.Effect(ctx, stream.OrderBy[int]{
			Source:     feed(3, 1, 2, 5, 4),
			Sink:       sink,
			WindowSize: 5,
			CmpFn:      cmp.Compare[int],
		}))

		assert.Equal(t, []int{1, 2, 3, 4, 5}, collect(t, sink))
		return nil, nil
	})
	require.NoError(t, err)
}

type event struct {
	name string
	at   time.Time
}

func (e event) Start() time.Time { return e.at }

func TestByStart(t *testing.T) {
	now := time.Now()
	early, late := event{"early", now}, event{"late", now.Add(time.Millisecond)}

	require.Negative(t, stream.ByStart(early, late))
	require.Positive(t, stream.ByStart(late, early))
	require.Zero(t, stream.ByStart(early, early))
}

func TestStreamEffect_StagesStopWithTheirScope(t *testing.T) {
	source := make(chan int)
	sink := make(chan int)

	_, err := newStack().Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, stream.Effect(ctx, stream.Map[int, int]{
			Source: source,
			Sink:   sink,
			MapFn:  func(v int) int { return v },
		})
	})
	require.NoError(t, err)

	select {
	case _, ok := <-sink:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stage outlived its scope")
	}
}

func TestStreamEffect_PanickingStageClosesSink(t *testing.T) {
	_, err := newStack().Run(context.Background(), func(ctx context.Context) (any, error) {
		sink := make(chan int, 1)
		require.NoError(t, stream.Effect(ctx, stream.Map[int, int]{
			Source: feed(1),
			Sink:   sink,
			MapFn:  func(int) int { panic("boom") },
		}))

		assert.Empty(t, collect(t, sink))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestStreamEffect_Unhandled(t *testing.T) {
	_, err := effects.NewStack().Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, stream.Effect(ctx, stream.Merge[int]{Sink: make(chan int)})
	})
	require.ErrorIs(t, err, effects.ErrUnhandledEffect)
}
