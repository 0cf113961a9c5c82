package memo_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/effects/config"
	"github.com/on-the-ground/effect_stack/effects/memo"
	"github.com/stretchr/testify/require"
)

const familyQuote effects.Family = "test_quote"

var (
	quote = effects.Define[int](familyQuote, "quote")
	other = effects.Define[int](familyQuote, "other")
)

var errQuote = errors.New("quote unavailable")

// quoteHandler doubles its argument and counts its calls. Negative arguments fail.
func quoteHandler(calls *atomic.Int32) effects.Handler {
	serve := func(_ context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
		calls.Add(1)
		n, err := effects.Arg[int](instr, 0)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, errQuote
		}
		return n * 2, nil
	}
	return effects.HandlerOf(familyQuote, map[effects.Operation]effects.HandleFunc{
		"quote": serve,
		"other": serve,
	})
}

func newCache(t *testing.T, cfg config.Memo) *memo.Cache {
	t.Helper()
	cache, err := memo.NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

func TestMemo_CachesByInstruction(t *testing.T) {
	var calls atomic.Int32
	cache := newCache(t, config.Default().Memo)
	stack := effects.NewStack(quoteHandler(&calls), memo.Handler(cache, familyQuote, "quote"))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		for range 3 {
			v, err := effects.Perform(ctx, quote(21))
			require.NoError(t, err)
			require.Equal(t, 42, v)
		}
		v, err := effects.Perform(ctx, quote(1))
		require.NoError(t, err)
		require.Equal(t, 2, v)
		return nil, nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestMemo_SharedAcrossRuns(t *testing.T) {
	var calls atomic.Int32
	cache := newCache(t, config.Default().Memo)
	stack := effects.NewStack(quoteHandler(&calls), memo.Handler(cache, familyQuote, "quote"))

	for range 2 {
		v, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
			return quote(5), nil
		})
		require.NoError(t, err)
		require.Equal(t, 10, v)
	}
	require.EqualValues(t, 1, calls.Load())

	cache.Clear()
	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return quote(5), nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestMemo_OnlyListedOperations(t *testing.T) {
	var calls atomic.Int32
	cache := newCache(t, config.Default().Memo)
	stack := effects.NewStack(quoteHandler(&calls), memo.Handler(cache, familyQuote, "quote"))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		for range 2 {
			_, err := effects.Perform(ctx, other(1))
			require.NoError(t, err)
		}
		return nil, nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestMemo_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	cache := newCache(t, config.Default().Memo)
	stack := effects.NewStack(quoteHandler(&calls), memo.Handler(cache, familyQuote, "quote"))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		for range 2 {
			_, err := effects.Perform(ctx, quote(-1))
			require.ErrorIs(t, err, errQuote)
		}
		return nil, nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestMemo_TTLExpiresEntries(t *testing.T) {
	var calls atomic.Int32
	cfg := config.Default().Memo
	cfg.TTL = 20 * time.Millisecond
	cache := newCache(t, cfg)
	stack := effects.NewStack(quoteHandler(&calls), memo.Handler(cache, familyQuote, "quote"))

	program := func(ctx context.Context) (any, error) { return quote(3), nil }
	_, err := stack.Run(context.Background(), program)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := stack.Run(context.Background(), program)
		return err == nil && calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestMemo_UnhandledBelow(t *testing.T) {
	cache := newCache(t, config.Default().Memo)
	stack := effects.NewStack(memo.Handler(cache, familyQuote, "quote"))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return quote(1), nil
	})
	require.ErrorIs(t, err, effects.ErrUnhandledEffect)
}

func TestKey(t *testing.T) {
	require.Equal(t, memo.Key(quote(1).Instruction), memo.Key(quote(1).Instruction))
	require.NotEqual(t, memo.Key(quote(1).Instruction), memo.Key(quote(2).Instruction))
	require.NotEqual(t, memo.Key(quote(1).Instruction), memo.Key(other(1).Instruction))
	require.NotEqual(t, memo.Key(quote(1).Instruction), memo.Key(quote("1").Instruction))
}

func TestHandler_RequiresOperations(t *testing.T) {
	cache := newCache(t, config.Default().Memo)
	require.Panics(t, func() { memo.Handler(cache, familyQuote) })
}
