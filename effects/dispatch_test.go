package effects_test

import (
	"context"
	"errors"
	"testing"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	familyGreet effects.Family = "test_greet"
	familyCount effects.Family = "test_count"
)

var (
	greet = effects.Define[string](familyGreet, "greet")
	shout = effects.Define[string](familyGreet, "shout")
	count = effects.Define[int](familyCount, "count")
)

func constHandler(family effects.Family, op effects.Operation, v any) effects.Handler {
	return effects.HandlerOf(family, map[effects.Operation]effects.HandleFunc{
		op: func(context.Context, effects.Instruction, effects.Resume) (any, error) {
			return v, nil
		},
	})
}

func TestDispatch_LatestRegisteredHandlerWins(t *testing.T) {
	stack := effects.NewStack(
		constHandler(familyGreet, "greet", "first"),
		constHandler(familyGreet, "greet", "second"),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, greet())
	})
	require.NoError(t, err)
	require.Equal(t, "second", res)
}

func TestDispatch_SkipsHandlersWithoutTheOperation(t *testing.T) {
	stack := effects.NewStack(
		constHandler(familyGreet, "greet", "greeted"),
		constHandler(familyGreet, "shout", "shouted"),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, greet())
	})
	require.NoError(t, err)
	require.Equal(t, "greeted", res)
}

func TestDispatch_ResumeContinuesBelow(t *testing.T) {
	stack := effects.NewStack(
		constHandler(familyGreet, "greet", "hello"),
		effects.HandlerOf(familyGreet, map[effects.Operation]effects.HandleFunc{
			"greet": func(ctx context.Context, _ effects.Instruction, resume effects.Resume) (any, error) {
				v, err := resume(ctx)
				if err != nil {
					return nil, err
				}
				return v.(string) + ", world", nil
			},
		}),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, greet())
	})
	require.NoError(t, err)
	require.Equal(t, "hello, world", res)
}

func TestDispatch_ResumeWithOverride(t *testing.T) {
	stack := effects.NewStack(
		effects.HandlerOf(familyGreet, map[effects.Operation]effects.HandleFunc{
			"greet": func(_ context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
				name, err := effects.Arg[string](instr, 0)
				return "hello " + name, err
			},
		}),
		effects.HandlerOf(familyGreet, map[effects.Operation]effects.HandleFunc{
			"greet": func(ctx context.Context, _ effects.Instruction, resume effects.Resume) (any, error) {
				return resume(ctx, greet("override").Instruction)
			},
		}),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, greet("caller"))
	})
	require.NoError(t, err)
	require.Equal(t, "hello override", res)
}

func TestDispatch_NeverCallsAnotherFamily(t *testing.T) {
	var greetCalls, countCalls int
	stack := effects.NewStack(
		effects.HandlerOf(familyCount, map[effects.Operation]effects.HandleFunc{
			"count": func(context.Context, effects.Instruction, effects.Resume) (any, error) {
				countCalls++
				return 1, nil
			},
		}),
		effects.HandlerOf(familyGreet, map[effects.Operation]effects.HandleFunc{
			"greet": func(context.Context, effects.Instruction, effects.Resume) (any, error) {
				greetCalls++
				return "hi", nil
			},
		}),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, count())
	})
	require.NoError(t, err)
	require.Equal(t, 1, res)
	require.Equal(t, 1, countCalls)
	require.Zero(t, greetCalls)
}

func TestDispatch_HandlerDelegatesToAnotherInstruction(t *testing.T) {
	stack := effects.NewStack(
		constHandler(familyCount, "count", 42),
		effects.HandlerOf(familyGreet, map[effects.Operation]effects.HandleFunc{
			"greet": func(context.Context, effects.Instruction, effects.Resume) (any, error) {
				return count(), nil
			},
		}),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Resolve(ctx, greet())
	})
	require.NoError(t, err)
	require.Equal(t, 42, res)
}

func TestDispatch_HandlerReturnsFuture(t *testing.T) {
	stack := effects.NewStack(
		effects.HandlerOf(familyCount, map[effects.Operation]effects.HandleFunc{
			"count": func(ctx context.Context, _ effects.Instruction, _ effects.Resume) (any, error) {
				return effects.Async(ctx, func(context.Context) (any, error) {
					return 7, nil
				}), nil
			},
		}),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, count())
	})
	require.NoError(t, err)
	require.Equal(t, 7, res)
}

func TestDispatch_UnhandledEffectNamesFamilyAndHandlers(t *testing.T) {
	stack := effects.NewStack(constHandler(familyCount, "count", 1))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, shout())
	})
	require.ErrorIs(t, err, effects.ErrUnhandledEffect)

	var unhandled *effects.UnhandledEffectError
	require.True(t, errors.As(err, &unhandled))
	require.Equal(t, familyGreet, unhandled.Family)
	require.Equal(t, effects.Operation("shout"), unhandled.Op)
	require.Equal(t, []effects.Family{familyCount}, unhandled.Available)
	require.Contains(t, err.Error(), "test_greet/shout")
}

func TestResolve_OutsideRunFails(t *testing.T) {
	_, err := effects.Resolve(context.Background(), greet())
	require.ErrorIs(t, err, effects.ErrNoRuntime)

	v, err := effects.Resolve(context.Background(), "plain")
	require.NoError(t, err)
	require.Equal(t, "plain", v)
}

func TestPerform_UnexpectedResultType(t *testing.T) {
	stack := effects.NewStack(constHandler(familyCount, "count", "not an int"))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, count())
	})
	require.Error(t, err)
}

func TestDispatch_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	stack := effects.NewStack(constHandler(familyGreet, "greet", "hi")).
		WithTracer(provider.Tracer("effects_test"))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return effects.Perform(ctx, greet())
	})
	require.NoError(t, err)

	names := make([]string, 0)
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	require.Equal(t, []string{"effects.dispatch", "effects.run"}, names)
}

func TestDefine_RejectsEmptyNames(t *testing.T) {
	require.Panics(t, func() { effects.Define[int]("", "op") })
	require.Panics(t, func() { effects.Define[int](familyCount, "") })
}

func TestArg_MissingArgument(t *testing.T) {
	_, err := effects.Arg[int](count().Instruction, 0)
	require.ErrorIs(t, err, effects.ErrMissingArgument)

	v, err := effects.Arg[int](count(3).Instruction, 0)
	require.NoError(t, err)
	require.Equal(t, 3, v)
}
