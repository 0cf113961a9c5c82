package log_test

import (
	"context"
	"sync"
	"testing"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/effects/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapHandler_WritesLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	stack := effects.NewStack(log.ZapHandler(zap.New(core)))

	_, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		for _, level := range []log.LogLevel{log.LogDebug, log.LogInfo, log.LogWarn, log.LogError} {
			if err := log.LogEff(ctx, level, string(level), map[string]any{"level": string(level)}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	require.NoError(t, err)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	require.Equal(t, "warn", entries[2].ContextMap()["level"])
}

func TestCapture_WrapsValueWithLogs(t *testing.T) {
	stack := effects.NewStack(log.Capture())

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		if _, err := effects.Perform(ctx, log.Info("one")); err != nil {
			return nil, err
		}
		if _, err := effects.Perform(ctx, log.Warn("two")); err != nil {
			return nil, err
		}
		return "value", nil
	})
	require.NoError(t, err)

	captured := res.(log.Captured)
	require.Equal(t, "value", captured.Value)
	require.Equal(t, []string{"one", "two"}, captured.Messages())
	require.Equal(t, log.LogWarn, captured.Logs[1].Level)
	require.False(t, captured.Logs[1].TimeSpan().Start().Before(captured.Logs[0].TimeSpan().Start()))
}

func TestCapture_StartsEmptyOnEveryRun(t *testing.T) {
	stack := effects.NewStack(log.Capture())
	program := func(ctx context.Context) (any, error) {
		_, err := effects.Perform(ctx, log.Info("once"))
		return nil, err
	}

	for range 2 {
		res, err := stack.Run(context.Background(), program)
		require.NoError(t, err)
		require.Equal(t, []string{"once"}, res.(log.Captured).Messages())
	}
}

func TestCaptureAndForward_ReachesLowerHandler(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	stack := effects.NewStack(log.ZapHandler(zap.New(core)), log.CaptureAndForward())

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		_, err := effects.Perform(ctx, log.Info("forwarded"))
		return nil, err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"forwarded"}, res.(log.Captured).Messages())
	require.Equal(t, 1, logs.FilterMessage("forwarded").Len())
}

func TestCapture_LeavesHaltsAlone(t *testing.T) {
	const family effects.Family = "log_test_halt"
	stack := effects.NewStack(
		effects.HandlerOf(family, nil).WithFinalizer(func(v any, h *effects.Halt) (any, *effects.Halt) {
			if h != nil && h.Family == family {
				return "claimed", nil
			}
			return v, h
		}),
		log.Capture(),
	)

	res, err := stack.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, effects.HaltWith(family, "stop")
	})
	require.NoError(t, err)
	require.Equal(t, "claimed", res)
}

func TestCapture_ConcurrentRunsKeepTheirOwnRecords(t *testing.T) {
	stack := effects.NewStack(log.Capture())

	// both runs log before either one finalizes
	var logged sync.WaitGroup
	logged.Add(2)
	program := func(name string) effects.Program {
		return func(ctx context.Context) (any, error) {
			if _, err := effects.Perform(ctx, log.Info(name)); err != nil {
				return nil, err
			}
			logged.Done()
			logged.Wait()
			return name, nil
		}
	}

	results := make([]any, 2)
	errs := make([]error, 2)
	var done sync.WaitGroup
	for i, name := range []string{"first", "second"} {
		done.Add(1)
		go func() {
			defer done.Done()
			results[i], errs[i] = stack.Run(context.Background(), program(name))
		}()
	}
	done.Wait()

	for i, name := range []string{"first", "second"} {
		require.NoError(t, errs[i])
		captured := results[i].(log.Captured)
		require.Equal(t, name, captured.Value)
		require.Equal(t, []string{name}, captured.Messages())
	}
}
