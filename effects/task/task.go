package task

import (
	"context"
	"fmt"
	"time"

	"github.com/on-the-ground/effect_stack/effects"
	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
)

const Family = effectmodel.FamilyTask

const (
	OpSleep effects.Operation = "sleep"
	OpGo    effects.Operation = "go"
)

// TaskPayload is an asynchronous operation.
type TaskPayload func(context.Context) (any, error)

var (
	sleepOp = effects.Define[struct{}](Family, OpSleep)
	goOp    = effects.Define[any](Family, OpGo)
)

// Sleep builds an instruction that settles after d, or fails with the abort
// cause once the active scope is aborted.
func Sleep(d time.Duration) effects.Effect[struct{}] {
	return sleepOp(d)
}

// Go builds an instruction running fn in its own goroutine. The instruction
// settles with fn's result.
func Go(fn TaskPayload) effects.Effect[any] {
	return goOp(fn)
}

// SleepEff performs Sleep against the runtime carried by ctx.
func SleepEff(ctx context.Context, d time.Duration) error {
	_, err := effects.Perform(ctx, Sleep(d))
	return err
}

// Handler serves the task family with goroutines and timers. Results are
// Futures, so a branch waiting on a task yields to its siblings.
func Handler() effects.Handler {
	return effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpSleep: handleSleep,
		OpGo:    handleGo,
	})
}

func handleSleep(ctx context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
	d, err := effects.Arg[time.Duration](instr, 0)
	if err != nil {
		return nil, err
	}
	return effects.Async(ctx, func(ctx context.Context) (any, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return struct{}{}, nil
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}), nil
}

func handleGo(ctx context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
	fn, err := effects.Arg[TaskPayload](instr, 0)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: nil task", effects.ErrMissingArgument)
	}
	return effects.Async(ctx, func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		default:
		}
		return fn(ctx)
	}), nil
}
