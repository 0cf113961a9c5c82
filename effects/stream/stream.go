// Package stream wires channel stages (map, filter, merge, broadcast and
// windowed ordering) into the scope that starts them.
//
// A stage runs in its own goroutine until its source closes or the scope it
// was started in closes, and then closes its sink.
package stream

import (
	"context"

	"github.com/on-the-ground/effect_stack/effects"
	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
	"go.uber.org/zap"
)

const Family = effectmodel.FamilyStream

const OpPipe effects.Operation = "pipe"

var pipeOp = effects.Define[struct{}](Family, OpPipe)

// Of builds the instruction starting the stage described by payload.
func Of(payload Payload) effects.Effect[struct{}] {
	return pipeOp(payload)
}

// Effect starts the stage described by payload under the scope carried by ctx.
func Effect(ctx context.Context, payload Payload) error {
	_, err := effects.Perform(ctx, Of(payload))
	return err
}

func Handler() effects.Handler {
	return effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpPipe: func(ctx context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
			payload, err := effects.Arg[Payload](instr, 0)
			if err != nil {
				return nil, err
			}
			payload.start(ctx, effects.Logger(ctx))
			return struct{}{}, nil
		},
	})
}

func spawn(logger *zap.Logger, stage string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("stream stage panicked",
					zap.String("stage", stage),
					zap.Error(effects.NewRecoveredPanic(r)),
				)
			}
		}()
		fn()
	}()
}

// forEach feeds the values of source to fn until source closes, ctx is done
// or fn returns false.
func forEach[T any](ctx context.Context, source <-chan T, fn func(T) bool) {
	for {
		select {
		case v, ok := <-source:
			if !ok || !fn(v) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func send[T any](ctx context.Context, sink chan<- T, v T) bool {
	select {
	case sink <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
