package handlers

import (
	"context"
	"fmt"

	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
	"go.uber.org/zap"
)

// NewPartitionableResumableHandler starts config.NumWorkers workers running handleFn.
// Payloads sharing a PartitionKey are handled by the same worker, one at a time,
// so handleFn may mutate per-key state without locks.
func NewPartitionableResumableHandler[P effectmodel.Partitionable, R any](
	ctx context.Context,
	config effectmodel.EffectScopeConfig,
	logger *zap.Logger,
	handleFn func(context.Context, P) (R, error),
	teardown func(),
) ResumableHandler[P, R] {
	ctx, cancelFn := context.WithCancel(ctx)
	return ResumableHandler[P, R]{
		effectScope: newEffectScope(
			NewPartitionedQueue(
				ctx,
				config.NumWorkers,
				config.BufferSize,
				func(ctx context.Context, msg ResumableEffectMessage[P, R]) {
					msg.ResumeCh <- safeHandle(ctx, handleFn, msg.Payload)
					close(msg.ResumeCh)
				},
			),
			logger,
			func() {
				cancelFn()
				if teardown != nil {
					teardown()
				}
			},
		),
	}
}

type ResumableHandler[P effectmodel.Partitionable, R any] struct {
	*effectScope[ResumableEffectMessage[P, R]]
}

// PerformEffect enqueues payload and returns the channel its result arrives on.
// The channel always yields exactly one result.
func (rh ResumableHandler[P, R]) PerformEffect(ctx context.Context, payload P) <-chan ResumableResult[R] {
	// buffered so the worker never blocks on an abandoned caller
	resumeCh := make(chan ResumableResult[R], 1)

	msg := ResumableEffectMessage[P, R]{
		Payload:  payload,
		ResumeCh: resumeCh,
	}
	if err := rh.dispatcher.Submit(ctx, msg); err != nil {
		rh.logger.Debug("effect not submitted",
			zap.String("effectId", rh.EffectId),
			zap.Any("payload", payload),
			zap.Error(err),
		)
		resumeCh <- ResumableResult[R]{Err: err}
		close(resumeCh)
	}
	return resumeCh
}

func safeHandle[P any, R any](
	ctx context.Context,
	handleFn func(context.Context, P) (R, error),
	payload P,
) (res ResumableResult[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = ResumableResult[R]{Err: fmt.Errorf("panic in effect handler: %v", r)}
		}
	}()
	return ResumableResultFrom(handleFn(ctx, payload))
}

// ResumableResult represents the result of handled effects.
type ResumableResult[T any] struct {
	Value T
	Err   error
}

func ResumableResultFrom[R any](res R, err error) ResumableResult[R] {
	return ResumableResult[R]{Value: res, Err: err}
}

var _ effectmodel.Partitionable = ResumableEffectMessage[effectmodel.Partitionable, any]{}

type ResumableEffectMessage[P effectmodel.Partitionable, R any] struct {
	Payload  P
	ResumeCh chan ResumableResult[R]
}

func (rem ResumableEffectMessage[P, R]) PartitionKey() string {
	return rem.Payload.PartitionKey()
}
