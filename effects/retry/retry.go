// Package retry retries failed effect operations with exponential backoff.
//
// A retry handler is registered for the same family as the handler it
// retries, after it. Halts, unhandled effects and aborts are final and never
// retried.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/on-the-ground/effect_stack/effects"
	"go.uber.org/zap"
)

type Options struct {
	// MaxAttempts counts the first attempt; zero means 3.
	MaxAttempts uint64
	// InitialInterval is the delay before the first retry; zero means 100ms.
	InitialInterval time.Duration
	// MaxInterval caps the delay between attempts; zero means no cap.
	MaxInterval time.Duration
	// Retryable narrows which errors are retried; nil retries every error
	// that is not final.
	Retryable func(err error) bool
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 100 * time.Millisecond
	}
	return o
}

func (o Options) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.InitialInterval
	if o.MaxInterval > 0 {
		exp.MaxInterval = o.MaxInterval
	}
	// attempts, not elapsed time, bound the retries
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, o.MaxAttempts-1), ctx)
}

// Handler returns a handler of family retrying ops.
func Handler(opts Options, family effects.Family, ops ...effects.Operation) effects.Handler {
	if len(ops) == 0 {
		panic("retry.Handler: no operations to retry")
	}
	opts = opts.withDefaults()

	handle := func(ctx context.Context, instr effects.Instruction, resume effects.Resume) (any, error) {
		var attempt int
		var v any
		err := backoff.RetryNotify(
			func() error {
				attempt++
				var err error
				if v, err = resume(ctx); err != nil && (final(err) || !opts.retryable(err)) {
					return backoff.Permanent(err)
				}
				return err
			},
			opts.backOff(ctx),
			func(err error, next time.Duration) {
				effects.Logger(ctx).Debug("retrying effect",
					zap.Stringer("instruction", instr),
					zap.Int("attempt", attempt),
					zap.Duration("backoff", next),
					zap.Error(err),
				)
			},
		)
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	handles := make(map[effects.Operation]effects.HandleFunc, len(ops))
	for _, op := range ops {
		handles[op] = handle
	}
	return effects.HandlerOf(family, handles)
}

func (o Options) retryable(err error) bool {
	return o.Retryable == nil || o.Retryable(err)
}

func final(err error) bool {
	if _, isHalt := effects.AsHalt(err); isHalt {
		return true
	}
	return errors.Is(err, effects.ErrUnhandledEffect) ||
		errors.Is(err, effects.ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
