// Package breaker guards effect operations with a circuit breaker.
//
// A breaker handler is registered for the same family as the handler it
// guards, after it. Failures of the handler below count against the breaker;
// while the circuit is open, operations fail fast with ErrOpen. Halts and
// unhandled effects are passed through and never count as failures.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrOpen            = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

type Options struct {
	Name string
	// TripCount is the number of consecutive failures opening the circuit.
	TripCount uint32
	// MaxRequests is the number of requests let through while half open.
	MaxRequests uint32
	// Interval clears the failure counts while closed; zero never clears them.
	Interval time.Duration
	// Timeout is how long the circuit stays open before going half open.
	Timeout time.Duration
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.TripCount == 0 {
		o.TripCount = 5
	}
	if o.MaxRequests == 0 {
		o.MaxRequests = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Handler returns a handler of family guarding ops with one circuit breaker.
// The breaker state is shared by every run of the stacks the handler is in.
func Handler(opts Options, family effects.Family, ops ...effects.Operation) effects.Handler {
	if len(ops) == 0 {
		panic("breaker.Handler: no operations to guard")
	}
	opts = opts.withDefaults()
	if opts.Name == "" {
		opts.Name = string(family)
	}
	logger := opts.Logger.With(zap.String("circuit_breaker", opts.Name))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.TripCount
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				logger.Error("circuit has been opened")
			case gobreaker.StateHalfOpen:
				logger.Warn(
					"circuit is now half open and letting some requests through",
					zap.Uint32("max_requests_allowed_through", opts.MaxRequests),
				)
			case gobreaker.StateClosed:
				logger.Info("circuit is now closed")
			}
		},
		IsSuccessful: isSuccessful,
	})

	guard := func(ctx context.Context, _ effects.Instruction, resume effects.Resume) (any, error) {
		return cb.Execute(func() (interface{}, error) {
			return resume(ctx)
		})
	}
	handles := make(map[effects.Operation]effects.HandleFunc, len(ops))
	for _, op := range ops {
		handles[op] = guard
	}
	return effects.HandlerOf(family, handles)
}

// isSuccessful tells the breaker which errors say nothing about the health
// of the handler below.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if _, isHalt := effects.AsHalt(err); isHalt {
		return true
	}
	return errors.Is(err, effects.ErrUnhandledEffect) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, effects.ErrAborted)
}
