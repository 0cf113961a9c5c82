// Package lease counts concurrent owners of named resources.
//
// A registered key admits up to NumOwners holders at once; further
// acquisitions wait until a holder releases or the acquiring scope is
// aborted. Lease slots are kept in the state family under a "lease/" prefix,
// so a state handler must be on the stack.
package lease

import (
	"context"
	"errors"
	"fmt"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/effects/config"
	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
	"github.com/on-the-ground/effect_stack/effects/resource"
	"github.com/on-the-ground/effect_stack/effects/state"
	"go.uber.org/zap"
)

const Family = effectmodel.FamilyLease

const OpLease effects.Operation = "lease"

var (
	ErrUnregisteredResource = errors.New("unregistered resource")
	ErrResourceInUse        = errors.New("unable to deregister resource in use")
	ErrInvalidOwners        = errors.New("number of owners must be positive")
)

const keyPrefix = "lease/"

// Request is one lease operation. The set of requests is closed; build them
// with Register, Deregister, Acquire and Release.
type Request interface {
	isRequest()
}

type registration struct {
	Key    string
	Owners int
}

type deregistration struct{ Key string }

type acquisition struct{ Key string }

type releasing struct{ Key string }

func (registration) isRequest()   {}
func (deregistration) isRequest() {}
func (acquisition) isRequest()    {}
func (releasing) isRequest()      {}

// Register admits up to owners concurrent holders of key. Registering a key
// twice keeps the first registration and reports false.
func Register(key string, owners int) Request { return registration{Key: key, Owners: owners} }

// Deregister removes key. It fails with ErrResourceInUse while key is held.
func Deregister(key string) Request { return deregistration{Key: key} }

// Acquire waits for a free slot of key.
func Acquire(key string) Request { return acquisition{Key: key} }

// Release frees one slot of key. It reports false when key was not held.
func Release(key string) Request { return releasing{Key: key} }

var leaseOp = effects.Define[bool](Family, OpLease)

// Of builds the instruction performing r.
func Of(r Request) effects.Effect[bool] {
	return leaseOp(r)
}

// Effect performs r against the runtime carried by ctx.
func Effect(ctx context.Context, r Request) (bool, error) {
	return effects.Perform(ctx, Of(r))
}

func EffectResourceRegistration(ctx context.Context, key string, numOwners int) (bool, error) {
	return Effect(ctx, Register(key, numOwners))
}

func EffectResourceDeregistration(ctx context.Context, key string) (bool, error) {
	return Effect(ctx, Deregister(key))
}

func EffectAcquisition(ctx context.Context, key string) (bool, error) {
	return Effect(ctx, Acquire(key))
}

func EffectRelease(ctx context.Context, key string) (bool, error) {
	return Effect(ctx, Release(key))
}

// Resource returns a blueprint holding one lease on key for the duration of
// a resource scope. The acquired value is key.
func Resource(key string) resource.Blueprint {
	return resource.New(
		func(ctx context.Context) (any, error) {
			if _, err := EffectAcquisition(ctx, key); err != nil {
				return nil, err
			}
			return key, nil
		},
		func(ctx context.Context, _ any) error {
			_, err := EffectRelease(ctx, key)
			return err
		},
		keyPrefix+key,
	)
}

// Handler serves the lease family on top of the state family.
func Handler() effects.Handler {
	return effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpLease: handle,
	})
}

// WithInMemoryEffectHandler starts an in-memory state handler for the lease
// slots and returns it with the lease handler, in registration order, along
// with the state handler's teardown.
func WithInMemoryEffectHandler(
	ctx context.Context,
	cfg config.State,
	logger *zap.Logger,
) ([]effects.Handler, func()) {
	stateHandler, teardown := state.WithEffectHandler(ctx, cfg, state.NewInMemoryRepo(), state.Options{Logger: logger})
	return []effects.Handler{stateHandler, Handler()}, teardown
}

func slots(ctx context.Context, key string) (chan struct{}, error) {
	ch, err := state.EffectLoad[chan struct{}](ctx, keyPrefix+key)
	if errors.Is(err, state.ErrNoSuchKey) {
		return nil, fmt.Errorf("%w: key %s", ErrUnregisteredResource, key)
	}
	return ch, err
}

func handle(ctx context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
	r, err := effects.Arg[Request](instr, 0)
	if err != nil {
		return nil, err
	}

	switch p := r.(type) {

	case registration:
		if p.Owners <= 0 {
			return false, fmt.Errorf("%w: key %s", ErrInvalidOwners, p.Key)
		}
		return state.EffectInsertIfAbsent(ctx, keyPrefix+p.Key, make(chan struct{}, p.Owners))

	case deregistration:
		ch, err := slots(ctx, p.Key)
		if err != nil {
			return false, err
		}
		if len(ch) != 0 {
			return false, fmt.Errorf("%w: key %s", ErrResourceInUse, p.Key)
		}
		return state.EffectCompareAndDelete(ctx, keyPrefix+p.Key, ch)

	case acquisition:
		ch, err := slots(ctx, p.Key)
		if err != nil {
			return false, err
		}
		return effects.Async(ctx, func(ctx context.Context) (any, error) {
			select {
			case <-ctx.Done():
				return false, context.Cause(ctx)
			case ch <- struct{}{}:
				return true, nil
			}
		}), nil

	case releasing:
		ch, err := slots(ctx, p.Key)
		if err != nil {
			return false, err
		}
		select {
		case <-ch:
			return true, nil
		default:
			return false, nil
		}

	default:
		panic("exhaustive match")
	}
}
