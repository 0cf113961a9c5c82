package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/effects/config"
	"github.com/on-the-ground/effect_stack/effects/internal/handlers"
	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
	"github.com/on-the-ground/effect_stack/shared/helper"
	"go.uber.org/zap"
)

const Family = effectmodel.FamilyState

const (
	OpLoad             effects.Operation = "load"
	OpStore            effects.Operation = "store"
	OpInsertIfAbsent   effects.Operation = "insert_if_absent"
	OpCompareAndSwap   effects.Operation = "compare_and_swap"
	OpCompareAndDelete effects.Operation = "compare_and_delete"
	OpDelete           effects.Operation = "delete"
	OpSource           effects.Operation = "source"
)

// ErrNoSuchKey is returned by a load no state handler can serve.
var ErrNoSuchKey = errors.New("key not found")

var (
	loadOp   = effects.Define[any](Family, OpLoad)
	storeOp  = effects.Define[any](Family, OpStore)
	insertOp = effects.Define[any](Family, OpInsertIfAbsent)
	casOp    = effects.Define[any](Family, OpCompareAndSwap)
	cadOp    = effects.Define[any](Family, OpCompareAndDelete)
	deleteOp = effects.Define[any](Family, OpDelete)
	sourceOp = effects.Define[<-chan TimeBoundedPayload](Family, OpSource)
)

// Of builds the instruction performing payload.
func Of(payload Payload) effects.Effect[any] {
	return payload.effect()
}

// Effect performs payload against the runtime carried by ctx.
func Effect(ctx context.Context, payload Payload) (any, error) {
	return effects.Perform(ctx, Of(payload))
}

// EffectLoad loads key and asserts its value to V.
func EffectLoad[V any](ctx context.Context, key string) (V, error) {
	return helper.GetTypedValueOf[V](func() (any, error) {
		return Effect(ctx, LoadPayloadOf(key))
	})
}

func EffectStore(ctx context.Context, key string, v any) error {
	_, err := Effect(ctx, StorePayloadOf(key, v))
	return err
}

func EffectInsertIfAbsent(ctx context.Context, key string, v any) (inserted bool, err error) {
	return helper.GetTypedValueOf[bool](func() (any, error) {
		return Effect(ctx, InsertPayloadOf(key, v))
	})
}

func EffectCompareAndSwap(ctx context.Context, key string, old, new any) (swapped bool, err error) {
	return helper.GetTypedValueOf[bool](func() (any, error) {
		return Effect(ctx, CASPayloadOf(key, old, new))
	})
}

func EffectCompareAndDelete(ctx context.Context, key string, old any) (deleted bool, err error) {
	return helper.GetTypedValueOf[bool](func() (any, error) {
		return Effect(ctx, CADPayloadOf(key, old))
	})
}

func EffectDelete(ctx context.Context, key string) (deleted bool, err error) {
	return helper.GetTypedValueOf[bool](func() (any, error) {
		return Effect(ctx, DeletePayloadOf(key))
	})
}

// EffectSource returns the stream of changes applied by the innermost state
// handler. The stream is lossy: changes nobody reads in time are dropped.
func EffectSource(ctx context.Context) (<-chan TimeBoundedPayload, error) {
	return effects.Perform(ctx, sourceOp())
}

// TimeBoundedPayload is a change applied to the state, stamped with the time
// it was applied.
type TimeBoundedPayload struct {
	Payload
	effects.TimeSpan
}

func statePayloadWithNow(payload Payload) TimeBoundedPayload {
	return TimeBoundedPayload{Payload: payload, TimeSpan: effects.Now()}
}

// Options tune a state handler.
type Options struct {
	// Delegation makes a load of a missing key ask the state handler below
	// this one, and cache the answer locally.
	Delegation bool
	Initial    map[string]any
	Logger     *zap.Logger
}

// WithEffectHandler starts the workers of a state handler and returns the
// handler together with its teardown. Operations on one key are handled by
// one worker, in order; different keys proceed in parallel.
//
// The handler lives until teardown is called or ctx is done, independently of
// the runs it serves.
func WithEffectHandler(
	ctx context.Context,
	cfg config.State,
	repo StateRepo,
	opts Options,
) (effects.Handler, func()) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := make(chan TimeBoundedPayload, 2*max(cfg.NumWorkers, 1))
	sh := &stateHandler{
		repo:   repo,
		sink:   sink,
		logger: logger,
	}
	for k, v := range opts.Initial {
		sh.insertIfAbsent(k, v)
	}

	rh := handlers.NewPartitionableResumableHandler(
		ctx,
		effectmodel.NewEffectScopeConfig(cfg.BufferSize, cfg.NumWorkers),
		logger,
		sh.handle,
		nil,
	)
	var once sync.Once
	teardown := func() {
		once.Do(func() {
			rh.Close()
			sh.closeSink()
		})
	}

	perform := func(ctx context.Context, instr effects.Instruction, resume effects.Resume) (any, error) {
		payload, err := effects.Arg[Payload](instr, 0)
		if err != nil {
			return nil, err
		}
		future := effects.FutureOf(rh.PerformEffect(ctx, payload))
		load, isLoad := payload.(Load)
		if !isLoad || !opts.Delegation {
			return future, nil
		}
		return effects.Async(ctx, func(ctx context.Context) (any, error) {
			v, err := future.Await(ctx)
			if !errors.Is(err, ErrNoSuchKey) {
				return v, err
			}
			if v, err = resume(ctx); err != nil {
				if errors.Is(err, effects.ErrUnhandledEffect) {
					return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, load.Key)
				}
				return nil, err
			}
			// cache locally; a concurrent writer wins
			_, err = effects.FutureOf(rh.PerformEffect(ctx, InsertPayloadOf(load.Key, v))).Await(ctx)
			return v, err
		}), nil
	}

	handler := effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpLoad:             perform,
		OpStore:            perform,
		OpInsertIfAbsent:   perform,
		OpCompareAndSwap:   perform,
		OpCompareAndDelete: perform,
		OpDelete:           perform,
		OpSource: func(context.Context, effects.Instruction, effects.Resume) (any, error) {
			return (<-chan TimeBoundedPayload)(sink), nil
		},
	})
	return handler, teardown
}

// stateHandler applies payloads to the repo. It is only ever called by the
// worker owning the payload's key.
type stateHandler struct {
	repo   StateRepo
	sink   chan TimeBoundedPayload
	logger *zap.Logger
}

func (sH *stateHandler) closeSink() {
	close(sH.sink)
}

// publish hands a change to the source stream without blocking.
func (sH *stateHandler) publish(payload Payload) {
	select {
	case sH.sink <- statePayloadWithNow(payload):
	default:
		sH.logger.Debug("state change dropped, source is full", zap.String("key", payload.PartitionKey()))
	}
}

func (sH *stateHandler) load(k string) (any, bool) {
	return matchRepo(sH.repo,
		func(repo casRepo) res {
			v, ok := repo.Load(k)
			return res{v, ok}
		},
		func(repo setRepo) res {
			v, ok := repo.Get(k)
			return res{v, ok}
		},
	).unpack()
}

func (sH *stateHandler) store(k string, v any) {
	matchRepo(sH.repo,
		func(repo casRepo) struct{} {
			repo.Store(k, v)
			return struct{}{}
		},
		func(repo setRepo) struct{} {
			repo.Set(k, v)
			return struct{}{}
		},
	)
}

func (sH *stateHandler) insertIfAbsent(k string, v any) bool {
	if _, ok := sH.load(k); ok {
		return false
	}
	sH.store(k, v)
	return true
}

func (sH *stateHandler) compareAndSwap(k string, old, new any) bool {
	return matchRepo(sH.repo,
		func(repo casRepo) bool {
			return repo.CompareAndSwap(k, old, new)
		},
		func(repo setRepo) bool {
			if cur, ok := repo.Get(k); !ok || !Equals(cur, old) {
				return false
			}
			repo.Set(k, new)
			return true
		},
	)
}

func (sH *stateHandler) compareAndDelete(k string, old any) bool {
	return matchRepo(sH.repo,
		func(repo casRepo) bool {
			return repo.CompareAndDelete(k, old)
		},
		func(repo setRepo) bool {
			if cur, ok := repo.Get(k); !ok || !Equals(cur, old) {
				return false
			}
			repo.Delete(k)
			return true
		},
	)
}

func (sH *stateHandler) delete(k string) bool {
	if _, ok := sH.load(k); !ok {
		return false
	}
	matchRepo(sH.repo,
		func(repo casRepo) struct{} {
			repo.Delete(k)
			return struct{}{}
		},
		func(repo setRepo) struct{} {
			repo.Delete(k)
			return struct{}{}
		},
	)
	return true
}

// handle routes the given payload to the appropriate state operation logic.
func (sH *stateHandler) handle(_ context.Context, payload Payload) (any, error) {
	var changed bool
	switch payload := payload.(type) {
	case Load:
		v, ok := sH.load(payload.Key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, payload.Key)
		}
		return v, nil

	case Store:
		sH.store(payload.Key, payload.New)
		changed = true

	case InsertIfAbsent:
		changed = sH.insertIfAbsent(payload.Key, payload.New)

	case CompareAndSwap:
		if Equals(payload.Old, payload.New) {
			cur, ok := sH.load(payload.Key)
			return ok && Equals(cur, payload.Old), nil
		}
		changed = sH.compareAndSwap(payload.Key, payload.Old, payload.New)

	case CompareAndDelete:
		changed = sH.compareAndDelete(payload.Key, payload.Old)

	case Delete:
		changed = sH.delete(payload.Key)

	default:
		// This should never happen because we are using a sealed interface to prevent adding new types.
		panic(fmt.Errorf("invalid state operation type: %T", payload))
	}

	if changed {
		sH.publish(payload)
	}
	return changed, nil
}

type res struct {
	v  any
	ok bool
}

func (r res) unpack() (any, bool) { return r.v, r.ok }
