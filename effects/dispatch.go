package effects

import (
	"context"
	"fmt"

	"github.com/on-the-ground/effect_stack/effects/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Awaitable is an asynchronous result. Resolve awaits it before looking at the
// settled value.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

type runtimeKey struct{}

type opKey struct {
	family Family
	op     Operation
}

// runtime is the per-run dispatch state. It travels in the context instead of
// living in a package-level stack, so concurrent runs never see each other.
type runtime struct {
	id       string
	handlers []Handler
	// registry maps family+operation to the indices of the handlers serving it,
	// in registration order.
	registry map[opKey][]int
	logger   *zap.Logger
	tracer   trace.Tracer
	config   config.Runtime
}

func runtimeFrom(ctx context.Context) (*runtime, bool) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	return rt, ok
}

// Logger returns the logger of the run carried by ctx, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if rt, ok := runtimeFrom(ctx); ok {
		return rt.logger
	}
	return zap.NewNop()
}

// Config returns the settings of the run carried by ctx, or the defaults.
func Config(ctx context.Context) config.Runtime {
	if rt, ok := runtimeFrom(ctx); ok {
		return rt.config
	}
	return config.Default()
}

// Resolve turns v into a plain value: Awaitables are awaited and Instructions
// are dispatched, repeatedly, until neither remains.
func Resolve(ctx context.Context, v any) (any, error) {
	rt, _ := runtimeFrom(ctx)
	return rt.resolve(ctx, v)
}

func (rt *runtime) resolve(ctx context.Context, v any) (any, error) {
	for {
		var err error
		switch x := v.(type) {
		case Awaitable:
			if v, err = x.Await(ctx); err != nil {
				return nil, err
			}
		case instructor:
			instr := x.instruction()
			if rt == nil {
				return nil, fmt.Errorf("%w: cannot dispatch %s", ErrNoRuntime, instr)
			}
			if v, err = rt.dispatch(ctx, instr, len(rt.handlers)); err != nil {
				return nil, err
			}
		default:
			return v, nil
		}
	}
}

// lookup returns the index of the latest registered handler below `below`
// serving instr, or -1.
func (rt *runtime) lookup(instr Instruction, below int) int {
	indices := rt.registry[opKey{family: instr.Family, op: instr.Op}]
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < below {
			return indices[i]
		}
	}
	return -1
}

// dispatch invokes the handler serving instr whose index is below `below` and
// returns its raw result, which may still need resolving.
func (rt *runtime) dispatch(ctx context.Context, instr Instruction, below int) (any, error) {
	idx := rt.lookup(instr, below)
	if idx < 0 {
		err := rt.unhandled(instr)
		rt.logger.Debug("unhandled effect",
			zap.String("run", rt.id),
			zap.String("family", string(instr.Family)),
			zap.String("op", string(instr.Op)),
		)
		return nil, err
	}

	ctx, span := rt.tracer.Start(ctx, "effects.dispatch", trace.WithAttributes(
		attribute.String("effect.family", string(instr.Family)),
		attribute.String("effect.op", string(instr.Op)),
		attribute.Int("effect.handler", idx),
	))
	defer span.End()

	resume := func(ctx context.Context, override ...Instruction) (any, error) {
		next := instr
		if len(override) > 0 {
			next = override[0]
		}
		v, err := rt.dispatch(ctx, next, idx)
		if err != nil {
			return nil, err
		}
		return rt.resolve(ctx, v)
	}

	v, err := rt.handlers[idx].Handles[instr.Op](ctx, instr, resume)
	if err != nil {
		if _, isHalt := AsHalt(err); isHalt {
			span.SetAttributes(attribute.Bool("effect.halt", true))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return v, nil
}

func (rt *runtime) families() []Family {
	families := make([]Family, len(rt.handlers))
	for i, h := range rt.handlers {
		families[i] = h.Family
	}
	return families
}

func (rt *runtime) unhandled(instr Instruction) error {
	return &UnhandledEffectError{
		Family:    instr.Family,
		Op:        instr.Op,
		Available: rt.families(),
	}
}
