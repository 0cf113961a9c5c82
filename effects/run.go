package effects

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/on-the-ground/effect_stack/effects/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/on-the-ground/effect_stack/effects"

// Program is the body of a run. Its ctx carries the runtime and the root
// controller.
type Program func(ctx context.Context) (any, error)

// Stack is an ordered set of handlers. Handlers registered later are tried
// first. A Stack is immutable and may serve any number of concurrent runs.
type Stack struct {
	handlers []Handler
	logger   *zap.Logger
	tracer   trace.Tracer
	config   config.Runtime
}

// NewStack builds a Stack from handlers, in registration order.
// Handlers without a family are a programming error and panic.
//
// Handlers built with HandlerPerRun get a fresh instance in every run.
// Other handlers are shared by all runs of the stack and must be safe for
// concurrent use.
func NewStack(handlers ...Handler) *Stack {
	for i, h := range handlers {
		if h.Family == "" {
			panic(fmt.Sprintf("effects.NewStack: handler at index %d has no family", i))
		}
	}
	return &Stack{
		handlers: slices.Clone(handlers),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		config:   config.Default(),
	}
}

func (s *Stack) clone() *Stack {
	c := *s
	c.handlers = slices.Clone(s.handlers)
	return &c
}

// With returns a Stack with handlers registered after the existing ones.
func (s *Stack) With(handlers ...Handler) *Stack {
	c := NewStack(append(slices.Clone(s.handlers), handlers...)...)
	c.logger, c.tracer, c.config = s.logger, s.tracer, s.config
	return c
}

func (s *Stack) WithLogger(logger *zap.Logger) *Stack {
	c := s.clone()
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
	return c
}

func (s *Stack) WithTracer(tracer trace.Tracer) *Stack {
	c := s.clone()
	c.tracer = tracer
	return c
}

func (s *Stack) WithConfig(cfg config.Runtime) *Stack {
	c := s.clone()
	c.config = cfg.Normalize()
	return c
}

func (s *Stack) newRuntime() *runtime {
	handlers := make([]Handler, len(s.handlers))
	for i, h := range s.handlers {
		handlers[i] = h.instantiate()
	}
	registry := make(map[opKey][]int)
	for idx, h := range handlers {
		for op, fn := range h.Handles {
			if fn == nil {
				continue
			}
			key := opKey{family: h.Family, op: op}
			registry[key] = append(registry[key], idx)
		}
	}
	return &runtime{
		id:       uuid.New().String(),
		handlers: handlers,
		registry: registry,
		logger:   s.logger,
		tracer:   s.tracer,
		config:   s.config,
	}
}

// Run resolves program under this stack.
//
// A non-halt error aborts the root controller, runs its cleanups and is
// returned as is; finalizers do not run. Otherwise the finalizers fold over
// the outcome, last handler first. A Halt aborts and cleans up the root scope
// too, then goes through the finalizers; if none claims it, Run fails with an
// *UnhandledEffectError.
//
// Cancelling ctx aborts the root controller.
func (s *Stack) Run(ctx context.Context, program Program) (any, error) {
	rt := s.newRuntime()
	ctx = context.WithValue(ctx, runtimeKey{}, rt)
	ctx, span := rt.tracer.Start(ctx, "effects.run", trace.WithAttributes(
		attribute.String("effect.run", rt.id),
		attribute.Int("effect.handlers", len(rt.handlers)),
	))
	defer span.End()

	root := newController(ctx, rt.logger, s.config.CleanupTimeout)
	rt.logger.Debug("run started", zap.String("run", rt.id), zap.String("controller", root.Id))

	value, err := rt.evaluate(root.Context(), program)

	var halt *Halt
	if err != nil {
		var isHalt bool
		halt, isHalt = AsHalt(err)
		root.Abort(err)
		root.Teardown(true)
		if !isHalt {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			rt.logger.Debug("run failed", zap.String("run", rt.id), zap.Error(err))
			return nil, err
		}
		value = nil
	} else {
		root.Teardown(false)
	}

	value, halt = rt.finalize(value, halt)
	if halt != nil {
		err := &UnhandledEffectError{
			Family:    halt.Family,
			Available: rt.families(),
			Halt:      halt,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	rt.logger.Debug("run finished", zap.String("run", rt.id))
	return value, nil
}

func (rt *runtime) evaluate(ctx context.Context, program Program) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, NewRecoveredPanic(r)
		}
	}()
	v, err := program(ctx)
	if err != nil {
		return nil, err
	}
	return rt.resolve(ctx, v)
}

func (rt *runtime) finalize(value any, halt *Halt) (any, *Halt) {
	for i := len(rt.handlers) - 1; i >= 0; i-- {
		if f := rt.handlers[i].Finalize; f != nil {
			value, halt = f(value, halt)
		}
	}
	return value, halt
}
