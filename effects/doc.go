// Package effects is an effect-handler runtime for Go.
//
// Programs describe side effects as inert data: an Instruction names a family,
// an operation and its arguments. A Stack of Handlers gives those instructions
// meaning, and a tree of Controllers guarantees that resources and in-flight
// work are torn down deterministically on success, failure or cancellation.
//
// # Instructions
//
// Families declare one constructor per operation with Define:
//
//	var Get = effects.Define[int](FamilyCounter, "get")
//
// Calling Get(...) only builds data. Nothing happens until the instruction is
// resolved inside Stack.Run, through Resolve or Perform.
//
// # Handlers and dispatch
//
// Handlers registered later are tried first. A handler may answer an
// instruction with a plain value, with another instruction (delegation), with
// an Awaitable such as a *Future, or with an error. resume continues the search
// below the current handler, with the same instruction or an override, which is
// how interceptors wrap the handlers they sit on top of.
//
// # Halts and finalizers
//
// A *Halt is an error value that short-circuits a run for one family. Only
// Stack.Run interprets it: the handlers' finalizers fold over the outcome, last
// handler first, and the finalizer of the halting family converts it into
// data. A halt nobody claims surfaces as an *UnhandledEffectError.
//
// # Cancellation
//
// The runtime and the innermost Controller travel in the context.Context given
// to programs and handlers. ctx.Done() is the abort signal of that scope and
// OnCancel registers cleanup on it. Cleanups run once, last registered first,
// when the scope is torn down after an abort or a failure.
//
// Example:
//
//	stack := effects.NewStack(log.ZapHandler(logger), exception.Handler())
//	res, err := stack.Run(ctx, func(ctx context.Context) (any, error) {
//	    if _, err := effects.Perform(ctx, log.Info("start")); err != nil {
//	        return nil, err
//	    }
//	    return nil, exception.Raise(errors.New("boom"))
//	})
package effects
