package effects

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// ErrUnhandledEffect is wrapped by every UnhandledEffectError.
	ErrUnhandledEffect = errors.New("unhandled effect")

	// ErrNoRuntime is returned when an instruction is resolved, or a scope is
	// forked, outside of Stack.Run.
	ErrNoRuntime = errors.New("no effect runtime in context")

	// ErrAborted is the default cause of Controller.Abort.
	ErrAborted = errors.New("effect scope aborted")

	ErrMissingArgument = errors.New("missing instruction argument")

	errScopeClosed = errors.New("effect scope closed")
)

// UnhandledEffectError reports an instruction no handler serves, or a Halt
// no finalizer claimed.
type UnhandledEffectError struct {
	Family    Family
	Op        Operation
	Available []Family
	Halt      *Halt
}

func (e *UnhandledEffectError) Error() string {
	available := make([]string, len(e.Available))
	for i, f := range e.Available {
		available[i] = string(f)
	}
	if e.Halt != nil {
		return fmt.Sprintf("%v: halt of family %q was not claimed by any finalizer (handlers: [%s])",
			ErrUnhandledEffect, e.Family, strings.Join(available, ", "))
	}
	return fmt.Sprintf("%v: no handler for %s/%s (handlers: [%s])",
		ErrUnhandledEffect, e.Family, e.Op, strings.Join(available, ", "))
}

func (e *UnhandledEffectError) Unwrap() []error {
	if e.Halt != nil {
		return []error{ErrUnhandledEffect, e.Halt}
	}
	return []error{ErrUnhandledEffect}
}

// RecoveredPanic is an error wrapping a panic value raised by a program, a
// handler or a parallel branch.
type RecoveredPanic struct {
	Value any
	Stack []byte
}

func NewRecoveredPanic(v any) *RecoveredPanic {
	return &RecoveredPanic{Value: v, Stack: debug.Stack()}
}

func (p *RecoveredPanic) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

func (p *RecoveredPanic) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}
