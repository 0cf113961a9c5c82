package effects

import (
	"context"
	"fmt"
	"slices"

	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
	"github.com/on-the-ground/effect_stack/shared/helper"
)

// Family names an effect family. A handler serves exactly one family.
type Family = effectmodel.Family

// Operation names one operation of a family.
type Operation = effectmodel.Operation

// Instruction is inert data naming an operation and its arguments.
// Instructions never run by themselves: only dispatch gives them meaning.
type Instruction struct {
	Family Family
	Op     Operation
	Args   []any
}

func (in Instruction) instruction() Instruction { return in }

func (in Instruction) String() string {
	return fmt.Sprintf("%s/%s", in.Family, in.Op)
}

// Arg returns the i-th argument asserted to T.
func Arg[T any](in Instruction, i int) (T, error) {
	if i < 0 || i >= len(in.Args) {
		var zero T
		return zero, fmt.Errorf("%w: %s has %d args, want index %d", ErrMissingArgument, in, len(in.Args), i)
	}
	return helper.As[T](in.Args[i])
}

// instructor is implemented by Instruction and every Effect[R].
type instructor interface {
	instruction() Instruction
}

// Effect is an Instruction whose handler resolves to a value of type R.
// R is only a marker: dispatch itself is untyped.
type Effect[R any] struct {
	Instruction
}

// Constructor builds the Effect for one declared operation.
type Constructor[R any] func(args ...any) Effect[R]

// Define declares an operation of family and returns its constructor.
// Families call Define once per operation, typically in a var block:
//
//	var Get = effects.Define[int](FamilyCounter, "get")
func Define[R any](family Family, op Operation) Constructor[R] {
	if family == "" || op == "" {
		panic("effects.Define: family and operation must not be empty")
	}
	return func(args ...any) Effect[R] {
		return Effect[R]{Instruction{
			Family: family,
			Op:     op,
			Args:   slices.Clone(args),
		}}
	}
}

// Perform resolves eff against the runtime carried by ctx and asserts the result to R.
func Perform[R any](ctx context.Context, eff Effect[R]) (R, error) {
	return helper.GetTypedValueOf[R](func() (any, error) {
		return Resolve(ctx, eff)
	})
}
