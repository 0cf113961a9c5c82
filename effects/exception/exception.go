package exception

import (
	"context"

	"github.com/on-the-ground/effect_stack/effects"
	effectmodel "github.com/on-the-ground/effect_stack/effects/internal/model"
)

const Family = effectmodel.FamilyException

const OpRaise effects.Operation = "raise"

// Tag tells an Ok Result from an Err one.
type Tag string

const (
	Ok  Tag = "Ok"
	Err Tag = "Err"
)

// Result is the error-as-data outcome of a run under Handler.
type Result struct {
	Tag   Tag
	Value any
	Error any
}

func (r Result) IsOk() bool { return r.Tag == Ok }

var raise = effects.Define[any](Family, OpRaise)

// Raise builds an instruction that halts the run with payload. It never
// resolves to a value.
func Raise(payload any) effects.Effect[any] {
	return raise(payload)
}

// Throw performs Raise and returns the resulting error, which the caller must
// return as is for the halt to reach the run.
func Throw(ctx context.Context, payload any) error {
	_, err := effects.Resolve(ctx, Raise(payload))
	return err
}

// RaiseIfErr is Throw(ctx, err) for a non-nil err, nil otherwise.
func RaiseIfErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	return Throw(ctx, err)
}

// Handler turns raise instructions into halts, and its finalizer turns the
// outcome of the run into a Result: a halt of this family becomes an Err
// Result, a plain value an Ok one. Halts of other families pass through.
func Handler() effects.Handler {
	return effects.HandlerOf(Family, map[effects.Operation]effects.HandleFunc{
		OpRaise: func(_ context.Context, instr effects.Instruction, _ effects.Resume) (any, error) {
			var payload any
			if len(instr.Args) > 0 {
				payload = instr.Args[0]
			}
			return nil, effects.HaltWith(Family, payload)
		},
	}).WithFinalizer(finalize)
}

func finalize(value any, halt *effects.Halt) (any, *effects.Halt) {
	switch {
	case halt == nil:
		return Result{Tag: Ok, Value: value}, nil
	case halt.Family == Family:
		return Result{Tag: Err, Error: halt.Payload}, nil
	default:
		return value, halt
	}
}
