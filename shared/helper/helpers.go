package helper

import (
	"errors"
	"fmt"
)

// ErrUnexpectedType is returned when a resolved value cannot be asserted to the requested type.
var ErrUnexpectedType = errors.New("unexpected type")

// GetTypedValueOf safely asserts the result of a getter function to the expected type T.
// A nil result yields the zero value of T.
// Returns an error if type assertion fails.
func GetTypedValueOf[T any](getFn func() (any, error)) (T, error) {
	var zero T

	res, err := getFn()
	if err != nil {
		return zero, err
	}
	return As[T](res)
}

// As asserts v to T. A nil v yields the zero value of T.
func As[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	val, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %T", ErrUnexpectedType, zero, v)
	}
	return val, nil
}

// MustGetTypedValue is the panic-on-failure variant of GetTypedValueOf.
// Use when failure should be fatal (e.g., when effect handler is guaranteed to exist).
func MustGetTypedValue[T any](getFn func() (any, error)) T {
	res, err := GetTypedValueOf[T](getFn)
	if err != nil {
		panic(err)
	}
	return res
}
