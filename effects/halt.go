package effects

import (
	"errors"
	"fmt"
)

// Halt is a family-scoped short-circuit. It travels as an ordinary error
// return through the program and is interpreted only by Stack.Run, which
// hands it to the finalizers. A finalizer of the same family claims it by
// returning a nil halt.
type Halt struct {
	Family  Family
	Payload any
}

// HaltWith builds a Halt carrying payload.
func HaltWith(family Family, payload any) *Halt {
	return &Halt{Family: family, Payload: payload}
}

func (h *Halt) Error() string {
	return fmt.Sprintf("halt(%s): %v", h.Family, h.Payload)
}

// Unwrap exposes an error payload to errors.Is and errors.As.
func (h *Halt) Unwrap() error {
	if err, ok := h.Payload.(error); ok {
		return err
	}
	return nil
}

// AsHalt reports whether err is, or wraps, a live Halt. A Halt already
// reported as unhandled is fatal and no longer counts.
func AsHalt(err error) (*Halt, bool) {
	if errors.Is(err, ErrUnhandledEffect) {
		return nil, false
	}
	var h *Halt
	if errors.As(err, &h) {
		return h, true
	}
	return nil, false
}
