package state

import (
	"sync"
)

// NewInMemoryRepo returns a StateRepo backed by a sync.Map.
func NewInMemoryRepo() StateRepo {
	return NewCasRepo(&sync.Map{})
}

// Equaler lets stored values define their own equality for conditional
// operations.
type Equaler interface {
	Equals(other any) bool
}

// Equals compares two stored values. An Equaler decides for itself; other
// values compare with ==, and values that are not comparable are never equal.
func Equals(a, b any) (eq bool) {
	if e, ok := a.(Equaler); ok {
		return e.Equals(b)
	}
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
