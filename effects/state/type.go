package state

import (
	"fmt"

	"github.com/on-the-ground/effect_stack/effects"
)

var (
	_ Payload = Load{}
	_ Payload = Store{}
	_ Payload = InsertIfAbsent{}
	_ Payload = CompareAndSwap{}
	_ Payload = CompareAndDelete{}
	_ Payload = Delete{}
)

// Payload is a sealed interface for state operations.
// Only the payload types of this package implement it.
type Payload interface {
	PartitionKey() string
	effect() effects.Effect[any]
}

// Load is the payload type for retrieving a value from the state.
type Load struct {
	Key string
}

func LoadPayloadOf(key string) Payload {
	return Load{Key: key}
}

// PartitionKey returns the partition key for routing this payload.
func (p Load) PartitionKey() string        { return p.Key }
func (p Load) effect() effects.Effect[any] { return loadOp(p) }

// Store is the payload type for setting a key unconditionally.
type Store struct {
	Key string
	New any
}

func StorePayloadOf(key string, v any) Payload {
	return Store{Key: key, New: v}
}

func (p Store) PartitionKey() string        { return p.Key }
func (p Store) effect() effects.Effect[any] { return storeOp(p) }

// InsertIfAbsent is the payload type for inserting a key that is not set yet.
type InsertIfAbsent struct {
	Key string
	New any
}

func InsertPayloadOf(key string, v any) Payload {
	return InsertIfAbsent{Key: key, New: v}
}

func (p InsertIfAbsent) PartitionKey() string        { return p.Key }
func (p InsertIfAbsent) effect() effects.Effect[any] { return insertOp(p) }

// CompareAndSwap is the payload type for replacing Old with New.
type CompareAndSwap struct {
	Key string
	Old any
	New any
}

func CASPayloadOf(key string, old, new any) Payload {
	return CompareAndSwap{Key: key, Old: old, New: new}
}

func (p CompareAndSwap) PartitionKey() string        { return p.Key }
func (p CompareAndSwap) effect() effects.Effect[any] { return casOp(p) }

// CompareAndDelete is the payload type for deleting a key still holding Old.
type CompareAndDelete struct {
	Key string
	Old any
}

func CADPayloadOf(key string, old any) Payload {
	return CompareAndDelete{Key: key, Old: old}
}

func (p CompareAndDelete) PartitionKey() string        { return p.Key }
func (p CompareAndDelete) effect() effects.Effect[any] { return cadOp(p) }

// Delete is the payload type for deleting a key unconditionally.
type Delete struct {
	Key string
}

func DeletePayloadOf(key string) Payload {
	return Delete{Key: key}
}

func (p Delete) PartitionKey() string        { return p.Key }
func (p Delete) effect() effects.Effect[any] { return deleteOp(p) }

// StateRepo is the storage behind a state handler. Build one with NewCasRepo
// or NewSetRepo.
type StateRepo interface {
	// stateRepo is a marker method to prevent accidental implementation of StateRepo directly.
	stateRepo()
}

// CasRepo is a store with atomic primitives. *sync.Map is one.
type CasRepo interface {
	Load(key any) (value any, ok bool)
	Store(key, value any)
	CompareAndSwap(key, old, new any) (swapped bool)
	CompareAndDelete(key, old any) (deleted bool)
	Delete(key any)
}

type casRepo interface {
	CasRepo
	stateRepo()
}

type casImpl struct {
	CasRepo
}

func (casImpl) stateRepo() {}

func NewCasRepo(repo CasRepo) StateRepo {
	return casImpl{CasRepo: repo}
}

// SetRepo is a plain get/set store. Conditional operations are emulated on
// top of it, which is safe because operations on one key are serialized.
type SetRepo interface {
	Get(key any) (value any, ok bool)
	Set(key, value any)
	Delete(key any)
}

type setRepo interface {
	SetRepo
	stateRepo()
}

type setImpl struct {
	SetRepo
}

func (setImpl) stateRepo() {}

func NewSetRepo(repo SetRepo) StateRepo {
	return setImpl{SetRepo: repo}
}

func matchRepo[T any](
	repo StateRepo,
	casCallback func(casRepo) T,
	setCallback func(setRepo) T,
) T {
	if casRepo, ok := repo.(casRepo); ok {
		return casCallback(casRepo)
	}
	if setRepo, ok := repo.(setRepo); ok {
		return setCallback(setRepo)
	}
	panic(fmt.Sprintf("exhaustive match fallback, repo type: %T", repo))
}
