package effectmodel

// Family names an effect family. Handlers and instructions are matched by family.
type Family string

// Operation names one operation inside a family.
type Operation string

const (
	FamilyLog       Family = "effect_stack_family_log"
	FamilyException Family = "effect_stack_family_exception"
	FamilyState     Family = "effect_stack_family_state"
	FamilyBinding   Family = "effect_stack_family_binding"
	FamilyTask      Family = "effect_stack_family_task"
	FamilyLease     Family = "effect_stack_family_lease"
	FamilyStream    Family = "effect_stack_family_stream"
)

// EffectScopeConfig sizes the worker queues behind a stateful handler.
type EffectScopeConfig struct {
	BufferSize int // default: 1
	NumWorkers int // default: 1
}

func NewEffectScopeConfig(bufferSize int, numWorkers int) EffectScopeConfig {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return EffectScopeConfig{
		BufferSize: bufferSize,
		NumWorkers: numWorkers,
	}
}

// Partitionable routes a message to a worker. Messages with the same key
// are always handled by the same worker, in order.
type Partitionable interface {
	PartitionKey() string
}
