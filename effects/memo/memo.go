// Package memo memoizes the results of effect operations.
//
// A memo handler is registered for the same family as the handler it caches,
// after it. On a miss it resumes to the handler below and keeps the settled
// value; errors and halts are never cached.
//
//	cache, _ := memo.NewCache(cfg.Memo)
//	defer cache.Close()
//	stack := effects.NewStack(pricing.Handler(), memo.Handler(cache, pricing.Family, pricing.OpQuote))
package memo

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	ristretto "github.com/dgraph-io/ristretto/v2"
	"github.com/on-the-ground/effect_stack/effects"
	"github.com/on-the-ground/effect_stack/effects/config"
	"go.uber.org/zap"
)

// Cache holds memoized results, keyed by the hash of an instruction.
// One Cache may back any number of memo handlers and runs.
type Cache struct {
	cache *ristretto.Cache[uint64, any]
	cfg   config.Memo
}

func NewCache(cfg config.Memo) (*Cache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, any]{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memo cache: %w", err)
	}
	return &Cache{cache: cache, cfg: cfg}, nil
}

func (c *Cache) Close() {
	c.cache.Close()
}

// Clear drops every memoized result.
func (c *Cache) Clear() {
	c.cache.Clear()
}

func (c *Cache) get(key uint64) (any, bool) {
	return c.cache.Get(key)
}

func (c *Cache) set(key uint64, v any) bool {
	var ok bool
	if c.cfg.TTL > 0 {
		ok = c.cache.SetWithTTL(key, v, 1, c.cfg.TTL)
	} else {
		ok = c.cache.Set(key, v, 1)
	}
	c.cache.Wait()
	return ok
}

// Key hashes the family, the operation and the arguments of instr. Arguments
// are hashed through their Go-syntax representation, so pointers hash by
// address and maps by content.
func Key(instr effects.Instruction) uint64 {
	d := xxhash.New()
	fmt.Fprintf(d, "%s\x00%s", instr.Family, instr.Op)
	for _, arg := range instr.Args {
		fmt.Fprintf(d, "\x00%T:%#v", arg, arg)
	}
	return d.Sum64()
}

// Handler returns a handler of family memoizing ops in cache.
func Handler(cache *Cache, family effects.Family, ops ...effects.Operation) effects.Handler {
	if len(ops) == 0 {
		panic("memo.Handler: no operations to memoize")
	}
	handles := make(map[effects.Operation]effects.HandleFunc, len(ops))
	for _, op := range ops {
		handles[op] = cache.handle
	}
	return effects.HandlerOf(family, handles)
}

func (c *Cache) handle(ctx context.Context, instr effects.Instruction, resume effects.Resume) (any, error) {
	key := Key(instr)
	if v, ok := c.get(key); ok {
		effects.Logger(ctx).Debug("memo hit", zap.Stringer("instruction", instr), zap.Uint64("key", key))
		return v, nil
	}

	v, err := resume(ctx)
	if err != nil {
		return nil, err
	}
	if !c.set(key, v) {
		effects.Logger(ctx).Debug("memo entry rejected", zap.Stringer("instruction", instr))
	}
	return v, nil
}
