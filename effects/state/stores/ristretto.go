package stores

import (
	"fmt"

	ristretto "github.com/dgraph-io/ristretto/v2"
	"github.com/on-the-ground/effect_stack/effects/config"
	"github.com/on-the-ground/effect_stack/effects/state"
)

// Ristretto is a state.SetRepo over a ristretto cache. The cache may refuse
// or evict entries, so it fits a caching tier sitting above a delegating
// state handler, not a system of record.
type Ristretto struct {
	cache *ristretto.Cache[string, any]
}

var _ state.SetRepo = (*Ristretto)(nil)

func NewRistretto(cfg config.Memo) (*Ristretto, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &Ristretto{cache: cache}, nil
}

func (r *Ristretto) Repo() state.StateRepo {
	return state.NewSetRepo(r)
}

func (r *Ristretto) Get(key any) (any, bool) {
	return r.cache.Get(keyOf(key))
}

// Set waits for the write buffer to drain so that a following Get observes
// the value, unless the admission policy dropped it.
func (r *Ristretto) Set(key, value any) {
	r.cache.Set(keyOf(key), value, 1)
	r.cache.Wait()
}

func (r *Ristretto) Delete(key any) {
	r.cache.Del(keyOf(key))
}

func (r *Ristretto) Close() {
	r.cache.Close()
}

func keyOf(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	return fmt.Sprint(key)
}
