package parallel

import (
	"context"
	"sync"

	"github.com/on-the-ground/effect_stack/effects"
	"go.uber.org/zap"
)

// supervisor owns one child controller per branch, all forked from the
// controller active when the combinator was called. A failing branch aborts
// every sibling. A branch is torn down only after its body has returned, so
// its cleanups never run under a body that is still working; on success the
// branches' scopes are closed and their cleanups discarded.
type supervisor struct {
	logger   *zap.Logger
	branches []*effects.Controller

	failOnce sync.Once
	err      *BranchError
}

func newSupervisor(ctx context.Context, n int) (*supervisor, error) {
	sv := &supervisor{
		logger:   effects.Logger(ctx),
		branches: make([]*effects.Controller, 0, n),
	}
	for range n {
		c, err := effects.Fork(ctx)
		if err != nil {
			sv.teardownAll(false)
			return nil, err
		}
		sv.branches = append(sv.branches, c)
	}
	return sv, nil
}

// run evaluates branch i under its own controller and resolves its result.
// A branch whose controller is already aborted does not start.
func (sv *supervisor) run(i int, branch Branch) (v any, err error) {
	c := sv.branches[i]
	if c.Aborted() {
		return nil, c.Cause()
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, effects.NewRecoveredPanic(r)
		}
	}()
	v, err = branch(c.Context())
	if err != nil {
		return nil, err
	}
	return effects.Resolve(c.Context(), v)
}

// fail aborts every branch with cause. Only the first failure does anything;
// it is kept as the supervisor's error. Teardown is left to the caller, once
// the branch bodies have returned.
func (sv *supervisor) fail(i int, key string, cause error) {
	sv.failOnce.Do(func() {
		sv.err = &BranchError{Index: i, Key: key, Err: cause}
		sv.logger.Debug("branch failed, aborting siblings",
			zap.Int("branch", i),
			zap.Int("branches", len(sv.branches)),
			zap.Error(cause),
		)
		for _, c := range sv.branches {
			c.Abort(cause)
		}
	})
}

// abortExcept aborts every branch but the winner.
func (sv *supervisor) abortExcept(winner int, cause error) {
	for i, c := range sv.branches {
		if i != winner {
			c.Abort(cause)
		}
	}
}

func (sv *supervisor) teardownAll(failed bool) {
	for _, c := range sv.branches {
		c.Teardown(failed)
	}
}
