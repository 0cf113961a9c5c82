package effects

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CleanupFunc is a teardown callback. Its ctx is detached from the aborted
// scope and expires with the cleanup timeout.
type CleanupFunc func(ctx context.Context) error

type controllerKey struct{}

// Controller is the abort signal and cleanup registry of one scope: the root
// of a run, a parallel branch, or a resource scope.
//
// A child controller is derived from its parent's context, so aborting the
// parent aborts the child. Aborting a child never touches its parent or its
// siblings.
type Controller struct {
	Id string

	ctx     context.Context
	cancel  context.CancelCauseFunc
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	cleanups []*cleanupEntry
	torn     bool
}

type cleanupEntry struct {
	fn CleanupFunc
}

func newController(parent context.Context, logger *zap.Logger, timeout time.Duration) *Controller {
	ctx, cancel := context.WithCancelCause(parent)
	c := &Controller{
		Id:      uuid.New().String(),
		cancel:  cancel,
		logger:  logger,
		timeout: timeout,
	}
	c.ctx = context.WithValue(ctx, controllerKey{}, c)
	return c
}

// Context returns the context of this scope. Work started under it observes
// the scope's abort signal through ctx.Done().
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Signal is closed once the controller is aborted or its scope is closed.
func (c *Controller) Signal() <-chan struct{} {
	return c.ctx.Done()
}

// Abort flips the abort signal. Aborting twice is a no-op; the first cause wins.
func (c *Controller) Abort(cause error) {
	if cause == nil {
		cause = ErrAborted
	}
	c.cancel(cause)
}

// Aborted reports whether this controller, or one of its ancestors, was aborted.
func (c *Controller) Aborted() bool {
	if c.ctx.Err() == nil {
		return false
	}
	return !errors.Is(context.Cause(c.ctx), errScopeClosed)
}

// Cause returns the abort cause, or nil while the controller is live.
func (c *Controller) Cause() error {
	if !c.Aborted() {
		return nil
	}
	return context.Cause(c.ctx)
}

// OnCancel registers cleanup to run when the controller is torn down after an
// abort or a failure. If the controller is already aborted, cleanup runs
// immediately, in-line; its failure is logged, never returned.
func (c *Controller) OnCancel(cleanup CleanupFunc) {
	c.AddCleanup(cleanup)
}

// AddCleanup registers cleanup like OnCancel and returns a func that removes
// it again. Scopes shorter than the controller remove their cleanup when they
// close, so the registry only holds work that is still pending. Removing twice,
// or after the cleanup ran, is a no-op.
func (c *Controller) AddCleanup(cleanup CleanupFunc) (remove func()) {
	c.mu.Lock()
	switch {
	case c.Aborted():
		c.mu.Unlock()
		cctx, cancel := c.cleanupContext()
		defer cancel()
		if err := runIsolated(cctx, cleanup); err != nil {
			c.logger.Warn("cleanup callback failed",
				zap.String("controller", c.Id),
				zap.Error(err),
			)
		}
		return func() {}
	case c.torn:
		c.mu.Unlock()
		c.logger.Debug("cleanup registered on closed scope is dropped", zap.String("controller", c.Id))
		return func() {}
	}
	e := &cleanupEntry{fn: cleanup}
	c.cleanups = append(c.cleanups, e)
	c.mu.Unlock()
	return func() { c.remove(e) }
}

func (c *Controller) remove(e *cleanupEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// short scopes usually close in LIFO order, so search from the end
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		if c.cleanups[i] == e {
			c.cleanups = slices.Delete(c.cleanups, i, i+1)
			return
		}
	}
}

// Pending returns the number of cleanups waiting for teardown.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cleanups)
}

// Teardown closes the scope. When the controller was aborted, or failed is
// true, the registered cleanups run in reverse registration order; otherwise
// they are discarded. Teardown runs once; later calls return immediately.
func (c *Controller) Teardown(failed bool) {
	if failed {
		c.Abort(ErrAborted)
	}

	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	if !c.Aborted() {
		c.cancel(errScopeClosed)
		return
	}
	c.runCleanups(cleanups)
}

func (c *Controller) runCleanups(cleanups []*cleanupEntry) {
	if len(cleanups) == 0 {
		return
	}

	cctx, cancel := c.cleanupContext()
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, runIsolated(cctx, cleanups[i].fn))
		}
		done <- errs
	}()

	select {
	case errs := <-done:
		if errs != nil {
			c.logger.Warn("cleanup callbacks failed",
				zap.String("controller", c.Id),
				zap.Errors("errors", multierr.Errors(errs)),
			)
		}
	case <-cctx.Done():
		c.logger.Warn("cleanup timed out, abandoning remaining callbacks",
			zap.String("controller", c.Id),
			zap.Duration("timeout", c.timeout),
		)
	}
}

func (c *Controller) cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.ctx), c.timeout)
}

// fork derives a child controller from ctx, which must carry c.
func (c *Controller) fork(ctx context.Context) *Controller {
	return newController(ctx, c.logger, c.timeout)
}

func runIsolated(ctx context.Context, cleanup CleanupFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return cleanup(ctx)
}

// ControllerFrom returns the controller of the innermost scope carried by ctx.
func ControllerFrom(ctx context.Context) (*Controller, bool) {
	c, ok := ctx.Value(controllerKey{}).(*Controller)
	return c, ok
}

// Signal returns the abort signal of the innermost scope carried by ctx.
// It is read from ctx at every call, so nested scopes see their own signal.
func Signal(ctx context.Context) <-chan struct{} {
	if c, ok := ControllerFrom(ctx); ok {
		return c.Signal()
	}
	return ctx.Done()
}

// OnCancel registers cleanup on the innermost scope carried by ctx.
func OnCancel(ctx context.Context, cleanup CleanupFunc) error {
	c, ok := ControllerFrom(ctx)
	if !ok {
		return ErrNoRuntime
	}
	c.OnCancel(cleanup)
	return nil
}

// AddCleanup registers cleanup on the innermost scope carried by ctx and
// returns a func that removes it again.
func AddCleanup(ctx context.Context, cleanup CleanupFunc) (remove func(), err error) {
	c, ok := ControllerFrom(ctx)
	if !ok {
		return nil, ErrNoRuntime
	}
	return c.AddCleanup(cleanup), nil
}

// Fork creates a child controller linked to the innermost scope carried by ctx.
// The caller owns the child and must call Teardown on it.
func Fork(ctx context.Context) (*Controller, error) {
	parent, ok := ControllerFrom(ctx)
	if !ok {
		return nil, ErrNoRuntime
	}
	return parent.fork(ctx), nil
}
