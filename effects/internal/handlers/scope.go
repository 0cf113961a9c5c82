package handlers

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// effectScope owns the workers behind one handler instance. Close stops the
// workers and runs the teardown exactly once.
type effectScope[T any] struct {
	EffectId   string
	dispatcher WorkerDispatcher[T]
	closeFn    func()
	closeOnce  sync.Once
	logger     *zap.Logger
}

func (es *effectScope[T]) Close() {
	es.closeOnce.Do(func() {
		es.closeFn()
		<-es.dispatcher.Done()
		es.logger.Debug("effect scope closed", zap.String("effectId", es.EffectId))
	})
}

func newEffectScope[T any](
	dispatcher WorkerDispatcher[T],
	logger *zap.Logger,
	teardown func(),
) *effectScope[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &effectScope[T]{
		EffectId:   uuid.New().String(),
		dispatcher: dispatcher,
		closeFn:    teardown,
		logger:     logger,
	}
}
