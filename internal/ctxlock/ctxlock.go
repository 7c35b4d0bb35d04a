package ctxlock

import (
	"context"
	"fmt"
)

// Lock provides mutual exclusion with context-aware acquire and release:
// a blocked AcquireCtx or ReleaseCtx call returns ctx.Err() as soon as the
// context is cancelled instead of blocking forever. It is resolved purely
// in-process, backed by a buffered channel of size one.
type Lock struct {
	ch chan struct{}
}

func New() *Lock {
	return &Lock{
		// A buffered channel of size 1 acts as a binary semaphore: the
		// sender blocks once it is full.
		ch: make(chan struct{}, 1),
	}
}

func (l *Lock) AcquireCtx(ctx context.Context) error {
	if l.ch == nil {
		return fmt.Errorf("ctxlock: lock is not initialised")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.ch <- struct{}{}:
		return nil
	}
}

func (l *Lock) ReleaseCtx(ctx context.Context) error {
	if l.ch == nil {
		return fmt.Errorf("ctxlock: lock is not initialised")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ch:
		return nil
	}
}

type Ctx interface {
	AcquireCtx(ctx context.Context) error
	ReleaseCtx(ctx context.Context) error
}

var _ Ctx = (*Lock)(nil)

func NewLocalLock() Ctx {
	return New()
}
