package pool

import (
	"context"
	"sync/atomic"
)

// Limiter bounds how many tasks run at once; excess callers wait their turn
type Limiter struct {
	slots   chan struct{}
	active  int64
	waiting int64
}

// NewLimiter creates a limiter admitting n concurrent tasks
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	atomic.AddInt64(&l.waiting, 1)
	defer atomic.AddInt64(&l.waiting, -1)

	select {
	case l.slots <- struct{}{}:
		atomic.AddInt64(&l.active, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire
func (l *Limiter) Release() {
	atomic.AddInt64(&l.active, -1)
	<-l.slots
}

// Do runs task inside a slot
func (l *Limiter) Do(ctx context.Context, task func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return task(ctx)
}

// Stats returns limiter statistics
func (l *Limiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"capacity": cap(l.slots),
		"active":   atomic.LoadInt64(&l.active),
		"waiting":  atomic.LoadInt64(&l.waiting),
	}
}
