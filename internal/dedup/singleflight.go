package dedup

import (
	"context"
	"sync"
)

// Group prevents duplicate work for the same key.
// If several callers resolve the same post at once, only one runs
// and all others wait for and receive the same result.
type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error
	dups int
}

// Result represents the result of a Do call
type Result[T any] struct {
	Val    T
	Err    error
	Shared bool // Whether the result was shared with other callers
}

// NewGroup creates a new Group
func NewGroup[T any]() *Group[T] {
	return &Group[T]{calls: make(map[string]*call[T])}
}

// Do runs fn once per in-flight key. The work runs detached from the caller's
// cancellation so that a caller giving up does not fail the others waiting on it;
// fn must bound its own duration. A caller whose ctx ends stops waiting.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) Result[T] {
	if err := ctx.Err(); err != nil {
		return Result[T]{Err: err}
	}

	g.mu.Lock()
	c, ok := g.calls[key]
	if ok {
		c.dups++
	} else {
		c = &call[T]{done: make(chan struct{})}
		g.calls[key] = c
		go g.run(context.WithoutCancel(ctx), key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		return Result[T]{Val: c.val, Err: c.err, Shared: ok || c.dups > 0}
	case <-ctx.Done():
		return Result[T]{Err: ctx.Err(), Shared: ok}
	}
}

func (g *Group[T]) run(ctx context.Context, key string, c *call[T], fn func(ctx context.Context) (T, error)) {
	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}

// InFlight returns the number of keys currently being worked on
func (g *Group[T]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
