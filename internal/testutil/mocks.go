package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
	"github.com/KeremKalyoncu/reelgrab/internal/process"
)

// ErrScripted is returned by fakes configured to fail
var ErrScripted = errors.New("scripted failure")

// ManualClock is a clock that only moves when told to
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock starting at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current fake time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// FakeRunner is a scripted process.Runner
type FakeRunner struct {
	mu      sync.Mutex
	handler func(ctx context.Context, cmd process.Command) (process.Result, error)
	calls   []process.Command
}

// NewFakeRunner creates a runner that delegates every call to handler
func NewFakeRunner(handler func(ctx context.Context, cmd process.Command) (process.Result, error)) *FakeRunner {
	return &FakeRunner{handler: handler}
}

// Run records cmd and invokes the handler
func (f *FakeRunner) Run(ctx context.Context, cmd process.Command) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		return process.Result{}, nil
	}
	return h(ctx, cmd)
}

// Calls returns the recorded invocations
func (f *FakeRunner) Calls() []process.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Command(nil), f.calls...)
}

// HasArg reports whether args contains arg
func HasArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

// ArgAfter returns the argument following flag, or ""
func ArgAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// StubStrategy is a scripted extraction strategy
type StubStrategy struct {
	StrategyName string
	Payload      payload.Payload
	Err          error
	// Fn, when set, replaces Payload and Err
	Fn func(ctx context.Context, target classifier.Target) (payload.Payload, error)

	calls atomic.Int32
}

// Name returns the configured name
func (s *StubStrategy) Name() string { return s.StrategyName }

// Attempt returns the scripted result
func (s *StubStrategy) Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error) {
	s.calls.Add(1)
	if s.Fn != nil {
		return s.Fn(ctx, target)
	}
	return s.Payload, s.Err
}

// Calls returns how many times Attempt ran
func (s *StubStrategy) Calls() int {
	return int(s.calls.Load())
}
