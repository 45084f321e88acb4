package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeremKalyoncu/reelgrab/internal/testutil"
)

var errUpstream = errors.New("upstream down")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *testutil.ManualClock) *CircuitBreaker {
	return NewCircuitBreaker("mirror", Config{
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		Now:         clock.Now,
	})
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	clock := testutil.NewManualClock(time.Unix(0, 0))
	cb := newTestBreaker(clock)
	ctx := context.Background()

	assert.Equal(t, errUpstream, cb.Execute(ctx, fail))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, errUpstream, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerDefaultIntervalKeepsCounts(t *testing.T) {
	clock := testutil.NewManualClock(time.Unix(0, 0))
	cb := NewCircuitBreaker("mirror", Config{
		ReadyToTrip: func(c Counts) bool { return c.TotalFailures >= 3 },
		Now:         clock.Now,
	})
	ctx := context.Background()

	cb.Execute(ctx, fail)
	clock.Advance(20 * time.Second)
	cb.Execute(ctx, fail)
	assert.Equal(t, uint32(2), cb.Counts().TotalFailures)

	// the window rolls over after the 60s default
	clock.Advance(41 * time.Second)
	cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := testutil.NewManualClock(time.Unix(0, 0))
	cb := newTestBreaker(clock)
	ctx := context.Background()

	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	clock.Advance(31 * time.Second)

	assert.Equal(t, errUpstream, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerIgnoresNonUpstreamFailures(t *testing.T) {
	notFound := errors.New("post is private")
	cb := NewCircuitBreaker("m", Config{
		ReadyToTrip:  func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, notFound) },
	})

	cb.Execute(context.Background(), func(context.Context) error { return notFound })
	assert.Equal(t, StateClosed, cb.State())
}

func TestSetIsolatesUpstreams(t *testing.T) {
	set := NewSet(Config{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	ctx := context.Background()

	set.Get("a").Execute(ctx, fail)

	assert.Same(t, set.Get("a"), set.Get("a"))
	assert.Equal(t, StateOpen, set.Get("a").State())
	assert.Equal(t, StateClosed, set.Get("b").State())
	assert.Equal(t, map[string]string{"a": "open", "b": "closed"}, set.States())
}
