// Package strategy runs the per-platform extraction fallbacks that turn a
// classified post into a raw payload.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

var (
	ErrDuplicateStrategy = errors.New("duplicate strategy name")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	errNoPayload         = errors.New("strategy returned no payload")
)

// Strategy is one way of obtaining media data for a platform
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, target classifier.Target) (payload.Payload, error)
}

// Result is the payload of the first strategy that succeeded
type Result struct {
	Payload  payload.Payload
	Strategy string
}

// Chain tries its strategies strictly in order and stops at the first success
type Chain struct {
	platform   types.Platform
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain creates a chain for platform
func NewChain(platform types.Platform, strategies []Strategy, logger *zap.Logger) *Chain {
	return &Chain{
		platform:   platform,
		strategies: strategies,
		logger:     logger.Named("chain").With(zap.String("platform", string(platform))),
	}
}

// Names lists the strategies in attempt order
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Run attempts each strategy in turn. Individual failures are logged and folded
// into a single error; only that aggregate leaves the chain.
func (c *Chain) Run(ctx context.Context, target classifier.Target) (Result, error) {
	ctx = withPageMemo(ctx)

	var failures *multierror.Error
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		p, err := s.Attempt(ctx, target)
		if err == nil && p != nil {
			c.logger.Debug("Strategy succeeded",
				zap.String("strategy", s.Name()),
				zap.String("id", target.ID),
				zap.Duration("duration", time.Since(start)),
			)
			return Result{Payload: p, Strategy: s.Name()}, nil
		}
		if err == nil {
			err = errNoPayload
		}

		c.logger.Warn("Strategy failed",
			zap.String("strategy", s.Name()),
			zap.String("id", target.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		failures = multierror.Append(failures, fmt.Errorf("[%s] %w", s.Name(), err))
	}

	return Result{}, aggregate(ctx, failures)
}

// kindPrecedence orders the failure kinds a user can act on ahead of generic exhaustion
var kindPrecedence = []apperrors.Kind{
	apperrors.KindNotVideo,
	apperrors.KindNotPublic,
	apperrors.KindUpstreamBlocked,
	apperrors.KindToolUnavailable,
}

func aggregate(ctx context.Context, failures *multierror.Error) error {
	cause := failures.ErrorOrNil()

	switch ctx.Err() {
	case context.DeadlineExceeded:
		return apperrors.ErrResolutionTimeout.WithCause(cause)
	case context.Canceled:
		return context.Canceled
	}

	if failures != nil {
		for _, kind := range kindPrecedence {
			for _, err := range failures.Errors {
				var ce *apperrors.CustomError
				if errors.As(err, &ce) && ce.Kind == kind {
					return ce.WithCause(cause)
				}
			}
		}
	}
	return apperrors.ErrExtractionExhausted.WithCause(cause)
}

// Factory builds a named strategy
type Factory func() Strategy

// Registry maps strategy names to factories so chains can be assembled from configuration
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Add registers a factory under name
func (r *Registry) Add(name string, f Factory) error {
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, name)
	}
	r.factories[name] = f
	return nil
}

// MustAdd wraps Add but panics if there is an error
func (r *Registry) MustAdd(name string, f Factory) {
	if err := r.Add(name, f); err != nil {
		panic(err)
	}
}

// List returns the registered names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named strategies in order
func (r *Registry) Build(names []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		f, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
		}
		out = append(out, f())
	}
	return out, nil
}

// BuildChains assembles one chain per platform from an ordered name policy
func (r *Registry) BuildChains(policy map[types.Platform][]string, logger *zap.Logger) (map[types.Platform]*Chain, error) {
	chains := make(map[types.Platform]*Chain, len(policy))
	for platform, names := range policy {
		if len(names) == 0 {
			return nil, fmt.Errorf("no strategies configured for %s", platform)
		}
		strategies, err := r.Build(names)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", platform, err)
		}
		chains[platform] = NewChain(platform, strategies, logger)
	}
	return chains, nil
}
