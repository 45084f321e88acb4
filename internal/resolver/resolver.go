// Package resolver turns a post URL into a MediaRecord: classify, consult the
// caches, run the platform's strategy chain once per key, normalize.
package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/cache"
	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	"github.com/KeremKalyoncu/reelgrab/internal/dedup"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/metrics"
	"github.com/KeremKalyoncu/reelgrab/internal/normalizer"
	"github.com/KeremKalyoncu/reelgrab/internal/strategy"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// maxRedirects bounds short-link expansion
const maxRedirects = 5

// Resolution is the outcome of one Resolve call
type Resolution struct {
	Target classifier.Target
	Record types.MediaRecord
	// Cached is set when the record came from either cache tier
	Cached bool
	// Coalesced is set when the chain run was shared with another caller
	Coalesced bool
}

// Options configures a Resolver
type Options struct {
	Chains     map[types.Platform]*strategy.Chain
	Cache      *cache.ResolutionCache
	Shared     cache.SharedStore // optional
	Normalizer *normalizer.Normalizer
	Client     *http.Client // used for short-link expansion
	Metrics    *metrics.Metrics
	Timeout    time.Duration
	// ToolDelivery marks platforms whose media must be fetched through the external tool
	ToolDelivery map[types.Platform]bool
}

// Resolver orchestrates resolution of post URLs
type Resolver struct {
	opts   Options
	group  *dedup.Group[types.MediaRecord]
	logger *zap.Logger
}

// New creates a Resolver
func New(opts Options, logger *zap.Logger) *Resolver {
	if opts.Normalizer == nil {
		opts.Normalizer = normalizer.New(nil)
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Resolver{
		opts:   opts,
		group:  dedup.NewGroup[types.MediaRecord](),
		logger: logger.Named("resolver"),
	}
}

// Classify classifies rawURL and expands TikTok short links
func (r *Resolver) Classify(ctx context.Context, rawURL string) (classifier.Target, error) {
	target, err := classifier.Classify(rawURL)
	if err != nil {
		return classifier.Target{}, err
	}
	if !target.IsShortLink() {
		return target, nil
	}

	expanded, err := r.expand(ctx, target.URL)
	if err != nil {
		return classifier.Target{}, err
	}
	resolved, err := classifier.Classify(expanded)
	if err != nil {
		return classifier.Target{}, err
	}
	if resolved.IsShortLink() || resolved.Platform != target.Platform {
		return classifier.Target{}, apperrors.ErrIDNotExtractable.WithMessage("short link %q did not lead to a video", target.URL)
	}

	r.logger.Debug("Expanded short link", zap.String("from", target.URL), zap.String("to", expanded))
	return resolved, nil
}

// expand follows redirects from a short link and returns the final URL
func (r *Resolver) expand(ctx context.Context, shortURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client := *r.opts.Client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", apperrors.ErrInvalidURL.WithCause(err)
	}
	req.Header.Set("User-Agent", normalizer.BrowserUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", apperrors.ErrIDNotExtractable.WithMessage("could not expand short link %q", shortURL).WithCause(err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		next, err := resp.Request.URL.Parse(loc)
		if err == nil {
			return next.String(), nil
		}
	}
	return resp.Request.URL.String(), nil
}

// Resolve classifies rawURL and resolves it
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Resolution, error) {
	target, err := r.Classify(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return r.ResolveTarget(ctx, target)
}

// ResolveTarget resolves an already classified target. Concurrent calls for
// the same key share one chain run.
func (r *Resolver) ResolveTarget(ctx context.Context, target classifier.Target) (*Resolution, error) {
	if rec, ok := r.opts.Cache.Get(target.Platform, target.ID); ok {
		r.opts.Metrics.RecordCacheHit(false)
		return &Resolution{Target: target, Record: rec, Cached: true}, nil
	}

	if r.opts.Shared != nil {
		rec, ok, err := r.opts.Shared.Get(ctx, target.Platform, target.ID)
		if err != nil {
			r.logger.Warn("Shared cache lookup failed", zap.String("key", target.Key()), zap.Error(err))
		} else if ok {
			r.opts.Metrics.RecordCacheHit(true)
			r.opts.Cache.Set(target.Platform, target.ID, rec, 0)
			return &Resolution{Target: target, Record: rec.Clone(), Cached: true}, nil
		}
	}
	r.opts.Metrics.RecordCacheMiss()

	res := r.group.Do(ctx, target.Key(), func(ctx context.Context) (types.MediaRecord, error) {
		return r.resolve(ctx, target)
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return &Resolution{Target: target, Record: res.Val.Clone(), Coalesced: res.Shared}, nil
}

func (r *Resolver) resolve(ctx context.Context, target classifier.Target) (types.MediaRecord, error) {
	chain, ok := r.opts.Chains[target.Platform]
	if !ok {
		return types.MediaRecord{}, apperrors.ErrUnsupportedPlatform.WithMessage("no strategies configured for %s", target.Platform)
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := chain.Run(ctx, target)
	if err != nil {
		r.opts.Metrics.RecordResolution(string(target.Platform), "", time.Since(start), err)
		r.logger.Info("Resolution failed",
			zap.String("platform", string(target.Platform)),
			zap.String("id", target.ID),
			zap.String("kind", string(apperrors.KindOf(err))),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return types.MediaRecord{}, err
	}

	rec, err := r.opts.Normalizer.Normalize(result.Payload, target.ID, result.Strategy)
	r.opts.Metrics.RecordResolution(string(target.Platform), result.Strategy, time.Since(start), err)
	if err != nil {
		return types.MediaRecord{}, err
	}
	if r.opts.ToolDelivery[target.Platform] {
		rec.Delivery = types.DeliveryTool
	}

	r.opts.Cache.Set(target.Platform, target.ID, rec, 0)
	if r.opts.Shared != nil {
		if err := r.opts.Shared.Set(ctx, target.Platform, target.ID, rec, r.opts.Cache.TTL()); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("Shared cache store failed", zap.String("key", target.Key()), zap.Error(err))
		}
	}

	r.logger.Info("Resolved",
		zap.String("platform", string(target.Platform)),
		zap.String("id", target.ID),
		zap.String("strategy", result.Strategy),
		zap.Duration("duration", time.Since(start)),
	)
	return rec, nil
}

// Invalidate drops a cached record from both tiers
func (r *Resolver) Invalidate(ctx context.Context, target classifier.Target) {
	r.opts.Cache.Delete(target.Platform, target.ID)
	if r.opts.Shared != nil {
		if err := r.opts.Shared.Delete(ctx, target.Platform, target.ID); err != nil {
			r.logger.Warn("Shared cache delete failed", zap.String("key", target.Key()), zap.Error(err))
		}
	}
}

// InFlight returns the number of resolutions currently running
func (r *Resolver) InFlight() int {
	return r.group.InFlight()
}
