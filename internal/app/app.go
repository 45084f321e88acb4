package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/cache"
	"github.com/KeremKalyoncu/reelgrab/internal/circuitbreaker"
	"github.com/KeremKalyoncu/reelgrab/internal/cleanup"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	"github.com/KeremKalyoncu/reelgrab/internal/delivery"
	"github.com/KeremKalyoncu/reelgrab/internal/extractor"
	"github.com/KeremKalyoncu/reelgrab/internal/metrics"
	"github.com/KeremKalyoncu/reelgrab/internal/normalizer"
	"github.com/KeremKalyoncu/reelgrab/internal/pool"
	"github.com/KeremKalyoncu/reelgrab/internal/process"
	"github.com/KeremKalyoncu/reelgrab/internal/resolver"
	"github.com/KeremKalyoncu/reelgrab/internal/strategy"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

// scrapeTimeout caps any single page, GraphQL or mirror request
const scrapeTimeout = 30 * time.Second

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Breakers *circuitbreaker.Set
	Ytdlp    *extractor.YtDlp
	FFmpeg   *extractor.FFmpeg
	Cache    *cache.ResolutionCache
	Shared   *cache.RedisStore // nil unless CACHE_REDIS_ENABLED
	Resolver *resolver.Resolver
	Engine   *delivery.Engine
	Sweeper  *cleanup.Sweeper

	cancel  context.CancelFunc
	started bool
}

// NewContainer wires every component from cfg. Nothing runs in the
// background until Start.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if err := os.MkdirAll(cfg.Extractor.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	m := metrics.New()
	scrapeClient := pool.NewScrapeClient(scrapeTimeout)

	breakers := circuitbreaker.NewSet(circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	runner := process.NewCommandRunner()
	ffmpeg := extractor.NewFFmpeg(cfg.Extractor.FFmpegPath, cfg.Extractor.FFmpegTimeout, runner, logger)

	var installer extractor.Installer
	if cfg.Extractor.AutoInstall {
		installer = extractor.NewReleaseInstaller(cfg.Extractor.InstallDir, cfg.Extractor.ReleaseAPI, pool.NewStreamClient(cfg.Delivery.UpstreamHeaderTimeout), logger)
	}

	ytdlp := extractor.NewYtDlp(runner, extractor.Options{
		BinaryPath:      cfg.Extractor.YtdlpPath,
		InfoTimeout:     cfg.Extractor.InfoTimeout,
		DownloadTimeout: cfg.Extractor.DownloadTimeout,
		MaxConcurrent:   cfg.Extractor.MaxConcurrent,
		Installer:       installer,
		FFmpeg:          ffmpeg,
		Metrics:         m,
	}, logger)

	registry := strategy.NewDefaultRegistry(strategy.Deps{
		Client:   scrapeClient,
		Config:   cfg,
		Breakers: breakers,
		Tool:     ytdlp,
		Logger:   logger,
	})
	chains, err := registry.BuildChains(strategy.Policy(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy chains: %w", err)
	}

	resolutionCache := cache.NewResolutionCache(cfg.Cache.TTL, nil)

	var shared *cache.RedisStore
	if cfg.Cache.RedisEnabled {
		shared, err = cache.NewRedisStore(cache.RedisOptions{
			Address:  cfg.Cache.RedisAddress,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Cache.Prefix,
		}, logger)
		if err != nil {
			// the local tier is enough to serve; sharing is an optimization
			logger.Warn("Shared resolution cache unavailable, continuing without it", zap.Error(err))
			shared = nil
		}
	}

	toolDelivery := make(map[types.Platform]bool, len(types.Platforms))
	for _, p := range types.Platforms {
		toolDelivery[p] = cfg.Platform(p).ToolDelivery
	}

	opts := resolver.Options{
		Chains:       chains,
		Cache:        resolutionCache,
		Normalizer:   normalizer.New(nil),
		Client:       scrapeClient,
		Metrics:      m,
		Timeout:      cfg.Resolution.Timeout,
		ToolDelivery: toolDelivery,
	}
	if shared != nil {
		opts.Shared = shared
	}
	res := resolver.New(opts, logger)

	engine := delivery.NewEngine(delivery.Options{
		Client:    pool.NewStreamClient(cfg.Delivery.UpstreamHeaderTimeout),
		ChunkSize: cfg.Delivery.ChunkSize,
		Retries:   1,
		Metrics:   m,
	}, logger)

	sweeper := cleanup.NewSweeper(
		cfg.Extractor.TempDir,
		cfg.Cleanup.PartialMinAge,
		cfg.Cleanup.MaxAge,
		cfg.Cleanup.Interval,
		logger.Named("cleanup"),
	)

	for p, chain := range chains {
		logger.Info("Strategy chain ready",
			zap.String("platform", string(p)),
			zap.Strings("strategies", chain.Names()),
			zap.Bool("server_api", cfg.Platform(p).EnableServerAPI),
			zap.Bool("tool_delivery", toolDelivery[p]),
		)
	}

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Breakers: breakers,
		Ytdlp:    ytdlp,
		FFmpeg:   ffmpeg,
		Cache:    resolutionCache,
		Shared:   shared,
		Resolver: res,
		Engine:   engine,
		Sweeper:  sweeper,
	}, nil
}

// Start launches the background janitors and probes yt-dlp so the first
// YouTube request does not pay for an install
func (c *Container) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.Cache.StartJanitor(ctx, c.Config.Cache.SweepInterval)

	if c.Config.Cleanup.Enabled {
		c.Sweeper.Start(ctx)
		c.Logger.Info("Temp file sweeper started",
			zap.String("temp_dir", c.Config.Extractor.TempDir),
			zap.Duration("interval", c.Config.Cleanup.Interval),
		)
	}

	go func() {
		if err := c.Ytdlp.EnsureAvailable(ctx); err != nil {
			c.Logger.Warn("yt-dlp not available yet", zap.Error(err))
			return
		}
		c.Logger.Info("yt-dlp available", zap.String("version", c.Ytdlp.Version()), zap.String("path", c.Ytdlp.Path()))
	}()
}

// Close stops background work and releases connections
func (c *Container) Close(ctx context.Context) error {
	c.Logger.Info("Closing application container")

	if c.started {
		c.cancel()
		if c.Config.Cleanup.Enabled {
			c.Sweeper.Stop()
		}
	}

	if c.Shared != nil {
		if err := c.Shared.Close(); err != nil {
			return fmt.Errorf("failed to close shared cache: %w", err)
		}
	}
	return nil
}
