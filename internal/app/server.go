package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/handlers"
	"github.com/KeremKalyoncu/reelgrab/internal/middleware"
)

// bodyLimit is generous for the small JSON bodies /audio accepts
const bodyLimit = 64 * 1024

// Server is the HTTP front of a Container
type Server struct {
	App     *fiber.App
	limiter *middleware.RateLimiter
	addr    string
	logger  *zap.Logger
}

// NewServer builds the fiber app with its middleware stack and routes
func NewServer(c *Container) *Server {
	cfg := c.Config
	logger := c.Logger.Named("http")

	app := fiber.New(fiber.Config{
		AppName:               "reelgrab",
		ReadTimeout:           cfg.API.ReadTimeout,
		WriteTimeout:          cfg.API.WriteTimeout,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	// Middleware stack (order matters)
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.AccessLog(logger, c.Metrics))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.API.CORSOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders: "Content-Disposition,Content-Length,X-Request-ID,Retry-After",
	}))
	app.Use(middleware.CompressionMiddleware())

	if cfg.API.EnablePprof {
		app.Use(pprof.New())
		logger.Info("pprof profiling endpoints enabled at /debug/pprof")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	media := handlers.NewMediaHandler(c.Resolver, c.Engine, c.Ytdlp, cfg, c.Logger)
	health := handlers.NewHealthHandler(c.checks(), c.Metrics, c.stats(), c.Logger)

	app.Get("/health", health.Liveness)
	app.Get("/health/ready", health.Readiness)
	app.Get("/metrics", middleware.NoCacheMiddleware(), health.Metrics)

	limited := limiter.Middleware()
	app.Get("/resolve", limited, middleware.CacheMiddleware(), media.Resolve)
	app.Get("/download", limited, media.Download)
	app.Post("/audio", limited, middleware.RequireJSON(), media.Audio)

	return &Server{
		App:     app,
		limiter: limiter,
		addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		logger:  logger,
	}
}

// Listen blocks serving HTTP until Shutdown
func (s *Server) Listen() error {
	s.logger.Info("Starting API server", zap.String("addr", s.addr))
	return s.App.Listen(s.addr)
}

// Shutdown stops accepting connections and waits for in-flight streams
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Close()
	return s.App.ShutdownWithContext(ctx)
}

func (c *Container) checks() []handlers.Check {
	checks := []handlers.Check{
		{
			Name:     "temp_dir",
			Critical: true,
			Probe: func(ctx context.Context) error {
				return os.MkdirAll(c.Config.Extractor.TempDir, 0755)
			},
		},
		{
			Name:  "ytdlp",
			Probe: c.Ytdlp.EnsureAvailable,
		},
	}
	if c.Shared != nil {
		checks = append(checks, handlers.Check{Name: "redis", Probe: c.Shared.Ping})
	}
	return checks
}

func (c *Container) stats() map[string]handlers.StatsFunc {
	return map[string]handlers.StatsFunc{
		"breakers": func() interface{} { return c.Breakers.States() },
		"ytdlp":    func() interface{} { return c.Ytdlp.Stats() },
		"resolver": func() interface{} {
			return map[string]int{
				"in_flight": c.Resolver.InFlight(),
				"cached":    c.Cache.Len(),
			}
		},
	}
}
