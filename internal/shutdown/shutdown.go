package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// GracefulShutdown runs registered cleanup hooks, in registration order, once
// a termination signal arrives
type GracefulShutdown struct {
	logger  *zap.Logger
	timeout time.Duration
	hooks   []hook
}

// NewGracefulShutdown creates a shutdown handler
func NewGracefulShutdown(logger *zap.Logger, timeout time.Duration) *GracefulShutdown {
	return &GracefulShutdown{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Register adds a named cleanup hook. Hooks run in the order they were added,
// so register the HTTP server before the things it depends on.
func (gs *GracefulShutdown) Register(name string, fn func(ctx context.Context) error) {
	gs.hooks = append(gs.hooks, hook{name: name, fn: fn})
}

// Wait blocks until SIGINT or SIGTERM, then runs the hooks
func (gs *GracefulShutdown) Wait() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	gs.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()
	return gs.Run(ctx)
}

// Run executes every hook even when earlier ones fail and returns the combined error
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	var result *multierror.Error
	for _, h := range gs.hooks {
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			gs.logger.Error("Cleanup hook failed", zap.String("hook", h.name), zap.Error(err))
			result = multierror.Append(result, err)
			continue
		}
		gs.logger.Info("Cleanup hook done", zap.String("hook", h.name), zap.Duration("duration", time.Since(start)))
	}

	gs.logger.Info("Graceful shutdown completed")
	return result.ErrorOrNil()
}
