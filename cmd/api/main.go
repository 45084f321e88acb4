package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/app"
	"github.com/KeremKalyoncu/reelgrab/internal/config"
	"github.com/KeremKalyoncu/reelgrab/internal/logger"
	"github.com/KeremKalyoncu/reelgrab/internal/shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	zapLogger, err := logger.New(logger.FromConfig(cfg.Logger))
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer zapLogger.Sync()

	container, err := app.NewContainer(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize application", zap.Error(err))
	}
	container.Start(context.Background())

	server := app.NewServer(container)
	go func() {
		if err := server.Listen(); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	gs := shutdown.NewGracefulShutdown(zapLogger, cfg.API.ShutdownTimeout)
	gs.Register("http", server.Shutdown)
	gs.Register("container", container.Close)
	if err := gs.Wait(); err != nil {
		zapLogger.Error("Shutdown finished with errors", zap.Error(err))
	}
}
