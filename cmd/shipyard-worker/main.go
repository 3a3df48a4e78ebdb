// Shipyard Worker — применяет callback'и CI и сторов из RabbitMQ.
//
// Без брокера worker не нужен: API применяет webhook'и сразу.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Shipyard/internal/app"
	"github.com/shaiso/Shipyard/internal/config"
	"github.com/shaiso/Shipyard/internal/telemetry"
	"github.com/shaiso/Shipyard/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger("shipyard-worker")
	logger.Info("starting shipyard-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.MQ == nil {
		logger.Error("RabbitMQ is required for shipyard-worker")
		os.Exit(1)
	}

	w := worker.New(worker.Config{
		CI:     a.Executor,
		Store:  a.Distribution,
		Conn:   a.MQ,
		Logger: logger,
	})
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	if err := app.Serve(ctx, config.Addr(cfg.Ports.Worker), app.OpsMux(), logger); err != nil {
		logger.Error("http server error", "error", err)
	}

	w.Stop()
	logger.Info("shipyard-worker stopped")
}
