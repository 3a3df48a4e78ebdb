// Shipyard API — HTTP-команды и запросы к релизам, приём webhook'ов CI и сторов.
//
// С DB_URL=memory сервис работает один: тики выполняются в этом же процессе.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Shipyard/internal/api"
	"github.com/shaiso/Shipyard/internal/app"
	"github.com/shaiso/Shipyard/internal/config"
	"github.com/shaiso/Shipyard/internal/telemetry"
	"github.com/shaiso/Shipyard/internal/ticker"
)

func main() {
	logger := telemetry.SetupLogger("shipyard-api")
	logger.Info("starting shipyard-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// В режиме memory состояние есть только здесь: очереди некому читать.
	a, err := app.Build(ctx, cfg, logger, app.Options{SkipMQ: cfg.MemoryMode()})
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	hcfg := api.Config{
		Orchestrator: a.Orchestrator,
		Executor:     a.Executor,
		Distribution: a.Distribution,
		Redis:        a.Redis,
		CacheTTL:     cfg.CacheTTL,
		Logger:       logger,
	}
	if a.Publisher != nil {
		hcfg.Callbacks = a.Publisher
	}
	handler := api.NewHandler(hcfg)

	if cfg.MemoryMode() {
		t, err := ticker.New(ticker.Config{
			Releases:    a.Orchestrator,
			Runner:      a.Orchestrator,
			Schedule:    cfg.TickSchedule,
			MaxParallel: cfg.MaxParallel,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to create ticker", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := t.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("ticker stopped", "error", err)
			}
		}()
	}

	mux := app.OpsMux()
	handler.RegisterRoutes(mux)

	if err := app.Serve(ctx, config.Addr(cfg.Ports.API), mux, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shipyard-api stopped")
}
