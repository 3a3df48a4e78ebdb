// Shipyard Orchestrator — источник тиков и исполнитель тиков релизов.
//
// Ticker по расписанию выбирает активные релизы и публикует release.tick
// (или тикает их сам, если брокер недоступен). Consumer release.tick
// выполняет тик под блокировкой релиза. Источник тиков активен только
// на лидере (advisory lock Postgres); consumer'ы работают на всех экземплярах.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Shipyard/internal/app"
	"github.com/shaiso/Shipyard/internal/config"
	"github.com/shaiso/Shipyard/internal/telemetry"
	"github.com/shaiso/Shipyard/internal/ticker"
)

const tickPrefetch = 4

func main() {
	logger := telemetry.SetupLogger("shipyard-orchestrator")
	logger.Info("starting shipyard-orchestrator")

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

	tcfg := ticker.Config{
		Releases:    a.Orchestrator,
		Runner:      a.Orchestrator,
		Schedule:    cfg.TickSchedule,
		MaxParallel: cfg.MaxParallel,
		Logger:      logger,
	}
	if a.Publisher != nil {
		tcfg.Publisher = a.Publisher
	}
	if a.Pool != nil {
		tcfg.Leader = ticker.NewPGLeader(a.Pool, logger)
	}
	t, err := ticker.New(tcfg)
	if err != nil {
		logger.Error("failed to create ticker", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Run(gctx) })
	if a.MQ != nil {
		g.Go(func() error { return a.Orchestrator.Consume(gctx, a.MQ, tickPrefetch) })
	}
	g.Go(func() error {
		return app.Serve(gctx, config.Addr(cfg.Ports.Orchestrator), app.OpsMux(), logger)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("orchestrator stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shipyard-orchestrator stopped")
}
