// Package app собирает компоненты Shipyard из конфигурации.
//
// Все бинарники строят один и тот же граф: хранилища, блокировка,
// очередь, коллабораторы, executor, менеджер регрессии, движок
// дистрибуции и оркестратор. Отличается только то, что каждый запускает.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Shipyard/internal/config"
	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/orchestrator"
	"github.com/shaiso/Shipyard/internal/regression"
	"github.com/shaiso/Shipyard/internal/repo"
	"github.com/shaiso/Shipyard/internal/repo/memory"
)

// App — собранный граф компонентов.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Repos domain.Repositories

	// Pool — nil в режиме memory.
	Pool *pgxpool.Pool

	// Redis — nil без REDIS_ADDR.
	Redis  *redis.Client
	Locker lock.Locker

	// MQ и Publisher — nil, если брокер недоступен.
	MQ        *mq.Connection
	Publisher *mq.Publisher

	Integrations integrations.Set
	Executor     *executor.Executor
	Regression   *regression.Manager
	Distribution *distribution.Engine
	Orchestrator *orchestrator.Orchestrator

	closers []func()
}

// Options — что подключать помимо хранилища.
type Options struct {
	// Integrations подменяет шлюз коллабораторов (тесты, локальный режим).
	Integrations *integrations.Set

	// SkipMQ — не подключаться к брокеру.
	SkipMQ bool
}

// Build подключает инфраструктуру и собирает компоненты.
// При ошибке всё уже открытое закрывается.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.connectStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.connectRedis(ctx); err != nil {
		return nil, err
	}
	if !opts.SkipMQ {
		a.connectMQ(ctx)
	}

	if opts.Integrations != nil {
		a.Integrations = *opts.Integrations
	} else {
		a.Integrations = integrations.FromGateway(integrations.NewGateway(integrations.GatewayConfig{
			BaseURL: cfg.IntegrationsURL,
			Timeout: cfg.CallTimeout,
			Logger:  logger,
		}))
	}

	return a, a.assemble()
}

func (a *App) connectStorage(ctx context.Context) error {
	if a.Config.MemoryMode() {
		a.Logger.Warn("using in-memory storage, state is lost on restart")
		a.Repos = memory.New()
		return nil
	}

	pool, err := repo.NewPool(ctx, a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	if err := repo.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.Logger.Info("database connected")

	a.Repos = repo.New(pool)
	return nil
}

func (a *App) connectRedis(ctx context.Context) error {
	if a.Config.RedisAddr == "" {
		a.Logger.Info("REDIS_ADDR not set, using in-process release locks")
		a.Locker = lock.NewLocal()
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("connect redis: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, func() { rdb.Close() })
	a.Locker = lock.NewRedisLocker(rdb, lock.RedisConfig{TTL: a.Config.LockTTL})
	a.Logger.Info("redis connected", "addr", a.Config.RedisAddr)
	return nil
}

// connectMQ подключается к брокеру. Недоступный брокер не ошибка:
// сервисы работают в режиме опроса.
func (a *App) connectMQ(ctx context.Context) {
	conn, err := mq.NewConnection(a.Config.RabbitMQURL, a.Logger)
	if err != nil {
		a.Logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		return
	}
	a.MQ = conn
	a.closers = append(a.closers, func() { conn.Close() })

	if err := mq.SetupTopology(ctx, conn); err != nil {
		a.Logger.Warn("failed to setup topology", "error", err)
	}
	a.Publisher = mq.NewPublisher(conn, a.Logger)
	a.Logger.Info("RabbitMQ connected")
}

func (a *App) assemble() error {
	policy, err := orchestrator.ParsePausePolicy(a.Config.RetryPausePolicy)
	if err != nil {
		return err
	}

	a.Executor, err = executor.New(executor.Config{
		Tasks:       a.Repos.Tasks,
		Registry:    executor.NewRegistry(a.Integrations),
		CallTimeout: a.Config.CallTimeout,
		MaxParallel: a.Config.MaxParallel,
		Logger:      a.Logger,
	})
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	a.Regression = regression.New(regression.Config{
		Cycles:     a.Repos.Cycles,
		Tasks:      a.Repos.Tasks,
		Dispatcher: a.Executor,
		SCM:        a.Integrations.SCM,
		Tests:      a.Integrations.Tests,
		Logger:     a.Logger,

		HoldOnFailure: policy == orchestrator.PolicyAllRetried,
	})

	a.Distribution = distribution.New(distribution.Config{
		Repo:   a.Repos.Distributions,
		Store:  a.Integrations.Store,
		Locker: a.Locker,
		Logger: a.Logger,
	})

	cfg := orchestrator.Config{
		Repos:        a.Repos,
		Runner:       a.Executor,
		Regression:   a.Regression,
		Distribution: a.Distribution,
		Locker:       a.Locker,
		PausePolicy:  policy,
		Logger:       a.Logger,
	}
	// Nil *mq.Publisher в интерфейсе не равен nil.
	if a.Publisher != nil {
		cfg.Events = a.Publisher
	}
	a.Orchestrator = orchestrator.New(cfg)
	return nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
