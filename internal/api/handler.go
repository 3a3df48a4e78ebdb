package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/orchestrator"
)

// CallbackPublisher ставит webhook'и в очередь для shipyard-worker.
type CallbackPublisher interface {
	PublishCICallback(ctx context.Context, payload mq.CICallbackPayload) error
	PublishStoreCallback(ctx context.Context, payload mq.StoreCallbackPayload) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch      *orchestrator.Orchestrator
	executor  *executor.Executor
	dist      *distribution.Engine
	callbacks CallbackPublisher
	cache     *distributionCache
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Executor     *executor.Executor
	Distribution *distribution.Engine

	// Callbacks — очередь webhook'ов. nil — webhook применяется в запросе.
	Callbacks CallbackPublisher

	// Redis — общий кэш чтения дистрибуций. nil — только локальный кэш процесса.
	Redis *redis.Client

	// CacheTTL — время жизни кэша GET /distributions/{releaseId}. 0 — без кэша.
	CacheTTL time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:      cfg.Orchestrator,
		executor:  cfg.Executor,
		dist:      cfg.Distribution,
		callbacks: cfg.Callbacks,
		cache:     newDistributionCache(cfg.Redis, cfg.CacheTTL, logger),
		logger:    logger,
	}
}
