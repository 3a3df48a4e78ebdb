package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const localCacheSize = 1000

// distributionCache кэширует ответ GET /distributions/{releaseId}.
//
// Команды API сбрасывают запись сразу. Изменения из тика (опрос стора,
// phased-расписание) видны не позже чем через ttl.
type distributionCache struct {
	c      *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

func newDistributionCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *distributionCache {
	if ttl <= 0 {
		return &distributionCache{logger: logger}
	}
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(localCacheSize, ttl),
	}
	if rdb != nil {
		opts.Redis = rdb
	}
	return &distributionCache{
		c:      cache.New(opts),
		ttl:    ttl,
		logger: logger,
	}
}

func distributionKey(releaseID uuid.UUID) string {
	return "shipyard:distribution:" + releaseID.String()
}

// get возвращает закэшированное значение или вызывает load и кэширует результат.
func (dc *distributionCache) get(ctx context.Context, releaseID uuid.UUID, load func() (DistributionResponse, error)) (DistributionResponse, error) {
	if dc.c == nil {
		return load()
	}
	var out DistributionResponse
	err := dc.c.Once(&cache.Item{
		Ctx:   ctx,
		Key:   distributionKey(releaseID),
		Value: &out,
		TTL:   dc.ttl,
		Do: func(*cache.Item) (any, error) {
			return load()
		},
	})
	return out, err
}

// forget сбрасывает запись релиза.
func (dc *distributionCache) forget(ctx context.Context, releaseID uuid.UUID) {
	if dc.c == nil {
		return
	}
	if err := dc.c.Delete(ctx, distributionKey(releaseID)); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		dc.logger.Warn("failed to invalidate distribution cache", "release_id", releaseID, "error", err)
	}
}
