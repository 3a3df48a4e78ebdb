package ticker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/orchestrator"
)

const (
	defaultMaxParallel = 8
	defaultBatchSize   = 500
)

// ReleaseLister возвращает релизы, которым нужны тики.
type ReleaseLister interface {
	// ActiveReleases возвращает страницу после курсора after (nil — первая страница).
	ActiveReleases(ctx context.Context, after *domain.ReleaseCursor, limit int) ([]domain.Release, error)
}

// Publisher ставит тик релиза в очередь.
type Publisher interface {
	PublishTick(ctx context.Context, releaseID uuid.UUID) error
}

// Runner выполняет тик релиза в этом процессе.
type Runner interface {
	Tick(ctx context.Context, releaseID uuid.UUID) (orchestrator.TickResult, error)
}

// Ticker — периодический источник тиков.
type Ticker struct {
	releases  ReleaseLister
	publisher Publisher
	runner    Runner
	leader    Leader

	spec        string
	schedule    cron.Schedule
	maxParallel int
	batchSize   int

	logger *slog.Logger
}

// Config — конфигурация Ticker.
type Config struct {
	Releases ReleaseLister

	// Publisher — публикация release.tick (опционально).
	Publisher Publisher

	// Runner — прямой вызов оркестратора: без publisher'а и при ошибке публикации.
	Runner Runner

	// Leader — выбор лидера (default: Solo).
	Leader Leader

	// Schedule — cron-расписание тиков (default: "@every 1m").
	Schedule string

	// MaxParallel — сколько релизов тикаются одновременно в прямом режиме (default: 8).
	MaxParallel int

	// BatchSize — размер страницы активных релизов (default: 500).
	// Срабатывание проходит все страницы.
	BatchSize int

	Logger *slog.Logger
}

// New создаёт Ticker.
func New(cfg Config) (*Ticker, error) {
	if cfg.Publisher == nil && cfg.Runner == nil {
		return nil, ErrNoTarget
	}
	spec := cfg.Schedule
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	leader := cfg.Leader
	if leader == nil {
		leader = Solo{}
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ticker{
		releases:    cfg.Releases,
		publisher:   cfg.Publisher,
		runner:      cfg.Runner,
		leader:      leader,
		spec:        spec,
		schedule:    schedule,
		maxParallel: maxParallel,
		batchSize:   batchSize,
		logger:      logger,
	}, nil
}

// Next возвращает время следующего срабатывания после from.
func (t *Ticker) Next(from time.Time) time.Time {
	return t.schedule.Next(from)
}

// Run срабатывает по расписанию до отмены ctx.
// Срабатывание, не успевшее к следующему, пропускается.
func (t *Ticker) Run(ctx context.Context) error {
	cl := cron.PrintfLogger(slog.NewLogLogger(t.logger.Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(t.spec, func() {
		if _, err := t.Fire(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("tick fire failed", "error", err)
		}
	}); err != nil {
		return err
	}

	t.logger.Info("ticker started", "schedule", t.spec, "next", t.Next(time.Now()))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.leader.Resign(resignCtx)
	t.logger.Info("ticker stopped")
	return nil
}

// FireResult — итог одного срабатывания.
type FireResult struct {
	Leader    bool
	Releases  int
	Published int
	Ticked    int
	Skipped   int
	Failed    int
}

// Fire выполняет одно срабатывание: тик всем активным релизам.
// Ошибка одного релиза не мешает остальным.
func (t *Ticker) Fire(ctx context.Context) (FireResult, error) {
	var res FireResult

	// 1. Тики рассылает только лидер
	ok, err := t.leader.Acquire(ctx)
	if err != nil {
		return res, err
	}
	if !ok {
		t.logger.Debug("not a tick leader, skipping")
		return res, nil
	}
	res.Leader = true

	// 2. Активные релизы, постранично по (created_at, id)
	var after *domain.ReleaseCursor
	for {
		releases, err := t.releases.ActiveReleases(ctx, after, t.batchSize)
		if err != nil {
			return res, err
		}
		res.Releases += len(releases)
		t.fireBatch(ctx, releases, &res)

		if len(releases) < t.batchSize {
			break
		}
		after = domain.CursorOf(&releases[len(releases)-1])
	}
	if res.Releases == 0 {
		return res, nil
	}

	t.logger.Info("tick fired",
		"releases", res.Releases,
		"published", res.Published,
		"ticked", res.Ticked,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// fireBatch рассылает тики одной странице релизов.
func (t *Ticker) fireBatch(ctx context.Context, releases []domain.Release, res *FireResult) {
	// Публикуем; при ошибке публикации тикаем сами
	direct := make([]uuid.UUID, 0, len(releases))
	for _, rel := range releases {
		if t.publisher == nil {
			direct = append(direct, rel.ID)
			continue
		}
		if err := t.publisher.PublishTick(ctx, rel.ID); err != nil {
			t.logger.Warn("failed to publish tick", "release_id", rel.ID, "error", err)
			if t.runner == nil {
				res.Failed++
				continue
			}
			direct = append(direct, rel.ID)
			continue
		}
		res.Published++
	}

	// Прямые тики
	if len(direct) > 0 {
		var ticked, skipped, failed atomic.Int32
		var g errgroup.Group
		g.SetLimit(t.maxParallel)
		for _, id := range direct {
			g.Go(func() error {
				out, err := t.runner.Tick(ctx, id)
				switch {
				case err == nil:
					ticked.Add(1)
					t.logger.Debug("release ticked", "release_id", id, "outcome", out.Outcome)
				case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, domain.ErrVersionConflict):
					skipped.Add(1)
				default:
					failed.Add(1)
					t.logger.Error("release tick failed", "release_id", id, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
		res.Ticked += int(ticked.Load())
		res.Skipped += int(skipped.Load())
		res.Failed += int(failed.Load())
	}
}
