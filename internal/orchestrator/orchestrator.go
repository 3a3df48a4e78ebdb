package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/regression"
	"github.com/shaiso/Shipyard/internal/telemetry"
)

// TaskRunner — часть Task Executor'а, которой пользуется оркестратор.
type TaskRunner interface {
	DispatchAll(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, tasks []domain.ReleaseTask) (executor.Summary, error)
	RecoverStale(ctx context.Context, tasks []domain.ReleaseTask) (int, error)
	Reset(ctx context.Context, taskID uuid.UUID) (*domain.ReleaseTask, error)
}

// EventPublisher публикует события релиза. *mq.Publisher удовлетворяет интерфейсу.
type EventPublisher interface {
	PublishReleaseEvent(ctx context.Context, ev mq.ReleaseEvent) error
}

// Orchestrator — Stage Orchestrator.
type Orchestrator struct {
	releases domain.ReleaseRepository
	crons    domain.CronJobRepository
	tasks    domain.TaskRepository
	cycles   domain.CycleRepository

	runner       TaskRunner
	regression   *regression.Manager
	distribution *distribution.Engine

	locker lock.Locker
	events EventPublisher
	policy PausePolicy

	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Orchestrator.
type Config struct {
	Repos domain.Repositories

	Runner       TaskRunner
	Regression   *regression.Manager
	Distribution *distribution.Engine

	// Locker — блокировка релиза (default: lock.NewLocal()).
	Locker lock.Locker

	// Events — публикация событий релиза (опционально).
	Events EventPublisher

	// PausePolicy — когда retry снимает TASK_FAILURE (default: ALL_RETRIED).
	PausePolicy PausePolicy

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	policy := cfg.PausePolicy
	if policy == "" {
		policy = PolicyAllRetried
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		releases:     cfg.Repos.Releases,
		crons:        cfg.Repos.CronJobs,
		tasks:        cfg.Repos.Tasks,
		cycles:       cfg.Repos.Cycles,
		runner:       cfg.Runner,
		regression:   cfg.Regression,
		distribution: cfg.Distribution,
		locker:       locker,
		events:       cfg.Events,
		policy:       policy,
		logger:       logger,
		now:          now,
	}
}

// TickOutcome — итог тика.
type TickOutcome string

const (
	// OutcomeIdle — тик прошёл, стадия не сменилась.
	OutcomeIdle TickOutcome = "idle"

	// OutcomeAdvanced — хотя бы одна стадия завершена.
	OutcomeAdvanced TickOutcome = "advanced"

	// OutcomePaused — релиз на паузе (был или встал на этом тике).
	OutcomePaused TickOutcome = "paused"

	// OutcomeStopped — cron остановлен, релиз завершён или в архиве.
	OutcomeStopped TickOutcome = "stopped"
)

// TickResult — итог одного тика.
type TickResult struct {
	Outcome   TickOutcome      `json:"outcome"`
	Stage     domain.Stage     `json:"stage,omitempty"`
	Completed []domain.Stage   `json:"completed,omitempty"`
	PauseType domain.PauseType `json:"pause_type,omitempty"`
}

// Tick выполняет один тик релиза под блокировкой релиза.
func (o *Orchestrator) Tick(ctx context.Context, releaseID uuid.UUID) (TickResult, error) {
	start := time.Now()
	var res TickResult
	err := lock.WithLock(ctx, o.locker, lock.ReleaseKey(releaseID), func(ctx context.Context) error {
		var err error
		res, err = o.tick(ctx, releaseID)
		return err
	})
	telemetry.TickDuration.Observe(time.Since(start).Seconds())

	outcome := string(res.Outcome)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		outcome = "skipped"
	case err != nil:
		outcome = "error"
	}
	telemetry.TicksTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (o *Orchestrator) tick(ctx context.Context, releaseID uuid.UUID) (TickResult, error) {
	rel, cron, err := o.load(ctx, releaseID)
	if err != nil {
		return TickResult{}, err
	}
	logger := telemetry.WithReleaseID(o.logger, rel.ID.String())

	// 1. Остановлен или на паузе — ничего не трогаем.
	if cron.CronStatus == domain.CronStatusStopped || rel.Status.IsTerminal() {
		return TickResult{Outcome: OutcomeStopped}, nil
	}
	if cron.IsPaused() {
		logger.Debug("tick skipped: release paused", "pause_type", cron.PauseType)
		return TickResult{Outcome: OutcomePaused, PauseType: cron.PauseType}, nil
	}

	now := o.now()
	w := cron.Clone()
	changed := false
	releaseChanged := false
	res := TickResult{Outcome: OutcomeIdle}
	var events []mq.ReleaseEvent

loop:
	for range domain.Stages {
		// 2. Активная стадия.
		stage, ok := w.ActiveStage()
		if !ok {
			break
		}
		res.Stage = stage

		if w.StageStatus(stage) == domain.StageStatusPending {
			w.StartStage(stage, now)
			changed = true
			logger.Info("stage started", "stage", stage)
		}

		// 3. Работа стадии.
		var (
			done      bool
			failedNow []domain.ReleaseTask
		)
		switch stage {
		case domain.StageKickoff, domain.StagePreRelease:
			done, failedNow, err = o.runTasks(ctx, logger, rel, w, stage, now)
		case domain.StageRegression:
			done, failedNow, err = o.runRegression(ctx, logger, rel, w, now)
		case domain.StageDistribution:
			done, err = o.runDistribution(ctx, rel, w)
		}
		if err != nil {
			return res, fmt.Errorf("stage %s: %w", stage, err)
		}

		// 4. Упавшая задача ставит релиз на паузу.
		if len(failedNow) > 0 {
			reason := failureReason(failedNow)
			w.Pause(domain.PauseTypeTaskFailure, reason, now)
			changed = true
			telemetry.Pauses.WithLabelValues(string(domain.PauseTypeTaskFailure)).Inc()
			logger.Warn("release paused: task failure", "stage", stage, "reason", reason)
			events = append(events, o.event(rel, mq.EventPaused, stage, domain.PauseTypeTaskFailure, reason))
			break
		}
		if !done {
			break
		}

		// 5. Стадия завершена.
		w.CompleteStage(stage, now)
		changed = true
		res.Completed = append(res.Completed, stage)
		telemetry.StageTransitions.WithLabelValues(string(stage)).Inc()
		logger.Info("stage completed", "stage", stage)
		events = append(events, o.event(rel, mq.EventStageCompleted, stage, "", ""))

		next, hasNext := stage.Next()
		if !hasNext {
			rel.MarkCompleted(now)
			w.Stop(now)
			releaseChanged = true
			logger.Info("release completed")
			events = append(events, o.event(rel, mq.EventCompleted, stage, "", ""))
			break loop
		}
		if !w.AutoTransition(stage) {
			reason := fmt.Sprintf("stage %s completed, %s waits for a trigger", stage, next)
			w.Pause(domain.PauseTypeAwaitingStageTrigger, reason, now)
			telemetry.Pauses.WithLabelValues(string(domain.PauseTypeAwaitingStageTrigger)).Inc()
			events = append(events, o.event(rel, mq.EventPaused, next, domain.PauseTypeAwaitingStageTrigger, reason))
			break
		}
	}

	if changed {
		if err := o.crons.Update(ctx, w); err != nil {
			return res, fmt.Errorf("update cron job: %w", err)
		}
	}
	if releaseChanged {
		if err := o.releases.Update(ctx, rel); err != nil {
			return res, fmt.Errorf("update release: %w", err)
		}
	}
	o.publish(ctx, events)

	switch {
	case w.IsPaused():
		res.Outcome = OutcomePaused
		res.PauseType = w.PauseType
	case w.CronStatus == domain.CronStatusStopped:
		res.Outcome = OutcomeStopped
	case len(res.Completed) > 0:
		res.Outcome = OutcomeAdvanced
	}
	return res, nil
}

// runTasks ведёт стадию с фиксированным набором задач (KICKOFF, PRE_RELEASE).
func (o *Orchestrator) runTasks(ctx context.Context, logger *slog.Logger, rel *domain.Release, w *domain.CronJob, stage domain.Stage, now time.Time) (bool, []domain.ReleaseTask, error) {
	filter := domain.TaskFilter{Stage: stage}
	tasks, err := o.tasks.List(ctx, rel.ID, filter)
	if err != nil {
		return false, nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		tasks = StageTasks(rel, stage, now)
		if err := o.tasks.CreateBatch(ctx, tasks); err != nil {
			return false, nil, fmt.Errorf("create stage tasks: %w", err)
		}
		logger.Info("stage tasks created", "stage", stage, "count", len(tasks))
	}

	if _, err := o.runner.RecoverStale(ctx, tasks); err != nil {
		return false, nil, err
	}
	if tasks, err = o.tasks.List(ctx, rel.ID, filter); err != nil {
		return false, nil, fmt.Errorf("list tasks: %w", err)
	}

	// При ALL_RETRIED упавшая задача (например, по callback'у) блокирует диспатч.
	// При ANY_RETRY сначала запускаем то, что вернули в PENDING.
	if f := failed(tasks); len(f) > 0 && o.policy == PolicyAllRetried {
		return false, f, nil
	}

	sum, err := o.runner.DispatchAll(ctx, rel, w.Config, tasks)
	for _, nc := range sum.NotConfigured {
		logger.Warn("stage blocked: integration not configured", "stage", stage, "error", nc)
	}
	if err != nil {
		return false, nil, fmt.Errorf("dispatch: %w", err)
	}

	if sum.Dispatched > 0 {
		if tasks, err = o.tasks.List(ctx, rel.ID, filter); err != nil {
			return false, nil, fmt.Errorf("list tasks: %w", err)
		}
	}
	if f := failed(tasks); len(f) > 0 {
		return false, f, nil
	}
	return allCompleted(tasks), nil, nil
}

// runRegression делегирует стадию менеджеру регрессии.
func (o *Orchestrator) runRegression(ctx context.Context, logger *slog.Logger, rel *domain.Release, w *domain.CronJob, now time.Time) (bool, []domain.ReleaseTask, error) {
	tasks, err := o.tasks.List(ctx, rel.ID, domain.TaskFilter{Stage: domain.StageRegression})
	if err != nil {
		return false, nil, fmt.Errorf("list tasks: %w", err)
	}
	if _, err := o.runner.RecoverStale(ctx, tasks); err != nil {
		return false, nil, err
	}

	res, err := o.regression.Advance(ctx, rel, w, now)
	if err != nil {
		return false, nil, err
	}
	for _, nc := range res.NotConfigured {
		logger.Warn("regression blocked: integration not configured", "error", nc)
	}
	if len(res.Failed) > 0 {
		return false, res.Failed, nil
	}
	if !res.ExitReady && len(res.Gates.Reasons) > 0 {
		logger.Info("regression gates not passed", "reasons", res.Gates.Reasons)
	}
	return res.ExitReady, nil, nil
}

// runDistribution создаёт дистрибуцию при первом входе. Дальше тик её не двигает:
// submissions меняют только команды пользователя и события стора.
// Стадия закрывается, когда дистрибуция RELEASED.
func (o *Orchestrator) runDistribution(ctx context.Context, rel *domain.Release, w *domain.CronJob) (bool, error) {
	view, err := o.distribution.Get(ctx, rel.ID)
	if errors.Is(err, distribution.ErrDistributionNotFound) {
		view, err = o.distribution.Create(ctx, rel, w.Config.Distribution)
	}
	if err != nil {
		return false, err
	}
	return view.Status == domain.DistributionStatusReleased, nil
}

func (o *Orchestrator) load(ctx context.Context, releaseID uuid.UUID) (*domain.Release, *domain.CronJob, error) {
	rel, err := o.releases.GetByID(ctx, releaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, releaseID)
		}
		return nil, nil, fmt.Errorf("get release: %w", err)
	}
	cron, err := o.crons.GetByReleaseID(ctx, releaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: cron job of %s", ErrReleaseNotFound, releaseID)
		}
		return nil, nil, fmt.Errorf("get cron job: %w", err)
	}
	return rel, cron, nil
}

func (o *Orchestrator) event(rel *domain.Release, name string, stage domain.Stage, pt domain.PauseType, reason string) mq.ReleaseEvent {
	return mq.ReleaseEvent{
		ReleaseID: rel.ID,
		Code:      rel.Code,
		Event:     name,
		Stage:     stage,
		PauseType: pt,
		Reason:    reason,
		At:        o.now(),
	}
}

// publish отправляет события после записи состояния. Ошибки только логируются.
func (o *Orchestrator) publish(ctx context.Context, events []mq.ReleaseEvent) {
	if o.events == nil {
		return
	}
	for _, ev := range events {
		if err := o.events.PublishReleaseEvent(ctx, ev); err != nil {
			o.logger.Warn("failed to publish release event",
				"release_id", ev.ReleaseID,
				"event", ev.Event,
				"error", err,
			)
		}
	}
}
