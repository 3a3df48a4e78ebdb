package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/telemetry"
)

// Default configuration values.
const (
	defaultCallTimeout = 30 * time.Second
	defaultMaxParallel = 4
	defaultStaleAfter  = 30 * time.Minute
)

// Executor выполняет задачи релиза.
//
// Executor ничего не знает о стадиях: он забирает задачу (claim),
// вызывает handler её типа и записывает результат.
type Executor struct {
	tasks    domain.TaskRepository
	registry *Registry

	callTimeout time.Duration
	maxParallel int
	staleAfter  time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Executor.
type Config struct {
	Tasks    domain.TaskRepository
	Registry *Registry

	// CallTimeout — предел одного вызова коллаборатора (default: 30s).
	CallTimeout time.Duration

	// MaxParallel — сколько задач одного тика выполняются одновременно (default: 4).
	MaxParallel int

	// StaleAfter — через сколько IN_PROGRESS задача считается прерванной (default: 30m).
	StaleAfter time.Duration

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт Executor. Реестр должен покрывать все типы задач.
func New(cfg Config) (*Executor, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry is nil", ErrUnknownTaskType)
	}
	if err := cfg.Registry.Validate(); err != nil {
		return nil, err
	}

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Executor{
		tasks:       cfg.Tasks,
		registry:    cfg.Registry,
		callTimeout: callTimeout,
		maxParallel: maxParallel,
		staleAfter:  staleAfter,
		logger:      logger,
		now:         now,
	}, nil
}

// Execute выполняет одну задачу и возвращает её новый статус.
//
// Если задача уже не PENDING (забрана другим тиком, ждёт callback, завершена),
// коллаборатор не вызывается и возвращается текущий статус.
func (e *Executor) Execute(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, task domain.ReleaseTask) (domain.TaskStatus, error) {
	refs, err := e.refs(ctx, rel.ID)
	if err != nil {
		return task.Status, err
	}
	return e.execute(ctx, rel, cfg, task.ID, refs)
}

func (e *Executor) execute(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, taskID uuid.UUID, refs map[domain.TaskType]string) (domain.TaskStatus, error) {
	// 1. Claim: PENDING → IN_PROGRESS
	task, ok, err := e.tasks.Claim(ctx, taskID, e.now())
	if err != nil {
		return "", fmt.Errorf("claim task: %w", err)
	}
	if !ok {
		current, err := e.tasks.GetByID(ctx, taskID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
			}
			return "", fmt.Errorf("get task: %w", err)
		}
		return current.Status, nil
	}

	logger := telemetry.WithTaskID(e.logger, task.ID.String()).With(
		"release_id", rel.ID,
		"stage", task.Stage,
		"type", task.Type,
		"attempt", task.Attempt,
	)
	logger.Info("task started")

	handler, err := e.registry.Get(task.Type)
	if err != nil {
		return e.fail(ctx, logger, task, "failure", err.Error())
	}

	// 2. Вызов коллаборатора с ограничением по времени
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	outcome, callErr := handler.Handle(callCtx, Request{
		Release: rel,
		Task:    task,
		Config:  cfg,
		Refs:    refs,
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	// 3. Классификация результата
	switch {
	case callErr == nil:
		return e.finish(ctx, logger, task, outcome)

	case timedOut || errors.Is(callErr, context.DeadlineExceeded):
		return e.fail(ctx, logger, task, "timeout", fmt.Sprintf("collaborator call exceeded %s", e.callTimeout))

	case errors.Is(callErr, integrations.ErrNotConfigured):
		if task.Type.IsBuild() && cfg.ManualBuilds {
			task.MarkAwaiting(domain.TaskStatusAwaitingManualBuild)
			if _, err := e.tasks.Transition(ctx, task, domain.TaskStatusInProgress); err != nil {
				return "", err
			}
			logger.Info("task awaiting manual build", "reason", callErr)
			telemetry.TasksExecuted.WithLabelValues(string(task.Type), string(task.Status)).Inc()
			return task.Status, nil
		}
		// Ошибка конфигурации: возвращаем задачу в PENDING, стадия стоит до исправления.
		task.Status = domain.TaskStatusPending
		task.StartedAt = nil
		if _, err := e.tasks.Transition(ctx, task, domain.TaskStatusInProgress); err != nil {
			return "", err
		}
		logger.Warn("task not dispatched: integration not configured", "error", callErr)
		return domain.TaskStatusPending, callErr

	case errors.Is(callErr, integrations.ErrRejected):
		return e.fail(ctx, logger, task, "rejected", callErr.Error())

	default:
		return e.fail(ctx, logger, task, "failure", callErr.Error())
	}
}

// finish записывает успешный результат handler'а.
func (e *Executor) finish(ctx context.Context, logger *slog.Logger, task *domain.ReleaseTask, out Outcome) (domain.TaskStatus, error) {
	task.SetExternal(out.ExternalID, out.Data)
	switch out.Status {
	case domain.TaskStatusAwaitingCallback:
		task.MarkAwaiting(domain.TaskStatusAwaitingCallback)
	default:
		conclusion := out.Conclusion
		if conclusion == "" {
			conclusion = "success"
		}
		task.MarkCompleted(conclusion, e.now())
	}

	if _, err := e.tasks.Transition(ctx, task, domain.TaskStatusInProgress); err != nil {
		return "", fmt.Errorf("update task: %w", err)
	}
	telemetry.TasksExecuted.WithLabelValues(string(task.Type), string(task.Status)).Inc()
	logger.Info("task finished", "status", task.Status, "external_id", task.ExternalID)
	return task.Status, nil
}

// fail переводит задачу в FAILED.
func (e *Executor) fail(ctx context.Context, logger *slog.Logger, task *domain.ReleaseTask, conclusion, msg string) (domain.TaskStatus, error) {
	task.MarkFailed(conclusion, msg, e.now())
	if _, err := e.tasks.Transition(ctx, task, domain.TaskStatusInProgress); err != nil {
		return "", fmt.Errorf("update task: %w", err)
	}
	telemetry.TasksExecuted.WithLabelValues(string(task.Type), string(task.Status)).Inc()
	logger.Warn("task failed", "conclusion", conclusion, "error", msg)
	return domain.TaskStatusFailed, nil
}

// Summary — итог DispatchAll.
type Summary struct {
	// Dispatched — сколько задач было забрано и выполнено.
	Dispatched int

	// Failed — задачи, упавшие в этом вызове.
	Failed []uuid.UUID

	// NotConfigured — ошибки конфигурации (задачи вернулись в PENDING).
	NotConfigured []error
}

// DispatchAll выполняет PENDING задачи параллельно, не более MaxParallel одновременно.
//
// Задачи идут волнами (см. TaskType.Wave): следующая волна запускается в том же
// вызове, если предыдущая целиком COMPLETED. После первого FAILED новые задачи
// не забираются, уже запущенные доводятся до конца.
func (e *Executor) DispatchAll(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, tasks []domain.ReleaseTask) (Summary, error) {
	var sum Summary

	status := make(map[uuid.UUID]domain.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	var refs map[domain.TaskType]string
	for {
		wave := -1
		for _, t := range tasks {
			if status[t.ID] != domain.TaskStatusCompleted && (wave < 0 || t.Type.Wave() < wave) {
				wave = t.Type.Wave()
			}
		}

		var pending []domain.ReleaseTask
		for _, t := range tasks {
			if status[t.ID] == domain.TaskStatusPending && t.Type.Wave() == wave {
				pending = append(pending, t)
			}
		}
		if len(pending) == 0 {
			return sum, nil
		}

		// refs перечитываются на каждой волне: следующая волна ссылается на результаты предыдущей.
		var err error
		if refs, err = e.refs(ctx, rel.ID); err != nil {
			return sum, err
		}

		results, err := e.dispatchWave(ctx, rel, cfg, pending, refs)
		progressed := false
		for i, r := range results {
			if r.status == domain.TaskStatusCompleted {
				progressed = true
			}
			if r.status != "" {
				status[pending[i].ID] = r.status
				sum.Dispatched++
			}
			if r.status == domain.TaskStatusFailed {
				sum.Failed = append(sum.Failed, pending[i].ID)
			}
			if r.err != nil && errors.Is(r.err, integrations.ErrNotConfigured) {
				sum.NotConfigured = append(sum.NotConfigured, r.err)
			}
		}
		if err != nil || !progressed || len(sum.Failed) > 0 || len(sum.NotConfigured) > 0 {
			return sum, err
		}
	}
}

type waveResult struct {
	status domain.TaskStatus
	err    error
}

// dispatchWave выполняет одну волну задач через errgroup.
func (e *Executor) dispatchWave(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, pending []domain.ReleaseTask, refs map[domain.TaskType]string) ([]waveResult, error) {
	var failed atomic.Bool
	results := make([]waveResult, len(pending))

	var g errgroup.Group
	g.SetLimit(e.maxParallel)
	for i := range pending {
		if failed.Load() {
			break
		}
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			st, err := e.execute(ctx, rel, cfg, pending[i].ID, refs)
			results[i] = waveResult{status: st, err: err}
			if st == domain.TaskStatusFailed {
				failed.Store(true)
			}
			if err != nil && !errors.Is(err, integrations.ErrNotConfigured) {
				return err
			}
			return nil
		})
	}
	return results, g.Wait()
}

// RecoverStale помечает FAILED задачи, застрявшие в IN_PROGRESS дольше StaleAfter
// (процесс упал между claim и записью результата). Возвращает их число.
func (e *Executor) RecoverStale(ctx context.Context, tasks []domain.ReleaseTask) (int, error) {
	cutoff := e.now().Add(-e.staleAfter)
	n := 0
	for i := range tasks {
		t := tasks[i].Clone()
		if t.Status != domain.TaskStatusInProgress || t.StartedAt == nil || t.StartedAt.After(cutoff) {
			continue
		}
		t.MarkFailed("interrupted", "execution interrupted", e.now())
		ok, err := e.tasks.Transition(ctx, &t, domain.TaskStatusInProgress)
		if err != nil {
			return n, fmt.Errorf("recover stale task: %w", err)
		}
		if ok {
			n++
			e.logger.Warn("stale task marked failed", "task_id", t.ID, "release_id", t.ReleaseID)
		}
	}
	return n, nil
}

// Reset возвращает FAILED задачу в PENDING. Счётчик попыток сохраняется.
func (e *Executor) Reset(ctx context.Context, taskID uuid.UUID) (*domain.ReleaseTask, error) {
	task, err := e.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	if task.Status != domain.TaskStatusFailed {
		return nil, &domain.ConflictError{Reason: fmt.Sprintf("%s: status is %s", ErrTaskNotFailed, task.Status)}
	}

	task.ResetForRetry()
	ok, err := e.tasks.Transition(ctx, task, domain.TaskStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("reset task: %w", err)
	}
	if !ok {
		return nil, &domain.ConflictError{Reason: ErrTaskNotFailed.Error()}
	}
	e.logger.Info("task reset for retry", "task_id", task.ID, "release_id", task.ReleaseID)
	return task, nil
}

// refs собирает ExternalID последних завершённых задач релиза по типу.
func (e *Executor) refs(ctx context.Context, releaseID uuid.UUID) (map[domain.TaskType]string, error) {
	tasks, err := e.tasks.List(ctx, releaseID, domain.TaskFilter{Status: domain.TaskStatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}
	refs := make(map[domain.TaskType]string)
	for _, t := range tasks {
		if t.ExternalID != "" {
			refs[t.Type] = t.ExternalID
		}
	}
	return refs, nil
}
