package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/regression"
	"github.com/shaiso/Shipyard/internal/telemetry"
)

// KickoffRequest — запрос на создание релиза.
type KickoffRequest struct {
	Code     string
	TenantID string
	Type     domain.ReleaseType

	// Branch — релизная ветка (default: "release/<code>").
	Branch string

	// BaseBranch — ветка, от которой форкается релизная (default: "main").
	BaseBranch string

	// KickoffDate — дата старта (default: now).
	KickoffDate       time.Time
	TargetReleaseDate time.Time

	Platforms []domain.PlatformTarget
	Config    domain.StageConfig

	// AutoTransitions — автопереход с указанной стадии на следующую.
	AutoTransitions map[domain.Stage]bool
}

// Kickoff создаёт Release и его CronJob. Первый тик запустит KICKOFF.
func (o *Orchestrator) Kickoff(ctx context.Context, req KickoffRequest) (*domain.Release, *domain.CronJob, error) {
	now := o.now()
	if err := o.normalize(&req, now); err != nil {
		return nil, nil, err
	}

	rel := &domain.Release{
		ID:                uuid.New(),
		Code:              req.Code,
		TenantID:          req.TenantID,
		Status:            domain.ReleaseStatusInProgress,
		Type:              req.Type,
		Branch:            req.Branch,
		BaseBranch:        req.BaseBranch,
		KickoffDate:       req.KickoffDate,
		TargetReleaseDate: req.TargetReleaseDate,
		Platforms:         req.Platforms,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.releases.Create(ctx, rel); err != nil {
		return nil, nil, fmt.Errorf("create release: %w", err)
	}

	cron := domain.NewCronJob(rel.ID, req.Config, req.AutoTransitions, now)
	if err := o.crons.Create(ctx, cron); err != nil {
		return nil, nil, fmt.Errorf("create cron job: %w", err)
	}

	o.logger.Info("release kicked off",
		"release_id", rel.ID,
		"code", rel.Code,
		"platforms", len(rel.Platforms),
	)
	o.publish(ctx, []mq.ReleaseEvent{o.event(rel, mq.EventKickedOff, domain.StageKickoff, "", "")})
	return rel, cron, nil
}

// normalize проставляет значения по умолчанию и проверяет запрос.
func (o *Orchestrator) normalize(req *KickoffRequest, now time.Time) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidArgument}, args...)...)
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		return invalid("code is required")
	}
	if req.Type == "" {
		req.Type = domain.ReleaseTypeMinor
	}
	switch req.Type {
	case domain.ReleaseTypeMinor, domain.ReleaseTypeMajor, domain.ReleaseTypeHotfix, domain.ReleaseTypePatch:
	default:
		return invalid("unknown release type %q", req.Type)
	}
	if req.Branch == "" {
		req.Branch = "release/" + req.Code
	}
	if req.BaseBranch == "" {
		req.BaseBranch = "main"
	}

	if len(req.Platforms) == 0 {
		return invalid("at least one platform is required")
	}
	seen := make(map[domain.Platform]bool, len(req.Platforms))
	for _, p := range req.Platforms {
		if !p.Platform.IsValid() {
			return invalid("unknown platform %q", p.Platform)
		}
		if seen[p.Platform] {
			return invalid("duplicate platform %s", p.Platform)
		}
		seen[p.Platform] = true
		if strings.TrimSpace(p.Version) == "" {
			return invalid("version is required for %s", p.Platform)
		}
	}

	if req.KickoffDate.IsZero() {
		req.KickoffDate = now
	}
	if !req.TargetReleaseDate.IsZero() && req.TargetReleaseDate.Before(req.KickoffDate) {
		return invalid("target release date is before kickoff date")
	}

	loc := time.UTC
	if tz := req.Config.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return invalid("timezone %q: %v", tz, err)
		}
		loc = l
	}
	for i, slot := range req.Config.Regression {
		if slot.OffsetDays < 0 {
			return invalid("regression slot %d: negative offset", i)
		}
		if _, err := slot.At(req.KickoffDate, loc); err != nil {
			return invalid("regression slot %d: %v", i, err)
		}
	}

	dist := req.Config.Distribution
	switch dist.IOSReleaseMode {
	case "", domain.ReleaseModePhased, domain.ReleaseModeManual:
	default:
		return invalid("unknown ios release mode %q", dist.IOSReleaseMode)
	}
	if dist.AndroidInitialRollout < 0 || dist.AndroidInitialRollout > 100 {
		return invalid("android initial rollout must be within [0, 100]")
	}

	for s := range req.AutoTransitions {
		if !s.IsValid() {
			return invalid("auto transition from unknown stage %q", s)
		}
	}
	return nil
}

// Pause ставит релиз на паузу по запросу пользователя.
// Повторная пауза — no-op, пауза поверх другой причины — конфликт.
func (o *Orchestrator) Pause(ctx context.Context, releaseID uuid.UUID, reason string) (*domain.CronJob, error) {
	return o.command(ctx, releaseID, func(rel *domain.Release, c *domain.CronJob) ([]mq.ReleaseEvent, error) {
		switch c.PauseType {
		case domain.PauseTypeUserRequested:
			return nil, errNoChange
		case domain.PauseTypeNone, "":
		default:
			return nil, domain.Conflict(fmt.Sprintf("release is paused: %s", c.PauseType))
		}
		if reason == "" {
			reason = "paused by user"
		}
		c.Pause(domain.PauseTypeUserRequested, reason, o.now())
		telemetry.Pauses.WithLabelValues(string(domain.PauseTypeUserRequested)).Inc()
		stage, _ := c.ActiveStage()
		return []mq.ReleaseEvent{o.event(rel, mq.EventPaused, stage, domain.PauseTypeUserRequested, reason)}, nil
	})
}

// Resume снимает пользовательскую паузу.
func (o *Orchestrator) Resume(ctx context.Context, releaseID uuid.UUID) (*domain.CronJob, error) {
	return o.command(ctx, releaseID, func(rel *domain.Release, c *domain.CronJob) ([]mq.ReleaseEvent, error) {
		if c.PauseType != domain.PauseTypeUserRequested {
			return nil, domain.Conflict(fmt.Sprintf("release is not paused by user (pause type %s)", c.PauseType))
		}
		c.ClearPause(o.now())
		stage, _ := c.ActiveStage()
		return []mq.ReleaseEvent{o.event(rel, mq.EventResumed, stage, "", "")}, nil
	})
}

// RetryFailedTask возвращает FAILED задачу в PENDING и, по политике,
// снимает паузу TASK_FAILURE. Задача подхватится следующим тиком.
func (o *Orchestrator) RetryFailedTask(ctx context.Context, taskID uuid.UUID) (*domain.ReleaseTask, error) {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var reset *domain.ReleaseTask
	_, err = o.command(ctx, task.ReleaseID, func(rel *domain.Release, c *domain.CronJob) ([]mq.ReleaseEvent, error) {
		var err error
		if reset, err = o.runner.Reset(ctx, taskID); err != nil {
			return nil, err
		}
		if c.PauseType != domain.PauseTypeTaskFailure {
			return nil, errNoChange
		}

		if o.policy == PolicyAllRetried {
			remaining, err := o.failedTasks(ctx, rel.ID)
			if err != nil {
				return nil, err
			}
			if len(remaining) > 0 {
				c.Pause(domain.PauseTypeTaskFailure, failureReason(remaining), o.now())
				return nil, nil
			}
		}
		c.ClearPause(o.now())
		o.logger.Info("task failure pause cleared", "release_id", rel.ID, "task_id", taskID, "policy", o.policy)
		stage, _ := c.ActiveStage()
		return []mq.ReleaseEvent{o.event(rel, mq.EventResumed, stage, "", "")}, nil
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// TriggerNextStage подтверждает переход на стадию stage,
// которая ждёт AWAITING_STAGE_TRIGGER.
func (o *Orchestrator) TriggerNextStage(ctx context.Context, releaseID uuid.UUID, stage domain.Stage) (*domain.CronJob, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	return o.command(ctx, releaseID, func(rel *domain.Release, c *domain.CronJob) ([]mq.ReleaseEvent, error) {
		if c.PauseType != domain.PauseTypeAwaitingStageTrigger {
			return nil, domain.Conflict(fmt.Sprintf("release is not awaiting a stage trigger (pause type %s)", c.PauseType))
		}
		active, ok := c.ActiveStage()
		if !ok || active != stage {
			return nil, domain.Conflict(fmt.Sprintf("stage %s is not next, active stage is %s", stage, active))
		}
		now := o.now()
		c.ClearPause(now)
		c.StartStage(stage, now)
		o.logger.Info("stage triggered", "release_id", rel.ID, "stage", stage)
		return []mq.ReleaseEvent{o.event(rel, mq.EventResumed, stage, "", "")}, nil
	})
}

// Archive отправляет релиз в архив и останавливает cron.
func (o *Orchestrator) Archive(ctx context.Context, releaseID uuid.UUID) (*domain.Release, error) {
	var out *domain.Release
	_, err := o.command(ctx, releaseID, func(rel *domain.Release, c *domain.CronJob) ([]mq.ReleaseEvent, error) {
		if rel.Status == domain.ReleaseStatusArchived {
			return nil, domain.Conflict("release is already archived")
		}
		now := o.now()
		rel.MarkArchived(now)
		if err := o.releases.Update(ctx, rel); err != nil {
			return nil, fmt.Errorf("update release: %w", err)
		}
		out = rel
		c.Stop(now)
		return []mq.ReleaseEvent{o.event(rel, mq.EventArchived, "", "", "")}, nil
	}, allowTerminal)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AbandonCycle отменяет открытый цикл регрессии под блокировкой релиза.
func (o *Orchestrator) AbandonCycle(ctx context.Context, cycleID uuid.UUID) (*domain.RegressionCycle, error) {
	cycle, err := o.cycles.GetByID(ctx, cycleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", regression.ErrCycleNotFound, cycleID)
		}
		return nil, err
	}
	var out *domain.RegressionCycle
	err = lock.WithLock(ctx, o.locker, lock.ReleaseKey(cycle.ReleaseID), func(ctx context.Context) error {
		var err error
		out, err = o.regression.Abandon(ctx, cycleID, o.now())
		return err
	})
	return out, err
}

// errNoChange — команда не меняет состояние (идемпотентный повтор).
var errNoChange = errors.New("no change")

type commandOption int

// allowTerminal разрешает команду для завершённого релиза.
const allowTerminal commandOption = 1

// command выполняет read-modify-write CronJob под блокировкой релиза.
func (o *Orchestrator) command(ctx context.Context, releaseID uuid.UUID, fn func(rel *domain.Release, c *domain.CronJob) ([]mq.ReleaseEvent, error), opts ...commandOption) (*domain.CronJob, error) {
	var (
		out    *domain.CronJob
		events []mq.ReleaseEvent
	)
	err := lock.WithLock(ctx, o.locker, lock.ReleaseKey(releaseID), func(ctx context.Context) error {
		rel, cron, err := o.load(ctx, releaseID)
		if err != nil {
			return err
		}
		if rel.Status.IsTerminal() && len(opts) == 0 {
			return domain.Conflict(fmt.Sprintf("release is %s", rel.Status))
		}

		w := cron.Clone()
		events, err = fn(rel, w)
		if errors.Is(err, errNoChange) {
			out = cron
			return nil
		}
		if err != nil {
			return err
		}
		if err := o.crons.Update(ctx, w); err != nil {
			return fmt.Errorf("update cron job: %w", err)
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, events)
	return out, nil
}

// failedTasks возвращает FAILED задачи релиза, не считая брошенных циклов.
func (o *Orchestrator) failedTasks(ctx context.Context, releaseID uuid.UUID) ([]domain.ReleaseTask, error) {
	tasks, err := o.tasks.List(ctx, releaseID, domain.TaskFilter{Status: domain.TaskStatusFailed})
	if err != nil {
		return nil, fmt.Errorf("list failed tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	cycles, err := o.cycles.ListByRelease(ctx, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	return failed(withoutAbandoned(tasks, cycles)), nil
}

// StatusView — состояние релиза для пользователя.
type StatusView struct {
	Release     *domain.Release      `json:"release"`
	CronJob     *domain.CronJob      `json:"cron_job"`
	ActiveStage domain.Stage         `json:"active_stage,omitempty"`
	FailedTasks []domain.ReleaseTask `json:"failed_tasks,omitempty"`
}

// Status возвращает релиз, его CronJob, причину паузы и упавшие задачи.
func (o *Orchestrator) Status(ctx context.Context, releaseID uuid.UUID) (*StatusView, error) {
	rel, cron, err := o.load(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{Release: rel, CronJob: cron}
	if s, ok := cron.ActiveStage(); ok {
		view.ActiveStage = s
	}
	if view.FailedTasks, err = o.failedTasks(ctx, releaseID); err != nil {
		return nil, err
	}
	return view, nil
}

// Tasks возвращает задачи релиза (все при пустой стадии) и статус стадии.
func (o *Orchestrator) Tasks(ctx context.Context, releaseID uuid.UUID, stage domain.Stage) ([]domain.ReleaseTask, domain.StageStatus, error) {
	if stage != "" && !stage.IsValid() {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	_, cron, err := o.load(ctx, releaseID)
	if err != nil {
		return nil, "", err
	}
	tasks, err := o.tasks.List(ctx, releaseID, domain.TaskFilter{Stage: stage})
	if err != nil {
		return nil, "", fmt.Errorf("list tasks: %w", err)
	}
	var st domain.StageStatus
	if stage != "" {
		st = cron.StageStatus(stage)
	}
	return tasks, st, nil
}

// Cycles возвращает циклы регрессии релиза.
func (o *Orchestrator) Cycles(ctx context.Context, releaseID uuid.UUID) ([]domain.RegressionCycle, error) {
	if _, _, err := o.load(ctx, releaseID); err != nil {
		return nil, err
	}
	return o.regression.List(ctx, releaseID)
}

// ActiveReleases возвращает страницу релизов в IN_PROGRESS, которым нужны тики.
// after — последний релиз предыдущей страницы (nil для первой).
func (o *Orchestrator) ActiveReleases(ctx context.Context, after *domain.ReleaseCursor, limit int) ([]domain.Release, error) {
	return o.releases.ListByStatus(ctx, domain.ReleaseStatusInProgress, after, limit)
}
