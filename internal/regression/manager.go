package regression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
)

const defaultGateTimeout = 15 * time.Second

// Dispatcher — то, чем менеджер выполняет задачи цикла.
type Dispatcher interface {
	DispatchAll(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, tasks []domain.ReleaseTask) (executor.Summary, error)
}

// Manager — менеджер циклов регрессии.
type Manager struct {
	cycles     domain.CycleRepository
	tasks      domain.TaskRepository
	dispatcher Dispatcher

	scm   integrations.SCM
	tests integrations.TestManagement

	holdOnFailure bool
	gateTimeout   time.Duration
	logger        *slog.Logger
}

// Config — конфигурация Manager.
type Config struct {
	Cycles     domain.CycleRepository
	Tasks      domain.TaskRepository
	Dispatcher Dispatcher

	// SCM и Tests используются только для внешних проверок (read-only).
	SCM   integrations.SCM
	Tests integrations.TestManagement

	// HoldOnFailure — пока в активных циклах есть FAILED задача, PENDING задачи не диспатчатся.
	// Включается политикой ALL_RETRIED.
	HoldOnFailure bool

	// GateTimeout — предел одного запроса проверки (default: 15s).
	GateTimeout time.Duration

	Logger *slog.Logger
}

// New создаёт Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gateTimeout := cfg.GateTimeout
	if gateTimeout <= 0 {
		gateTimeout = defaultGateTimeout
	}
	return &Manager{
		cycles:        cfg.Cycles,
		tasks:         cfg.Tasks,
		dispatcher:    cfg.Dispatcher,
		scm:           cfg.SCM,
		tests:         cfg.Tests,
		holdOnFailure: cfg.HoldOnFailure,
		gateTimeout:   gateTimeout,
		logger:        logger,
	}
}

// Result — итог одного Advance.
type Result struct {
	// Latest — последний цикл после Advance (nil, если циклов нет).
	Latest *domain.RegressionCycle

	// Created — на этом тике создан новый цикл.
	Created bool

	// Failed — упавшие задачи регрессии.
	Failed []domain.ReleaseTask

	// NotConfigured — ошибки конфигурации при диспатче.
	NotConfigured []error

	// Gates — результат внешних проверок (считается, только когда остальное готово).
	Gates GateResult

	// ExitReady — стадию можно закрывать.
	ExitReady bool
}

// Advance продвигает регрессию релиза на один шаг.
func (m *Manager) Advance(ctx context.Context, rel *domain.Release, cron *domain.CronJob, now time.Time) (Result, error) {
	var res Result
	cfg := cron.Config
	loc := cron.Location()

	cycles, err := m.cycles.ListByRelease(ctx, rel.ID)
	if err != nil {
		return res, fmt.Errorf("list cycles: %w", err)
	}
	tasks, err := m.stageTasks(ctx, rel.ID)
	if err != nil {
		return res, err
	}

	// 1. Закрываем циклы, у которых все задачи завершены.
	if cycles, err = m.settle(ctx, cycles, tasks, now); err != nil {
		return res, err
	}

	// 2. Материализуем наступивший слот.
	slots, err := slotTimes(cfg.Regression, rel.KickoffDate, loc)
	if err != nil {
		return res, err
	}
	due := dueSlot(slots, now)
	if due >= 0 && !materialized(cycles, slots, due) {
		cycle, created, err := m.openCycle(ctx, rel, cfg, cycles, due, now)
		if err != nil {
			return res, err
		}
		res.Created = true
		cycles = append(cycles, *cycle)
		tasks = append(tasks, created...)
		// Предыдущие открытые циклы были брошены в openCycle.
		for i := range cycles {
			if cycles[i].ID != cycle.ID && cycles[i].IsOpen() {
				cycles[i].Status = domain.CycleStatusAbandoned
				cycles[i].CompletedAt = &now
			}
		}
	}

	// 3. Диспатчим PENDING задачи последнего цикла.
	hold := m.holdOnFailure && anyFailed(activeTasks(cycles, tasks))
	if latest, ok := domain.LatestCycle(cycles); ok && latest.IsOpen() && !hold {
		cycleTasks := filterCycle(tasks, latest.ID)
		sum, err := m.dispatcher.DispatchAll(ctx, rel, cfg, cycleTasks)
		if err != nil {
			return res, fmt.Errorf("dispatch cycle tasks: %w", err)
		}
		res.NotConfigured = sum.NotConfigured

		if sum.Dispatched > 0 {
			if tasks, err = m.stageTasks(ctx, rel.ID); err != nil {
				return res, err
			}
			if cycles, err = m.settle(ctx, cycles, tasks, now); err != nil {
				return res, err
			}
		}
	}

	// 4. Упавшие задачи.
	active := activeTasks(cycles, tasks)
	for _, t := range active {
		if t.Status == domain.TaskStatusFailed {
			res.Failed = append(res.Failed, t)
		}
	}
	if latest, ok := domain.LatestCycle(cycles); ok {
		res.Latest = latest
	}

	// 5. Условие выхода. Внешние проверки дёргаем, только когда всё остальное готово.
	upcoming := hasUpcoming(slots, now)
	if ExitCondition(cycles, active, upcoming, GateResult{Passed: true}) {
		gates, err := m.EvaluateGates(ctx, rel, cfg)
		if err != nil {
			return res, err
		}
		res.Gates = gates
		res.ExitReady = ExitCondition(cycles, active, upcoming, gates)
	}
	return res, nil
}

// openCycle бросает открытые циклы и создаёт цикл для слота due с задачами.
func (m *Manager) openCycle(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, cycles []domain.RegressionCycle, due int, now time.Time) (*domain.RegressionCycle, []domain.ReleaseTask, error) {
	for i := range cycles {
		c := cycles[i]
		if !c.Abandon(now) {
			continue
		}
		if err := m.cycles.Update(ctx, &c); err != nil {
			return nil, nil, fmt.Errorf("abandon superseded cycle: %w", err)
		}
		m.logger.Info("regression cycle superseded", "release_id", rel.ID, "cycle_id", c.ID, "tag", c.Tag)
	}

	cycle := &domain.RegressionCycle{
		ID:        uuid.New(),
		ReleaseID: rel.ID,
		SlotIndex: due,
		Tag:       domain.CycleTag(rel.Code, len(cycles)+1),
		Status:    domain.CycleStatusNotStarted,
		Flags:     cfg.Regression[due].Flags,
		CreatedAt: now,
	}
	if err := m.cycles.Create(ctx, cycle); err != nil {
		return nil, nil, fmt.Errorf("create cycle: %w", err)
	}

	tasks := CycleTasks(rel, cycle, now)
	if err := m.tasks.CreateBatch(ctx, tasks); err != nil {
		return nil, nil, fmt.Errorf("create cycle tasks: %w", err)
	}

	cycle.Start()
	if err := m.cycles.Update(ctx, cycle); err != nil {
		return nil, nil, fmt.Errorf("start cycle: %w", err)
	}

	m.logger.Info("regression cycle started",
		"release_id", rel.ID,
		"cycle_id", cycle.ID,
		"tag", cycle.Tag,
		"slot", due,
		"tasks", len(tasks),
	)
	return cycle, tasks, nil
}

// settle переводит в DONE открытые циклы, все задачи которых завершены.
func (m *Manager) settle(ctx context.Context, cycles []domain.RegressionCycle, tasks []domain.ReleaseTask, now time.Time) ([]domain.RegressionCycle, error) {
	for i := range cycles {
		c := &cycles[i]
		if !c.IsOpen() {
			continue
		}
		own := filterCycle(tasks, c.ID)
		if len(own) == 0 || !allCompleted(own) {
			continue
		}
		c.Finish(now)
		if err := m.cycles.Update(ctx, c); err != nil {
			return nil, fmt.Errorf("finish cycle: %w", err)
		}
		m.logger.Info("regression cycle done", "release_id", c.ReleaseID, "cycle_id", c.ID, "tag", c.Tag)
	}
	return cycles, nil
}

// Abandon явно отменяет открытый цикл.
func (m *Manager) Abandon(ctx context.Context, cycleID uuid.UUID, now time.Time) (*domain.RegressionCycle, error) {
	cycle, err := m.cycles.GetByID(ctx, cycleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, cycleID)
		}
		return nil, err
	}
	if !cycle.Abandon(now) {
		return nil, &domain.ConflictError{Reason: fmt.Sprintf("%s: status is %s", ErrCycleClosed, cycle.Status)}
	}
	if err := m.cycles.Update(ctx, cycle); err != nil {
		return nil, err
	}
	m.logger.Info("regression cycle abandoned", "release_id", cycle.ReleaseID, "cycle_id", cycle.ID)
	return cycle, nil
}

// List возвращает циклы релиза в порядке создания.
func (m *Manager) List(ctx context.Context, releaseID uuid.UUID) ([]domain.RegressionCycle, error) {
	return m.cycles.ListByRelease(ctx, releaseID)
}

// EvaluateGates выполняет включённые внешние проверки.
func (m *Manager) EvaluateGates(ctx context.Context, rel *domain.Release, cfg domain.StageConfig) (GateResult, error) {
	res := GateResult{Passed: true}
	fail := func(reason string) {
		res.Passed = false
		res.Reasons = append(res.Reasons, reason)
	}

	ctx, cancel := context.WithTimeout(ctx, m.gateTimeout)
	defer cancel()

	if cfg.Gates.RequireTestVerdict {
		kickoff, err := m.tasks.List(ctx, rel.ID, domain.TaskFilter{
			Stage:  domain.StageKickoff,
			Status: domain.TaskStatusCompleted,
		})
		if err != nil {
			return res, fmt.Errorf("list kickoff tasks: %w", err)
		}
		suiteID := ""
		for _, t := range kickoff {
			if t.Type == domain.TaskCreateTestSuite {
				suiteID = t.ExternalID
			}
		}
		switch {
		case m.tests == nil:
			fail("test management not configured")
		case suiteID == "":
			fail("no test suite")
		default:
			st, err := m.tests.RunStatus(ctx, suiteID)
			if err != nil {
				m.logger.Warn("test verdict check failed", "release_id", rel.ID, "error", err)
				fail("test verdict unavailable")
			} else if !st.ThresholdMet {
				fail(fmt.Sprintf("test pass threshold not met (%d/%d passed)", st.Passed, st.Total))
			}
		}
	}

	if cfg.Gates.RequireCherryPickParity {
		if m.scm == nil {
			fail("scm not configured")
		} else {
			ok, err := m.scm.CherryPickParity(ctx, rel.Branch)
			if err != nil {
				m.logger.Warn("cherry-pick parity check failed", "release_id", rel.ID, "error", err)
				fail("cherry-pick parity unavailable")
			} else if !ok {
				fail("cherry-picks missing from release branch")
			}
		}
	}
	return res, nil
}

// stageTasks загружает все задачи стадии REGRESSION.
func (m *Manager) stageTasks(ctx context.Context, releaseID uuid.UUID) ([]domain.ReleaseTask, error) {
	tasks, err := m.tasks.List(ctx, releaseID, domain.TaskFilter{Stage: domain.StageRegression})
	if err != nil {
		return nil, fmt.Errorf("list regression tasks: %w", err)
	}
	return tasks, nil
}
