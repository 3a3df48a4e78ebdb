package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/integrations/fake"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/regression"
	"github.com/shaiso/Shipyard/internal/repo/memory"
)

// --- fixtures ---

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// spyRunner считает вызовы DispatchAll.
type spyRunner struct {
	*executor.Executor
	dispatches atomic.Int32
}

func (s *spyRunner) DispatchAll(ctx context.Context, rel *domain.Release, cfg domain.StageConfig, tasks []domain.ReleaseTask) (executor.Summary, error) {
	s.dispatches.Add(1)
	return s.Executor.DispatchAll(ctx, rel, cfg, tasks)
}

type eventLog struct {
	mu     sync.Mutex
	events []mq.ReleaseEvent
}

func (l *eventLog) PublishReleaseEvent(_ context.Context, ev mq.ReleaseEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Event)
	}
	return out
}

type env struct {
	repos  domain.Repositories
	fake   *fake.Collaborators
	clock  *clock
	runner *spyRunner
	dist   *distribution.Engine
	events *eventLog
	orch   *Orchestrator
}

var kickoffAt = time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, policy PausePolicy) *env {
	t.Helper()

	repos := memory.New()
	f := fake.New()
	clk := &clock{t: kickoffAt}
	locker := lock.NewLocal()

	ex, err := executor.New(executor.Config{
		Tasks:    repos.Tasks,
		Registry: executor.NewRegistry(f.Set()),
		Now:      clk.Now,
	})
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	runner := &spyRunner{Executor: ex}

	reg := regression.New(regression.Config{
		Cycles:     repos.Cycles,
		Tasks:      repos.Tasks,
		Dispatcher: runner,
		SCM:        f,
		Tests:      f,

		HoldOnFailure: policy == PolicyAllRetried,
	})
	dist := distribution.New(distribution.Config{
		Repo:   repos.Distributions,
		Store:  f,
		Locker: locker,
		Now:    clk.Now,
	})
	events := &eventLog{}

	orch := New(Config{
		Repos:        repos,
		Runner:       runner,
		Regression:   reg,
		Distribution: dist,
		Locker:       locker,
		Events:       events,
		PausePolicy:  policy,
		Now:          clk.Now,
	})
	return &env{repos: repos, fake: f, clock: clk, runner: runner, dist: dist, events: events, orch: orch}
}

func (e *env) kickoff(t *testing.T, cfg domain.StageConfig, auto map[domain.Stage]bool) *domain.Release {
	t.Helper()
	rel, _, err := e.orch.Kickoff(context.Background(), KickoffRequest{
		Code: "R-2026.10",
		Platforms: []domain.PlatformTarget{
			{Platform: domain.PlatformAndroid, Target: "PLAY_STORE", Version: "4.12.0"},
			{Platform: domain.PlatformIOS, Target: "APP_STORE", Version: "4.12.0"},
		},
		Config:          cfg,
		AutoTransitions: auto,
	})
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	return rel
}

func (e *env) tick(t *testing.T, id uuid.UUID) TickResult {
	t.Helper()
	res, err := e.orch.Tick(context.Background(), id)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return res
}

func (e *env) cron(t *testing.T, id uuid.UUID) *domain.CronJob {
	t.Helper()
	c, err := e.repos.CronJobs.GetByReleaseID(context.Background(), id)
	if err != nil {
		t.Fatalf("get cron job: %v", err)
	}
	return c
}

// completeBuilds присылает успешный callback на все сборки, ждущие CI.
func (e *env) completeBuilds(t *testing.T, id uuid.UUID) int {
	t.Helper()
	ctx := context.Background()
	tasks, err := e.repos.Tasks.List(ctx, id, domain.TaskFilter{Status: domain.TaskStatusAwaitingCallback})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if _, _, err := e.runner.ApplyCallback(ctx, executor.CallbackEvent{TaskID: task.ID, Success: true}); err != nil {
			t.Fatalf("ApplyCallback: %v", err)
		}
	}
	return len(tasks)
}

func taskOf(t *testing.T, repos domain.Repositories, id uuid.UUID, stage domain.Stage, tt domain.TaskType) domain.ReleaseTask {
	t.Helper()
	tasks, err := repos.Tasks.List(context.Background(), id, domain.TaskFilter{Stage: stage})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Type == tt {
			return task
		}
	}
	t.Fatalf("task %s not found in %s", tt, stage)
	return domain.ReleaseTask{}
}

// --- Tick ---

func TestTick_PausedReleaseIsNoop(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	task := domain.NewTask(rel.ID, domain.StageKickoff, domain.TaskForkBranch, "", kickoffAt)
	if err := e.repos.Tasks.CreateBatch(ctx, []domain.ReleaseTask{task}); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := e.orch.Pause(ctx, rel.ID, "freeze"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	before := e.cron(t, rel.ID)

	res := e.tick(t, rel.ID)

	if res.Outcome != OutcomePaused || res.PauseType != domain.PauseTypeUserRequested {
		t.Errorf("expected paused/USER_REQUESTED, got %s/%s", res.Outcome, res.PauseType)
	}
	if n := e.runner.dispatches.Load(); n != 0 {
		t.Errorf("executor must not be invoked while paused, got %d dispatches", n)
	}
	if e.fake.Total() != 0 {
		t.Errorf("expected no collaborator calls, got %d", e.fake.Total())
	}
	got, _ := e.repos.Tasks.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusPending {
		t.Errorf("expected task PENDING, got %s", got.Status)
	}
	after := e.cron(t, rel.ID)
	if after.Version != before.Version {
		t.Errorf("paused tick must not write the cron job (version %d → %d)", before.Version, after.Version)
	}
	if after.CronStatus != domain.CronStatusRunning {
		t.Errorf("pause must keep cron RUNNING, got %s", after.CronStatus)
	}
}

func TestTick_KickoffStage(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	res := e.tick(t, rel.ID)
	if res.Outcome != OutcomeIdle || res.Stage != domain.StageKickoff {
		t.Fatalf("expected idle on KICKOFF, got %s on %s", res.Outcome, res.Stage)
	}
	c := e.cron(t, rel.ID)
	if c.StageStatus(domain.StageKickoff) != domain.StageStatusInProgress {
		t.Errorf("expected KICKOFF IN_PROGRESS, got %s", c.StageStatus(domain.StageKickoff))
	}
	if !c.UpdatedAt.Equal(kickoffAt) {
		t.Errorf("UpdatedAt = %v, want tick time %v", c.UpdatedAt, kickoffAt)
	}

	build := taskOf(t, e.repos, rel.ID, domain.StageKickoff, domain.TaskTriggerPreRegressionBuild)
	if build.Status != domain.TaskStatusAwaitingCallback {
		t.Errorf("expected build AWAITING_CALLBACK, got %s", build.Status)
	}
	if n := e.fake.Count("Notify"); n != 0 {
		t.Errorf("notify must wait for builds, got %d calls", n)
	}

	if n := e.completeBuilds(t, rel.ID); n != 2 {
		t.Fatalf("expected 2 builds, got %d", n)
	}
	res = e.tick(t, rel.ID)

	if res.Outcome != OutcomePaused || res.PauseType != domain.PauseTypeAwaitingStageTrigger {
		t.Fatalf("expected AWAITING_STAGE_TRIGGER, got %s/%s", res.Outcome, res.PauseType)
	}
	if len(res.Completed) != 1 || res.Completed[0] != domain.StageKickoff {
		t.Errorf("expected KICKOFF completed, got %v", res.Completed)
	}
	c = e.cron(t, rel.ID)
	if c.StageStatus(domain.StageKickoff) != domain.StageStatusCompleted {
		t.Errorf("expected KICKOFF COMPLETED, got %s", c.StageStatus(domain.StageKickoff))
	}
	if c.StageStatus(domain.StageRegression) != domain.StageStatusPending {
		t.Errorf("REGRESSION must wait for trigger, got %s", c.StageStatus(domain.StageRegression))
	}
	if e.fake.Count("CreateBranch") != 1 || e.fake.Count("TriggerBuild") != 2 || e.fake.Count("Notify") != 1 {
		t.Errorf("unexpected collaborator calls: %v", e.fake.Calls)
	}
}

func TestTick_ConcurrentTicksDispatchOnce(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.orch.Tick(context.Background(), rel.ID); err != nil {
				t.Errorf("Tick: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := e.fake.Count("CreateBranch"); n != 1 {
		t.Errorf("expected FORK_BRANCH dispatched once, got %d", n)
	}
	if n := e.fake.Count("TriggerBuild"); n != 2 {
		t.Errorf("expected 2 builds dispatched once each, got %d", n)
	}
	tasks, _ := e.repos.Tasks.List(context.Background(), rel.ID, domain.TaskFilter{Stage: domain.StageKickoff})
	if len(tasks) != 6 {
		t.Errorf("expected 6 KICKOFF tasks, got %d", len(tasks))
	}
}

func TestTick_TaskFailurePausesRelease(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	e.fake.Fail("CreateBranch", integrations.ErrCollaborator)
	res := e.tick(t, rel.ID)

	if res.Outcome != OutcomePaused || res.PauseType != domain.PauseTypeTaskFailure {
		t.Fatalf("expected TASK_FAILURE pause, got %s/%s", res.Outcome, res.PauseType)
	}
	c := e.cron(t, rel.ID)
	if !strings.Contains(c.PauseReason, string(domain.TaskForkBranch)) {
		t.Errorf("pause reason must name the failed task, got %q", c.PauseReason)
	}
	if n := e.fake.Count("TriggerBuild"); n != 0 {
		t.Errorf("builds must not start after a failure, got %d", n)
	}

	view, err := e.orch.Status(ctx, rel.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(view.FailedTasks) != 1 || view.FailedTasks[0].Type != domain.TaskForkBranch {
		t.Errorf("expected failing FORK_BRANCH in status, got %+v", view.FailedTasks)
	}

	// Пока на паузе, тик ничего не делает.
	calls := e.fake.Total()
	e.tick(t, rel.ID)
	if e.fake.Total() != calls {
		t.Error("paused tick must not call collaborators")
	}

	e.fake.Fail("CreateBranch", nil)
	fork := taskOf(t, e.repos, rel.ID, domain.StageKickoff, domain.TaskForkBranch)
	reset, err := e.orch.RetryFailedTask(ctx, fork.ID)
	if err != nil {
		t.Fatalf("RetryFailedTask: %v", err)
	}
	if reset.Status != domain.TaskStatusPending || reset.Error != "" {
		t.Errorf("expected task reset to PENDING, got %s (%q)", reset.Status, reset.Error)
	}
	if c := e.cron(t, rel.ID); c.IsPaused() {
		t.Errorf("expected pause cleared, got %s", c.PauseType)
	}

	res = e.tick(t, rel.ID)
	if res.Outcome == OutcomePaused {
		t.Fatalf("expected release to proceed after retry, got paused: %s", res.PauseType)
	}
	if got := taskOf(t, e.repos, rel.ID, domain.StageKickoff, domain.TaskForkBranch); got.Status != domain.TaskStatusCompleted {
		t.Errorf("expected FORK_BRANCH COMPLETED after retry, got %s", got.Status)
	}
}

func TestRetryFailedTask_Policies(t *testing.T) {
	tests := []struct {
		policy      PausePolicy
		pausedAfter bool
	}{
		{PolicyAllRetried, true},
		{PolicyAnyRetry, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			e := newEnv(t, tt.policy)
			ctx := context.Background()
			rel := e.kickoff(t, domain.StageConfig{}, nil)

			// Задержка, чтобы обе задачи первой волны успели стартовать.
			e.fake.Delay["CreateBranch"] = 20 * time.Millisecond
			e.fake.Delay["CreateTicket"] = 20 * time.Millisecond
			e.fake.Fail("CreateBranch", integrations.ErrCollaborator)
			e.fake.Fail("CreateTicket", integrations.ErrCollaborator)

			if res := e.tick(t, rel.ID); res.PauseType != domain.PauseTypeTaskFailure {
				t.Fatalf("expected TASK_FAILURE, got %s", res.PauseType)
			}

			fork := taskOf(t, e.repos, rel.ID, domain.StageKickoff, domain.TaskForkBranch)
			ticket := taskOf(t, e.repos, rel.ID, domain.StageKickoff, domain.TaskCreateProjectTicket)
			if fork.Status != domain.TaskStatusFailed || ticket.Status != domain.TaskStatusFailed {
				t.Fatalf("expected both tasks FAILED, got %s and %s", fork.Status, ticket.Status)
			}

			if _, err := e.orch.RetryFailedTask(ctx, fork.ID); err != nil {
				t.Fatalf("RetryFailedTask: %v", err)
			}
			c := e.cron(t, rel.ID)
			if c.IsPaused() != tt.pausedAfter {
				t.Errorf("expected paused=%v after first retry, got %s", tt.pausedAfter, c.PauseType)
			}
			if tt.pausedAfter && !strings.Contains(c.PauseReason, string(domain.TaskCreateProjectTicket)) {
				t.Errorf("remaining failure must stay in the reason, got %q", c.PauseReason)
			}

			if _, err := e.orch.RetryFailedTask(ctx, ticket.ID); err != nil {
				t.Fatalf("RetryFailedTask: %v", err)
			}
			if c := e.cron(t, rel.ID); c.IsPaused() {
				t.Errorf("expected pause cleared after all retries, got %s", c.PauseType)
			}
		})
	}
}

func TestRetryFailedTask_Errors(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	if _, err := e.orch.RetryFailedTask(ctx, uuid.New()); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}

	e.tick(t, rel.ID)
	fork := taskOf(t, e.repos, rel.ID, domain.StageKickoff, domain.TaskForkBranch)
	if _, err := e.orch.RetryFailedTask(ctx, fork.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("retrying a COMPLETED task must conflict, got %v", err)
	}
}

// --- commands ---

func TestPauseResume(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	if _, err := e.orch.Resume(ctx, rel.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("resume of a running release must conflict, got %v", err)
	}

	e.clock.Set(kickoffAt.Add(time.Hour))
	c, err := e.orch.Pause(ctx, rel.ID, "")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if c.PauseType != domain.PauseTypeUserRequested || c.PauseReason == "" {
		t.Errorf("expected USER_REQUESTED with reason, got %s %q", c.PauseType, c.PauseReason)
	}
	if !c.UpdatedAt.Equal(kickoffAt.Add(time.Hour)) {
		t.Errorf("UpdatedAt must come from the injected clock, got %v", c.UpdatedAt)
	}
	again, err := e.orch.Pause(ctx, rel.ID, "again")
	if err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if again.Version != c.Version {
		t.Error("repeated pause must not write")
	}

	e.clock.Set(kickoffAt.Add(2 * time.Hour))
	c, err = e.orch.Resume(ctx, rel.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if c.IsPaused() {
		t.Errorf("expected NONE, got %s", c.PauseType)
	}
	if !c.UpdatedAt.Equal(kickoffAt.Add(2 * time.Hour)) {
		t.Errorf("UpdatedAt must come from the injected clock, got %v", c.UpdatedAt)
	}

	names := e.events.names()
	if len(names) != 3 || names[1] != mq.EventPaused || names[2] != mq.EventResumed {
		t.Errorf("unexpected events: %v", names)
	}
}

func TestPause_OverTaskFailureConflicts(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	e.fake.Fail("CreateSuite", integrations.ErrCollaborator)
	e.tick(t, rel.ID)

	if _, err := e.orch.Pause(ctx, rel.ID, "x"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	if _, err := e.orch.Resume(ctx, rel.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("resume must not clear TASK_FAILURE, got %v", err)
	}
}

func TestTriggerNextStage(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	if _, err := e.orch.TriggerNextStage(ctx, rel.ID, domain.StageRegression); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("trigger without AWAITING_STAGE_TRIGGER must conflict, got %v", err)
	}
	if _, err := e.orch.TriggerNextStage(ctx, rel.ID, "SHIP_IT"); !errors.Is(err, ErrInvalidStage) {
		t.Errorf("expected ErrInvalidStage, got %v", err)
	}

	e.tick(t, rel.ID)
	e.completeBuilds(t, rel.ID)
	e.tick(t, rel.ID)

	if _, err := e.orch.TriggerNextStage(ctx, rel.ID, domain.StagePreRelease); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("trigger of a non-next stage must conflict, got %v", err)
	}

	c, err := e.orch.TriggerNextStage(ctx, rel.ID, domain.StageRegression)
	if err != nil {
		t.Fatalf("TriggerNextStage: %v", err)
	}
	if c.IsPaused() || c.StageStatus(domain.StageRegression) != domain.StageStatusInProgress {
		t.Errorf("expected REGRESSION IN_PROGRESS without pause, got %s / %s", c.StageStatus(domain.StageRegression), c.PauseType)
	}

	// Без слотов регрессия закрывается сразу и ждёт подтверждения PRE_RELEASE.
	res := e.tick(t, rel.ID)
	if len(res.Completed) != 1 || res.Completed[0] != domain.StageRegression {
		t.Errorf("expected REGRESSION completed, got %v", res.Completed)
	}
	if res.PauseType != domain.PauseTypeAwaitingStageTrigger {
		t.Errorf("expected AWAITING_STAGE_TRIGGER, got %s", res.PauseType)
	}
}

func TestTick_RegressionCycles(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	cfg := domain.StageConfig{
		Regression: []domain.RegressionSlot{
			{OffsetDays: 1, Time: "09:00"},
			{OffsetDays: 2, Time: "09:00"},
		},
		Gates: domain.GateConfig{RequireTestVerdict: true},
	}
	rel := e.kickoff(t, cfg, map[domain.Stage]bool{domain.StageKickoff: true})

	e.tick(t, rel.ID)
	e.completeBuilds(t, rel.ID)
	res := e.tick(t, rel.ID)
	if res.Outcome != OutcomeAdvanced || res.Stage != domain.StageRegression {
		t.Fatalf("expected advance into REGRESSION, got %s on %s", res.Outcome, res.Stage)
	}

	for day, slot := range []int{2, 3} {
		e.clock.Set(time.Date(2026, 10, slot, 10, 0, 0, 0, time.UTC))
		e.tick(t, rel.ID)
		if n := e.completeBuilds(t, rel.ID); n != 2 {
			t.Fatalf("cycle %d: expected 2 regression builds, got %d", day+1, n)
		}
		if day == 1 {
			e.fake.TestRun = integrations.RunStatus{Passed: 7, Total: 10}
		}
		res = e.tick(t, rel.ID)
		if res.Stage != domain.StageRegression || len(res.Completed) != 0 {
			t.Fatalf("cycle %d: regression must stay open, got %+v", day+1, res)
		}
	}

	cycles, err := e.orch.Cycles(ctx, rel.ID)
	if err != nil {
		t.Fatalf("Cycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cycles))
	}
	for i, c := range cycles {
		if c.Status != domain.CycleStatusDone {
			t.Errorf("cycle %d: expected DONE, got %s", i+1, c.Status)
		}
	}
	if cycles[1].Tag != "R-2026.10_RC2" {
		t.Errorf("expected tag R-2026.10_RC2, got %s", cycles[1].Tag)
	}

	// Вердикт тестов проходит — стадия закрывается.
	e.fake.TestRun = integrations.RunStatus{Passed: 10, Total: 10, ThresholdMet: true}
	res = e.tick(t, rel.ID)
	if len(res.Completed) != 1 || res.Completed[0] != domain.StageRegression {
		t.Fatalf("expected REGRESSION completed, got %+v", res)
	}
	if res.PauseType != domain.PauseTypeAwaitingStageTrigger {
		t.Errorf("expected AWAITING_STAGE_TRIGGER before PRE_RELEASE, got %s", res.PauseType)
	}
}

func TestTick_DistributionCompletesRelease(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	auto := map[domain.Stage]bool{
		domain.StageKickoff:    true,
		domain.StageRegression: true,
		domain.StagePreRelease: true,
	}
	rel := e.kickoff(t, domain.StageConfig{}, auto)

	e.tick(t, rel.ID)
	e.completeBuilds(t, rel.ID)
	res := e.tick(t, rel.ID)
	if len(res.Completed) != 2 || res.Stage != domain.StagePreRelease {
		t.Fatalf("expected KICKOFF and REGRESSION in one tick, got %+v", res)
	}

	if n := e.completeBuilds(t, rel.ID); n != 2 {
		t.Fatalf("expected TestFlight and AAB builds, got %d", n)
	}
	res = e.tick(t, rel.ID)
	if res.Stage != domain.StageDistribution {
		t.Fatalf("expected DISTRIBUTION, got %+v", res)
	}

	view, err := e.dist.Get(ctx, rel.ID)
	if err != nil {
		t.Fatalf("distribution not created: %v", err)
	}
	if view.Status != domain.DistributionStatusPending || len(view.Submissions) != 2 {
		t.Fatalf("expected 2 PENDING submissions, got %s / %d", view.Status, len(view.Submissions))
	}

	// Повторный тик не создаёт вторую дистрибуцию.
	e.tick(t, rel.ID)
	again, _ := e.dist.Get(ctx, rel.ID)
	if again.Distribution.ID != view.Distribution.ID {
		t.Error("distribution must be created once")
	}

	for _, s := range view.Submissions {
		sub, err := e.dist.Submit(ctx, view.Distribution.ID, s.ID, domain.SubmitRequest{Actor: "alice"})
		if err != nil {
			t.Fatalf("Submit %s: %v", s.Platform, err)
		}
		e.fake.SetStoreStatus(sub.StoreHandle, integrations.StoreStatus{
			Status:         domain.SubmissionStatusLive,
			RolloutPercent: 100,
		})
	}

	// Тик не опрашивает стор и не трогает submissions.
	res = e.tick(t, rel.ID)
	if res.Outcome != OutcomeIdle {
		t.Fatalf("expected idle before store sync, got %+v", res)
	}
	unsynced, _ := e.dist.Get(ctx, rel.ID)
	for _, s := range unsynced.Submissions {
		if s.Status != domain.SubmissionStatusInReview || s.RolloutPercent != 0 {
			t.Errorf("tick mutated %s submission: %s %v%%", s.Platform, s.Status, s.RolloutPercent)
		}
	}

	if _, err := e.dist.Sync(ctx, rel.ID); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	res = e.tick(t, rel.ID)
	if res.Outcome != OutcomeStopped {
		t.Fatalf("expected stopped after release, got %+v", res)
	}
	got, _ := e.repos.Releases.GetByID(ctx, rel.ID)
	if got.Status != domain.ReleaseStatusCompleted || got.ReleasedAt == nil {
		t.Errorf("expected COMPLETED with ReleasedAt, got %s", got.Status)
	}
	c := e.cron(t, rel.ID)
	if c.CronStatus != domain.CronStatusStopped {
		t.Errorf("expected cron STOPPED, got %s", c.CronStatus)
	}
	if c.StageStatus(domain.StageDistribution) != domain.StageStatusCompleted {
		t.Errorf("expected DISTRIBUTION COMPLETED, got %s", c.StageStatus(domain.StageDistribution))
	}

	names := e.events.names()
	if names[len(names)-1] != mq.EventCompleted {
		t.Errorf("expected %s as the last event, got %v", mq.EventCompleted, names)
	}

	dispatches := e.runner.dispatches.Load()
	if res := e.tick(t, rel.ID); res.Outcome != OutcomeStopped {
		t.Errorf("expected stopped, got %s", res.Outcome)
	}
	if e.runner.dispatches.Load() != dispatches {
		t.Error("stopped release must not dispatch")
	}
}

func TestKickoff_Validation(t *testing.T) {
	android := domain.PlatformTarget{Platform: domain.PlatformAndroid, Version: "1.0.0"}

	tests := []struct {
		name string
		req  KickoffRequest
	}{
		{"empty code", KickoffRequest{Platforms: []domain.PlatformTarget{android}}},
		{"no platforms", KickoffRequest{Code: "R-1"}},
		{"unknown platform", KickoffRequest{Code: "R-1", Platforms: []domain.PlatformTarget{{Platform: "WEB", Version: "1"}}}},
		{"duplicate platform", KickoffRequest{Code: "R-1", Platforms: []domain.PlatformTarget{android, android}}},
		{"missing version", KickoffRequest{Code: "R-1", Platforms: []domain.PlatformTarget{{Platform: domain.PlatformIOS}}}},
		{"target before kickoff", KickoffRequest{
			Code:              "R-1",
			Platforms:         []domain.PlatformTarget{android},
			KickoffDate:       kickoffAt,
			TargetReleaseDate: kickoffAt.Add(-time.Hour),
		}},
		{"bad timezone", KickoffRequest{Code: "R-1", Platforms: []domain.PlatformTarget{android}, Config: domain.StageConfig{Timezone: "Mars/Olympus"}}},
		{"bad slot time", KickoffRequest{Code: "R-1", Platforms: []domain.PlatformTarget{android}, Config: domain.StageConfig{
			Regression: []domain.RegressionSlot{{OffsetDays: 1, Time: "25:00"}},
		}}},
		{"bad rollout", KickoffRequest{Code: "R-1", Platforms: []domain.PlatformTarget{android}, Config: domain.StageConfig{
			Distribution: domain.DistributionConfig{AndroidInitialRollout: 120},
		}}},
		{"unknown auto transition", KickoffRequest{Code: "R-1", Platforms: []domain.PlatformTarget{android},
			AutoTransitions: map[domain.Stage]bool{"LAUNCH": true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, PolicyAllRetried)
			_, _, err := e.orch.Kickoff(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestKickoff_Defaults(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	if rel.Branch != "release/R-2026.10" || rel.BaseBranch != "main" {
		t.Errorf("unexpected branches: %s from %s", rel.Branch, rel.BaseBranch)
	}
	if rel.Type != domain.ReleaseTypeMinor || rel.Status != domain.ReleaseStatusInProgress {
		t.Errorf("unexpected type/status: %s/%s", rel.Type, rel.Status)
	}
	if !rel.KickoffDate.Equal(kickoffAt) {
		t.Errorf("expected kickoff date %v, got %v", kickoffAt, rel.KickoffDate)
	}
	c := e.cron(t, rel.ID)
	if c.CronStatus != domain.CronStatusRunning || c.IsPaused() {
		t.Errorf("expected running unpaused cron, got %s/%s", c.CronStatus, c.PauseType)
	}
}

func TestArchive(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	archived, err := e.orch.Archive(ctx, rel.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if archived.Status != domain.ReleaseStatusArchived {
		t.Errorf("expected ARCHIVED, got %s", archived.Status)
	}
	if c := e.cron(t, rel.ID); c.CronStatus != domain.CronStatusStopped {
		t.Errorf("expected cron STOPPED, got %s", c.CronStatus)
	}

	if res := e.tick(t, rel.ID); res.Outcome != OutcomeStopped {
		t.Errorf("expected stopped, got %s", res.Outcome)
	}
	if e.runner.dispatches.Load() != 0 {
		t.Error("archived release must not dispatch")
	}
	if _, err := e.orch.Archive(ctx, rel.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected conflict on second archive, got %v", err)
	}
	if _, err := e.orch.Pause(ctx, rel.ID, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected conflict on pause of archived release, got %v", err)
	}

	active, err := e.orch.ActiveReleases(ctx, nil, 10)
	if err != nil {
		t.Fatalf("ActiveReleases: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("archived release must not be active, got %d", len(active))
	}
}

func TestHandleTick(t *testing.T) {
	e := newEnv(t, PolicyAllRetried)
	ctx := context.Background()
	rel := e.kickoff(t, domain.StageConfig{}, nil)

	msg := &mq.Message{Type: mq.MessageTypeReleaseTick, Payload: mq.ReleaseTickPayload{ReleaseID: rel.ID}}
	if err := e.orch.HandleTick(ctx, msg); err != nil {
		t.Errorf("HandleTick: %v", err)
	}
	if e.fake.Count("CreateBranch") != 1 {
		t.Error("expected the tick to dispatch KICKOFF tasks")
	}

	missing := &mq.Message{Type: mq.MessageTypeReleaseTick, Payload: mq.ReleaseTickPayload{ReleaseID: uuid.New()}}
	if err := e.orch.HandleTick(ctx, missing); !mq.IsPermanent(err) {
		t.Errorf("unknown release must go to DLQ, got %v", err)
	}

	garbage := &mq.Message{Type: mq.MessageTypeReleaseTick, Payload: "not an object"}
	if err := e.orch.HandleTick(ctx, garbage); !mq.IsPermanent(err) {
		t.Errorf("malformed payload must go to DLQ, got %v", err)
	}
}

func TestParsePausePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want PausePolicy
		ok   bool
	}{
		{"", PolicyAllRetried, true},
		{"all_retried", PolicyAllRetried, true},
		{"ANY_RETRY", PolicyAnyRetry, true},
		{"sometimes", "", false},
	}
	for _, tt := range tests {
		got, err := ParsePausePolicy(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParsePausePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestStageTasks(t *testing.T) {
	rel := &domain.Release{
		ID: uuid.New(),
		Platforms: []domain.PlatformTarget{
			{Platform: domain.PlatformAndroid},
			{Platform: domain.PlatformIOS},
		},
	}

	kickoff := StageTasks(rel, domain.StageKickoff, kickoffAt)
	if len(kickoff) != 6 {
		t.Errorf("expected 6 KICKOFF tasks, got %d", len(kickoff))
	}

	pre := StageTasks(rel, domain.StagePreRelease, kickoffAt)
	types := make(map[domain.TaskType]domain.Platform)
	for _, task := range pre {
		if task.Status != domain.TaskStatusPending || task.Stage != domain.StagePreRelease {
			t.Errorf("unexpected task %s %s/%s", task.Type, task.Stage, task.Status)
		}
		types[task.Type] = task.Platform
	}
	if types[domain.TaskTriggerTestFlightBuild] != domain.PlatformIOS {
		t.Error("expected TestFlight build for iOS")
	}
	if types[domain.TaskCreateAABBuild] != domain.PlatformAndroid {
		t.Error("expected AAB build for Android")
	}

	if got := StageTasks(rel, domain.StageRegression, kickoffAt); len(got) != 0 {
		t.Errorf("regression tasks belong to cycles, got %d", len(got))
	}
}
