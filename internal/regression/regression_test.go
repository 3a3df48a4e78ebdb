package regression

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations/fake"
	"github.com/shaiso/Shipyard/internal/repo/memory"
)

var kickoff = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repos domain.Repositories
	fake  *fake.Collaborators
	ex    *executor.Executor
	m     *Manager
	rel   *domain.Release
	cron  *domain.CronJob
}

func newFixture(t *testing.T, slots ...domain.RegressionSlot) *fixture {
	t.Helper()

	f := &fixture{repos: memory.New(), fake: fake.New()}
	set := f.fake.Set()

	ex, err := executor.New(executor.Config{
		Tasks:    f.repos.Tasks,
		Registry: executor.NewRegistry(set),
	})
	require.NoError(t, err)
	f.ex = ex

	f.m = New(Config{
		Cycles:     f.repos.Cycles,
		Tasks:      f.repos.Tasks,
		Dispatcher: ex,
		SCM:        set.SCM,
		Tests:      set.Tests,
	})

	f.rel = &domain.Release{
		ID:          uuid.New(),
		Code:        "R-2026.10",
		Status:      domain.ReleaseStatusInProgress,
		Branch:      "release/R-2026.10",
		BaseBranch:  "main",
		KickoffDate: kickoff,
		Platforms: []domain.PlatformTarget{
			{Platform: domain.PlatformAndroid, Version: "4.12.0"},
			{Platform: domain.PlatformIOS, Version: "4.12.0"},
		},
	}
	f.cron = domain.NewCronJob(f.rel.ID, domain.StageConfig{Regression: slots}, nil, kickoff)

	// Сьют создан на kickoff, циклы его сбрасывают.
	suite := domain.NewTask(f.rel.ID, domain.StageKickoff, domain.TaskCreateTestSuite, "", kickoff)
	suite.Status = domain.TaskStatusCompleted
	suite.ExternalID = "suite-1"
	require.NoError(t, f.repos.Tasks.CreateBatch(context.Background(), []domain.ReleaseTask{suite}))
	return f
}

func (f *fixture) advance(t *testing.T, now time.Time) Result {
	t.Helper()
	res, err := f.m.Advance(context.Background(), f.rel, f.cron, now)
	require.NoError(t, err)
	return res
}

// completeBuilds подтверждает все сборки в AWAITING_CALLBACK.
func (f *fixture) completeBuilds(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	tasks, err := f.repos.Tasks.List(ctx, f.rel.ID, domain.TaskFilter{
		Stage:  domain.StageRegression,
		Status: domain.TaskStatusAwaitingCallback,
	})
	require.NoError(t, err)
	for _, task := range tasks {
		_, applied, err := f.ex.ApplyCallback(ctx, executor.CallbackEvent{TaskID: task.ID, Success: true})
		require.NoError(t, err)
		require.True(t, applied)
	}
	return len(tasks)
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 10, 1+day, hour, minute, 0, 0, time.UTC)
}

func TestDueSlotAndUpcoming(t *testing.T) {
	times := []time.Time{at(0, 10, 0), at(2, 10, 0), at(1, 10, 0)}

	assert.Equal(t, -1, dueSlot(times, at(0, 9, 0)))
	assert.Equal(t, 0, dueSlot(times, at(0, 10, 0)))
	assert.Equal(t, 2, dueSlot(times, at(1, 12, 0)))
	assert.Equal(t, 1, dueSlot(times, at(3, 0, 0)))

	assert.True(t, hasUpcoming(times, at(1, 12, 0)))
	assert.False(t, hasUpcoming(times, at(2, 10, 0)))
	assert.False(t, hasUpcoming(nil, at(0, 0, 0)))
}

func TestSlotTimes_InvalidTime(t *testing.T) {
	_, err := slotTimes([]domain.RegressionSlot{{Time: "25:00"}}, kickoff, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestCycleTasks(t *testing.T) {
	f := newFixture(t)
	cycle := &domain.RegressionCycle{ID: uuid.New(), ReleaseID: f.rel.ID, Tag: domain.CycleTag(f.rel.Code, 3)}

	tasks := CycleTasks(f.rel, cycle, kickoff)

	var types []domain.TaskType
	for _, task := range tasks {
		types = append(types, task.Type)
		assert.Equal(t, domain.StageRegression, task.Stage)
		require.NotNil(t, task.CycleID)
		assert.Equal(t, cycle.ID, *task.CycleID)
		assert.Equal(t, "R-2026.10_RC3", task.ExternalData["tag"])
	}
	assert.Equal(t, []domain.TaskType{
		domain.TaskCreateRCTag,
		domain.TaskResetTestSuite,
		domain.TaskTriggerRegressionBuild,
		domain.TaskTriggerRegressionBuild,
		domain.TaskNotify,
	}, types)
}

func TestExitCondition(t *testing.T) {
	done := domain.RegressionCycle{ID: uuid.New(), Status: domain.CycleStatusDone, CreatedAt: at(0, 10, 0)}
	abandoned := domain.RegressionCycle{ID: uuid.New(), Status: domain.CycleStatusAbandoned, CreatedAt: at(0, 10, 0)}
	open := domain.RegressionCycle{ID: uuid.New(), Status: domain.CycleStatusInProgress, CreatedAt: at(1, 10, 0), SlotIndex: 1}
	doneLater := domain.RegressionCycle{ID: uuid.New(), Status: domain.CycleStatusDone, CreatedAt: at(1, 10, 0), SlotIndex: 1}

	task := func(cycle domain.RegressionCycle, st domain.TaskStatus) domain.ReleaseTask {
		id := cycle.ID
		return domain.ReleaseTask{ID: uuid.New(), CycleID: &id, Status: st}
	}
	pass := GateResult{Passed: true}

	tests := []struct {
		name     string
		cycles   []domain.RegressionCycle
		tasks    []domain.ReleaseTask
		upcoming bool
		gates    GateResult
		want     bool
	}{
		{"no cycles no slots", nil, nil, false, pass, true},
		{"upcoming slot", []domain.RegressionCycle{done}, nil, true, pass, false},
		{"open cycle", []domain.RegressionCycle{done, open}, nil, false, pass, false},
		{"gates failed", []domain.RegressionCycle{done}, nil, false, GateResult{Reasons: []string{"x"}}, false},
		{
			"failed task",
			[]domain.RegressionCycle{done},
			[]domain.ReleaseTask{task(done, domain.TaskStatusFailed)},
			false, pass, false,
		},
		{
			"abandoned cycle tasks ignored",
			[]domain.RegressionCycle{abandoned, doneLater},
			[]domain.ReleaseTask{
				task(abandoned, domain.TaskStatusAwaitingCallback),
				task(doneLater, domain.TaskStatusCompleted),
			},
			false, pass, true,
		},
		{"latest abandoned", []domain.RegressionCycle{done, {ID: uuid.New(), Status: domain.CycleStatusAbandoned, CreatedAt: at(1, 10, 0)}}, nil, false, pass, true},
		{"only abandoned", []domain.RegressionCycle{abandoned}, []domain.ReleaseTask{task(abandoned, domain.TaskStatusFailed)}, false, pass, true},
		{"latest abandoned with upcoming slot", []domain.RegressionCycle{done, {ID: uuid.New(), Status: domain.CycleStatusAbandoned, CreatedAt: at(1, 10, 0)}}, nil, true, pass, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCondition(tt.cycles, tt.tasks, tt.upcoming, tt.gates))
		})
	}
}

func TestAdvance_NoSlotYet(t *testing.T) {
	f := newFixture(t, domain.RegressionSlot{OffsetDays: 0, Time: "10:00"})

	res := f.advance(t, at(0, 9, 30))

	assert.Nil(t, res.Latest)
	assert.False(t, res.Created)
	assert.False(t, res.ExitReady)
	assert.Zero(t, f.fake.Total())
}

func TestAdvance_CycleLifecycle(t *testing.T) {
	f := newFixture(t, domain.RegressionSlot{OffsetDays: 0, Time: "10:00", Flags: map[string]bool{"smoke": true}})

	res := f.advance(t, at(0, 10, 5))
	require.True(t, res.Created)
	require.NotNil(t, res.Latest)
	assert.Equal(t, "R-2026.10_RC1", res.Latest.Tag)
	assert.Equal(t, domain.CycleStatusInProgress, res.Latest.Status)
	assert.True(t, res.Latest.Flags["smoke"])
	assert.False(t, res.ExitReady)

	assert.Equal(t, 1, f.fake.Count("CreateTag"))
	assert.Equal(t, 1, f.fake.Count("ResetSuite"))
	assert.Equal(t, 2, f.fake.Count("TriggerBuild"))
	assert.Zero(t, f.fake.Count("Notify"))

	// Повторный тик в том же слоте нового цикла не создаёт.
	res = f.advance(t, at(0, 10, 6))
	assert.False(t, res.Created)
	assert.Equal(t, 2, f.fake.Count("TriggerBuild"))

	require.Equal(t, 2, f.completeBuilds(t))

	res = f.advance(t, at(0, 11, 0))
	assert.Equal(t, 1, f.fake.Count("Notify"))
	require.NotNil(t, res.Latest)
	assert.Equal(t, domain.CycleStatusDone, res.Latest.Status)
	assert.True(t, res.Gates.Passed)
	assert.True(t, res.ExitReady)

	stored, err := f.m.List(context.Background(), f.rel.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.CycleStatusDone, stored[0].Status)
	assert.NotNil(t, stored[0].CompletedAt)
}

func TestAdvance_SupersedesOpenCycle(t *testing.T) {
	f := newFixture(t,
		domain.RegressionSlot{OffsetDays: 0, Time: "10:00"},
		domain.RegressionSlot{OffsetDays: 1, Time: "10:00"},
	)

	res := f.advance(t, at(0, 10, 5))
	first := res.Latest.ID

	res = f.advance(t, at(1, 10, 5))
	require.True(t, res.Created)
	assert.Equal(t, "R-2026.10_RC2", res.Latest.Tag)
	assert.Equal(t, 1, res.Latest.SlotIndex)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 4, f.fake.Count("TriggerBuild"))

	old, err := f.repos.Cycles.GetByID(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, domain.CycleStatusAbandoned, old.Status)

	// Сборки брошенного цикла тоже ждут callback, но на выход не влияют.
	require.Equal(t, 4, f.completeBuilds(t))
	res = f.advance(t, at(1, 11, 0))
	assert.True(t, res.ExitReady)
}

func TestAdvance_GatesBlockExit(t *testing.T) {
	f := newFixture(t, domain.RegressionSlot{OffsetDays: 0, Time: "10:00"})
	f.cron.Config.Gates.RequireCherryPickParity = true
	f.fake.Parity = false

	f.advance(t, at(0, 10, 5))
	f.completeBuilds(t)
	res := f.advance(t, at(0, 11, 0))

	assert.Equal(t, domain.CycleStatusDone, res.Latest.Status)
	assert.False(t, res.ExitReady)
	assert.False(t, res.Gates.Passed)
	assert.Contains(t, res.Gates.Reasons, "cherry-picks missing from release branch")
}

func TestAdvance_ReportsFailedTasks(t *testing.T) {
	f := newFixture(t, domain.RegressionSlot{OffsetDays: 0, Time: "10:00"})
	f.fake.Fail("CreateTag", assert.AnError)

	res := f.advance(t, at(0, 10, 5))

	require.Len(t, res.Failed, 1)
	assert.Equal(t, domain.TaskCreateRCTag, res.Failed[0].Type)
	assert.Equal(t, domain.CycleStatusInProgress, res.Latest.Status)
	assert.False(t, res.ExitReady)
	assert.Zero(t, f.fake.Count("TriggerBuild"))
}

func TestAdvance_HoldOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		hold   bool
		builds int
	}{
		{"hold until every failure is retried", true, 2},
		{"dispatch retried task right away", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, domain.RegressionSlot{OffsetDays: 0, Time: "10:00"})
			f.m.holdOnFailure = tt.hold

			f.advance(t, at(0, 10, 5))
			builds, err := f.repos.Tasks.List(ctx, f.rel.ID, domain.TaskFilter{
				Stage:  domain.StageRegression,
				Status: domain.TaskStatusAwaitingCallback,
			})
			require.NoError(t, err)
			require.Len(t, builds, 2)
			for _, b := range builds {
				_, applied, err := f.ex.ApplyCallback(ctx, executor.CallbackEvent{TaskID: b.ID, Success: false})
				require.NoError(t, err)
				require.True(t, applied)
			}

			_, err = f.ex.Reset(ctx, builds[0].ID)
			require.NoError(t, err)

			res := f.advance(t, at(0, 10, 30))
			require.Len(t, res.Failed, 1)
			assert.Equal(t, builds[1].ID, res.Failed[0].ID)
			assert.Equal(t, tt.builds, f.fake.Count("TriggerBuild"))
		})
	}
}

func TestAdvance_InvalidSchedule(t *testing.T) {
	f := newFixture(t, domain.RegressionSlot{Time: "noon"})

	_, err := f.m.Advance(context.Background(), f.rel, f.cron, at(0, 12, 0))
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestEvaluateGates_TestVerdict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := domain.StageConfig{Gates: domain.GateConfig{RequireTestVerdict: true}}

	other := *f.rel
	other.ID = uuid.New()
	res, err := f.m.EvaluateGates(ctx, &other, cfg)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"no test suite"}, res.Reasons)

	f.fake.TestRun.ThresholdMet = false
	f.fake.TestRun.Passed = 7
	res, err = f.m.EvaluateGates(ctx, f.rel, cfg)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"test pass threshold not met (7/10 passed)"}, res.Reasons)

	f.fake.TestRun.ThresholdMet = true
	res, err = f.m.EvaluateGates(ctx, f.rel, cfg)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.RegressionSlot{OffsetDays: 0, Time: "10:00"})

	_, err := f.m.Abandon(ctx, uuid.New(), at(0, 12, 0))
	assert.ErrorIs(t, err, ErrCycleNotFound)

	res := f.advance(t, at(0, 10, 5))
	cycle, err := f.m.Abandon(ctx, res.Latest.ID, at(0, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.CycleStatusAbandoned, cycle.Status)

	_, err = f.m.Abandon(ctx, res.Latest.ID, at(0, 12, 1))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorContains(t, err, ErrCycleClosed.Error())

	// Слот уже материализован: брошенный цикл заново не создаётся,
	// а стадия может закрыться без нового цикла.
	res = f.advance(t, at(0, 13, 0))
	assert.False(t, res.Created)
	assert.Equal(t, domain.CycleStatusAbandoned, res.Latest.Status)
	assert.True(t, res.ExitReady)
}

func TestAbandon_GatesStillApply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.RegressionSlot{OffsetDays: 0, Time: "10:00"})
	f.cron.Config.Gates.RequireCherryPickParity = true
	f.fake.Parity = false

	res := f.advance(t, at(0, 10, 5))
	_, err := f.m.Abandon(ctx, res.Latest.ID, at(0, 12, 0))
	require.NoError(t, err)

	res = f.advance(t, at(0, 13, 0))
	assert.False(t, res.ExitReady)
	assert.False(t, res.Gates.Passed)
}

func TestAdvance_UnsortedSchedule(t *testing.T) {
	f := newFixture(t,
		domain.RegressionSlot{OffsetDays: 1, Time: "10:00"},
		domain.RegressionSlot{OffsetDays: 0, Time: "10:00"},
	)

	res := f.advance(t, at(0, 10, 5))
	require.True(t, res.Created)
	assert.Equal(t, 1, res.Latest.SlotIndex)
	assert.Equal(t, "R-2026.10_RC1", res.Latest.Tag)

	require.Equal(t, 2, f.completeBuilds(t))
	res = f.advance(t, at(0, 11, 0))
	assert.Equal(t, domain.CycleStatusDone, res.Latest.Status)
	assert.False(t, res.ExitReady, "a later slot is still ahead")

	res = f.advance(t, at(1, 10, 5))
	require.True(t, res.Created, "the later slot listed first must still run")
	assert.Equal(t, 0, res.Latest.SlotIndex)
	assert.Equal(t, "R-2026.10_RC2", res.Latest.Tag)

	res = f.advance(t, at(1, 10, 6))
	assert.False(t, res.Created)

	require.Equal(t, 2, f.completeBuilds(t))
	res = f.advance(t, at(1, 11, 0))
	assert.True(t, res.ExitReady)

	stored, err := f.m.List(context.Background(), f.rel.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
