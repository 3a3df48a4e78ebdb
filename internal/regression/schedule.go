package regression

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

// slotTimes вычисляет моменты всех слотов расписания.
func slotTimes(slots []domain.RegressionSlot, kickoff time.Time, loc *time.Location) ([]time.Time, error) {
	out := make([]time.Time, len(slots))
	for i, s := range slots {
		at, err := s.At(kickoff, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d: %v", ErrInvalidSchedule, i, err)
		}
		out[i] = at
	}
	return out, nil
}

// dueSlot возвращает индекс самого позднего наступившего слота, -1 если таких нет.
func dueSlot(times []time.Time, now time.Time) int {
	due := -1
	for i, at := range times {
		if !at.After(now) && (due < 0 || !at.Before(times[due])) {
			due = i
		}
	}
	return due
}

// hasUpcoming сообщает, остались ли слоты в будущем.
func hasUpcoming(times []time.Time, now time.Time) bool {
	for _, at := range times {
		if at.After(now) {
			return true
		}
	}
	return false
}

// materialized сообщает, покрыт ли слот due уже созданными циклами.
// Слоты сравниваются по времени, не по индексу: порядок в конфиге произвольный.
func materialized(cycles []domain.RegressionCycle, times []time.Time, due int) bool {
	for _, c := range cycles {
		if c.SlotIndex < 0 || c.SlotIndex >= len(times) {
			continue
		}
		if !times[c.SlotIndex].Before(times[due]) {
			return true
		}
	}
	return false
}

func filterCycle(tasks []domain.ReleaseTask, cycleID uuid.UUID) []domain.ReleaseTask {
	var out []domain.ReleaseTask
	for _, t := range tasks {
		if t.CycleID != nil && *t.CycleID == cycleID {
			out = append(out, t)
		}
	}
	return out
}

func anyFailed(tasks []domain.ReleaseTask) bool {
	for _, t := range tasks {
		if t.Status == domain.TaskStatusFailed {
			return true
		}
	}
	return false
}

func allCompleted(tasks []domain.ReleaseTask) bool {
	for _, t := range tasks {
		if t.Status != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// CycleTasks строит задачи одного цикла регрессии: RC-тег, сброс сьюта,
// сборка на каждую платформу и уведомление.
func CycleTasks(rel *domain.Release, cycle *domain.RegressionCycle, now time.Time) []domain.ReleaseTask {
	add := func(out []domain.ReleaseTask, t domain.TaskType, p domain.Platform) []domain.ReleaseTask {
		task := domain.NewTask(rel.ID, domain.StageRegression, t, p, now)
		id := cycle.ID
		task.CycleID = &id
		task.ExternalData = map[string]any{"tag": cycle.Tag}
		return append(out, task)
	}

	var out []domain.ReleaseTask
	out = add(out, domain.TaskCreateRCTag, "")
	out = add(out, domain.TaskResetTestSuite, "")
	for _, p := range rel.PlatformList() {
		out = add(out, domain.TaskTriggerRegressionBuild, p)
	}
	out = add(out, domain.TaskNotify, "")
	return out
}
