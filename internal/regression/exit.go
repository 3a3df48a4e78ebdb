package regression

import (
	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

// GateResult — итог внешних проверок.
type GateResult struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// ExitCondition решает, можно ли закрыть стадию REGRESSION.
//
// Условие:
//   - впереди нет слотов расписания;
//   - нет циклов в NOT_STARTED / IN_PROGRESS;
//   - все задачи регрессии (кроме задач брошенных циклов) COMPLETED;
//   - внешние проверки прошли.
//
// Брошенный последний цикл выход не блокирует.
//
// Функция чистая: результат зависит только от аргументов.
func ExitCondition(cycles []domain.RegressionCycle, tasks []domain.ReleaseTask, upcoming bool, gates GateResult) bool {
	if upcoming || !gates.Passed {
		return false
	}

	abandoned := make(map[uuid.UUID]bool)
	for _, c := range cycles {
		if c.IsOpen() {
			return false
		}
		if c.Status == domain.CycleStatusAbandoned {
			abandoned[c.ID] = true
		}
	}

	for _, t := range tasks {
		if t.CycleID != nil && abandoned[*t.CycleID] {
			continue
		}
		if t.Status != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// activeTasks отбрасывает задачи брошенных циклов.
func activeTasks(cycles []domain.RegressionCycle, tasks []domain.ReleaseTask) []domain.ReleaseTask {
	abandoned := make(map[uuid.UUID]bool)
	for _, c := range cycles {
		if c.Status == domain.CycleStatusAbandoned {
			abandoned[c.ID] = true
		}
	}
	out := make([]domain.ReleaseTask, 0, len(tasks))
	for _, t := range tasks {
		if t.CycleID != nil && abandoned[*t.CycleID] {
			continue
		}
		out = append(out, t)
	}
	return out
}
