package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

// PausePolicy определяет, когда retry снимает паузу TASK_FAILURE.
type PausePolicy string

const (
	// PolicyAllRetried — пауза снимается, когда в релизе не осталось FAILED задач.
	PolicyAllRetried PausePolicy = "ALL_RETRIED"

	// PolicyAnyRetry — любой retry снимает паузу.
	PolicyAnyRetry PausePolicy = "ANY_RETRY"
)

// ParsePausePolicy парсит политику. Пустая строка — PolicyAllRetried.
func ParsePausePolicy(s string) (PausePolicy, error) {
	switch p := PausePolicy(strings.ToUpper(strings.TrimSpace(s))); p {
	case "":
		return PolicyAllRetried, nil
	case PolicyAllRetried, PolicyAnyRetry:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// failed возвращает FAILED задачи.
func failed(tasks []domain.ReleaseTask) []domain.ReleaseTask {
	var out []domain.ReleaseTask
	for _, t := range tasks {
		if t.Status == domain.TaskStatusFailed {
			out = append(out, t)
		}
	}
	return out
}

// allCompleted — задачи есть и все COMPLETED.
func allCompleted(tasks []domain.ReleaseTask) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.Status != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// withoutAbandoned убирает задачи брошенных циклов регрессии.
func withoutAbandoned(tasks []domain.ReleaseTask, cycles []domain.RegressionCycle) []domain.ReleaseTask {
	abandoned := make(map[uuid.UUID]bool)
	for _, c := range cycles {
		if c.Status == domain.CycleStatusAbandoned {
			abandoned[c.ID] = true
		}
	}
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.CycleID != nil && abandoned[*t.CycleID] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// failureReason формирует причину паузы TASK_FAILURE.
func failureReason(tasks []domain.ReleaseTask) string {
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		s := fmt.Sprintf("%s %s failed", t.Type, t.ID)
		if t.Platform != "" {
			s = fmt.Sprintf("%s (%s) %s failed", t.Type, t.Platform, t.ID)
		}
		if t.Error != "" {
			s += ": " + t.Error
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// StageTasks строит задачи стадии KICKOFF или PRE_RELEASE.
// Задачи REGRESSION создаёт менеджер регрессии по циклам.
func StageTasks(rel *domain.Release, stage domain.Stage, now time.Time) []domain.ReleaseTask {
	var out []domain.ReleaseTask
	add := func(t domain.TaskType, p domain.Platform) {
		out = append(out, domain.NewTask(rel.ID, stage, t, p, now))
	}

	switch stage {
	case domain.StageKickoff:
		add(domain.TaskForkBranch, "")
		add(domain.TaskCreateProjectTicket, "")
		add(domain.TaskCreateTestSuite, "")
		for _, p := range rel.PlatformList() {
			add(domain.TaskTriggerPreRegressionBuild, p)
		}
		add(domain.TaskNotify, "")

	case domain.StagePreRelease:
		add(domain.TaskCheckProjectTicket, "")
		for _, p := range rel.PlatformList() {
			switch p {
			case domain.PlatformIOS:
				add(domain.TaskTriggerTestFlightBuild, p)
			case domain.PlatformAndroid:
				add(domain.TaskCreateAABBuild, p)
			}
		}
		add(domain.TaskCreateReleaseTag, "")
		add(domain.TaskNotify, "")
	}
	return out
}
