package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskType — тип задачи релиза. Закрытое перечисление:
// на каждый вариант в executor зарегистрирован ровно один handler.
type TaskType string

const (
	TaskForkBranch                TaskType = "FORK_BRANCH"
	TaskCreateProjectTicket       TaskType = "CREATE_PROJECT_TICKET"
	TaskCreateTestSuite           TaskType = "CREATE_TEST_SUITE"
	TaskTriggerPreRegressionBuild TaskType = "TRIGGER_PRE_REGRESSION_BUILD"
	TaskCreateRCTag               TaskType = "CREATE_RC_TAG"
	TaskResetTestSuite            TaskType = "RESET_TEST_SUITE"
	TaskTriggerRegressionBuild    TaskType = "TRIGGER_REGRESSION_BUILD"
	TaskTriggerTestFlightBuild    TaskType = "TRIGGER_TESTFLIGHT_BUILD"
	TaskCreateAABBuild            TaskType = "CREATE_AAB_BUILD"
	TaskCheckProjectTicket        TaskType = "CHECK_PROJECT_TICKET"
	TaskCreateReleaseTag          TaskType = "CREATE_RELEASE_TAG"
	TaskNotify                    TaskType = "NOTIFY"
)

// AllTaskTypes — полный список типов задач.
var AllTaskTypes = []TaskType{
	TaskForkBranch,
	TaskCreateProjectTicket,
	TaskCreateTestSuite,
	TaskTriggerPreRegressionBuild,
	TaskCreateRCTag,
	TaskResetTestSuite,
	TaskTriggerRegressionBuild,
	TaskTriggerTestFlightBuild,
	TaskCreateAABBuild,
	TaskCheckProjectTicket,
	TaskCreateReleaseTag,
	TaskNotify,
}

// IsBuild возвращает true для задач, запускающих CI-сборку.
func (t TaskType) IsBuild() bool {
	switch t {
	case TaskTriggerPreRegressionBuild, TaskTriggerRegressionBuild,
		TaskTriggerTestFlightBuild, TaskCreateAABBuild:
		return true
	default:
		return false
	}
}

// Wave — очередь задачи внутри стадии. Задачи волны n запускаются,
// только когда все задачи волн < n завершены: сборки ждут ветку и тег,
// уведомление ждёт сборки.
func (t TaskType) Wave() int {
	switch t {
	case TaskNotify:
		return 2
	case TaskTriggerPreRegressionBuild, TaskTriggerRegressionBuild,
		TaskTriggerTestFlightBuild, TaskCreateAABBuild, TaskCreateReleaseTag:
		return 1
	default:
		return 0
	}
}

// BuildArtifact — артефакт сборки, прикреплённый к задаче.
type BuildArtifact struct {
	Platform    Platform  `json:"platform"`
	BuildNumber string    `json:"build_number,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source"` // "ci" или "manual"
	CreatedAt   time.Time `json:"created_at"`
}

// ReleaseTask — одна единица работы внутри стадии.
//
// Создаётся пачкой в статусе PENDING при старте стадии (или цикла регрессии).
// Меняется только Task Executor'ом и явной командой retry.
// После COMPLETED не меняется.
type ReleaseTask struct {
	ID        uuid.UUID `json:"id"`
	ReleaseID uuid.UUID `json:"release_id"`
	Stage     Stage     `json:"stage"`
	Type      TaskType  `json:"type"`

	// Platform — для платформенных задач (сборки).
	Platform Platform `json:"platform,omitempty"`

	// CycleID — цикл регрессии, которому принадлежит задача.
	CycleID *uuid.UUID `json:"cycle_id,omitempty"`

	Status TaskStatus `json:"status"`

	// Conclusion — краткий итог: "success", "failure", "timeout".
	Conclusion string `json:"conclusion,omitempty"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// ExternalID — корреляционный id во внешней системе (ключ тикета, id CI run).
	ExternalID string `json:"external_id,omitempty"`

	// ExternalData — доп. данные от коллаборатора (URL сборки, id сьюта).
	ExternalData map[string]any `json:"external_data,omitempty"`

	Artifacts []BuildArtifact `json:"artifacts,omitempty"`

	// Attempt — номер попытки, увеличивается при каждом claim.
	Attempt int `json:"attempt"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewTask создаёт задачу в статусе PENDING.
func NewTask(releaseID uuid.UUID, stage Stage, t TaskType, platform Platform, now time.Time) ReleaseTask {
	return ReleaseTask{
		ID:        uuid.New(),
		ReleaseID: releaseID,
		Stage:     stage,
		Type:      t,
		Platform:  platform,
		Status:    TaskStatusPending,
		CreatedAt: now,
	}
}

// MarkInProgress переводит задачу в IN_PROGRESS.
func (t *ReleaseTask) MarkInProgress(now time.Time) {
	t.Status = TaskStatusInProgress
	t.StartedAt = &now
	t.FinishedAt = nil
	t.Attempt++
}

// MarkCompleted переводит задачу в COMPLETED.
func (t *ReleaseTask) MarkCompleted(conclusion string, now time.Time) {
	t.Status = TaskStatusCompleted
	t.Conclusion = conclusion
	t.Error = ""
	t.FinishedAt = &now
}

// MarkFailed переводит задачу в FAILED.
func (t *ReleaseTask) MarkFailed(conclusion, errMsg string, now time.Time) {
	t.Status = TaskStatusFailed
	t.Conclusion = conclusion
	t.Error = errMsg
	t.FinishedAt = &now
}

// MarkAwaiting переводит задачу в AWAITING_CALLBACK или AWAITING_MANUAL_BUILD.
func (t *ReleaseTask) MarkAwaiting(status TaskStatus) {
	t.Status = status
}

// ResetForRetry возвращает FAILED задачу в PENDING, очищая итог и ошибку.
func (t *ReleaseTask) ResetForRetry() {
	t.Status = TaskStatusPending
	t.Conclusion = ""
	t.Error = ""
	t.StartedAt = nil
	t.FinishedAt = nil
}

// SetExternal сохраняет корреляционные данные коллаборатора.
func (t *ReleaseTask) SetExternal(id string, data map[string]any) {
	if id != "" {
		t.ExternalID = id
	}
	if len(data) == 0 {
		return
	}
	if t.ExternalData == nil {
		t.ExternalData = make(map[string]any, len(data))
	}
	for k, v := range data {
		t.ExternalData[k] = v
	}
}

// Clone возвращает копию задачи, не разделяющую map/slice с оригиналом.
func (t ReleaseTask) Clone() ReleaseTask {
	if t.ExternalData != nil {
		data := make(map[string]any, len(t.ExternalData))
		for k, v := range t.ExternalData {
			data[k] = v
		}
		t.ExternalData = data
	}
	t.Artifacts = append([]BuildArtifact(nil), t.Artifacts...)
	return t
}

// TaskFilter — параметры выборки задач.
type TaskFilter struct {
	Stage   Stage
	CycleID *uuid.UUID
	Status  TaskStatus
}
