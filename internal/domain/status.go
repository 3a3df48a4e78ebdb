package domain

// ReleaseStatus — статус релиза.
//
// Жизненный цикл:
//
//	IN_PROGRESS → COMPLETED
//	            ↘ ARCHIVED
type ReleaseStatus string

const (
	// ReleaseStatusInProgress — релиз движется по пайплайну.
	ReleaseStatusInProgress ReleaseStatus = "IN_PROGRESS"

	// ReleaseStatusCompleted — все платформы выпущены на 100%.
	ReleaseStatusCompleted ReleaseStatus = "COMPLETED"

	// ReleaseStatusArchived — релиз отправлен в архив пользователем.
	ReleaseStatusArchived ReleaseStatus = "ARCHIVED"
)

// IsTerminal возвращает true, если статус финальный.
func (s ReleaseStatus) IsTerminal() bool {
	return s == ReleaseStatusCompleted || s == ReleaseStatusArchived
}

// ReleaseType — тип релиза.
type ReleaseType string

const (
	ReleaseTypeMinor  ReleaseType = "MINOR"
	ReleaseTypeMajor  ReleaseType = "MAJOR"
	ReleaseTypeHotfix ReleaseType = "HOTFIX"
	ReleaseTypePatch  ReleaseType = "PATCH"
)

// CronStatus — статус планировщика релиза.
//
// Пауза НЕ останавливает cron: статус остаётся RUNNING,
// тики приходят, но ничего не диспатчат.
type CronStatus string

const (
	CronStatusRunning CronStatus = "RUNNING"
	CronStatusStopped CronStatus = "STOPPED"
)

// Stage — стадия пайплайна релиза.
type Stage string

const (
	StageKickoff      Stage = "KICKOFF"
	StageRegression   Stage = "REGRESSION"
	StagePreRelease   Stage = "PRE_RELEASE"
	StageDistribution Stage = "DISTRIBUTION"
)

// Stages — упорядоченная последовательность стадий.
var Stages = []Stage{StageKickoff, StageRegression, StagePreRelease, StageDistribution}

// Next возвращает следующую стадию. ok=false для последней стадии.
func (s Stage) Next() (Stage, bool) {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

// IsValid проверяет, что стадия известна.
func (s Stage) IsValid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// ParseStage парсит строку в Stage.
func ParseStage(s string) (Stage, bool) {
	st := Stage(s)
	return st, st.IsValid()
}

// StageStatus — статус отдельной стадии.
type StageStatus string

const (
	StageStatusPending    StageStatus = "PENDING"
	StageStatusInProgress StageStatus = "IN_PROGRESS"
	StageStatusCompleted  StageStatus = "COMPLETED"
)

// PauseType — причина, по которой пайплайн не продвигается.
type PauseType string

const (
	// PauseTypeNone — пайплайн не на паузе.
	PauseTypeNone PauseType = "NONE"

	// PauseTypeUserRequested — пауза по запросу пользователя.
	PauseTypeUserRequested PauseType = "USER_REQUESTED"

	// PauseTypeAwaitingStageTrigger — стадия завершена, переход требует ручного подтверждения.
	PauseTypeAwaitingStageTrigger PauseType = "AWAITING_STAGE_TRIGGER"

	// PauseTypeTaskFailure — одна из задач упала.
	PauseTypeTaskFailure PauseType = "TASK_FAILURE"
)

// TaskStatus — статус задачи релиза.
//
// Жизненный цикл:
//
//	PENDING → IN_PROGRESS → COMPLETED
//	                      ↘ FAILED (retry → обратно в PENDING)
//	                      ↘ AWAITING_CALLBACK → COMPLETED / FAILED
//	                      ↘ AWAITING_MANUAL_BUILD → COMPLETED
type TaskStatus string

const (
	TaskStatusPending             TaskStatus = "PENDING"
	TaskStatusInProgress          TaskStatus = "IN_PROGRESS"
	TaskStatusAwaitingCallback    TaskStatus = "AWAITING_CALLBACK"
	TaskStatusAwaitingManualBuild TaskStatus = "AWAITING_MANUAL_BUILD"
	TaskStatusCompleted           TaskStatus = "COMPLETED"
	TaskStatusFailed              TaskStatus = "FAILED"
)

// IsTerminal возвращает true для COMPLETED и FAILED.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsAwaiting возвращает true, если задача ждёт внешнего события.
func (s TaskStatus) IsAwaiting() bool {
	return s == TaskStatusAwaitingCallback || s == TaskStatusAwaitingManualBuild
}

// CycleStatus — статус цикла регрессии.
//
//	NOT_STARTED → IN_PROGRESS → DONE
//	            ↘ ABANDONED   ↗ (из любого нефинального)
type CycleStatus string

const (
	CycleStatusNotStarted CycleStatus = "NOT_STARTED"
	CycleStatusInProgress CycleStatus = "IN_PROGRESS"
	CycleStatusDone       CycleStatus = "DONE"
	CycleStatusAbandoned  CycleStatus = "ABANDONED"
)

// IsTerminal возвращает true для DONE и ABANDONED.
func (s CycleStatus) IsTerminal() bool {
	return s == CycleStatusDone || s == CycleStatusAbandoned
}

// DistributionStatus — агрегированный статус дистрибуции.
// Никогда не хранится, всегда вычисляется из submissions.
type DistributionStatus string

const (
	DistributionStatusPending            DistributionStatus = "PENDING"
	DistributionStatusPartiallySubmitted DistributionStatus = "PARTIALLY_SUBMITTED"
	DistributionStatusSubmitted          DistributionStatus = "SUBMITTED"
	DistributionStatusPartiallyReleased  DistributionStatus = "PARTIALLY_RELEASED"
	DistributionStatusReleased           DistributionStatus = "RELEASED"
)

// SubmissionStatus — статус отправки в стор.
type SubmissionStatus string

const (
	SubmissionStatusPending   SubmissionStatus = "PENDING"
	SubmissionStatusInReview  SubmissionStatus = "IN_REVIEW"
	SubmissionStatusApproved  SubmissionStatus = "APPROVED"
	SubmissionStatusLive      SubmissionStatus = "LIVE"
	SubmissionStatusPaused    SubmissionStatus = "PAUSED"
	SubmissionStatusRejected  SubmissionStatus = "REJECTED"
	SubmissionStatusHalted    SubmissionStatus = "HALTED"
	SubmissionStatusCancelled SubmissionStatus = "CANCELLED"
)

// IsTerminal возвращает true для HALTED и CANCELLED.
// REJECTED не финальный: из него возможен resubmission.
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusHalted || s == SubmissionStatusCancelled
}

// IsReleased возвращает true, если сборка уже у пользователей.
func (s SubmissionStatus) IsReleased() bool {
	return s == SubmissionStatusLive || s == SubmissionStatusPaused
}

// Platform — платформа дистрибуции.
type Platform string

const (
	PlatformAndroid Platform = "ANDROID"
	PlatformIOS     Platform = "IOS"
)

// IsValid проверяет, что платформа известна.
func (p Platform) IsValid() bool {
	return p == PlatformAndroid || p == PlatformIOS
}

// ReleaseMode — режим выкатки submission.
type ReleaseMode string

const (
	// ReleaseModeStaged — Android staged rollout: процент задаётся вручную.
	ReleaseModeStaged ReleaseMode = "STAGED"

	// ReleaseModePhased — iOS phased release: процент растёт автоматически по дням.
	ReleaseModePhased ReleaseMode = "PHASED"

	// ReleaseModeManual — iOS manual release: сразу 100%.
	ReleaseModeManual ReleaseMode = "MANUAL"
)
