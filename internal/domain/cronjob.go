package domain

import (
	"time"

	"github.com/google/uuid"
)

// GateConfig — внешние проверки, которые должны пройти перед закрытием REGRESSION.
type GateConfig struct {
	// RequireTestVerdict — требовать положительный вердикт test management по порогу прохождения.
	RequireTestVerdict bool `json:"require_test_verdict" yaml:"require_test_verdict"`

	// RequireCherryPickParity — требовать, чтобы все cherry-pick'и были в релизной ветке.
	RequireCherryPickParity bool `json:"require_cherry_pick_parity" yaml:"require_cherry_pick_parity"`
}

// DistributionConfig — настройки выкатки по платформам.
type DistributionConfig struct {
	// IOSReleaseMode — PHASED или MANUAL. По умолчанию PHASED.
	IOSReleaseMode ReleaseMode `json:"ios_release_mode,omitempty" yaml:"ios_release_mode"`

	// AndroidInitialRollout — процент staged rollout при выходе в LIVE.
	AndroidInitialRollout float64 `json:"android_initial_rollout,omitempty" yaml:"android_initial_rollout"`
}

// StageConfig — конфигурация стадий релиза.
type StageConfig struct {
	// Timezone — часовой пояс для расписания регрессии. По умолчанию "UTC".
	Timezone string `json:"timezone,omitempty"`

	// Regression — расписание циклов регрессии.
	Regression []RegressionSlot `json:"regression,omitempty"`

	Gates        GateConfig         `json:"gates"`
	Distribution DistributionConfig `json:"distribution"`

	// ManualBuilds — разрешить ручную загрузку сборок, если CI не настроен для платформы.
	ManualBuilds bool `json:"manual_builds,omitempty"`

	// Extra — произвольные настройки для интеграций.
	Extra map[string]any `json:"extra,omitempty"`
}

// CronJob — персистентное состояние оркестратора, ровно один на Release.
//
// CronJob — единственный источник истины о том, какая стадия активна.
// Все изменения идут через read-modify-write с проверкой Version.
type CronJob struct {
	ID        uuid.UUID `json:"id"`
	ReleaseID uuid.UUID `json:"release_id"`

	CronStatus CronStatus `json:"cron_status"`

	// Stages — статус каждой стадии пайплайна.
	Stages map[Stage]StageStatus `json:"stages"`

	PauseType   PauseType `json:"pause_type"`
	PauseReason string    `json:"pause_reason,omitempty"`

	// AutoTransitions — автопереход с указанной стадии на следующую.
	// Ключ — стадия, которую покидаем. Отсутствие ключа = ручной переход.
	AutoTransitions map[Stage]bool `json:"auto_transitions"`

	Config StageConfig `json:"config"`

	// Version — номер версии для optimistic locking.
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCronJob создаёт CronJob для нового релиза: все стадии PENDING, без паузы.
func NewCronJob(releaseID uuid.UUID, cfg StageConfig, auto map[Stage]bool, now time.Time) *CronJob {
	stages := make(map[Stage]StageStatus, len(Stages))
	for _, s := range Stages {
		stages[s] = StageStatusPending
	}
	if auto == nil {
		auto = make(map[Stage]bool)
	}
	return &CronJob{
		ID:              uuid.New(),
		ReleaseID:       releaseID,
		CronStatus:      CronStatusRunning,
		Stages:          stages,
		PauseType:       PauseTypeNone,
		AutoTransitions: auto,
		Config:          cfg,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// StageStatus возвращает статус стадии (PENDING, если не задан).
func (c *CronJob) StageStatus(s Stage) StageStatus {
	if st, ok := c.Stages[s]; ok {
		return st
	}
	return StageStatusPending
}

// ActiveStage возвращает первую незавершённую стадию.
// ok=false означает, что пайплайн пройден целиком.
func (c *CronJob) ActiveStage() (Stage, bool) {
	for _, s := range Stages {
		if c.StageStatus(s) != StageStatusCompleted {
			return s, true
		}
	}
	return "", false
}

// IsPaused возвращает true, если тип паузы отличен от NONE.
func (c *CronJob) IsPaused() bool {
	return c.PauseType != "" && c.PauseType != PauseTypeNone
}

// StartStage переводит стадию в IN_PROGRESS.
func (c *CronJob) StartStage(s Stage, now time.Time) {
	c.setStage(s, StageStatusInProgress, now)
}

// CompleteStage переводит стадию в COMPLETED.
func (c *CronJob) CompleteStage(s Stage, now time.Time) {
	c.setStage(s, StageStatusCompleted, now)
}

func (c *CronJob) setStage(s Stage, st StageStatus, now time.Time) {
	if c.Stages == nil {
		c.Stages = make(map[Stage]StageStatus, len(Stages))
	}
	c.Stages[s] = st
	c.UpdatedAt = now
}

// AutoTransition сообщает, переходит ли пайплайн со стадии s дальше без подтверждения.
func (c *CronJob) AutoTransition(s Stage) bool {
	return c.AutoTransitions[s]
}

// Pause ставит пайплайн на паузу.
func (c *CronJob) Pause(t PauseType, reason string, now time.Time) {
	c.PauseType = t
	c.PauseReason = reason
	c.UpdatedAt = now
}

// ClearPause снимает паузу.
func (c *CronJob) ClearPause(now time.Time) {
	c.PauseType = PauseTypeNone
	c.PauseReason = ""
	c.UpdatedAt = now
}

// Stop останавливает cron (релиз завершён или заархивирован).
func (c *CronJob) Stop(now time.Time) {
	c.CronStatus = CronStatusStopped
	c.UpdatedAt = now
}

// Location возвращает часовой пояс расписания, UTC при невалидном значении.
func (c *CronJob) Location() *time.Location {
	if c.Config.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Config.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clone возвращает глубокую копию CronJob.
func (c *CronJob) Clone() *CronJob {
	cp := *c
	cp.Stages = make(map[Stage]StageStatus, len(c.Stages))
	for k, v := range c.Stages {
		cp.Stages[k] = v
	}
	cp.AutoTransitions = make(map[Stage]bool, len(c.AutoTransitions))
	for k, v := range c.AutoTransitions {
		cp.AutoTransitions[k] = v
	}
	cp.Config.Regression = append([]RegressionSlot(nil), c.Config.Regression...)
	return &cp
}
