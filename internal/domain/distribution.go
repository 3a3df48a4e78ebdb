package domain

import (
	"time"

	"github.com/google/uuid"
)

// Distribution — агрегат выкатки релиза в сторы.
//
// Создаётся автоматически при входе в стадию DISTRIBUTION.
// Статус не хранится: см. distribution.DeriveStatus.
type Distribution struct {
	ID        uuid.UUID  `json:"id"`
	ReleaseID uuid.UUID  `json:"release_id"`
	Platforms []Platform `json:"platforms"`
	CreatedAt time.Time  `json:"created_at"`
}

// Действия журнала submission.
const (
	ActionCreated       = "CREATED"
	ActionSubmitted     = "SUBMITTED"
	ActionApproved      = "APPROVED"
	ActionLive          = "LIVE"
	ActionRejected      = "REJECTED"
	ActionRolloutUpdate = "ROLLOUT_UPDATED"
	ActionPaused        = "PAUSED"
	ActionResumed       = "RESUMED"
	ActionHalted        = "HALTED"
	ActionCancelled     = "CANCELLED"
	ActionResubmitted   = "RESUBMITTED"
)

// SubmissionAction — запись журнала действий. Журнал только дополняется.
type SubmissionAction struct {
	Action string    `json:"action"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Submission — отправка одной платформы в стор.
//
// Android и iOS отличаются режимом выкатки, но используют общий enum статусов.
// HALTED и CANCELLED — финальные. REJECTED не финальный:
// resubmission создаёт новую строку, старая остаётся для аудита.
type Submission struct {
	ID             uuid.UUID   `json:"id"`
	DistributionID uuid.UUID   `json:"distribution_id"`
	Platform       Platform    `json:"platform"`
	ReleaseMode    ReleaseMode `json:"release_mode"`

	Status SubmissionStatus `json:"status"`

	// RolloutPercent — доля пользователей, 0–100, дробная.
	RolloutPercent float64 `json:"rollout_percent"`

	Version      string `json:"version"`
	BuildNumber  string `json:"build_number,omitempty"`
	ArtifactRef  string `json:"artifact_ref,omitempty"`
	ReleaseNotes string `json:"release_notes,omitempty"`

	// StoreHandle — идентификатор отправки в сторе.
	StoreHandle string `json:"store_handle,omitempty"`

	SubmittedBy string     `json:"submitted_by,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	LiveAt      *time.Time `json:"live_at,omitempty"`

	// PausedAt — начало текущей паузы phased release.
	PausedAt *time.Time `json:"paused_at,omitempty"`

	// PhasedPausedFor — суммарное время на паузе (справочно).
	PhasedPausedFor time.Duration `json:"phased_paused_for,omitempty"`

	History []SubmissionAction `json:"history"`

	// SupersededBy — submission, созданная при повторной отправке.
	SupersededBy *uuid.UUID `json:"superseded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCurrent возвращает true, если submission не заменена повторной отправкой.
func (s *Submission) IsCurrent() bool {
	return s.SupersededBy == nil
}

// IsSubmitted возвращает true, если submission покинула PENDING.
func (s *Submission) IsSubmitted() bool {
	return s.Status != SubmissionStatusPending
}

// Record добавляет запись в журнал.
func (s *Submission) Record(action, actor, reason string, now time.Time) {
	s.History = append(s.History, SubmissionAction{
		Action: action,
		Actor:  actor,
		Reason: reason,
		At:     now,
	})
	s.UpdatedAt = now
}

// Clone возвращает копию submission с отдельным журналом.
func (s Submission) Clone() Submission {
	s.History = append([]SubmissionAction(nil), s.History...)
	return s
}

// SubmitRequest — метаданные отправки в стор.
type SubmitRequest struct {
	Version      string `json:"version"`
	BuildNumber  string `json:"build_number"`
	ArtifactRef  string `json:"artifact_ref"`
	ReleaseNotes string `json:"release_notes"`
	Actor        string `json:"actor"`

	// Resolution — выбранный вызывающим вариант разрешения конфликта версий.
	Resolution Resolution `json:"resolution,omitempty"`
}

// Resolution — вариант разрешения конфликта версий.
type Resolution string

const (
	// ResolutionUseExisting — привязаться к уже существующей в сторе версии.
	ResolutionUseExisting Resolution = "USE_EXISTING"

	// ResolutionIncrementAndRetry — увеличить номер сборки и отправить заново.
	ResolutionIncrementAndRetry Resolution = "INCREMENT_AND_RETRY"
)
