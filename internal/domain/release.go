package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlatformTarget — одна платформа, которую выпускает релиз.
type PlatformTarget struct {
	// Platform — ANDROID или IOS.
	Platform Platform `json:"platform"`

	// Target — целевой стор или канал ("PLAY_STORE", "APP_STORE", "WEB").
	Target string `json:"target"`

	// Version — пользовательская версия, например "4.12.0".
	Version string `json:"version"`
}

// Release — один релизный поезд.
//
// Release создаётся, когда пользователь отправляет запрос на релиз (kickoff).
// Вместе с ним создаётся CronJob. Status и даты меняет Stage Orchestrator.
type Release struct {
	// ID — уникальный идентификатор релиза.
	ID uuid.UUID `json:"id"`

	// Code — код релиза для пользователей, например "R-2026.10".
	Code string `json:"code"`

	// TenantID — организация, которой принадлежит релиз.
	TenantID string `json:"tenant_id"`

	Status ReleaseStatus `json:"status"`
	Type   ReleaseType   `json:"type"`

	// Branch — релизная ветка, создаётся задачей FORK_BRANCH.
	Branch string `json:"branch"`

	// BaseBranch — ветка, от которой форкается релизная.
	BaseBranch string `json:"base_branch"`

	KickoffDate       time.Time  `json:"kickoff_date"`
	TargetReleaseDate time.Time  `json:"target_release_date"`
	ReleasedAt        *time.Time `json:"released_at,omitempty"`

	// Platforms — упорядоченный список платформ релиза.
	Platforms []PlatformTarget `json:"platforms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPlatform проверяет, выпускает ли релиз указанную платформу.
func (r *Release) HasPlatform(p Platform) bool {
	_, ok := r.Target(p)
	return ok
}

// Target возвращает PlatformTarget для платформы.
func (r *Release) Target(p Platform) (PlatformTarget, bool) {
	for _, t := range r.Platforms {
		if t.Platform == p {
			return t, true
		}
	}
	return PlatformTarget{}, false
}

// PlatformList возвращает платформы в порядке конфигурации.
func (r *Release) PlatformList() []Platform {
	out := make([]Platform, 0, len(r.Platforms))
	for _, t := range r.Platforms {
		out = append(out, t.Platform)
	}
	return out
}

// MarkCompleted переводит релиз в COMPLETED.
func (r *Release) MarkCompleted(now time.Time) {
	r.Status = ReleaseStatusCompleted
	r.ReleasedAt = &now
	r.UpdatedAt = now
}

// MarkArchived переводит релиз в ARCHIVED.
func (r *Release) MarkArchived(now time.Time) {
	r.Status = ReleaseStatusArchived
	r.UpdatedAt = now
}
