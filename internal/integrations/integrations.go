package integrations

import (
	"context"

	"github.com/shaiso/Shipyard/internal/domain"
)

// SCM — система контроля версий.
type SCM interface {
	// CreateBranch создаёт ветку name от base и возвращает ref.
	CreateBranch(ctx context.Context, name, base string) (string, error)

	// CreateTag ставит тег на голову ветки.
	CreateTag(ctx context.Context, branch, tag string) (string, error)

	// CherryPickParity проверяет, что все cherry-pick'и попали в релизную ветку.
	CherryPickParity(ctx context.Context, branch string) (bool, error)
}

// BuildRequest — параметры запуска сборки.
type BuildRequest struct {
	ReleaseID string            `json:"release_id"`
	TaskID    string            `json:"task_id"`
	Workflow  string            `json:"workflow"`
	Platform  domain.Platform   `json:"platform"`
	Branch    string            `json:"branch"`
	Params    map[string]string `json:"params,omitempty"`
}

// RunHandle — идентификатор асинхронного запуска CI.
type RunHandle struct {
	RunID string `json:"run_id"`
	URL   string `json:"url,omitempty"`
}

// CI — система сборок. Результат сборки приходит callback'ом.
type CI interface {
	// TriggerBuild запускает сборку. ErrNotConfigured — workflow для платформы не настроен.
	TriggerBuild(ctx context.Context, req BuildRequest) (RunHandle, error)
}

// RunStatus — результат тестового прогона.
type RunStatus struct {
	Passed       int  `json:"passed"`
	Failed       int  `json:"failed"`
	Total        int  `json:"total"`
	ThresholdMet bool `json:"threshold_met"`
}

// TestManagement — система управления тестированием.
type TestManagement interface {
	CreateSuite(ctx context.Context, rel *domain.Release) (string, error)
	ResetSuite(ctx context.Context, suiteID string) error
	RunStatus(ctx context.Context, suiteID string) (RunStatus, error)
}

// ProjectManagement — трекер задач.
type ProjectManagement interface {
	CreateTicket(ctx context.Context, rel *domain.Release) (string, error)

	// TicketStatus возвращает true, если тикет закрыт.
	TicketStatus(ctx context.Context, key string) (bool, error)
}

// Notification — уведомление о событии релиза.
type Notification struct {
	ReleaseID string `json:"release_id"`
	Code      string `json:"code"`
	Event     string `json:"event"`
	Message   string `json:"message"`
}

// Notifier — канал уведомлений.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// StoreSubmission — метаданные отправки в стор.
type StoreSubmission struct {
	Platform     domain.Platform    `json:"platform"`
	ReleaseMode  domain.ReleaseMode `json:"release_mode"`
	Version      string             `json:"version"`
	BuildNumber  string             `json:"build_number"`
	ArtifactRef  string             `json:"artifact_ref"`
	ReleaseNotes string             `json:"release_notes"`
}

// StoreVersion — версия, уже известная стору.
type StoreVersion struct {
	Handle string                  `json:"handle"`
	Status domain.SubmissionStatus `json:"status"`
}

// StoreStatus — состояние отправки в сторе.
type StoreStatus struct {
	Status         domain.SubmissionStatus `json:"status"`
	RolloutPercent float64                 `json:"rollout_percent"`
	Reason         string                  `json:"reason,omitempty"`
}

// Store — API стора для одной платформы (платформа передаётся явно).
type Store interface {
	// LookupVersion ищет версию в сторе. found=false, если версии нет.
	LookupVersion(ctx context.Context, platform domain.Platform, version string) (v StoreVersion, found bool, err error)
	Submit(ctx context.Context, sub StoreSubmission) (string, error)
	UpdateRollout(ctx context.Context, platform domain.Platform, handle string, percent float64) error
	Pause(ctx context.Context, platform domain.Platform, handle string) error
	Resume(ctx context.Context, platform domain.Platform, handle string) error
	Halt(ctx context.Context, platform domain.Platform, handle string) error

	// Cancel отзывает отправку с ревью.
	Cancel(ctx context.Context, platform domain.Platform, handle string) error
	Status(ctx context.Context, platform domain.Platform, handle string) (StoreStatus, error)
}

// Set — коллабораторы, доступные движку. nil означает "не настроено".
type Set struct {
	SCM      SCM
	CI       CI
	Tests    TestManagement
	Projects ProjectManagement
	Notifier Notifier
	Store    Store
}

// FromGateway возвращает Set, где все коллабораторы обслуживает один шлюз.
func FromGateway(g *Gateway) Set {
	return Set{SCM: g, CI: g, Tests: g, Projects: g, Notifier: g, Store: g}
}
