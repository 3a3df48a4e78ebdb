package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/orchestrator"
)

// Release DTOs

// PlatformRequest — платформа в запросе kickoff.
type PlatformRequest struct {
	Platform domain.Platform `json:"platform" validate:"required,oneof=ANDROID IOS"`
	Target   string          `json:"target" validate:"max=64"`
	Version  string          `json:"version" validate:"required,max=32"`
}

// KickoffRequest — запрос на запуск релиза.
type KickoffRequest struct {
	Code              string             `json:"code" validate:"required,max=64"`
	TenantID          string             `json:"tenant_id" validate:"max=128"`
	Type              domain.ReleaseType `json:"type" validate:"omitempty,oneof=MINOR MAJOR HOTFIX PATCH"`
	Branch            string             `json:"branch,omitempty" validate:"max=255"`
	BaseBranch        string             `json:"base_branch,omitempty" validate:"max=255"`
	KickoffDate       *time.Time         `json:"kickoff_date,omitempty"`
	TargetReleaseDate time.Time          `json:"target_release_date" validate:"required"`
	Platforms         []PlatformRequest  `json:"platforms" validate:"required,min=1,max=2,dive"`
	Config            domain.StageConfig `json:"config"`

	// AutoTransitions — ключ: стадия, с которой переходим.
	AutoTransitions map[domain.Stage]bool `json:"auto_transitions,omitempty"`
}

// toCommand конвертирует DTO в команду оркестратора.
func (req KickoffRequest) toCommand() orchestrator.KickoffRequest {
	platforms := make([]domain.PlatformTarget, len(req.Platforms))
	for i, p := range req.Platforms {
		platforms[i] = domain.PlatformTarget{Platform: p.Platform, Target: p.Target, Version: p.Version}
	}
	cmd := orchestrator.KickoffRequest{
		Code:              req.Code,
		TenantID:          req.TenantID,
		Type:              req.Type,
		Branch:            req.Branch,
		BaseBranch:        req.BaseBranch,
		TargetReleaseDate: req.TargetReleaseDate,
		Platforms:         platforms,
		Config:            req.Config,
		AutoTransitions:   req.AutoTransitions,
	}
	if req.KickoffDate != nil {
		cmd.KickoffDate = *req.KickoffDate
	}
	return cmd
}

// KickoffResponse — созданный релиз и его CronJob.
type KickoffResponse struct {
	Release *domain.Release `json:"release"`
	CronJob *domain.CronJob `json:"cron_job"`
}

// PauseRequest — запрос на паузу.
type PauseRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// TickResponse — итог ручного тика.
type TickResponse struct {
	Outcome   orchestrator.TickOutcome `json:"outcome"`
	Stage     domain.Stage             `json:"stage,omitempty"`
	Completed []domain.Stage           `json:"completed,omitempty"`
	PauseType domain.PauseType         `json:"pause_type,omitempty"`
}

// TickFromResult конвертирует orchestrator.TickResult в TickResponse.
func TickFromResult(res orchestrator.TickResult) TickResponse {
	return TickResponse{
		Outcome:   res.Outcome,
		Stage:     res.Stage,
		Completed: res.Completed,
		PauseType: res.PauseType,
	}
}

// Task DTOs

// StageTasksResponse — задачи стадии и её статус.
type StageTasksResponse struct {
	Stage       domain.Stage         `json:"stage"`
	StageStatus domain.StageStatus   `json:"stage_status"`
	Tasks       []domain.ReleaseTask `json:"tasks"`
}

// ManualBuildRequest — ручная загрузка сборки.
type ManualBuildRequest struct {
	BuildNumber string          `json:"build_number" validate:"required,max=64"`
	URL         string          `json:"url" validate:"required,url"`
	Platform    domain.Platform `json:"platform,omitempty" validate:"omitempty,oneof=ANDROID IOS"`
}

func (req ManualBuildRequest) toArtifact() domain.BuildArtifact {
	return domain.BuildArtifact{
		Platform:    req.Platform,
		BuildNumber: req.BuildNumber,
		URL:         req.URL,
	}
}

// Distribution DTOs

// SubmitRequest — отправка submission в стор.
type SubmitRequest struct {
	Version      string            `json:"version" validate:"max=32"`
	BuildNumber  string            `json:"build_number" validate:"required,max=64"`
	ArtifactRef  string            `json:"artifact_ref" validate:"required,max=512"`
	ReleaseNotes string            `json:"release_notes" validate:"max=4000"`
	Actor        string            `json:"actor" validate:"required,max=128"`
	Resolution   domain.Resolution `json:"resolution,omitempty" validate:"omitempty,oneof=USE_EXISTING INCREMENT_AND_RETRY"`
}

func (req SubmitRequest) toDomain() domain.SubmitRequest {
	return domain.SubmitRequest{
		Version:      req.Version,
		BuildNumber:  req.BuildNumber,
		ArtifactRef:  req.ArtifactRef,
		ReleaseNotes: req.ReleaseNotes,
		Actor:        req.Actor,
		Resolution:   req.Resolution,
	}
}

// ResubmitRequest — новая submission вместо отклонённой или отменённой.
type ResubmitRequest struct {
	Platform domain.Platform `json:"platform" validate:"required,oneof=ANDROID IOS"`
	SubmitRequest
}

// RolloutRequest — изменение процента выкатки.
type RolloutRequest struct {
	Percent float64 `json:"percent" validate:"gte=0,lte=100"`
	Actor   string  `json:"actor" validate:"required,max=128"`
}

// ActionRequest — pause/resume/halt/cancel над submission.
type ActionRequest struct {
	Actor  string `json:"actor" validate:"required,max=128"`
	Reason string `json:"reason" validate:"max=500"`
}

// DistributionResponse — дистрибуция с выведенным статусом.
type DistributionResponse struct {
	ID          uuid.UUID                 `json:"id"`
	ReleaseID   uuid.UUID                 `json:"release_id"`
	Status      domain.DistributionStatus `json:"status"`
	Platforms   []domain.Platform         `json:"platforms"`
	Submissions []domain.Submission       `json:"submissions"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// DistributionFromView конвертирует distribution.View в DistributionResponse.
func DistributionFromView(v *distribution.View) DistributionResponse {
	return DistributionResponse{
		ID:          v.Distribution.ID,
		ReleaseID:   v.Distribution.ReleaseID,
		Status:      v.Status,
		Platforms:   v.Distribution.Platforms,
		Submissions: v.Submissions,
		CreatedAt:   v.Distribution.CreatedAt,
	}
}

// Callback DTOs

// CICallbackRequest — webhook CI о завершении сборки.
type CICallbackRequest struct {
	TaskID     uuid.UUID              `json:"task_id,omitempty"`
	ExternalID string                 `json:"external_id,omitempty" validate:"required_without=TaskID,max=255"`
	Success    bool                   `json:"success"`
	Conclusion string                 `json:"conclusion,omitempty" validate:"max=64"`
	Error      string                 `json:"error,omitempty" validate:"max=4000"`
	Artifacts  []domain.BuildArtifact `json:"artifacts,omitempty"`
}

func (req CICallbackRequest) toEvent() executor.CallbackEvent {
	return executor.CallbackEvent{
		TaskID:     req.TaskID,
		ExternalID: req.ExternalID,
		Success:    req.Success,
		Conclusion: req.Conclusion,
		Error:      req.Error,
		Artifacts:  req.Artifacts,
	}
}

func (req CICallbackRequest) toPayload() mq.CICallbackPayload {
	return mq.CICallbackPayload{
		TaskID:     req.TaskID,
		ExternalID: req.ExternalID,
		Success:    req.Success,
		Conclusion: req.Conclusion,
		Error:      req.Error,
		Artifacts:  req.Artifacts,
	}
}

// StoreCallbackRequest — webhook стора о смене состояния отправки.
type StoreCallbackRequest struct {
	Handle         string                  `json:"handle" validate:"required,max=255"`
	Status         domain.SubmissionStatus `json:"status" validate:"required,oneof=APPROVED LIVE REJECTED"`
	RolloutPercent float64                 `json:"rollout_percent,omitempty" validate:"gte=0,lte=100"`
	Reason         string                  `json:"reason,omitempty" validate:"max=4000"`
}

func (req StoreCallbackRequest) toStatus() integrations.StoreStatus {
	return integrations.StoreStatus{
		Status:         req.Status,
		RolloutPercent: req.RolloutPercent,
		Reason:         req.Reason,
	}
}

func (req StoreCallbackRequest) toPayload() mq.StoreCallbackPayload {
	return mq.StoreCallbackPayload{
		Handle:         req.Handle,
		Status:         req.Status,
		RolloutPercent: req.RolloutPercent,
		Reason:         req.Reason,
	}
}

// CallbackResponse — результат приёма webhook'а.
type CallbackResponse struct {
	// Queued — событие поставлено в очередь и будет применено worker'ом.
	Queued bool `json:"queued"`

	// Applied — событие применено; false при повторной доставке.
	Applied bool `json:"applied"`
}
