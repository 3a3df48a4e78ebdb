package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CreateRelease запускает релиз (kickoff).
// POST /api/v1/releases
func (h *Handler) CreateRelease(w http.ResponseWriter, r *http.Request) {
	var req KickoffRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	rel, cron, err := h.orch.Kickoff(r.Context(), req.toCommand())
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, KickoffResponse{Release: rel, CronJob: cron})
}

// ListReleases возвращает релизы в работе.
// GET /api/v1/releases?limit=...
func (h *Handler) ListReleases(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	releases, err := h.orch.ActiveReleases(r.Context(), nil, limit)
	if HandleError(w, h.logger, err) {
		return
	}
	if releases == nil {
		releases = []domain.Release{}
	}

	List(w, releases, len(releases))
}

// GetRelease возвращает состояние релиза: стадии, причину паузы, упавшие задачи.
// GET /api/v1/releases/{id}
func (h *Handler) GetRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}

	view, err := h.orch.Status(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, view)
}

// PauseRelease ставит релиз на паузу по запросу пользователя.
// POST /api/v1/releases/{id}/pause
func (h *Handler) PauseRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}
	var req PauseRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	cron, err := h.orch.Pause(r.Context(), id, req.Reason)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, cron)
}

// ResumeRelease снимает паузу USER_REQUESTED.
// POST /api/v1/releases/{id}/resume
func (h *Handler) ResumeRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}

	cron, err := h.orch.Resume(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, cron)
}

// ArchiveRelease архивирует релиз и останавливает его CronJob.
// POST /api/v1/releases/{id}/archive
func (h *Handler) ArchiveRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}

	rel, err := h.orch.Archive(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, rel)
}

// TriggerStage запускает стадию, ожидающую ручного перехода.
// POST /api/v1/releases/{id}/stages/{stage}/trigger
func (h *Handler) TriggerStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}
	stage, ok := domain.ParseStage(r.PathValue("stage"))
	if !ok {
		BadRequest(w, "invalid stage")
		return
	}

	cron, err := h.orch.TriggerNextStage(r.Context(), id, stage)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, cron)
}

// TickRelease выполняет тик релиза немедленно.
// POST /api/v1/releases/{id}/tick
func (h *Handler) TickRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}

	res, err := h.orch.Tick(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	h.cache.forget(r.Context(), id)

	Success(w, TickFromResult(res))
}

// ListReleaseTasks возвращает задачи релиза и статус стадии.
// GET /api/v1/releases/{id}/tasks?stage=...
func (h *Handler) ListReleaseTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}
	var stage domain.Stage
	if s := r.URL.Query().Get("stage"); s != "" {
		parsed, ok := domain.ParseStage(s)
		if !ok {
			BadRequest(w, "invalid stage")
			return
		}
		stage = parsed
	}

	tasks, status, err := h.orch.Tasks(r.Context(), id, stage)
	if HandleError(w, h.logger, err) {
		return
	}
	if tasks == nil {
		tasks = []domain.ReleaseTask{}
	}

	Success(w, StageTasksResponse{Stage: stage, StageStatus: status, Tasks: tasks})
}

// ListReleaseCycles возвращает циклы регрессии релиза.
// GET /api/v1/releases/{id}/cycles
func (h *Handler) ListReleaseCycles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "release")
	if !ok {
		return
	}

	cycles, err := h.orch.Cycles(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	List(w, cycles, len(cycles))
}

// pathID парсит uuid из пути. При ошибке пишет 400 и возвращает false.
func pathID(w http.ResponseWriter, r *http.Request, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		BadRequest(w, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}
