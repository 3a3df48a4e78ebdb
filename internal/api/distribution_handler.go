package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

// GetDistribution возвращает дистрибуцию релиза с выведенным статусом.
// GET /api/v1/distributions/{releaseId}
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	releaseID, ok := pathID(w, r, "releaseId", "release")
	if !ok {
		return
	}

	resp, err := h.cache.get(r.Context(), releaseID, func() (DistributionResponse, error) {
		view, err := h.dist.Get(r.Context(), releaseID)
		if err != nil {
			return DistributionResponse{}, err
		}
		return DistributionFromView(view), nil
	})
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, resp)
}

// SyncDistribution опрашивает стор и применяет статусы submissions.
// POST /api/v1/distributions/{releaseId}/sync
func (h *Handler) SyncDistribution(w http.ResponseWriter, r *http.Request) {
	releaseID, ok := pathID(w, r, "releaseId", "release")
	if !ok {
		return
	}

	view, err := h.dist.Sync(r.Context(), releaseID)
	if HandleError(w, h.logger, err) {
		return
	}
	h.cache.forget(r.Context(), releaseID)

	Success(w, DistributionFromView(view))
}

// GetDistributionHistory возвращает все submissions, включая заменённые.
// GET /api/v1/distributions/{releaseId}/history
func (h *Handler) GetDistributionHistory(w http.ResponseWriter, r *http.Request) {
	releaseID, ok := pathID(w, r, "releaseId", "release")
	if !ok {
		return
	}

	subs, err := h.dist.History(r.Context(), releaseID)
	if HandleError(w, h.logger, err) {
		return
	}

	List(w, subs, len(subs))
}

// SubmitSubmission отправляет PENDING submission в стор.
// POST /api/v1/distributions/{id}/submissions/{submissionId}/submit
//
// Конфликт версии возвращается как 409 с options; клиент повторяет запрос с resolution.
func (h *Handler) SubmitSubmission(w http.ResponseWriter, r *http.Request) {
	distID, subID, ok := submissionPath(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	sub, err := h.dist.Submit(r.Context(), distID, subID, req.toDomain())
	h.respondSubmission(w, r, distID, sub, err)
}

// UpdateRollout меняет процент выкатки.
// PATCH /api/v1/distributions/{id}/submissions/{submissionId}/rollout
func (h *Handler) UpdateRollout(w http.ResponseWriter, r *http.Request) {
	distID, subID, ok := submissionPath(w, r)
	if !ok {
		return
	}
	var req RolloutRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	sub, err := h.dist.UpdateRollout(r.Context(), distID, subID, req.Percent, req.Actor)
	h.respondSubmission(w, r, distID, sub, err)
}

// PauseRollout приостанавливает phased release.
// POST /api/v1/distributions/{id}/submissions/{submissionId}/rollout/pause
func (h *Handler) PauseRollout(w http.ResponseWriter, r *http.Request) {
	distID, subID, req, ok := h.actionRequest(w, r)
	if !ok {
		return
	}

	sub, err := h.dist.Pause(r.Context(), distID, subID, req.Actor, req.Reason)
	h.respondSubmission(w, r, distID, sub, err)
}

// ResumeRollout возобновляет phased release.
// POST /api/v1/distributions/{id}/submissions/{submissionId}/rollout/resume
func (h *Handler) ResumeRollout(w http.ResponseWriter, r *http.Request) {
	distID, subID, req, ok := h.actionRequest(w, r)
	if !ok {
		return
	}

	sub, err := h.dist.Resume(r.Context(), distID, subID, req.Actor)
	h.respondSubmission(w, r, distID, sub, err)
}

// HaltRollout останавливает выкатку окончательно.
// POST /api/v1/distributions/{id}/submissions/{submissionId}/rollout/halt
func (h *Handler) HaltRollout(w http.ResponseWriter, r *http.Request) {
	distID, subID, req, ok := h.actionRequest(w, r)
	if !ok {
		return
	}

	sub, err := h.dist.Halt(r.Context(), distID, subID, req.Actor, req.Reason)
	h.respondSubmission(w, r, distID, sub, err)
}

// CancelSubmission отзывает submission с ревью.
// POST /api/v1/distributions/{id}/submissions/{submissionId}/cancel
func (h *Handler) CancelSubmission(w http.ResponseWriter, r *http.Request) {
	distID, subID, req, ok := h.actionRequest(w, r)
	if !ok {
		return
	}

	sub, err := h.dist.Cancel(r.Context(), distID, subID, req.Actor, req.Reason)
	h.respondSubmission(w, r, distID, sub, err)
}

// Resubmit создаёт новую submission вместо REJECTED или CANCELLED.
// POST /api/v1/distributions/{id}/submissions
func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request) {
	distID, ok := pathID(w, r, "id", "distribution")
	if !ok {
		return
	}
	var req ResubmitRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	sub, err := h.dist.Resubmit(r.Context(), distID, req.Platform, req.SubmitRequest.toDomain())
	if HandleError(w, h.logger, err) {
		return
	}
	h.forgetDistribution(r.Context(), distID)

	Created(w, sub)
}

func (h *Handler) actionRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, ActionRequest, bool) {
	var req ActionRequest
	distID, subID, ok := submissionPath(w, r)
	if !ok {
		return distID, subID, req, false
	}
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return distID, subID, req, false
	}
	return distID, subID, req, true
}

func (h *Handler) respondSubmission(w http.ResponseWriter, r *http.Request, distID uuid.UUID, sub *domain.Submission, err error) {
	if HandleError(w, h.logger, err) {
		return
	}
	h.forgetDistribution(r.Context(), distID)
	Success(w, sub)
}

// forgetDistribution сбрасывает кэш релиза, которому принадлежит дистрибуция.
func (h *Handler) forgetDistribution(ctx context.Context, distID uuid.UUID) {
	d, err := h.dist.Lookup(ctx, distID)
	if err != nil {
		h.logger.Warn("failed to resolve distribution for cache invalidation", "distribution_id", distID, "error", err)
		return
	}
	h.cache.forget(ctx, d.ReleaseID)
}

func submissionPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	distID, ok := pathID(w, r, "id", "distribution")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	subID, ok := pathID(w, r, "submissionId", "submission")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return distID, subID, true
}
