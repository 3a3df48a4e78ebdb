package api

import (
	"net/http"
)

// RetryTask возвращает упавшую задачу в PENDING.
// POST /api/v1/tasks/{id}/retry
func (h *Handler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "task")
	if !ok {
		return
	}

	task, err := h.orch.RetryFailedTask(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, task)
}

// AttachManualBuild прикрепляет сборку к задаче, ожидающей ручной загрузки.
// POST /api/v1/tasks/{id}/manual-build
func (h *Handler) AttachManualBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "task")
	if !ok {
		return
	}
	var req ManualBuildRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	task, err := h.executor.ApplyManualBuild(r.Context(), id, req.toArtifact())
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, task)
}

// AbandonCycle отменяет цикл регрессии.
// POST /api/v1/cycles/{id}/abandon
func (h *Handler) AbandonCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", "cycle")
	if !ok {
		return
	}

	cycle, err := h.orch.AbandonCycle(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, cycle)
}
