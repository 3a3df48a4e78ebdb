package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Releases
	mux.Handle("GET /api/v1/releases", chain(http.HandlerFunc(h.ListReleases)))
	mux.Handle("POST /api/v1/releases", chain(http.HandlerFunc(h.CreateRelease)))
	mux.Handle("GET /api/v1/releases/{id}", chain(http.HandlerFunc(h.GetRelease)))
	mux.Handle("POST /api/v1/releases/{id}/pause", chain(http.HandlerFunc(h.PauseRelease)))
	mux.Handle("POST /api/v1/releases/{id}/resume", chain(http.HandlerFunc(h.ResumeRelease)))
	mux.Handle("POST /api/v1/releases/{id}/archive", chain(http.HandlerFunc(h.ArchiveRelease)))
	mux.Handle("POST /api/v1/releases/{id}/stages/{stage}/trigger", chain(http.HandlerFunc(h.TriggerStage)))
	mux.Handle("POST /api/v1/releases/{id}/tick", chain(http.HandlerFunc(h.TickRelease)))
	mux.Handle("GET /api/v1/releases/{id}/tasks", chain(http.HandlerFunc(h.ListReleaseTasks)))
	mux.Handle("GET /api/v1/releases/{id}/cycles", chain(http.HandlerFunc(h.ListReleaseCycles)))

	// Tasks and cycles
	mux.Handle("POST /api/v1/tasks/{id}/retry", chain(http.HandlerFunc(h.RetryTask)))
	mux.Handle("POST /api/v1/tasks/{id}/manual-build", chain(http.HandlerFunc(h.AttachManualBuild)))
	mux.Handle("POST /api/v1/cycles/{id}/abandon", chain(http.HandlerFunc(h.AbandonCycle)))

	// Distributions
	mux.Handle("GET /api/v1/distributions/{releaseId}", chain(http.HandlerFunc(h.GetDistribution)))
	mux.Handle("GET /api/v1/distributions/{releaseId}/history", chain(http.HandlerFunc(h.GetDistributionHistory)))
	mux.Handle("POST /api/v1/distributions/{releaseId}/sync", chain(http.HandlerFunc(h.SyncDistribution)))
	mux.Handle("POST /api/v1/distributions/{id}/submissions", chain(http.HandlerFunc(h.Resubmit)))
	mux.Handle("POST /api/v1/distributions/{id}/submissions/{submissionId}/submit", chain(http.HandlerFunc(h.SubmitSubmission)))
	mux.Handle("PATCH /api/v1/distributions/{id}/submissions/{submissionId}/rollout", chain(http.HandlerFunc(h.UpdateRollout)))
	mux.Handle("POST /api/v1/distributions/{id}/submissions/{submissionId}/rollout/pause", chain(http.HandlerFunc(h.PauseRollout)))
	mux.Handle("POST /api/v1/distributions/{id}/submissions/{submissionId}/rollout/resume", chain(http.HandlerFunc(h.ResumeRollout)))
	mux.Handle("POST /api/v1/distributions/{id}/submissions/{submissionId}/rollout/halt", chain(http.HandlerFunc(h.HaltRollout)))
	mux.Handle("POST /api/v1/distributions/{id}/submissions/{submissionId}/cancel", chain(http.HandlerFunc(h.CancelSubmission)))

	// Webhooks
	mux.Handle("POST /api/v1/callbacks/ci", chain(http.HandlerFunc(h.CICallback)))
	mux.Handle("POST /api/v1/callbacks/store", chain(http.HandlerFunc(h.StoreCallback)))
}
