package api

import (
	"net/http"

	"github.com/shaiso/Shipyard/internal/telemetry"
)

// CICallback принимает webhook CI о завершении сборки.
// POST /api/v1/callbacks/ci
//
// При наличии очереди событие публикуется в callbacks.ci и применяется worker'ом (202).
// Без очереди или при ошибке публикации событие применяется сразу (200).
func (h *Handler) CICallback(w http.ResponseWriter, r *http.Request) {
	var req CICallbackRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if h.callbacks != nil {
		err := h.callbacks.PublishCICallback(r.Context(), req.toPayload())
		if err == nil {
			telemetry.CallbacksApplied.WithLabelValues("ci", "queued").Inc()
			Accepted(w, CallbackResponse{Queued: true})
			return
		}
		h.logger.Warn("failed to queue ci callback, applying inline", "external_id", req.ExternalID, "error", err)
	}

	_, applied, err := h.executor.ApplyCallback(r.Context(), req.toEvent())
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, CallbackResponse{Applied: applied})
}

// StoreCallback принимает webhook стора о смене состояния отправки.
// POST /api/v1/callbacks/store
func (h *Handler) StoreCallback(w http.ResponseWriter, r *http.Request) {
	var req StoreCallbackRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if h.callbacks != nil {
		err := h.callbacks.PublishStoreCallback(r.Context(), req.toPayload())
		if err == nil {
			telemetry.CallbacksApplied.WithLabelValues("store", "queued").Inc()
			Accepted(w, CallbackResponse{Queued: true})
			return
		}
		h.logger.Warn("failed to queue store callback, applying inline", "handle", req.Handle, "error", err)
	}

	sub, applied, err := h.dist.ApplyStoreStatus(r.Context(), req.Handle, req.toStatus())
	if HandleError(w, h.logger, err) {
		return
	}
	if applied {
		telemetry.CallbacksApplied.WithLabelValues("store", "applied").Inc()
		h.forgetDistribution(r.Context(), sub.DistributionID)
	} else {
		telemetry.CallbacksApplied.WithLabelValues("store", "duplicate").Inc()
	}

	Success(w, CallbackResponse{Applied: applied})
}
