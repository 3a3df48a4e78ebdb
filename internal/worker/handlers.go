package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/telemetry"
)

// HandleCICallback обрабатывает сообщение из callbacks.ci.
func (w *Worker) HandleCICallback(ctx context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.CICallbackPayload](msg)
	if err != nil {
		return mq.Permanent(err)
	}

	task, applied, err := w.ci.ApplyCallback(ctx, executor.CallbackEvent{
		TaskID:     payload.TaskID,
		ExternalID: payload.ExternalID,
		Success:    payload.Success,
		Conclusion: payload.Conclusion,
		Error:      payload.Error,
		Artifacts:  payload.Artifacts,
	})
	switch {
	case err == nil:
		w.logger.Debug("ci callback processed",
			"task_id", task.ID,
			"status", task.Status,
			"applied", applied,
		)
		return nil

	case errors.Is(err, executor.ErrTaskNotFound), errors.Is(err, domain.ErrInvalidArgument):
		return mq.Permanent(err)

	default:
		w.logger.Error("failed to apply ci callback",
			"task_id", payload.TaskID,
			"external_id", payload.ExternalID,
			"error", err,
		)
		return fmt.Errorf("ci callback: %w", err)
	}
}

// HandleStoreCallback обрабатывает сообщение из callbacks.store.
func (w *Worker) HandleStoreCallback(ctx context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.StoreCallbackPayload](msg)
	if err != nil {
		return mq.Permanent(err)
	}
	if payload.Handle == "" {
		return mq.Permanent(errors.New("store callback without handle"))
	}

	sub, applied, err := w.store.ApplyStoreStatus(ctx, payload.Handle, integrations.StoreStatus{
		Status:         payload.Status,
		RolloutPercent: payload.RolloutPercent,
		Reason:         payload.Reason,
	})
	switch {
	case err == nil:
		result := "duplicate"
		if applied {
			result = "applied"
		}
		telemetry.CallbacksApplied.WithLabelValues("store", result).Inc()
		w.logger.Debug("store callback processed",
			"submission_id", sub.ID,
			"status", sub.Status,
			"applied", applied,
		)
		return nil

	// Переход уже невозможен: повтор устаревшего события.
	case errors.Is(err, domain.ErrConflict):
		telemetry.CallbacksApplied.WithLabelValues("store", "duplicate").Inc()
		w.logger.Debug("store callback skipped", "handle", payload.Handle, "reason", err)
		return nil

	case errors.Is(err, distribution.ErrSubmissionNotFound):
		return mq.Permanent(err)

	default:
		w.logger.Error("failed to apply store callback", "handle", payload.Handle, "error", err)
		return fmt.Errorf("store callback: %w", err)
	}
}
