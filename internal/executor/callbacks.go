package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/telemetry"
)

// CallbackEvent — результат асинхронной операции коллаборатора (обычно CI).
type CallbackEvent struct {
	// TaskID — id задачи, если коллаборатор его знает.
	TaskID uuid.UUID `json:"task_id,omitempty"`

	// ExternalID — id запуска во внешней системе. Используется, если TaskID пуст.
	ExternalID string `json:"external_id,omitempty"`

	Success    bool                   `json:"success"`
	Conclusion string                 `json:"conclusion,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Artifacts  []domain.BuildArtifact `json:"artifacts,omitempty"`
}

// ApplyCallback применяет callback к задаче в AWAITING_CALLBACK.
//
// Повторная доставка — no-op: applied=false, задача возвращается как есть.
// Стадии callback не двигает, это делает следующий тик.
func (e *Executor) ApplyCallback(ctx context.Context, ev CallbackEvent) (task *domain.ReleaseTask, applied bool, err error) {
	task, err = e.lookup(ctx, ev.TaskID, ev.ExternalID)
	if err != nil {
		return nil, false, err
	}
	if task.Status != domain.TaskStatusAwaitingCallback {
		telemetry.CallbacksApplied.WithLabelValues("ci", "duplicate").Inc()
		e.logger.Debug("callback ignored", "task_id", task.ID, "status", task.Status)
		return task, false, nil
	}

	for _, a := range ev.Artifacts {
		if a.Source == "" {
			a.Source = "ci"
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = e.now()
		}
		task.Artifacts = append(task.Artifacts, a)
	}

	if ev.Success {
		conclusion := ev.Conclusion
		if conclusion == "" {
			conclusion = "success"
		}
		task.MarkCompleted(conclusion, e.now())
	} else {
		conclusion := ev.Conclusion
		if conclusion == "" {
			conclusion = "failure"
		}
		msg := ev.Error
		if msg == "" {
			msg = "build failed"
		}
		task.MarkFailed(conclusion, msg, e.now())
	}

	ok, err := e.tasks.Transition(ctx, task, domain.TaskStatusAwaitingCallback)
	if err != nil {
		return nil, false, fmt.Errorf("apply callback: %w", err)
	}
	if !ok {
		// Параллельная доставка успела раньше.
		telemetry.CallbacksApplied.WithLabelValues("ci", "duplicate").Inc()
		current, err := e.tasks.GetByID(ctx, task.ID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	telemetry.CallbacksApplied.WithLabelValues("ci", "applied").Inc()
	telemetry.TasksExecuted.WithLabelValues(string(task.Type), string(task.Status)).Inc()
	e.logger.Info("callback applied",
		"task_id", task.ID,
		"release_id", task.ReleaseID,
		"status", task.Status,
	)
	return task, true, nil
}

// ApplyManualBuild прикрепляет загруженную вручную сборку
// и переводит задачу AWAITING_MANUAL_BUILD → COMPLETED.
func (e *Executor) ApplyManualBuild(ctx context.Context, taskID uuid.UUID, artifact domain.BuildArtifact) (*domain.ReleaseTask, error) {
	task, err := e.lookup(ctx, taskID, "")
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskStatusAwaitingManualBuild {
		return nil, &domain.ConflictError{Reason: fmt.Sprintf("%s: status is %s", ErrTaskNotAwaiting, task.Status)}
	}

	artifact.Source = "manual"
	if artifact.Platform == "" {
		artifact.Platform = task.Platform
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = e.now()
	}
	task.Artifacts = append(task.Artifacts, artifact)
	task.MarkCompleted("manual", e.now())

	ok, err := e.tasks.Transition(ctx, task, domain.TaskStatusAwaitingManualBuild)
	if err != nil {
		return nil, fmt.Errorf("apply manual build: %w", err)
	}
	if !ok {
		return nil, &domain.ConflictError{Reason: ErrTaskNotAwaiting.Error()}
	}

	e.logger.Info("manual build attached", "task_id", task.ID, "release_id", task.ReleaseID)
	return task, nil
}

// lookup ищет задачу по id или по внешнему id.
func (e *Executor) lookup(ctx context.Context, taskID uuid.UUID, externalID string) (*domain.ReleaseTask, error) {
	var (
		task *domain.ReleaseTask
		err  error
	)
	switch {
	case taskID != uuid.Nil:
		task, err = e.tasks.GetByID(ctx, taskID)
	case externalID != "":
		task, err = e.tasks.GetByExternalID(ctx, externalID)
	default:
		return nil, fmt.Errorf("%w: task id or external id required", domain.ErrInvalidArgument)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s%s", ErrTaskNotFound, taskID, externalID)
	}
	return task, err
}
