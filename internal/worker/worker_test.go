package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/distribution"
	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/executor"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/integrations/fake"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/mq"
	"github.com/shaiso/Shipyard/internal/repo/memory"
)

// message собирает конверт так, как его видит consumer после json-декодирования.
func message(msgType mq.MessageType, payload map[string]any) *mq.Message {
	return &mq.Message{ID: uuid.NewString(), Type: msgType, Payload: payload, Timestamp: time.Now()}
}

func newExecutor(t *testing.T, repos domain.Repositories) *executor.Executor {
	t.Helper()
	ex, err := executor.New(executor.Config{
		Tasks:    repos.Tasks,
		Registry: executor.NewRegistry(fake.New().Set()),
	})
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	return ex
}

func awaitingBuild(t *testing.T, repos domain.Repositories, externalID string) domain.ReleaseTask {
	t.Helper()
	task := domain.NewTask(uuid.New(), domain.StageRegression, domain.TaskTriggerRegressionBuild, domain.PlatformAndroid, time.Now())
	task.MarkAwaiting(domain.TaskStatusAwaitingCallback)
	task.ExternalID = externalID
	if err := repos.Tasks.CreateBatch(context.Background(), []domain.ReleaseTask{task}); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return task
}

func TestHandleCICallback(t *testing.T) {
	ctx := context.Background()
	repos := memory.New()
	task := awaitingBuild(t, repos, "run-42")
	w := New(Config{CI: newExecutor(t, repos)})

	msg := message(mq.MessageTypeCICallback, map[string]any{
		"external_id": "run-42",
		"success":     true,
		"artifacts": []any{
			map[string]any{"platform": "ANDROID", "url": "https://ci/app.aab", "build_number": "77"},
		},
	})
	if err := w.HandleCICallback(ctx, msg); err != nil {
		t.Fatalf("HandleCICallback: %v", err)
	}

	got, err := repos.Tasks.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Source != "ci" {
		t.Errorf("artifacts = %+v", got.Artifacts)
	}

	// Повторная доставка подтверждается без изменений.
	if err := w.HandleCICallback(ctx, msg); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
}

func TestHandleCICallback_Failure(t *testing.T) {
	ctx := context.Background()
	repos := memory.New()
	task := awaitingBuild(t, repos, "run-9")
	w := New(Config{CI: newExecutor(t, repos)})

	msg := message(mq.MessageTypeCICallback, map[string]any{
		"task_id": task.ID.String(),
		"success": false,
		"error":   "gradle: compilation failed",
	})
	if err := w.HandleCICallback(ctx, msg); err != nil {
		t.Fatalf("HandleCICallback: %v", err)
	}

	got, _ := repos.Tasks.GetByID(ctx, task.ID)
	if got.Status != domain.TaskStatusFailed || got.Error != "gradle: compilation failed" {
		t.Errorf("task = %s %q", got.Status, got.Error)
	}
}

func TestHandleCICallback_Permanent(t *testing.T) {
	w := New(Config{CI: newExecutor(t, memory.New())})

	tests := []struct {
		name string
		msg  *mq.Message
	}{
		{"unknown task", message(mq.MessageTypeCICallback, map[string]any{"external_id": "missing", "success": true})},
		{"bad payload", message(mq.MessageTypeCICallback, map[string]any{"task_id": "not-a-uuid"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.HandleCICallback(context.Background(), tt.msg)
			if !mq.IsPermanent(err) {
				t.Errorf("err = %v, want permanent", err)
			}
		})
	}
}

type storeFunc func(ctx context.Context, handle string, st integrations.StoreStatus) (*domain.Submission, bool, error)

func (f storeFunc) ApplyStoreStatus(ctx context.Context, handle string, st integrations.StoreStatus) (*domain.Submission, bool, error) {
	return f(ctx, handle, st)
}

func TestHandleStoreCallback(t *testing.T) {
	var gotHandle string
	var gotStatus integrations.StoreStatus
	applier := storeFunc(func(_ context.Context, handle string, st integrations.StoreStatus) (*domain.Submission, bool, error) {
		gotHandle, gotStatus = handle, st
		return &domain.Submission{ID: uuid.New(), Status: domain.SubmissionStatusLive}, true, nil
	})
	w := New(Config{Store: applier})

	msg := message(mq.MessageTypeStoreCallback, map[string]any{
		"handle":          "play-17",
		"status":          "LIVE",
		"rollout_percent": 10.0,
	})
	if err := w.HandleStoreCallback(context.Background(), msg); err != nil {
		t.Fatalf("HandleStoreCallback: %v", err)
	}
	if gotHandle != "play-17" || gotStatus.Status != domain.SubmissionStatusLive || gotStatus.RolloutPercent != 10 {
		t.Errorf("applied %q %+v", gotHandle, gotStatus)
	}
}

func TestHandleStoreCallback_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		handle    string
		wantNil   bool
		permanent bool
	}{
		{"conflict is acked", &domain.ConflictError{Reason: "submission is halted"}, "h1", true, false},
		{"unknown handle", distribution.ErrSubmissionNotFound, "h1", false, true},
		{"empty handle", nil, "", false, true},
		{"busy release is retried", lock.ErrNotAcquired, "h1", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := storeFunc(func(context.Context, string, integrations.StoreStatus) (*domain.Submission, bool, error) {
				return nil, false, tt.err
			})
			w := New(Config{Store: applier})

			err := w.HandleStoreCallback(context.Background(), message(mq.MessageTypeStoreCallback, map[string]any{
				"handle": tt.handle,
				"status": "APPROVED",
			}))
			if tt.wantNil {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if mq.IsPermanent(err) != tt.permanent {
				t.Errorf("permanent = %v, want %v (err %v)", mq.IsPermanent(err), tt.permanent, err)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want wrapping %v", err, tt.err)
			}
		})
	}
}

func TestStartRequiresConnection(t *testing.T) {
	w := New(Config{})
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error without connection")
	}
	w.Stop()
	if !w.IsStopped() {
		t.Error("worker should be stopped")
	}
}
