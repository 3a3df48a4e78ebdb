package executor

import (
	"context"
	"fmt"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/integrations"
)

// NewRegistry создаёт реестр с handler'ом для каждого варианта TaskType.
func NewRegistry(set integrations.Set) *Registry {
	r := NewEmptyRegistry()
	r.Register(domain.TaskForkBranch, forkBranch(set.SCM))
	r.Register(domain.TaskCreateProjectTicket, createTicket(set.Projects))
	r.Register(domain.TaskCreateTestSuite, createSuite(set.Tests))
	r.Register(domain.TaskTriggerPreRegressionBuild, triggerBuild(set.CI, "pre-regression"))
	r.Register(domain.TaskCreateRCTag, createTag(set.SCM))
	r.Register(domain.TaskResetTestSuite, resetSuite(set.Tests))
	r.Register(domain.TaskTriggerRegressionBuild, triggerBuild(set.CI, "regression"))
	r.Register(domain.TaskTriggerTestFlightBuild, triggerBuild(set.CI, "testflight"))
	r.Register(domain.TaskCreateAABBuild, triggerBuild(set.CI, "aab"))
	r.Register(domain.TaskCheckProjectTicket, checkTicket(set.Projects))
	r.Register(domain.TaskCreateReleaseTag, createTag(set.SCM))
	r.Register(domain.TaskNotify, notify(set.Notifier))
	return r
}

func notConfigured(what string) error {
	return fmt.Errorf("%w: %s", integrations.ErrNotConfigured, what)
}

func completed(externalID string, data map[string]any) Outcome {
	return Outcome{
		Status:     domain.TaskStatusCompleted,
		Conclusion: "success",
		ExternalID: externalID,
		Data:       data,
	}
}

func forkBranch(scm integrations.SCM) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if scm == nil {
			return Outcome{}, notConfigured("scm")
		}
		ref, err := scm.CreateBranch(ctx, req.Release.Branch, req.Release.BaseBranch)
		if err != nil {
			return Outcome{}, err
		}
		return completed(ref, map[string]any{"branch": req.Release.Branch}), nil
	}
}

func createTicket(pm integrations.ProjectManagement) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if pm == nil {
			return Outcome{}, notConfigured("project management")
		}
		key, err := pm.CreateTicket(ctx, req.Release)
		if err != nil {
			return Outcome{}, err
		}
		return completed(key, nil), nil
	}
}

func checkTicket(pm integrations.ProjectManagement) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if pm == nil {
			return Outcome{}, notConfigured("project management")
		}
		key := req.Refs[domain.TaskCreateProjectTicket]
		if key == "" {
			return Outcome{}, fmt.Errorf("%w: project ticket", ErrMissingReference)
		}
		done, err := pm.TicketStatus(ctx, key)
		if err != nil {
			return Outcome{}, err
		}
		if !done {
			return Outcome{}, fmt.Errorf("%w: ticket %s is not done", ErrCheckFailed, key)
		}
		return completed(key, nil), nil
	}
}

func createSuite(tm integrations.TestManagement) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if tm == nil {
			return Outcome{}, notConfigured("test management")
		}
		suiteID, err := tm.CreateSuite(ctx, req.Release)
		if err != nil {
			return Outcome{}, err
		}
		return completed(suiteID, nil), nil
	}
}

func resetSuite(tm integrations.TestManagement) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if tm == nil {
			return Outcome{}, notConfigured("test management")
		}
		suiteID := req.Refs[domain.TaskCreateTestSuite]
		if suiteID == "" {
			return Outcome{}, fmt.Errorf("%w: test suite", ErrMissingReference)
		}
		if err := tm.ResetSuite(ctx, suiteID); err != nil {
			return Outcome{}, err
		}
		return completed(suiteID, nil), nil
	}
}

// createTag ставит тег: RC-тег цикла из ExternalData["tag"] или релизный тег по коду релиза.
func createTag(scm integrations.SCM) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if scm == nil {
			return Outcome{}, notConfigured("scm")
		}
		tag, _ := req.Task.ExternalData["tag"].(string)
		if tag == "" {
			tag = req.Release.Code
		}
		ref, err := scm.CreateTag(ctx, req.Release.Branch, tag)
		if err != nil {
			return Outcome{}, err
		}
		return completed(ref, map[string]any{"tag": tag}), nil
	}
}

// triggerBuild запускает CI-сборку. Задача уходит в AWAITING_CALLBACK,
// ExternalID = id запуска, по нему придёт callback.
func triggerBuild(ci integrations.CI, workflow string) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if ci == nil {
			return Outcome{}, notConfigured("ci")
		}
		params := map[string]string{"release_code": req.Release.Code}
		if target, ok := req.Release.Target(req.Task.Platform); ok {
			params["version"] = target.Version
		}
		if tag, ok := req.Task.ExternalData["tag"].(string); ok {
			params["tag"] = tag
		}
		handle, err := ci.TriggerBuild(ctx, integrations.BuildRequest{
			ReleaseID: req.Release.ID.String(),
			TaskID:    req.Task.ID.String(),
			Workflow:  workflow,
			Platform:  req.Task.Platform,
			Branch:    req.Release.Branch,
			Params:    params,
		})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Status:     domain.TaskStatusAwaitingCallback,
			ExternalID: handle.RunID,
			Data:       map[string]any{"run_url": handle.URL, "workflow": workflow},
		}, nil
	}
}

func notify(n integrations.Notifier) HandlerFunc {
	return func(ctx context.Context, req Request) (Outcome, error) {
		if n == nil {
			return Outcome{}, notConfigured("notifier")
		}
		event := string(req.Task.Stage)
		if tag, ok := req.Task.ExternalData["tag"].(string); ok {
			event += " " + tag
		}
		err := n.Notify(ctx, integrations.Notification{
			ReleaseID: req.Release.ID.String(),
			Code:      req.Release.Code,
			Event:     event,
			Message:   fmt.Sprintf("Release %s: %s started", req.Release.Code, event),
		})
		if err != nil {
			return Outcome{}, err
		}
		return completed("", nil), nil
	}
}
