package activity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
)

// Redeploy runs the stored code of an activity through the auto-fix loop
// again, for example after its sandbox expired. The previous sandbox is
// released first so a student never holds two.
func (w *Workflow) Redeploy(ctx context.Context, req api.RedeployRequest) (*api.RedeployResult, error) {
	a, err := w.cfg.Store.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", req.ActivityID, err)
	}

	sessionKey := req.StudentID
	if sessionKey == "" {
		sessionKey = a.StudentID
	}
	w.release(ctx, a.SandboxID)

	res, err := w.cfg.Runner.Run(ctx, a.Code, deploy.Context{Topic: a.Topic, SessionKey: sessionKey}, w.cfg.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("redeploying activity: %w", err)
	}

	a.Code = res.FinalCode
	a.SandboxID = res.SandboxID
	a.SandboxURL = res.PreviewAddress
	a.Deployment = deploymentOf(res)
	a.UpdatedAt = w.nowFn()
	if err := w.cfg.Store.UpdateActivity(ctx, a); err != nil {
		w.release(ctx, res.SandboxID)
		return nil, fmt.Errorf("updating activity: %w", err)
	}

	slog.Info("activity redeployed", "activity_id", a.ID, "status", res.Status, "attempts", res.AttemptsUsed)
	return &api.RedeployResult{
		Success:    res.Succeeded(),
		ActivityID: a.ID,
		SandboxID:  a.SandboxID,
		SandboxURL: a.SandboxURL,
		Deployment: a.Deployment,
	}, nil
}
