package activity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/repair"
)

// defaultChangeSummary is stored when the change summary cannot be generated.
const defaultChangeSummary = "Activity updated"

// Chat applies a tutor's natural-language change request to an activity.
// The modified code is deployed once without repairs; a failed deployment
// does not fail the request.
func (w *Workflow) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResult, error) {
	a, err := w.cfg.Store.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", req.ActivityID, err)
	}

	if err := w.cfg.Store.AddChatMessage(ctx, &api.ChatMessage{
		ID:         api.NewID(),
		ActivityID: a.ID,
		TutorID:    req.TutorID,
		Type:       api.MessageTypeTutorRequest,
		Content:    req.Message,
		CreatedAt:  w.nowFn(),
	}); err != nil {
		return nil, fmt.Errorf("saving tutor message: %w", err)
	}

	resp, err := w.cfg.Generator.Complete(ctx, llm.Request{
		System:      generateSystemPrompt,
		Prompt:      buildChatPrompt(a.Code, req.Message, a.Topic),
		Temperature: 0.2,
		MaxTokens:   9000,
		Purpose:     llm.PurposeChat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	newCode := repair.ExtractCode(resp.Text)
	if newCode == "" {
		return nil, fmt.Errorf("%w: generator returned no code", ErrGeneration)
	}

	explanation := w.summarize(ctx, a.Code, newCode, req.Message)

	sessionKey := req.StudentID
	if sessionKey == "" {
		sessionKey = a.StudentID
	}
	w.release(ctx, a.SandboxID)
	a.SandboxID, a.SandboxURL = "", ""

	res, err := w.cfg.Runner.Run(ctx, newCode, deploy.Context{Topic: a.Topic, SessionKey: sessionKey}, 1)
	switch {
	case err != nil:
		slog.Warn("redeploy after chat failed", "activity_id", a.ID, "error", err)
	case res.Succeeded():
		a.SandboxID = res.SandboxID
		a.SandboxURL = res.PreviewAddress
		a.Deployment = deploymentOf(res)
	default:
		a.Deployment = deploymentOf(res)
		debug.Log("deploy", "chat deployment failed", "activity_id", a.ID, "diagnostic", res.Diagnostic)
	}

	if err := w.cfg.Store.AddChatMessage(ctx, &api.ChatMessage{
		ID:           api.NewID(),
		ActivityID:   a.ID,
		TutorID:      req.TutorID,
		Type:         api.MessageTypeAgentResponse,
		Content:      explanation,
		CodeSnapshot: newCode,
		SandboxURL:   a.SandboxURL,
		CreatedAt:    w.nowFn(),
	}); err != nil {
		w.release(ctx, a.SandboxID)
		return nil, fmt.Errorf("saving agent message: %w", err)
	}

	a.Code = newCode
	a.IterationCount++
	a.UpdatedAt = w.nowFn()
	if err := w.cfg.Store.UpdateActivity(ctx, a); err != nil {
		w.release(ctx, a.SandboxID)
		return nil, fmt.Errorf("updating activity: %w", err)
	}

	slog.Info("activity iterated", "activity_id", a.ID, "iteration", a.IterationCount, "deployed", a.SandboxURL != "")
	return &api.ChatResult{
		Success:     true,
		NewCode:     newCode,
		Explanation: explanation,
		SandboxURL:  a.SandboxURL,
		Deployed:    a.SandboxURL != "",
	}, nil
}

// History returns an activity's conversation oldest first.
func (w *Workflow) History(ctx context.Context, activityID string) (*api.ChatHistory, error) {
	msgs, err := w.cfg.Store.ListChatMessages(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, err)
	}
	return &api.ChatHistory{
		Success:       true,
		ActivityID:    activityID,
		Messages:      msgs,
		TotalMessages: len(msgs),
	}, nil
}

func (w *Workflow) summarize(ctx context.Context, oldCode, newCode, message string) string {
	resp, err := w.cfg.Generator.Complete(ctx, llm.Request{
		Prompt:      buildSummaryPrompt(oldCode, newCode, message),
		Temperature: 0.3,
		MaxTokens:   200,
		Purpose:     llm.PurposeSummarize,
	})
	if err != nil {
		slog.Warn("change summary failed", "error", err)
		return defaultChangeSummary
	}
	if s := strings.TrimSpace(resp.Text); s != "" {
		return s
	}
	return defaultChangeSummary
}
