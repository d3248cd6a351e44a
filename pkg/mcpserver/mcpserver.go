// Package mcpserver exposes the error classifier and the auto-fix
// deployment loop as MCP tools, served over streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
)

// Runner runs the auto-fix loop. *deploy.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, initialCode string, dc deploy.Context, maxAttempts int) (*deploy.Result, error)
}

// ClassifyInput is the argument of classify_logs.
type ClassifyInput struct {
	Logs string `json:"logs" jsonschema:"build or runtime log text to inspect"`
}

// ClassifyOutput is the result of classify_logs.
type ClassifyOutput struct {
	HasError bool              `json:"has_error"`
	Category classify.Category `json:"category"`
}

// DeployInput is the argument of deploy_code.
type DeployInput struct {
	Code        string `json:"code" jsonschema:"React component source for App.jsx"`
	Topic       string `json:"topic,omitempty" jsonschema:"subject of the activity, used in repair prompts"`
	SessionKey  string `json:"session_key,omitempty" jsonschema:"labels the sandbox; defaults to mcp"`
	MaxAttempts int    `json:"max_attempts,omitempty" jsonschema:"deploy attempts including the first; default 3"`
}

// Config wires the MCP server. Runner may be nil, in which case
// deploy_code is not offered.
type Config struct {
	Name       string
	Version    string
	Classifier classify.Classifier
	Runner     Runner
}

// New builds the MCP server with its tools registered.
func New(cfg Config) *mcp.Server {
	if cfg.Name == "" {
		cfg.Name = "tutorpilot"
	}
	if cfg.Version == "" {
		cfg.Version = "v1.0.0"
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New()
	}

	server := mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "classify_logs",
		Description: "Reports whether build or runtime logs contain an error and which category it falls into",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in ClassifyInput) (*mcp.CallToolResult, ClassifyOutput, error) {
		out := ClassifyOutput{HasError: cfg.Classifier.HasError(in.Logs), Category: classify.CategoryNone}
		if out.HasError {
			out.Category = cfg.Classifier.Classify(in.Logs)
		}
		return textResult(out), out, nil
	})

	if cfg.Runner != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "deploy_code",
			Description: "Deploys React code to a preview sandbox, repairing it automatically when it fails to start",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in DeployInput) (*mcp.CallToolResult, deploy.Result, error) {
			session := in.SessionKey
			if session == "" {
				session = "mcp"
			}
			res, err := cfg.Runner.Run(ctx, in.Code, deploy.Context{Topic: in.Topic, SessionKey: session}, in.MaxAttempts)
			if err != nil {
				return nil, deploy.Result{}, fmt.Errorf("deploy_code: %w", err)
			}
			slog.Info("mcp deployment finished", "session", session, "status", res.Status, "attempts", res.AttemptsUsed)
			result := textResult(res)
			result.IsError = !res.Succeeded()
			return result, *res, nil
		})
	}

	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func textResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
}
