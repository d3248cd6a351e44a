// Package agent implements sandbox.Runtime on top of a preview agent, a
// small HTTP server running inside each sandbox that writes files, runs
// shell commands in sessions and buffers their output. A Provisioner
// supplies the compute (Kubernetes claim, Docker container or a static
// address); the Runtime talks to the agent it exposes.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
)

var _ sandbox.Runtime = (*Runtime)(nil)

// Config controls the agent client.
type Config struct {
	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client

	// Token is sent as a bearer token when set.
	Token string

	// HealthTimeout bounds the wait for a new agent to answer /health
	// (default 60s). HealthInterval is the poll period (default 500ms).
	HealthTimeout  time.Duration
	HealthInterval time.Duration

	// PreviewTemplate, when set, builds preview URLs from {name}, {id}
	// and {port}, e.g. "https://{port}-{name}.preview.example.com".
	PreviewTemplate string
}

// Runtime is a sandbox.Runtime backed by preview agents.
type Runtime struct {
	provisioner Provisioner
	httpClient  *http.Client
	cfg         Config

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewRuntime creates a Runtime that provisions through p.
func NewRuntime(p Provisioner, cfg Config) *Runtime {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 60 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 500 * time.Millisecond
	}
	return &Runtime{
		provisioner: p,
		httpClient:  cfg.HTTPClient,
		cfg:         cfg,
		endpoints:   make(map[string]*Endpoint),
	}
}

// Provision asks the provisioner for compute and waits until its agent
// is healthy. The compute is released if the agent never comes up.
func (r *Runtime) Provision(ctx context.Context, req sandbox.ProvisionRequest) (*sandbox.Instance, error) {
	ep, err := r.provisioner.Provision(ctx, req)
	if err != nil {
		return nil, err
	}
	if ep.Name == "" {
		ep.Name = req.Name
	}

	timeout := r.cfg.HealthTimeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	if err := r.waitHealthy(ctx, ep, timeout); err != nil {
		if relErr := r.provisioner.Release(context.WithoutCancel(ctx), ep.ID); relErr != nil {
			slog.Warn("release after failed health check", "sandbox_id", ep.ID, "error", relErr)
		}
		return nil, err
	}

	r.mu.Lock()
	r.endpoints[ep.ID] = ep
	r.mu.Unlock()

	debug.Log("sandbox", "agent ready", "sandbox_id", ep.ID, "agent", ep.AgentURL)
	return &sandbox.Instance{ID: ep.ID, Name: ep.Name, DevPort: ep.DevPort}, nil
}

// WriteFiles uploads files to the agent.
func (r *Runtime) WriteFiles(ctx context.Context, sandboxID string, files []sandbox.File) error {
	ep, err := r.endpoint(sandboxID)
	if err != nil {
		return err
	}
	body := WriteFilesRequest{Dir: ep.Dir, Files: make([]FilePayload, len(files))}
	for i, f := range files {
		body.Files[i] = FilePayload{Path: f.Path, Content: f.Content}
	}
	return r.do(ctx, ep, http.MethodPut, "/files", body, nil)
}

// CreateSession opens a named command session.
func (r *Runtime) CreateSession(ctx context.Context, sandboxID, sessionID string) error {
	ep, err := r.endpoint(sandboxID)
	if err != nil {
		return err
	}
	if err := r.do(ctx, ep, http.MethodPost, "/sessions", CreateSessionRequest{ID: ep.session(sessionID), Dir: ep.Dir}, nil); err != nil {
		return err
	}
	r.mu.Lock()
	if ep.sessions == nil {
		ep.sessions = make(map[string]bool)
	}
	ep.sessions[sessionID] = true
	r.mu.Unlock()
	return nil
}

// Exec runs a command in a session.
func (r *Runtime) Exec(ctx context.Context, sandboxID string, req sandbox.ExecRequest) (*sandbox.ExecResult, error) {
	ep, err := r.endpoint(sandboxID)
	if err != nil {
		return nil, err
	}
	var resp ExecResponse
	path := "/sessions/" + url.PathEscape(ep.session(req.SessionID)) + "/exec"
	if err := r.do(ctx, ep, http.MethodPost, path, ExecRequest{Command: req.Command, Async: req.Async}, &resp); err != nil {
		return nil, err
	}
	return &sandbox.ExecResult{CommandID: resp.CommandID, ExitCode: resp.ExitCode, Output: resp.Output}, nil
}

// Logs fetches the buffered output of a command.
func (r *Runtime) Logs(ctx context.Context, sandboxID, sessionID, commandID string) (*sandbox.CommandLogs, error) {
	ep, err := r.endpoint(sandboxID)
	if err != nil {
		return nil, err
	}
	var resp LogsResponse
	path := "/sessions/" + url.PathEscape(ep.session(sessionID)) + "/commands/" + url.PathEscape(commandID) + "/logs"
	if err := r.do(ctx, ep, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &sandbox.CommandLogs{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

// PreviewURL resolves the external address of a port inside the sandbox.
func (r *Runtime) PreviewURL(_ context.Context, sandboxID string, port int) (string, error) {
	ep, err := r.endpoint(sandboxID)
	if err != nil {
		return "", err
	}
	p := strconv.Itoa(port)
	if r.cfg.PreviewTemplate != "" {
		return strings.NewReplacer("{name}", ep.Name, "{id}", ep.ID, "{port}", p).Replace(r.cfg.PreviewTemplate), nil
	}
	if addr, ok := ep.Ports[port]; ok {
		return "http://" + addr, nil
	}
	if ep.Host != "" {
		return "http://" + ep.Host + ":" + p, nil
	}
	return "", fmt.Errorf("port %d is not published for sandbox %s", port, sandboxID)
}

// DeleteSession stops a session and its commands.
func (r *Runtime) DeleteSession(ctx context.Context, sandboxID, sessionID string) error {
	ep, err := r.endpoint(sandboxID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(ep.sessions, sessionID)
	r.mu.Unlock()
	return r.do(ctx, ep, http.MethodDelete, "/sessions/"+url.PathEscape(ep.session(sessionID)), nil, nil)
}

// Destroy releases the sandbox's compute. On an agent shared through a
// project directory, sessions still open are stopped first so their
// processes give up the sandbox's port.
func (r *Runtime) Destroy(ctx context.Context, sandboxID string) error {
	r.mu.Lock()
	ep, ok := r.endpoints[sandboxID]
	delete(r.endpoints, sandboxID)
	var open []string
	if ok && ep.Dir != "" {
		for id := range ep.sessions {
			open = append(open, id)
		}
		ep.sessions = nil
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("sandbox %s: %w", sandboxID, sandbox.ErrNotFound)
	}
	for _, id := range open {
		err := r.do(ctx, ep, http.MethodDelete, "/sessions/"+url.PathEscape(ep.session(id)), nil, nil)
		if err != nil && !errors.Is(err, sandbox.ErrNotFound) {
			slog.Warn("stopping session on destroy", "sandbox_id", sandboxID, "session", id, "error", err)
		}
	}
	return r.provisioner.Release(ctx, sandboxID)
}

// session scopes a session name to the endpoint's directory so sandboxes
// sharing one agent never address each other's sessions.
func (ep *Endpoint) session(id string) string {
	if ep.Dir == "" {
		return id
	}
	return ep.Dir + "." + id
}

func (r *Runtime) endpoint(id string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("sandbox %s: %w", id, sandbox.ErrNotFound)
	}
	return ep, nil
}

func (r *Runtime) waitHealthy(ctx context.Context, ep *Endpoint, timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(r.cfg.HealthInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = r.do(ctx, ep, http.MethodGet, "/health", nil, nil); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for agent of %s: %w", ep.Name, ctx.Err())
		case <-deadline:
			return fmt.Errorf("agent of %s not healthy after %s: %w", ep.Name, timeout, lastErr)
		case <-ticker.C:
		}
	}
}

func (r *Runtime) do(ctx context.Context, ep *Endpoint, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(ep.AgentURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, sandbox.ErrNotFound)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return fmt.Errorf("%s: %w", msg, sandbox.ErrAtCapacity)
	}
	return errors.New("agent returned HTTP " + strconv.Itoa(code) + ": " + msg)
}
