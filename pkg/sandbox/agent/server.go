package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// ServerConfig configures the preview agent.
type ServerConfig struct {
	// Root is the project directory; files and commands are relative to it.
	Root string

	// Token, when set, is required as a bearer token on every route but /health.
	Token string

	// Shell runs commands as `Shell -c <command>` (default "sh").
	Shell string

	// MaxSessions caps concurrent sessions (default 8).
	MaxSessions int

	// MaxOutput caps the bytes kept per stream; older output is dropped
	// (default 1 MiB).
	MaxOutput int

	// MaxBodySize caps request bodies (default 10 MiB).
	MaxBodySize int64
}

// Server is the preview agent: it writes project files and runs shell
// commands in named sessions, buffering their output for later polling.
type Server struct {
	cfg ServerConfig

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	dir      string
	ctx      context.Context
	cancel   context.CancelFunc
	commands map[string]*command
}

type command struct {
	stdout *outputBuffer
	stderr *outputBuffer
	done   chan struct{}

	mu       sync.Mutex
	exitCode *int
}

func (c *command) finish(code int) {
	c.mu.Lock()
	c.exitCode = &code
	c.mu.Unlock()
	close(c.done)
}

func (c *command) exit() *int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitCode == nil {
		return nil
	}
	code := *c.exitCode
	return &code
}

// NewServer creates a preview agent rooted at cfg.Root.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 8
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 1 << 20
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}
	return &Server{
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// Handler returns the agent's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("PUT /files", s.authorized(s.handleWriteFiles))
	mux.HandleFunc("POST /sessions", s.authorized(s.handleCreateSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.authorized(s.handleDeleteSession))
	mux.HandleFunc("POST /sessions/{id}/exec", s.authorized(s.handleExec))
	mux.HandleFunc("GET /sessions/{id}/commands/{cmd}/logs", s.authorized(s.handleLogs))
	return mux
}

// Close stops every running command.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.cancel()
		delete(s.sessions, id)
	}
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.Token {
			writeAgentError(w, http.StatusUnauthorized, "invalid agent token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	resp := HealthResponse{Status: "ok", Sessions: len(s.sessions)}
	for _, sess := range s.sessions {
		for _, cmd := range sess.commands {
			if cmd.exit() == nil {
				resp.Running++
			}
		}
	}
	s.mu.Unlock()
	writeAgentJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWriteFiles(w http.ResponseWriter, r *http.Request) {
	var req WriteFilesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)).Decode(&req); err != nil {
		writeAgentError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	base, err := s.workdir(req.Dir)
	if err != nil {
		writeAgentError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, f := range req.Files {
		path, err := resolve(base, f.Path)
		if err != nil {
			writeAgentError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeAgentError(w, http.StatusInternalServerError, fmt.Sprintf("create directory for %q: %v", f.Path, err))
			return
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			writeAgentError(w, http.StatusInternalServerError, fmt.Sprintf("write %q: %v", f.Path, err))
			return
		}
	}
	slog.Info("files written", "dir", req.Dir, "count", len(req.Files))
	w.WriteHeader(http.StatusNoContent)
}

// workdir maps a root-relative directory into Root, rejecting escapes.
func (s *Server) workdir(dir string) (string, error) {
	if dir == "" {
		return s.cfg.Root, nil
	}
	return resolve(s.cfg.Root, dir)
}

// resolve maps a relative path into base, rejecting escapes.
func resolve(base, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("path %q must be relative to the project root", rel)
	}
	return filepath.Join(base, clean), nil
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil || req.ID == "" {
		writeAgentError(w, http.StatusBadRequest, "session id is required")
		return
	}
	dir, err := s.workdir(req.Dir)
	if err != nil {
		writeAgentError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeAgentError(w, http.StatusInternalServerError, fmt.Sprintf("create directory %q: %v", req.Dir, err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[req.ID]; ok {
		writeAgentError(w, http.StatusConflict, fmt.Sprintf("session %s already exists", req.ID))
		return
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		writeAgentError(w, http.StatusTooManyRequests, fmt.Sprintf("at capacity (%d sessions)", s.cfg.MaxSessions))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.sessions[req.ID] = &session{dir: dir, ctx: ctx, cancel: cancel, commands: make(map[string]*command)}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeAgentError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	sess.cancel()
	slog.Info("session deleted", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeAgentError(w, http.StatusBadRequest, "command is required")
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeAgentError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}

	cmdID := api.NewID()
	c := &command{
		stdout: newOutputBuffer(s.cfg.MaxOutput),
		stderr: newOutputBuffer(s.cfg.MaxOutput),
		done:   make(chan struct{}),
	}

	proc := exec.CommandContext(sess.ctx, s.cfg.Shell, "-c", req.Command)
	proc.Dir = sess.dir
	proc.Env = append(os.Environ(), "CI=true", "BROWSER=none")
	proc.Stdout = c.stdout
	proc.Stderr = c.stderr
	proc.WaitDelay = 5 * time.Second
	killProcessGroup(proc)

	if err := proc.Start(); err != nil {
		writeAgentError(w, http.StatusInternalServerError, "start command: "+err.Error())
		return
	}

	s.mu.Lock()
	sess.commands[cmdID] = c
	s.mu.Unlock()

	slog.Info("command started", "session", id, "command_id", cmdID, "command", req.Command, "async", req.Async)

	go func() {
		code := 0
		if err := proc.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		c.finish(code)
		slog.Info("command finished", "session", id, "command_id", cmdID, "exit_code", code)
	}()

	if req.Async {
		writeAgentJSON(w, http.StatusOK, ExecResponse{CommandID: cmdID})
		return
	}

	select {
	case <-c.done:
	case <-r.Context().Done():
		return
	}
	output := c.stdout.String()
	if errOut := c.stderr.String(); errOut != "" {
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		output += errOut
	}
	writeAgentJSON(w, http.StatusOK, ExecResponse{CommandID: cmdID, ExitCode: c.exit(), Output: output})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, cmdID := r.PathValue("id"), r.PathValue("cmd")
	s.mu.Lock()
	var c *command
	if sess, ok := s.sessions[id]; ok {
		c = sess.commands[cmdID]
	}
	s.mu.Unlock()
	if c == nil {
		writeAgentError(w, http.StatusNotFound, fmt.Sprintf("command %s not found in session %s", cmdID, id))
		return
	}
	writeAgentJSON(w, http.StatusOK, LogsResponse{
		Stdout:   c.stdout.String(),
		Stderr:   c.stderr.String(),
		ExitCode: c.exit(),
	})
}

// outputBuffer keeps the most recent max bytes written to it.
type outputBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newOutputBuffer(max int) *outputBuffer {
	return &outputBuffer{max: max}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func writeAgentJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAgentError(w http.ResponseWriter, status int, message string) {
	writeAgentJSON(w, status, ErrorResponse{Error: message})
}
