// Command preview-agent runs inside a sandbox and serves the agent API the
// tutor server uses to write project files and run the dev server.
//
// Configuration:
//
//	PREVIEW_AGENT_PORT         - Listen port (default: 8080)
//	PREVIEW_AGENT_ROOT         - Project directory (default: /workspace/app)
//	PREVIEW_AGENT_TOKEN        - Bearer token required on all routes but /health (default: none)
//	PREVIEW_AGENT_MAX_SESSIONS - Max concurrent sessions (default: 8)
//	PREVIEW_AGENT_SHELL        - Shell used to run commands (default: sh)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/sandbox/agent"
)

func main() {
	port := envOr("PREVIEW_AGENT_PORT", "8080")
	root := envOr("PREVIEW_AGENT_ROOT", "/workspace/app")
	maxSessions := envOrInt("PREVIEW_AGENT_MAX_SESSIONS", 8)

	if err := os.MkdirAll(root, 0o755); err != nil {
		slog.Error("cannot create project root", "root", root, "error", err)
		os.Exit(1)
	}

	srv := agent.NewServer(agent.ServerConfig{
		Root:        root,
		Token:       os.Getenv("PREVIEW_AGENT_TOKEN"),
		Shell:       envOr("PREVIEW_AGENT_SHELL", "sh"),
		MaxSessions: maxSessions,
	})

	httpSrv := &http.Server{
		Addr:        ":" + port,
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
		// npm install runs synchronously and may take minutes.
		WriteTimeout: 15 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("preview agent starting", "port", port, "root", root, "max_sessions", maxSessions)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
