//go:build unix

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/sandbox"
)

func newAgentRuntime(t *testing.T, cfg ServerConfig) (*Runtime, *Server) {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	prov := &Static{AgentURL: ts.URL, Host: "127.0.0.1"}
	rt := NewRuntime(prov, Config{Token: cfg.Token, HealthTimeout: 2 * time.Second, HealthInterval: 10 * time.Millisecond})
	return rt, srv
}

func TestServer_EndToEnd(t *testing.T) {
	root := t.TempDir()
	rt, _ := newAgentRuntime(t, ServerConfig{Root: root, Token: "tok"})
	ctx := context.Background()

	inst, err := rt.Provision(ctx, sandbox.ProvisionRequest{Name: "tp-bob-1"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	files := []sandbox.File{
		{Path: "package.json", Content: []byte(`{"name":"app"}`)},
		{Path: "src/App.jsx", Content: []byte("export default function App() {}")},
	}
	if err := rt.WriteFiles(ctx, inst.ID, files); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "tp-bob-1", "src", "App.jsx"))
	if err != nil || string(got) != "export default function App() {}" {
		t.Fatalf("src/App.jsx = %q, %v", got, err)
	}

	if err := rt.CreateSession(ctx, inst.ID, "dev"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	res, err := rt.Exec(ctx, inst.ID, sandbox.ExecRequest{SessionID: "dev", Command: "cat package.json; echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Fatalf("exit code = %v, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Output, `{"name":"app"}`) || !strings.Contains(res.Output, "oops") {
		t.Errorf("output = %q", res.Output)
	}

	async, err := rt.Exec(ctx, inst.ID, sandbox.ExecRequest{SessionID: "dev", Command: "echo ready; sleep 30", Async: true})
	if err != nil {
		t.Fatalf("Exec async: %v", err)
	}
	if async.CommandID == "" || async.ExitCode != nil {
		t.Fatalf("async result = %+v", async)
	}

	deadline := time.Now().Add(2 * time.Second)
	var logs *sandbox.CommandLogs
	for time.Now().Before(deadline) {
		logs, err = rt.Logs(ctx, inst.ID, "dev", async.CommandID)
		if err != nil {
			t.Fatalf("Logs: %v", err)
		}
		if strings.Contains(logs.Stdout, "ready") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(logs.Stdout, "ready") || !logs.Running() {
		t.Fatalf("logs = %+v, want running command with output", logs)
	}

	if err := rt.DeleteSession(ctx, inst.ID, "dev"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := rt.Logs(ctx, inst.ID, "dev", async.CommandID); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("Logs after DeleteSession = %v, want ErrNotFound", err)
	}
	if err := rt.DeleteSession(ctx, inst.ID, "dev"); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("second DeleteSession = %v, want ErrNotFound", err)
	}
}

func TestServer_CommandKilledWithSession(t *testing.T) {
	rt, srv := newAgentRuntime(t, ServerConfig{})
	ctx := context.Background()

	inst, err := rt.Provision(ctx, sandbox.ProvisionRequest{Name: "tp-kill-1"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := rt.CreateSession(ctx, inst.ID, "dev"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := rt.Exec(ctx, inst.ID, sandbox.ExecRequest{SessionID: "dev", Command: "sleep 30", Async: true}); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	srv.mu.Lock()
	var cmd *command
	for _, c := range srv.sessions["tp-kill-1.dev"].commands {
		cmd = c
	}
	srv.mu.Unlock()

	if err := rt.DeleteSession(ctx, inst.ID, "dev"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	select {
	case <-cmd.done:
	case <-time.After(5 * time.Second):
		t.Fatal("command still running after session delete")
	}
	if code := cmd.exit(); code == nil || *code == 0 {
		t.Errorf("exit code = %v, want non-zero", code)
	}
}

func TestServer_Capacity(t *testing.T) {
	rt, _ := newAgentRuntime(t, ServerConfig{MaxSessions: 1})
	ctx := context.Background()

	inst, err := rt.Provision(ctx, sandbox.ProvisionRequest{Name: "tp-cap-1"})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := rt.CreateSession(ctx, inst.ID, "one"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := rt.CreateSession(ctx, inst.ID, "two"); !errors.Is(err, sandbox.ErrAtCapacity) {
		t.Errorf("second CreateSession = %v, want ErrAtCapacity", err)
	}
	if _, err := rt.Exec(ctx, inst.ID, sandbox.ExecRequest{SessionID: "nope", Command: "true"}); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("Exec in unknown session = %v, want ErrNotFound", err)
	}
}

func TestServer_Requests(t *testing.T) {
	srv := NewServer(ServerConfig{Root: t.TempDir(), Token: "tok"})
	t.Cleanup(srv.Close)
	h := srv.Handler()

	body := func(v any) *bytes.Reader {
		data, _ := json.Marshal(v)
		return bytes.NewReader(data)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
	}{
		{"health needs no token", http.MethodGet, "/health", "", nil, http.StatusOK},
		{"missing token", http.MethodPut, "/files", "", WriteFilesRequest{}, http.StatusUnauthorized},
		{"wrong token", http.MethodPut, "/files", "nope", WriteFilesRequest{}, http.StatusUnauthorized},
		{"path traversal", http.MethodPut, "/files", "tok", WriteFilesRequest{Files: []FilePayload{{Path: "../escape.txt"}}}, http.StatusBadRequest},
		{"absolute path", http.MethodPut, "/files", "tok", WriteFilesRequest{Files: []FilePayload{{Path: "/etc/passwd"}}}, http.StatusBadRequest},
		{"empty path", http.MethodPut, "/files", "tok", WriteFilesRequest{Files: []FilePayload{{Path: ""}}}, http.StatusBadRequest},
		{"nested path", http.MethodPut, "/files", "tok", WriteFilesRequest{Files: []FilePayload{{Path: "src/components/Nav.jsx"}}}, http.StatusNoContent},
		{"project dir", http.MethodPut, "/files", "tok", WriteFilesRequest{Dir: "tp-a-1", Files: []FilePayload{{Path: "src/App.jsx"}}}, http.StatusNoContent},
		{"project dir traversal", http.MethodPut, "/files", "tok", WriteFilesRequest{Dir: "../other", Files: []FilePayload{{Path: "src/App.jsx"}}}, http.StatusBadRequest},
		{"session dir traversal", http.MethodPost, "/sessions", "tok", CreateSessionRequest{ID: "dev", Dir: "/tmp"}, http.StatusBadRequest},
		{"session without id", http.MethodPost, "/sessions", "tok", CreateSessionRequest{}, http.StatusBadRequest},
		{"delete unknown session", http.MethodDelete, "/sessions/ghost", "tok", nil, http.StatusNotFound},
		{"unknown command logs", http.MethodGet, "/sessions/ghost/commands/c1/logs", "tok", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != nil {
				req = httptest.NewRequest(tt.method, tt.path, body(tt.body))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestServer_DuplicateSession(t *testing.T) {
	srv := NewServer(ServerConfig{Root: t.TempDir()})
	t.Cleanup(srv.Close)
	h := srv.Handler()

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"id":"dev"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("attempt %d: status = %d, want %d", i, rec.Code, want)
		}
	}
}

func TestOutputBuffer_KeepsTail(t *testing.T) {
	b := newOutputBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if got := b.String(); got != "cdefg" {
		t.Errorf("buffer = %q, want %q", got, "cdefg")
	}
}

func TestStatic_SeparatesSandboxes(t *testing.T) {
	root := t.TempDir()
	srv := NewServer(ServerConfig{Root: root})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	static := &Static{AgentURL: ts.URL, Host: "127.0.0.1", Ports: []int{5101, 5102}}
	rt := NewRuntime(static, Config{HealthTimeout: 2 * time.Second, HealthInterval: 10 * time.Millisecond})
	driver := sandbox.NewDriver(rt, nil, sandbox.Config{
		InstallCommand: "true",
		DevCommand:     "sleep 30",
		PollChecks:     1,
	})
	ctx := context.Background()

	alice, err := driver.Deploy(ctx, "export default function A() {}", "alice")
	if err != nil {
		t.Fatalf("Deploy alice: %v", err)
	}
	bob, err := driver.Deploy(ctx, "export default function B() {}", "bob")
	if err != nil {
		t.Fatalf("Deploy bob: %v", err)
	}

	if alice.PreviewURL != "http://127.0.0.1:5101" || bob.PreviewURL != "http://127.0.0.1:5102" {
		t.Errorf("preview urls = %q, %q", alice.PreviewURL, bob.PreviewURL)
	}
	for _, tc := range []struct {
		h    *sandbox.Handle
		want string
		port string
	}{
		{alice, "function A()", "--port 5101"},
		{bob, "function B()", "--port 5102"},
	} {
		app, err := os.ReadFile(filepath.Join(root, tc.h.Name, "src", "App.jsx"))
		if err != nil || !strings.Contains(string(app), tc.want) {
			t.Errorf("%s App.jsx = %q, %v", tc.h.Name, app, err)
		}
		pkg, err := os.ReadFile(filepath.Join(root, tc.h.Name, "package.json"))
		if err != nil || !strings.Contains(string(pkg), tc.port) {
			t.Errorf("%s package.json = %q, %v", tc.h.Name, pkg, err)
		}
	}

	if _, err := driver.Deploy(ctx, "export default function C() {}", "carol"); !errors.Is(err, sandbox.ErrAtCapacity) {
		t.Fatalf("third Deploy = %v, want ErrAtCapacity", err)
	}

	// A handle carrying only the sandbox id still stops the dev server.
	if err := driver.Teardown(ctx, &sandbox.Handle{SandboxID: alice.SandboxID}); err != nil {
		t.Fatalf("Teardown alice: %v", err)
	}
	srv.mu.Lock()
	_, aliceOpen := srv.sessions[alice.Name+"."+alice.SessionID]
	_, bobOpen := srv.sessions[bob.Name+"."+bob.SessionID]
	srv.mu.Unlock()
	if aliceOpen || !bobOpen {
		t.Errorf("after teardown: alice session open = %v, bob session open = %v", aliceOpen, bobOpen)
	}

	carol, err := driver.Deploy(ctx, "export default function C() {}", "carol")
	if err != nil {
		t.Fatalf("Deploy carol after teardown: %v", err)
	}
	if carol.PreviewURL != "http://127.0.0.1:5101" {
		t.Errorf("carol preview = %q, want the released port", carol.PreviewURL)
	}
	if static.Live() != 2 {
		t.Errorf("live sandboxes = %d, want 2", static.Live())
	}
}
