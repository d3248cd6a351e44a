package sandbox

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors returned by Runtime implementations and the Driver.
var (
	// ErrNotFound is returned when a sandbox or session no longer exists.
	ErrNotFound = errors.New("sandbox not found")

	// ErrInstallFailed is returned when dependency installation exits non-zero.
	ErrInstallFailed = errors.New("dependency install failed")

	// ErrAtCapacity is returned when the runtime refuses new work.
	ErrAtCapacity = errors.New("sandbox runtime at capacity")
)

// ProvisionRequest describes a sandbox to create.
type ProvisionRequest struct {
	Name   string
	Labels map[string]string

	// Public exposes preview links without runtime credentials.
	Public bool

	AutoStopInterval    time.Duration
	AutoArchiveInterval time.Duration
	AutoDeleteInterval  time.Duration

	// Timeout bounds how long the runtime may take to report the sandbox ready.
	Timeout time.Duration
}

// Instance identifies a provisioned sandbox.
type Instance struct {
	ID   string
	Name string

	// DevPort, when non-zero, is the port the dev server must bind
	// instead of the driver's configured one.
	DevPort int
}

// File is a single file to materialize inside the sandbox, relative to
// the project root.
type File struct {
	Path    string
	Content []byte
}

// ExecRequest runs a shell command inside a session.
type ExecRequest struct {
	SessionID string
	Command   string

	// Async returns as soon as the command is started.
	Async bool
}

// ExecResult describes a started or finished command. ExitCode is nil for
// asynchronous commands.
type ExecResult struct {
	CommandID string
	ExitCode  *int
	Output    string
}

// CommandLogs is a snapshot of a command's output. ExitCode is nil while
// the command is still running.
type CommandLogs struct {
	Stdout   string
	Stderr   string
	ExitCode *int
}

// Combined returns stdout followed by stderr.
func (l CommandLogs) Combined() string {
	var b strings.Builder
	b.WriteString(l.Stdout)
	if l.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(l.Stdout, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(l.Stderr)
	}
	return b.String()
}

// Running reports whether the command had not exited when the snapshot
// was taken.
func (l CommandLogs) Running() bool {
	return l.ExitCode == nil
}

// Runtime is the client for an external sandbox runtime. Implementations
// must be safe for concurrent use and return ErrNotFound (possibly
// wrapped) for sandboxes or sessions that no longer exist.
type Runtime interface {
	Provision(ctx context.Context, req ProvisionRequest) (*Instance, error)
	WriteFiles(ctx context.Context, sandboxID string, files []File) error
	CreateSession(ctx context.Context, sandboxID, sessionID string) error
	Exec(ctx context.Context, sandboxID string, req ExecRequest) (*ExecResult, error)
	Logs(ctx context.Context, sandboxID, sessionID, commandID string) (*CommandLogs, error)
	PreviewURL(ctx context.Context, sandboxID string, port int) (string, error)
	DeleteSession(ctx context.Context, sandboxID, sessionID string) error
	Destroy(ctx context.Context, sandboxID string) error
}
