package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/observability"
)

// Handle references a live sandbox returned by Deploy.
type Handle struct {
	SandboxID string
	Name      string
	SessionID string
	CommandID string

	// Port is the dev server port inside the sandbox.
	Port int

	// PreviewURL is the externally reachable address of the dev server.
	PreviewURL string

	// Running is false when the dev server exited during polling.
	Running bool

	// ExitCode is set when the dev server exited during polling.
	ExitCode *int

	// Logs holds the captured output, present only when polling detected
	// an error or the dev server exited.
	Logs string
}

// Driver deploys generated code into sandboxes. A Driver holds no
// per-deployment state and may be shared across sessions.
type Driver struct {
	runtime    Runtime
	classifier classify.Classifier
	cfg        Config
}

// NewDriver creates a Driver over the given runtime client. A nil
// classifier selects the keyword classifier.
func NewDriver(rt Runtime, c classify.Classifier, cfg Config) *Driver {
	if c == nil {
		c = classify.New()
	}
	return &Driver{runtime: rt, classifier: c, cfg: cfg.withDefaults()}
}

// Deploy provisions a sandbox, starts the generated code in it and polls
// the dev server output. Every failure before polling completes is
// returned as an error, and the sandbox is torn down first.
func (d *Driver) Deploy(ctx context.Context, code, sessionKey string) (*Handle, error) {
	owner := sessionKey
	if owner == "" {
		owner = "demo"
	}

	req := ProvisionRequest{
		Name: fmt.Sprintf("%s-%s-%d", d.cfg.NamePrefix, owner, nowFn().UnixMilli()),
		Labels: map[string]string{
			"app":        d.cfg.AppLabel,
			"student_id": owner,
			"type":       "react-activity",
		},
		Public:              d.cfg.Public,
		AutoStopInterval:    d.cfg.AutoStopInterval,
		AutoArchiveInterval: d.cfg.AutoArchiveInterval,
		AutoDeleteInterval:  d.cfg.AutoDeleteInterval,
		Timeout:             d.cfg.ProvisionTimeout,
	}

	start := time.Now()
	inst, err := d.runtime.Provision(ctx, req)
	if err != nil {
		observability.SandboxOperationsTotal.WithLabelValues("provision", "error").Inc()
		return nil, fmt.Errorf("provision sandbox %s: %w", req.Name, err)
	}
	observability.SandboxOperationsTotal.WithLabelValues("provision", "ok").Inc()
	observability.SandboxProvisionLatency.Observe(time.Since(start).Seconds())

	slog.Info("sandbox provisioned", "sandbox_id", inst.ID, "name", inst.Name)

	h := &Handle{SandboxID: inst.ID, Name: inst.Name, SessionID: "react-dev-" + owner, Port: d.cfg.Port}
	if inst.DevPort > 0 {
		h.Port = inst.DevPort
	}
	if err := d.start(ctx, h, code); err != nil {
		d.discard(h)
		return nil, err
	}
	if err := d.poll(ctx, h); err != nil {
		d.discard(h)
		return nil, err
	}
	return h, nil
}

// start writes the project, installs dependencies, launches the dev server
// and resolves the preview address.
func (d *Driver) start(ctx context.Context, h *Handle, code string) error {
	if err := d.runtime.WriteFiles(ctx, h.SandboxID, Scaffold(code, h.Port)); err != nil {
		return fmt.Errorf("write project files: %w", err)
	}
	if err := d.runtime.CreateSession(ctx, h.SandboxID, h.SessionID); err != nil {
		return fmt.Errorf("create session %s: %w", h.SessionID, err)
	}

	install, err := d.runtime.Exec(ctx, h.SandboxID, ExecRequest{SessionID: h.SessionID, Command: d.cfg.InstallCommand})
	if err != nil {
		return fmt.Errorf("run %q: %w", d.cfg.InstallCommand, err)
	}
	if install.ExitCode != nil && *install.ExitCode != 0 {
		return fmt.Errorf("%w: exit code %d: %s", ErrInstallFailed, *install.ExitCode, debug.Truncate(install.Output, 500))
	}
	debug.Log("sandbox", "dependencies installed", "sandbox_id", h.SandboxID, "output", debug.Truncate(install.Output, 200))

	dev, err := d.runtime.Exec(ctx, h.SandboxID, ExecRequest{SessionID: h.SessionID, Command: d.cfg.DevCommand, Async: true})
	if err != nil {
		return fmt.Errorf("start dev server: %w", err)
	}
	h.CommandID = dev.CommandID
	h.Running = true

	if err := sleep(ctx, d.cfg.SettleDelay); err != nil {
		return fmt.Errorf("waiting for dev server: %w", err)
	}

	url, err := d.runtime.PreviewURL(ctx, h.SandboxID, h.Port)
	if err != nil {
		return fmt.Errorf("resolve preview url: %w", err)
	}
	h.PreviewURL = url
	return nil
}

// poll re-reads the dev server output a bounded number of times and stops
// at the first check that shows an error or an exited process.
func (d *Driver) poll(ctx context.Context, h *Handle) error {
	for check := 1; check <= d.cfg.PollChecks; check++ {
		if err := sleep(ctx, d.cfg.PollInterval); err != nil {
			return fmt.Errorf("polling dev server: %w", err)
		}

		logs, err := d.runtime.Logs(ctx, h.SandboxID, h.SessionID, h.CommandID)
		if err != nil {
			slog.Warn("reading dev server logs failed", "sandbox_id", h.SandboxID, "check", check, "error", err)
			continue
		}

		output := logs.Combined()
		debug.Log("sandbox", "dev server check", "sandbox_id", h.SandboxID, "check", check, "running", logs.Running(), "bytes", len(output))

		if d.classifier.HasError(output) {
			h.Logs = output
			h.Running = logs.Running()
			h.ExitCode = logs.ExitCode
			slog.Info("dev server reported errors", "sandbox_id", h.SandboxID, "check", check)
			return nil
		}
		if !logs.Running() {
			h.Logs = output
			h.Running = false
			h.ExitCode = logs.ExitCode
			slog.Info("dev server exited", "sandbox_id", h.SandboxID, "check", check, "exit_code", *logs.ExitCode)
			return nil
		}
	}
	return nil
}

// Teardown releases the sandbox behind h. It is idempotent: a nil handle
// or a sandbox that no longer exists is not an error.
func (d *Driver) Teardown(ctx context.Context, h *Handle) error {
	if h == nil || h.SandboxID == "" {
		return nil
	}
	if h.SessionID != "" {
		if err := d.runtime.DeleteSession(ctx, h.SandboxID, h.SessionID); err != nil && !errors.Is(err, ErrNotFound) {
			debug.Log("sandbox", "session delete failed", "sandbox_id", h.SandboxID, "session", h.SessionID, "error", err)
		}
	}
	if err := d.runtime.Destroy(ctx, h.SandboxID); err != nil && !errors.Is(err, ErrNotFound) {
		observability.SandboxOperationsTotal.WithLabelValues("destroy", "error").Inc()
		return fmt.Errorf("destroy sandbox %s: %w", h.SandboxID, err)
	}
	observability.SandboxOperationsTotal.WithLabelValues("destroy", "ok").Inc()
	slog.Info("sandbox deleted", "sandbox_id", h.SandboxID)
	return nil
}

// discard tears down a sandbox whose deployment failed part way. It uses
// a fresh context so cleanup still runs after the caller's context ended.
func (d *Driver) discard(h *Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Teardown(ctx, h); err != nil {
		slog.Warn("cleanup of failed sandbox failed", "sandbox_id", h.SandboxID, "error", err)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// nowFn is replaceable in tests for deterministic sandbox names.
var nowFn = time.Now
