package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/observability"
	"github.com/itsbakr/weave-tutor/pkg/repair"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
)

// ErrInvalidArgument is returned by Run for precondition violations.
var ErrInvalidArgument = errors.New("invalid argument")

// Deployer provisions and releases sandboxes. *sandbox.Driver implements it.
type Deployer interface {
	Deploy(ctx context.Context, code, sessionKey string) (*sandbox.Handle, error)
	Teardown(ctx context.Context, h *sandbox.Handle) error
}

var _ Deployer = (*sandbox.Driver)(nil)

// Config holds optional collaborators of an Orchestrator.
type Config struct {
	// Classifier judges dev server output. Nil selects the keyword classifier.
	Classifier classify.Classifier

	// Observers receive attempt and repair events in order.
	Observers []Observer

	// TeardownTimeout bounds each teardown call (default 30s). Teardown runs
	// even when the caller's context is already done.
	TeardownTimeout time.Duration
}

// Orchestrator runs the auto-fix loop. It holds no per-run state and is
// safe for concurrent use by independent sessions.
type Orchestrator struct {
	deployer Deployer
	repairer repair.Repairer
	cfg      Config
}

// New creates an Orchestrator. The deployer and repairer must not be nil.
func New(d Deployer, r repair.Repairer, cfg Config) (*Orchestrator, error) {
	if d == nil {
		return nil, fmt.Errorf("deploy: deployer must not be nil")
	}
	if r == nil {
		return nil, fmt.Errorf("deploy: repairer must not be nil")
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New()
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 30 * time.Second
	}
	return &Orchestrator{deployer: d, repairer: r, cfg: cfg}, nil
}

// Run deploys initialCode and repairs it until it runs cleanly or
// maxAttempts deployments have been made. Exhaustion is reported as a
// failed Result, not an error. On success the last sandbox stays live;
// on failure every sandbox has been torn down.
func (o *Orchestrator) Run(ctx context.Context, initialCode string, dc Context, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidArgument, maxAttempts)
	}
	if initialCode == "" {
		return nil, fmt.Errorf("%w: initial code is empty", ErrInvalidArgument)
	}

	observability.DeploymentsInFlight.Inc()
	defer observability.DeploymentsInFlight.Dec()
	start := time.Now()

	code := initialCode
	records := make([]AttemptRecord, 0, maxAttempts)
	var last *Attempt

	for n := 1; n <= maxAttempts; n++ {
		a := o.attempt(ctx, n, code, dc)
		records = append(records, a.record())
		last = a

		observability.DeploymentAttemptsTotal.WithLabelValues(string(a.Outcome), string(a.Category)).Inc()
		o.notifyAttempt(ctx, dc, *a)

		if a.Outcome == OutcomeSucceeded {
			slog.Info("deployment succeeded", "session", dc.SessionKey, "attempt", n, "max_attempts", maxAttempts, "sandbox_id", a.Sandbox.SandboxID)
			return o.finish(start, &Result{
				Status:         StatusSuccess,
				FinalCode:      code,
				AttemptsUsed:   n,
				PreviewAddress: a.Sandbox.PreviewURL,
				SandboxID:      a.Sandbox.SandboxID,
				Attempts:       records,
			}), nil
		}

		slog.Warn("deployment attempt failed",
			"session", dc.SessionKey,
			"attempt", n,
			"max_attempts", maxAttempts,
			"outcome", a.Outcome,
			"category", a.Category,
		)

		if n < maxAttempts {
			code = o.repair(ctx, dc, a, maxAttempts)
		}
		o.release(ctx, a)
	}

	return o.finish(start, &Result{
		Status:       StatusFailed,
		FinalCode:    last.Code,
		AttemptsUsed: last.Number,
		Diagnostic:   debug.Clip(last.ErrorExcerpt, MaxDiagnosticBytes),
		Attempts:     records,
	}), nil
}

// attempt deploys code once and classifies the result.
func (o *Orchestrator) attempt(ctx context.Context, n int, code string, dc Context) *Attempt {
	a := &Attempt{Number: n, Code: code, Outcome: OutcomePending}
	debug.Log("deploy", "attempt started", "session", dc.SessionKey, "attempt", n, "code_bytes", len(code))

	h, err := o.deployer.Deploy(ctx, code, dc.SessionKey)
	if err != nil {
		a.Outcome = OutcomeFailedProvisioning
		a.ErrorExcerpt = debug.Clip("sandbox provisioning failed: "+err.Error(), MaxExcerptBytes)
		a.Category = classify.CategoryUnknown
		return a
	}
	a.Sandbox = h

	hasError := o.cfg.Classifier.HasError(h.Logs)
	switch {
	case !hasError && h.Running:
		a.Outcome = OutcomeSucceeded
		a.Category = classify.CategoryNone
	case hasError:
		a.Outcome = OutcomeFailedRuntime
		a.ErrorExcerpt = debug.Clip(h.Logs, MaxExcerptBytes)
		a.Category = o.cfg.Classifier.Classify(h.Logs)
	default:
		a.Outcome = OutcomeFailedRuntime
		excerpt := "dev server is not running"
		if h.ExitCode != nil {
			excerpt = fmt.Sprintf("dev server is not running (exit code %d)", *h.ExitCode)
		}
		if logs := strings.TrimSpace(h.Logs); logs != "" {
			excerpt += "\n" + logs
		}
		a.ErrorExcerpt = debug.Clip(excerpt, MaxExcerptBytes)
		a.Category = classify.CategoryUnknown
	}
	return a
}

// repair returns the code for the next attempt. A failing repairer or an
// empty repair yields the current code unchanged.
func (o *Orchestrator) repair(ctx context.Context, dc Context, a *Attempt, maxAttempts int) string {
	fixed, err := o.repairer.Repair(ctx, repair.Input{
		Code:         a.Code,
		ErrorExcerpt: a.ErrorExcerpt,
		Topic:        dc.Topic,
		Attempt:      a.Number,
		MaxAttempts:  maxAttempts,
	})
	if err != nil {
		slog.Warn("repair failed, retrying with unchanged code", "session", dc.SessionKey, "attempt", a.Number, "error", err)
		fixed = a.Code
	}
	if fixed == "" {
		fixed = a.Code
	}

	o.notifyRepair(ctx, dc, RepairEvent{
		Attempt:      a.Number,
		Category:     a.Category,
		ErrorExcerpt: a.ErrorExcerpt,
		OriginalCode: a.Code,
		RepairedCode: fixed,
		Err:          err,
	})
	return fixed
}

// release tears down the attempt's sandbox. Failures are logged only.
func (o *Orchestrator) release(ctx context.Context, a *Attempt) {
	if a.Sandbox == nil {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TeardownTimeout)
	defer cancel()

	if err := o.deployer.Teardown(tctx, a.Sandbox); err != nil {
		slog.Warn("sandbox teardown failed", "sandbox_id", a.Sandbox.SandboxID, "attempt", a.Number, "error", err)
	}
	a.Sandbox = nil
}

func (o *Orchestrator) finish(start time.Time, r *Result) *Result {
	observability.DeploymentsTotal.WithLabelValues(string(r.Status)).Inc()
	observability.AttemptsUsed.Observe(float64(r.AttemptsUsed))
	observability.DeploymentDuration.WithLabelValues(string(r.Status)).Observe(time.Since(start).Seconds())
	return r
}

func (o *Orchestrator) notifyAttempt(ctx context.Context, dc Context, a Attempt) {
	for _, obs := range o.cfg.Observers {
		obs.AttemptCompleted(ctx, dc, a)
	}
}

func (o *Orchestrator) notifyRepair(ctx context.Context, dc Context, ev RepairEvent) {
	for _, obs := range o.cfg.Observers {
		obs.RepairCompleted(ctx, dc, ev)
	}
}
