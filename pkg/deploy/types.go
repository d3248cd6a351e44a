package deploy

import (
	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
)

// DefaultMaxAttempts is the attempt bound used when callers do not set one.
const DefaultMaxAttempts = 3

// Bounds on text carried in attempts and results.
const (
	MaxExcerptBytes    = 2000
	MaxDiagnosticBytes = 500
)

// Outcome is the terminal state of one attempt.
type Outcome string

const (
	OutcomePending            Outcome = "pending"
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeFailedRuntime      Outcome = "failed_runtime"
	OutcomeFailedProvisioning Outcome = "failed_provisioning"
)

// Failed reports whether o is one of the failure outcomes.
func (o Outcome) Failed() bool {
	return o == OutcomeFailedRuntime || o == OutcomeFailedProvisioning
}

// Status is the final status of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Context is passed through to repair prompts and to the sandbox driver.
// SessionKey names and labels sandboxes and is never used for authorization.
type Context struct {
	Topic      string
	SessionKey string
}

// Attempt is one try at getting code running.
type Attempt struct {
	Number int
	Code   string

	// Sandbox is non-nil only while the attempt's sandbox is live.
	Sandbox *sandbox.Handle

	Outcome      Outcome
	ErrorExcerpt string
	Category     classify.Category
}

// record returns the persisted summary of a.
func (a *Attempt) record() AttemptRecord {
	return AttemptRecord{
		Number:       a.Number,
		Outcome:      a.Outcome,
		Category:     a.Category,
		ErrorExcerpt: a.ErrorExcerpt,
		CodeBytes:    len(a.Code),
	}
}

// AttemptRecord summarizes a finished attempt.
type AttemptRecord struct {
	Number       int               `json:"number"`
	Outcome      Outcome           `json:"outcome"`
	Category     classify.Category `json:"category"`
	ErrorExcerpt string            `json:"error_excerpt,omitempty"`
	CodeBytes    int               `json:"code_bytes"`
}

// Result is the terminal output of Run. PreviewAddress and SandboxID are
// set only on success, Diagnostic only on failure.
type Result struct {
	Status         Status          `json:"status"`
	FinalCode      string          `json:"final_code"`
	AttemptsUsed   int             `json:"attempts_used"`
	PreviewAddress string          `json:"preview_address,omitempty"`
	Diagnostic     string          `json:"diagnostic,omitempty"`
	SandboxID      string          `json:"sandbox_id,omitempty"`
	Attempts       []AttemptRecord `json:"attempts"`
}

// Succeeded reports whether the run produced a live preview.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
