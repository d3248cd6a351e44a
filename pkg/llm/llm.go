// Package llm defines the code generator capability used by the workflow
// and the repair generator, and an OpenAI-compatible implementation of it.
package llm

import (
	"context"
	"errors"
)

// Purposes label requests in logs and metrics.
const (
	PurposeGenerate  = "generate"
	PurposeRepair    = "repair"
	PurposeEvaluate  = "evaluate"
	PurposeChat      = "chat"
	PurposeSummarize = "summarize"
	PurposeResearch  = "research"
)

// ErrEmptyResponse is returned when the backend answers without any choice.
var ErrEmptyResponse = errors.New("generator returned no choices")

// Request is a single-turn completion.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int

	// Purpose is one of the Purpose constants.
	Purpose string
}

// Response is the generated text plus token usage.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client generates text. Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
