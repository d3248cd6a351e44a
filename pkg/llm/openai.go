package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/observability"
)

// Config configures an OpenAIClient.
type Config struct {
	// BaseURL of an OpenAI-compatible API, e.g. "https://api.openai.com/v1".
	BaseURL string
	APIKey  string
	Model   string

	// Timeout bounds a single HTTP round trip (default 120s).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt for
	// rate-limited, server-side and network failures (default 3).
	MaxRetries int

	// InitialBackoff is the first retry delay (default 1s).
	InitialBackoff time.Duration
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
}

// OpenAIClient talks to any chat-completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIClient creates a client for the configured endpoint.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	cfg.defaults()
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("llm: api key or base url is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	slog.Info("initializing generator client", "model", cfg.Model, "base_url", oc.BaseURL)
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.cfg.Model }

// Complete sends a chat completion with the system and user prompt and
// retries transient failures with exponential backoff.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = PurposeGenerate
	}

	creq := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	debug.Log("llm", "completion request", "purpose", purpose, "model", c.cfg.Model, "prompt_bytes", len(req.Prompt))
	debug.Raw("llm", req.Prompt)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)

	attempt := 0
	start := time.Now()
	resp, err := backoff.RetryWithData(func() (openai.ChatCompletionResponse, error) {
		attempt++
		r, err := c.client.CreateChatCompletion(ctx, creq)
		if err != nil {
			if !retryable(err) {
				return r, backoff.Permanent(err)
			}
			slog.Warn("generator request failed, retrying", "purpose", purpose, "attempt", attempt, "error", err)
			return r, err
		}
		return r, nil
	}, policy)
	observability.GeneratorLatency.WithLabelValues(c.cfg.Model, purpose).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.GeneratorRequestsTotal.WithLabelValues(c.cfg.Model, purpose, "error").Inc()
		return nil, fmt.Errorf("chat completion (%s): %w", purpose, err)
	}
	if len(resp.Choices) == 0 {
		observability.GeneratorRequestsTotal.WithLabelValues(c.cfg.Model, purpose, "error").Inc()
		return nil, ErrEmptyResponse
	}
	observability.GeneratorRequestsTotal.WithLabelValues(c.cfg.Model, purpose, "ok").Inc()
	observability.GeneratorTokensTotal.WithLabelValues(c.cfg.Model, "input").Add(float64(resp.Usage.PromptTokens))
	observability.GeneratorTokensTotal.WithLabelValues(c.cfg.Model, "output").Add(float64(resp.Usage.CompletionTokens))

	text := resp.Choices[0].Message.Content
	debug.Log("llm", "completion response", "purpose", purpose, "finish_reason", resp.Choices[0].FinishReason, "bytes", len(text))
	debug.Raw("llm", text)

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Response{
		Text:         text,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// retryable reports whether err is a rate limit, a server error or a
// transport failure. Client errors and context ends are permanent.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusRetryable(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusRetryable(reqErr.HTTPStatusCode)
	}
	return true
}

func statusRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
