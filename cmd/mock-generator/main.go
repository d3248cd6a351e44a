// Command mock-generator runs a deterministic Chat Completions server that
// stands in for the code generator in local runs and end-to-end tests. It
// recognizes each prompt the service sends and answers in the expected
// format: React components, repairs, evaluations, summaries and search
// queries.
//
// Configuration:
//
//	MOCK_PORT         - Listen port (default: 9090)
//	MOCK_BROKEN_FIRST - When "true", generated activities contain a syntax
//	                    error so the repair path runs (default: false)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}
	m := &mock{brokenFirst: os.Getenv("MOCK_BROKEN_FIRST") == "true"}

	srv := &http.Server{Addr: ":" + port, Handler: m.handler()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock generator starting", "port", port, "broken_first", m.brokenFirst)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock generator failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock generator shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type mock struct {
	brokenFirst bool
}

func (m *mock) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("POST /chat/completions", m.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// --- Request types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Handler ---

func (m *mock) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "invalid request", "type": "invalid_request_error"},
		})
		return
	}
	if req.Stream {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "streaming is not supported", "type": "invalid_request_error"},
		})
		return
	}

	prompt := lastUserMessage(&req)
	text := m.respond(prompt)

	model := req.Model
	if model == "" {
		model = "mock-model"
	}
	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(text))
	writeJSON(w, http.StatusOK, chatResponse{
		ID:     "chatcmpl-mock",
		Object: "chat.completion",
		Model:  model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

// respond picks the answer by the prompt's recognizable opening.
func (m *mock) respond(prompt string) string {
	switch {
	case strings.Contains(prompt, "failed with the errors below"):
		return fence(component(fieldValue(prompt, "TOPIC:"), "Fixed and ready to explore."))
	case strings.Contains(prompt, "You are iterating on an educational React activity"):
		return fence(component(fieldValue(prompt, "TOPIC:"), quotedRequest(prompt)))
	case strings.Contains(prompt, "Briefly describe what changed"):
		return "Updated the component to apply the tutor's request while keeping the existing interactions."
	case strings.Contains(prompt, "evaluating an AI-generated educational activity"):
		return evaluationJSON
	case strings.Contains(prompt, "Generate 2-3 specific search queries"):
		topic := fieldValue(prompt, "TOPIC:")
		queries, _ := json.Marshal([]string{topic + " explained", topic + " real world examples", topic + " common misconceptions"})
		return string(queries)
	case strings.Contains(prompt, "Generate a beautiful, interactive React web page"):
		code := component(fieldValue(prompt, "TOPIC:"), "Tap a card to reveal the answer.")
		if m.brokenFirst {
			code = strings.Replace(code, "useState(0);", "useState(0", 1)
		}
		return fence(code)
	default:
		return "Hello from the mock generator."
	}
}

func component(topic, subtitle string) string {
	if topic == "" {
		topic = "Practice"
	}
	return fmt.Sprintf(`import React, { useState } from 'react';

export default function App() {
  const [score, setScore] = useState(0);
  return (
    <div className="min-h-screen bg-gradient-to-br from-indigo-500 to-purple-600 p-8">
      <div className="mx-auto max-w-xl rounded-2xl bg-white p-6 shadow-xl">
        <h1 className="text-3xl font-bold text-indigo-700">%s</h1>
        <p className="mt-2 text-gray-600">%s</p>
        <button
          className="mt-6 rounded-lg bg-indigo-600 px-4 py-2 text-white"
          onClick={() => setScore(score + 1)}
        >
          Score: {score}
        </button>
      </div>
    </div>
  );
}
`, jsxText(topic), jsxText(subtitle))
}

const evaluationJSON = `{
  "overall_score": 7.5,
  "criteria": {
    "educational_value": {"score": 8, "reasoning": "Covers the core idea at the right level."},
    "engagement": {"score": 7, "reasoning": "Immediate feedback keeps attention."},
    "interactivity": {"score": 7, "reasoning": "One interaction loop with visible progress."},
    "creativity": {"score": 6, "reasoning": "Conventional card layout."},
    "code_quality": {"score": 8, "reasoning": "Small, idiomatic component."},
    "feasibility": {"score": 9, "reasoning": "Runs with react and react-dom only."}
  },
  "weaknesses": ["Limited variety of questions"],
  "improvements": ["Add a second round with harder questions"],
  "confidence": 0.8
}`

// --- Models endpoint ---

func handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": "mock-model", "object": "model", "owned_by": "tutorpilot-mock"},
		},
	})
}

// --- Helpers ---

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// fieldValue returns the rest of the first line starting with label.
func fieldValue(prompt, label string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), label); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// quotedRequest returns the line after "TUTOR'S REQUEST:" without quotes.
func quotedRequest(prompt string) string {
	_, after, ok := strings.Cut(prompt, "TUTOR'S REQUEST:")
	if !ok {
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(after), "\n")
	return strings.Trim(line, `"`)
}

// jsxText escapes characters that would end a JSX text node.
func jsxText(s string) string {
	return strings.NewReplacer("{", "&#123;", "}", "&#125;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func fence(code string) string {
	return "```jsx\n" + code + "```\n"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
