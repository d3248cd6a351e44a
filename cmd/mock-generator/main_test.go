package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/evaluate"
	"github.com/itsbakr/weave-tutor/pkg/knowledge"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/repair"
)

func newMockClient(t *testing.T, m *mock) *llm.OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(m.handler())
	t.Cleanup(srv.Close)
	c, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:        srv.URL + "/v1",
		APIKey:         "mock",
		Model:          "mock-model",
		InitialBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return c
}

func complete(t *testing.T, c llm.Client, prompt string) string {
	t.Helper()
	resp, err := c.Complete(context.Background(), llm.Request{Prompt: prompt})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return resp.Text
}

func TestMock_Generate(t *testing.T) {
	prompt := "Generate a beautiful, interactive React web page for an educational activity.\n\nTOPIC: Fractions\n"

	clean := repair.ExtractCode(complete(t, newMockClient(t, &mock{}), prompt))
	if !strings.Contains(clean, "export default function App") || !strings.Contains(clean, "Fractions") {
		t.Errorf("generated code = %q", clean)
	}
	if !strings.Contains(clean, "useState(0);") {
		t.Error("clean component should be syntactically complete")
	}

	broken := repair.ExtractCode(complete(t, newMockClient(t, &mock{brokenFirst: true}), prompt))
	if strings.Contains(broken, "useState(0);") {
		t.Error("broken component still contains the complete hook call")
	}
}

func TestMock_Repair(t *testing.T) {
	c := newMockClient(t, &mock{})
	fixed, err := repair.NewGenerator(c).Repair(context.Background(), repair.Input{
		Code:         "const [score, setScore] = useState(0",
		ErrorExcerpt: "SyntaxError: Unexpected token",
		Topic:        "Photosynthesis",
		Attempt:      1,
		MaxAttempts:  3,
	})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !strings.Contains(fixed, "Photosynthesis") || !strings.Contains(fixed, "useState(0);") {
		t.Errorf("repaired code = %q", fixed)
	}
}

func TestMock_EvaluationParses(t *testing.T) {
	text := complete(t, newMockClient(t, &mock{}), "You are a pedagogical expert evaluating an AI-generated educational activity.")
	ev, ok := evaluate.Parse(text)
	if !ok {
		t.Fatalf("evaluation did not parse: %q", text)
	}
	if ev.OverallScore != 7.5 || len(ev.Criteria) != 6 {
		t.Errorf("evaluation = %+v", ev)
	}
}

func TestMock_SearchQueries(t *testing.T) {
	text := complete(t, newMockClient(t, &mock{}), "Generate 2-3 specific search queries to research this educational topic.\n\nTOPIC: Volcanoes\n")
	qs := knowledge.ParseQueries(text)
	if len(qs) != 3 || qs[0] != "Volcanoes explained" {
		t.Errorf("queries = %v", qs)
	}
}

func TestMock_Chat(t *testing.T) {
	prompt := "You are iterating on an educational React activity.\n\nTUTOR'S REQUEST:\n\"Make it about <planets>\"\n\nTOPIC: Space\n"
	code := repair.ExtractCode(complete(t, newMockClient(t, &mock{}), prompt))
	if !strings.Contains(code, "Make it about &lt;planets&gt;") {
		t.Errorf("chat code = %q", code)
	}
	if classify.New().HasError(code) {
		t.Error("chat code should not look like an error log")
	}
}

func TestMock_RejectsStreaming(t *testing.T) {
	srv := httptest.NewServer((&mock{}).handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(`{"stream":true}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
