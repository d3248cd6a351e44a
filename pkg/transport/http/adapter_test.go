package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/activity"
	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/evaluate"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
	"github.com/itsbakr/weave-tutor/pkg/storage"
	"github.com/itsbakr/weave-tutor/pkg/storage/memory"
	"github.com/itsbakr/weave-tutor/pkg/transport"
)

// fakeService records requests and returns canned results.
type fakeService struct {
	createErr error
	block     chan struct{}

	mu        sync.Mutex

	created   []api.CreateActivityRequest
	redeploys []api.RedeployRequest
	chats     []api.ChatRequest
}

func (f *fakeService) Create(ctx context.Context, req api.CreateActivityRequest) (*api.ActivityResult, error) {
	f.mu.Lock()
	f.created = append(f.created, req)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &api.ActivityResult{Success: true, ActivityID: "act-1", SandboxURL: "https://preview.example/act-1"}, nil
}

func (f *fakeService) createdSnapshot() []api.CreateActivityRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.CreateActivityRequest(nil), f.created...)
}

func (f *fakeService) Redeploy(_ context.Context, req api.RedeployRequest) (*api.RedeployResult, error) {
	f.redeploys = append(f.redeploys, req)
	return &api.RedeployResult{Success: true, ActivityID: req.ActivityID, SandboxID: "sb-2"}, nil
}

func (f *fakeService) Chat(_ context.Context, req api.ChatRequest) (*api.ChatResult, error) {
	f.chats = append(f.chats, req)
	return &api.ChatResult{Success: true, NewCode: "code", Explanation: "Made the button bigger", Deployed: true}, nil
}

func (f *fakeService) History(_ context.Context, id string) (*api.ChatHistory, error) {
	if id != "act-1" {
		return nil, fmt.Errorf("activity %s: %w", id, storage.ErrNotFound)
	}
	return &api.ChatHistory{Success: true, ActivityID: id, Messages: []api.ChatMessage{{Content: "hi"}}, TotalMessages: 1}, nil
}

func (f *fakeService) Get(_ context.Context, id string) (*api.Activity, error) {
	if id != "act-1" {
		return nil, fmt.Errorf("activity %s: %w", id, storage.ErrNotFound)
	}
	return &api.Activity{ID: id, Topic: "Fractions"}, nil
}

func (f *fakeService) SaveStudent(_ context.Context, s api.Student) (*api.Student, error) {
	return &s, nil
}

func (f *fakeService) GetStudent(_ context.Context, id string) (*api.Student, error) {
	return nil, fmt.Errorf("student %s: %w", id, storage.ErrNotFound)
}

func (f *fakeService) SaveLesson(_ context.Context, l api.Lesson) (*api.Lesson, error) {
	return &l, nil
}

func newTestAdapter(svc transport.ActivityService) http.Handler {
	cfg := DefaultConfig()
	cfg.MaxBodySize = 4096
	return NewAdapter(svc, cfg, transport.Recovery(), transport.RequestID()).Handler()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encoding body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) *api.APIError {
	t.Helper()
	var body api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func validCreate() api.CreateActivityRequest {
	return api.CreateActivityRequest{
		StudentID:           "student-1",
		TutorID:             "tutor-1",
		Topic:               "Fractions",
		ActivityDescription: "Drag pieces to build fractions",
	}
}

func TestCreateActivity(t *testing.T) {
	svc := &fakeService{}
	h := newTestAdapter(svc)

	rec := postJSON(t, h, "/api/v1/agents/activity", validCreate())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got api.ActivityResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Success || got.ActivityID != "act-1" {
		t.Errorf("result = %+v", got)
	}
	if created := svc.createdSnapshot(); len(created) != 1 || created[0].Topic != "Fractions" {
		t.Errorf("service saw %+v", svc.createdSnapshot())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestCreateActivityErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		ctype      string
		svcErr     error
		wantStatus int
		wantType   api.ErrorType
		wantParam  string
	}{
		{
			name:       "invalid json",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantType:   api.ErrorTypeInvalidRequest,
			wantParam:  "body",
		},
		{
			name:       "missing topic",
			body:       api.CreateActivityRequest{StudentID: "s", TutorID: "t", ActivityDescription: "d"},
			wantStatus: http.StatusBadRequest,
			wantType:   api.ErrorTypeInvalidRequest,
			wantParam:  "topic",
		},
		{
			name:       "body too large",
			body:       api.CreateActivityRequest{StudentID: "s", TutorID: "t", Topic: "x", ActivityDescription: strings.Repeat("a", 5000)},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantType:   api.ErrorTypeInvalidRequest,
			wantParam:  "body",
		},
		{
			name:       "unknown lesson",
			body:       api.CreateActivityRequest{StudentID: "s", TutorID: "t", LessonID: "missing"},
			svcErr:     fmt.Errorf("lesson missing: %w", storage.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantType:   api.ErrorTypeNotFound,
		},
		{
			name:       "generator failure",
			body:       validCreate(),
			svcErr:     fmt.Errorf("%w: empty response", activity.ErrGeneration),
			wantStatus: http.StatusBadGateway,
			wantType:   api.ErrorTypeGeneratorError,
		},
		{
			name:       "unexpected failure",
			body:       validCreate(),
			svcErr:     errors.New("database on fire"),
			wantStatus: http.StatusInternalServerError,
			wantType:   api.ErrorTypeServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestAdapter(&fakeService{createErr: tt.svcErr})
			rec := postJSON(t, h, "/api/v1/agents/activity", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			e := errorOf(t, rec)
			if e.Type != tt.wantType || e.Param != tt.wantParam {
				t.Errorf("error = %+v, want type %q param %q", e, tt.wantType, tt.wantParam)
			}
		})
	}
}

func TestUnsupportedContentType(t *testing.T) {
	h := newTestAdapter(&fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/activity", strings.NewReader("topic=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestConcurrentCreateForSameStudentConflicts(t *testing.T) {
	svc := &fakeService{block: make(chan struct{})}
	h := newTestAdapter(svc)

	first := make(chan int, 1)
	go func() { first <- postJSON(t, h, "/api/v1/agents/activity", validCreate()).Code }()

	deadline := time.Now().Add(2 * time.Second)
	for len(svc.createdSnapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec := postJSON(t, h, "/api/v1/agents/activity", validCreate())
	if rec.Code != http.StatusConflict {
		t.Errorf("second status = %d, want 409", rec.Code)
	}

	close(svc.block)
	if code := <-first; code != http.StatusOK {
		t.Errorf("first status = %d, want 200", code)
	}
}

func TestRedeployAndChat(t *testing.T) {
	svc := &fakeService{}
	h := newTestAdapter(svc)

	rec := postJSON(t, h, "/api/v1/agents/activity/redeploy", api.RedeployRequest{ActivityID: "act-1", StudentID: "student-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("redeploy status = %d: %s", rec.Code, rec.Body.String())
	}
	var rr api.RedeployResult
	json.Unmarshal(rec.Body.Bytes(), &rr)
	if rr.SandboxID != "sb-2" {
		t.Errorf("redeploy result = %+v", rr)
	}

	rec = postJSON(t, h, "/api/v1/activity/chat", api.ChatRequest{ActivityID: "act-1", TutorID: "tutor-1", Message: "Make the button bigger"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", rec.Code, rec.Body.String())
	}
	var cr api.ChatResult
	json.Unmarshal(rec.Body.Bytes(), &cr)
	if !cr.Deployed || cr.Explanation == "" {
		t.Errorf("chat result = %+v", cr)
	}

	rec = postJSON(t, h, "/api/v1/activity/chat", api.ChatRequest{ActivityID: "act-1", TutorID: "tutor-1"})
	if rec.Code != http.StatusBadRequest || errorOf(t, rec).Param != "message" {
		t.Errorf("empty message: status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, h, "/api/v1/agents/activity/redeploy", api.RedeployRequest{ActivityID: "act-1"})
	if rec.Code != http.StatusBadRequest || errorOf(t, rec).Param != "student_id" {
		t.Errorf("missing student: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestGetEndpoints(t *testing.T) {
	h := newTestAdapter(&fakeService{})
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"activity", "/api/v1/activities/act-1", http.StatusOK, `"topic":"Fractions"`},
		{"activity missing", "/api/v1/activities/nope", http.StatusNotFound, `"not_found"`},
		{"history", "/api/v1/activity/chat/act-1", http.StatusOK, `"total_messages":1`},
		{"history missing", "/api/v1/activity/chat/nope", http.StatusNotFound, `"not_found"`},
		{"healthz", "/healthz", http.StatusOK, "ok"},
		{"readyz", "/readyz", http.StatusOK, "ready"},
		{"metrics", "/metrics", http.StatusOK, "tutorpilot_requests_total"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestReadyzReportsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ready = func(context.Context) error { return errors.New("postgres down") }
	h := NewAdapter(&fakeService{}, cfg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	h := newTestAdapter(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activities/act-1", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-id-1" {
		t.Errorf("X-Request-ID = %q, want client-id-1", got)
	}
}

func TestOuterMiddlewareRuns(t *testing.T) {
	a := NewAdapter(&fakeService{}, DefaultConfig())
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			transport.WriteAPIError(w, api.NewUnauthorizedError("no"))
		})
	}
	rec := httptest.NewRecorder()
	a.Handler(deny).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/activities/act-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMount(t *testing.T) {
	a := NewAdapter(&fakeService{}, DefaultConfig())
	a.Mount("/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}

// previewRunner reports every deployment as live on the first attempt.
type previewRunner struct{}

func (previewRunner) Run(_ context.Context, code string, _ deploy.Context, _ int) (*deploy.Result, error) {
	return &deploy.Result{
		Status:         deploy.StatusSuccess,
		FinalCode:      code,
		AttemptsUsed:   1,
		SandboxID:      "sbx-1",
		PreviewAddress: "http://127.0.0.1:3000",
	}, nil
}

type noopReleaser struct{}

func (noopReleaser) Teardown(context.Context, *sandbox.Handle) error { return nil }

type fixedEvaluator struct{}

func (fixedEvaluator) Evaluate(context.Context, evaluate.Input) (*api.Evaluation, error) {
	return &api.Evaluation{OverallScore: 8, Confidence: 0.9}, nil
}

func TestCreateOnFreshMemoryStore(t *testing.T) {
	gen := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "```jsx\nexport default function App() { return <div>Fractions</div>; }\n```"}, nil
	})
	wf, err := activity.New(activity.Config{
		Store:     memory.New(0),
		Generator: gen,
		Runner:    previewRunner{},
		Releaser:  noopReleaser{},
		Evaluator: fixedEvaluator{},
	})
	if err != nil {
		t.Fatalf("activity.New: %v", err)
	}
	h := newTestAdapter(wf)

	if rec := postJSON(t, h, "/api/v1/agents/activity", validCreate()); rec.Code != http.StatusNotFound {
		t.Fatalf("create before student exists: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if rec := postJSON(t, h, "/api/v1/data/students", api.Student{TutorID: "tutor-1"}); rec.Code != http.StatusBadRequest || errorOf(t, rec).Param != "name" {
		t.Fatalf("student without name: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec := postJSON(t, h, "/api/v1/data/students", api.Student{ID: "student-1", TutorID: "tutor-1", Name: "Ada", Grade: "5"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("save student: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/data/students/student-1", nil)
	got := httptest.NewRecorder()
	h.ServeHTTP(got, req)
	if got.Code != http.StatusOK || !strings.Contains(got.Body.String(), `"name":"Ada"`) {
		t.Fatalf("get student: status = %d, body = %s", got.Code, got.Body.String())
	}

	rec = postJSON(t, h, "/api/v1/agents/activity", validCreate())
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created api.ActivityResult
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if !created.Success || created.ActivityID == "" || created.SandboxURL != "http://127.0.0.1:3000" {
		t.Errorf("result = %+v", created)
	}

	rec = postJSON(t, h, "/api/v1/data/lessons", api.Lesson{TutorID: "tutor-1", StudentID: "student-1", Topic: "Fractions"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("save lesson: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var lesson api.Lesson
	if err := json.Unmarshal(rec.Body.Bytes(), &lesson); err != nil {
		t.Fatal(err)
	}
	fromLesson := api.CreateActivityRequest{StudentID: "student-1", TutorID: "tutor-1", LessonID: lesson.ID}
	if rec := postJSON(t, h, "/api/v1/agents/activity", fromLesson); rec.Code != http.StatusOK {
		t.Fatalf("create from lesson: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	orphan := api.Lesson{TutorID: "tutor-1", StudentID: "nobody", Topic: "Fractions"}
	if rec := postJSON(t, h, "/api/v1/data/lessons", orphan); rec.Code != http.StatusNotFound {
		t.Errorf("lesson for unknown student: status = %d", rec.Code)
	}
}
