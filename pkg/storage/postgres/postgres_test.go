package postgres

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

func init() {
	// Use the podman socket when no Docker host is configured.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			if sock := strings.TrimSpace(string(out)); sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
				// Ryuk needs privileged mode with podman.
				if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
					os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
				}
			}
		}
	}
}

// setupTestDB starts a PostgreSQL container and returns a migrated Store.
// Tests are skipped when no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	if testing.Short() {
		t.Skip("short mode, skipping PostgreSQL integration tests")
	}

	_, podmanErr := exec.LookPath("podman")
	_, dockerErr := exec.LookPath("docker")
	if podmanErr != nil && dockerErr != nil && os.Getenv("DOCKER_HOST") == "" {
		t.Skip("no container runtime found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("tutorpilot_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeTestActivity() *api.Activity {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &api.Activity{
		ID:          api.NewID(),
		TutorID:     "tutor-1",
		StudentID:   "student-1",
		Title:       "Photosynthesis - Interactive Activity",
		Type:        api.ActivityTypeInteractive,
		Topic:       "Photosynthesis",
		Description: "drag the molecules",
		Duration:    20,
		Code:        "export default function App() { return <div/>; }",
		Language:    api.LanguageJavaScript,
		SandboxID:   "sbx-1",
		SandboxURL:  "https://5173-sbx-1.preview.local",
		Deployment: api.Deployment{
			Status:       "success",
			AttemptsUsed: 2,
			SandboxID:    "sbx-1",
			PreviewURL:   "https://5173-sbx-1.preview.local",
			Attempts: []api.AttemptSummary{
				{Number: 1, Outcome: "failed_runtime", Category: "syntax_error", ErrorExcerpt: "SyntaxError: Unexpected token"},
				{Number: 2, Outcome: "succeeded"},
			},
		},
		Evaluation: &api.Evaluation{
			OverallScore: 8.5,
			Criteria: map[string]api.CriterionScore{
				"clarity": {Score: 9, Reasoning: "clear"},
			},
			Weaknesses:   []string{"no sound"},
			Improvements: []string{"add hints"},
			Confidence:   0.8,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgres_MigrationsAreIdempotent(t *testing.T) {
	store := setupTestDB(t)

	if err := store.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := store.pool.QueryRow(context.Background(), "SELECT count(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	want, _ := pendingMigrations()
	if count != len(want) {
		t.Errorf("schema_migrations rows = %d, want %d", count, len(want))
	}
}

func TestPostgres_StudentsAndLessons(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	st := &api.Student{
		ID: "student-1", TutorID: "tutor-1", Name: "Ada", Grade: "8",
		Interests: []string{"space", "music"},
	}
	if err := store.SaveStudent(ctx, st); err != nil {
		t.Fatalf("SaveStudent: %v", err)
	}
	st.Grade = "9"
	if err := store.SaveStudent(ctx, st); err != nil {
		t.Fatalf("SaveStudent (update): %v", err)
	}
	got, err := store.GetStudent(ctx, "student-1")
	if err != nil {
		t.Fatalf("GetStudent: %v", err)
	}
	if got.Grade != "9" || len(got.Interests) != 2 || got.Subject != "" {
		t.Errorf("student = %+v", got)
	}

	lesson := &api.Lesson{
		ID: "lesson-1", TutorID: "tutor-1", StudentID: "student-1",
		Title: "Plants", Topic: "Photosynthesis",
		Sources:            []api.Source{{Title: "Wiki", URL: "https://example.org"}},
		LearningObjectives: []string{"explain chlorophyll"},
		Phases:             []api.LessonPhase{{Name: "Explore"}},
	}
	if err := store.SaveLesson(ctx, lesson); err != nil {
		t.Fatalf("SaveLesson: %v", err)
	}
	gotLesson, err := store.GetLesson(ctx, "lesson-1")
	if err != nil {
		t.Fatalf("GetLesson: %v", err)
	}
	if len(gotLesson.Sources) != 1 || gotLesson.Sources[0].URL != "https://example.org" {
		t.Errorf("sources = %+v", gotLesson.Sources)
	}
	if len(gotLesson.Phases) != 1 || gotLesson.Phases[0].Name != "Explore" {
		t.Errorf("phases = %+v", gotLesson.Phases)
	}

	if _, err := store.GetStudent(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetStudent(missing) = %v, want ErrNotFound", err)
	}
	if _, err := store.GetLesson(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetLesson(missing) = %v, want ErrNotFound", err)
	}
}

func TestPostgres_ActivityRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	a := makeTestActivity()
	if err := store.SaveActivity(ctx, a); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}

	got, err := store.GetActivity(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	if got.Code != a.Code || got.SandboxURL != a.SandboxURL || got.LessonID != "" {
		t.Errorf("activity fields mismatch: %+v", got)
	}
	if got.Deployment.AttemptsUsed != 2 || len(got.Deployment.Attempts) != 2 {
		t.Errorf("deployment = %+v", got.Deployment)
	}
	if got.Deployment.Attempts[0].Category != "syntax_error" {
		t.Errorf("attempt category = %q", got.Deployment.Attempts[0].Category)
	}
	if got.Evaluation == nil || got.Evaluation.OverallScore != 8.5 {
		t.Errorf("evaluation = %+v", got.Evaluation)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, a.CreatedAt)
	}

	if err := store.SaveActivity(ctx, a); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate SaveActivity = %v, want ErrConflict", err)
	}
}

func TestPostgres_UpdateActivity(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	a := makeTestActivity()
	if err := store.SaveActivity(ctx, a); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}

	a.Code = "export default function App() { return <p/>; }"
	a.IterationCount = 1
	a.Evaluation = nil
	a.Deployment = api.Deployment{Status: "failed", AttemptsUsed: 1, Diagnostic: "ReferenceError"}
	a.UpdatedAt = time.Now()
	if err := store.UpdateActivity(ctx, a); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}

	got, err := store.GetActivity(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	if got.Code != a.Code || got.IterationCount != 1 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Evaluation != nil {
		t.Errorf("evaluation should be cleared, got %+v", got.Evaluation)
	}
	if got.Deployment.Status != "failed" || got.Deployment.Diagnostic != "ReferenceError" {
		t.Errorf("deployment = %+v", got.Deployment)
	}

	missing := makeTestActivity()
	if err := store.UpdateActivity(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateActivity(missing) = %v, want ErrNotFound", err)
	}
}

func TestPostgres_ChatHistory(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	a := makeTestActivity()
	if err := store.SaveActivity(ctx, a); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}

	base := time.Now().UTC()
	msgs := []api.ChatMessage{
		{ActivityID: a.ID, Type: api.MessageTypeTutorRequest, Content: "make it blue", CreatedAt: base},
		{ActivityID: a.ID, Type: api.MessageTypeAgentResponse, Content: "Made it blue.", CodeSnapshot: "code", SandboxURL: "https://x", CreatedAt: base.Add(time.Second)},
	}
	// Insert out of order to check ordering.
	for _, i := range []int{1, 0} {
		if err := store.AddChatMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("AddChatMessage: %v", err)
		}
	}

	got, err := store.ListChatMessages(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Type != api.MessageTypeTutorRequest || got[1].CodeSnapshot != "code" {
		t.Errorf("messages out of order: %+v", got)
	}
	if got[0].ID == "" {
		t.Error("message ID should be assigned")
	}

	if err := store.AddChatMessage(ctx, &api.ChatMessage{ActivityID: "missing", Content: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AddChatMessage(missing activity) = %v, want ErrNotFound", err)
	}
	if _, err := store.ListChatMessages(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ListChatMessages(missing) = %v, want ErrNotFound", err)
	}
}

func TestPostgres_FixAttempts(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	fixes := []api.FixAttempt{
		{Category: "syntax_error", Attempt: 1, OriginalBytes: 100, FixedBytes: 120, Confidence: 0.6, CreatedAt: base},
		{Category: "import_error", Attempt: 1, OriginalBytes: 100, FixedBytes: 90, Confidence: 0.6, CreatedAt: base.Add(time.Second)},
		{Category: "syntax_error", Attempt: 2, OriginalBytes: 120, FixedBytes: 120, RepairFailed: true, CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range fixes {
		if err := store.SaveFixAttempt(ctx, &fixes[i]); err != nil {
			t.Fatalf("SaveFixAttempt: %v", err)
		}
	}

	tests := []struct {
		name      string
		category  string
		limit     int
		wantCount int
		firstTry  int
	}{
		{"all", "", 0, 3, 2},
		{"filtered", "syntax_error", 10, 2, 2},
		{"limited", "", 1, 1, 2},
		{"unknown category", "type_error", 10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListFixAttempts(ctx, tt.category, tt.limit)
			if err != nil {
				t.Fatalf("ListFixAttempts: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("got %d, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Attempt != tt.firstTry {
				t.Errorf("newest attempt = %d, want %d", got[0].Attempt, tt.firstTry)
			}
		})
	}
}

func TestPostgres_PerformanceMetric(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	m := &api.PerformanceMetric{
		AgentType:        "activity_creator",
		AgentID:          "activity-1",
		SuccessRate:      1,
		ConfidenceScores: []float64{0.8},
		Evaluation:       &api.Evaluation{OverallScore: 8},
	}
	if err := store.SavePerformanceMetric(ctx, m); err != nil {
		t.Fatalf("SavePerformanceMetric: %v", err)
	}

	var agentType string
	var scores []float64
	if err := store.pool.QueryRow(ctx,
		"SELECT agent_type, confidence_scores FROM performance_metrics WHERE agent_id = $1", "activity-1",
	).Scan(&agentType, &scores); err != nil {
		t.Fatalf("querying metric: %v", err)
	}
	if agentType != "activity_creator" || len(scores) != 1 || scores[0] != 0.8 {
		t.Errorf("metric = %q %v", agentType, scores)
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestPostgres_TenantIsolation(t *testing.T) {
	store := setupTestDB(t)

	ctxA := storage.SetTenant(context.Background(), "tenant-a")
	ctxB := storage.SetTenant(context.Background(), "tenant-b")

	a := makeTestActivity()
	if err := store.SaveActivity(ctxA, a); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}

	if _, err := store.GetActivity(ctxA, a.ID); err != nil {
		t.Fatalf("tenant A should see own activity: %v", err)
	}
	if _, err := store.GetActivity(ctxB, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tenant B should not see tenant A's activity")
	}
	if err := store.UpdateActivity(ctxB, a); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tenant B should not update tenant A's activity")
	}
	if err := store.AddChatMessage(ctxB, &api.ChatMessage{ActivityID: a.ID, Content: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tenant B should not chat on tenant A's activity")
	}

	// No tenant sees everything (single-tenant mode).
	if _, err := store.GetActivity(context.Background(), a.ID); err != nil {
		t.Fatalf("no-tenant should see all: %v", err)
	}
}
