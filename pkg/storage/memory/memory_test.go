package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

func makeActivity(id string) *api.Activity {
	now := time.Now()
	return &api.Activity{
		ID:        id,
		TutorID:   "tutor-1",
		StudentID: "student-1",
		Title:     "Fractions - Interactive Activity",
		Type:      api.ActivityTypeInteractive,
		Topic:     "Fractions",
		Code:      "export default function App() { return null; }",
		Language:  api.LanguageJavaScript,
		Deployment: api.Deployment{
			Status:       "success",
			AttemptsUsed: 2,
			Attempts:     []api.AttemptSummary{{Number: 1, Outcome: "failed_runtime"}, {Number: 2, Outcome: "succeeded"}},
		},
		Evaluation: &api.Evaluation{OverallScore: 8},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSaveAndGetActivity(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	if err := s.SaveActivity(ctx, makeActivity("a1")); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}

	got, err := s.GetActivity(ctx, "a1")
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	if got.Topic != "Fractions" || got.Deployment.AttemptsUsed != 2 || len(got.Deployment.Attempts) != 2 {
		t.Errorf("activity = %+v", got)
	}

	// Mutating the returned copy must not change the stored record.
	got.Deployment.Attempts[0].Outcome = "mutated"
	got.Evaluation.OverallScore = 1
	again, _ := s.GetActivity(ctx, "a1")
	if again.Deployment.Attempts[0].Outcome != "failed_runtime" || again.Evaluation.OverallScore != 8 {
		t.Errorf("stored activity aliased by caller: %+v", again)
	}
}

func TestSaveActivityConflict(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	_ = s.SaveActivity(ctx, makeActivity("a1"))

	if err := s.SaveActivity(ctx, makeActivity("a1")); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestGetActivityNotFound(t *testing.T) {
	s := New(0)
	if _, err := s.GetActivity(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateActivity(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	a := makeActivity("a1")
	created := a.CreatedAt
	_ = s.SaveActivity(ctx, a)

	a.Code = "new code"
	a.IterationCount = 1
	a.CreatedAt = time.Time{}
	if err := s.UpdateActivity(ctx, a); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}

	got, _ := s.GetActivity(ctx, "a1")
	if got.Code != "new code" || got.IterationCount != 1 {
		t.Errorf("activity = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed to %v", got.CreatedAt)
	}

	if err := s.UpdateActivity(ctx, makeActivity("missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New(0)
	ctxA := storage.SetTenant(context.Background(), "tutor-a")
	ctxB := storage.SetTenant(context.Background(), "tutor-b")

	_ = s.SaveActivity(ctxA, makeActivity("a1"))

	if _, err := s.GetActivity(ctxA, "a1"); err != nil {
		t.Errorf("owner GetActivity: %v", err)
	}
	if _, err := s.GetActivity(ctxB, "a1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other tenant GetActivity = %v, want ErrNotFound", err)
	}
	if err := s.AddChatMessage(ctxB, &api.ChatMessage{ID: "m1", ActivityID: "a1"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other tenant AddChatMessage = %v, want ErrNotFound", err)
	}
	if _, err := s.GetActivity(context.Background(), "a1"); err != nil {
		t.Errorf("single-tenant GetActivity: %v", err)
	}
}

func TestChatMessagesOrdered(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	_ = s.SaveActivity(ctx, makeActivity("a1"))

	base := time.Now()
	msgs := []api.ChatMessage{
		{ID: "m2", ActivityID: "a1", Type: api.MessageTypeAgentResponse, CreatedAt: base.Add(time.Second)},
		{ID: "m1", ActivityID: "a1", Type: api.MessageTypeTutorRequest, CreatedAt: base},
		{ID: "m3", ActivityID: "a1", Type: api.MessageTypeTutorRequest, CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range msgs {
		if err := s.AddChatMessage(ctx, &msgs[i]); err != nil {
			t.Fatalf("AddChatMessage: %v", err)
		}
	}

	got, err := s.ListChatMessages(ctx, "a1")
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(got) != 3 || got[0].ID != "m1" || got[1].ID != "m2" || got[2].ID != "m3" {
		t.Errorf("order = %v", got)
	}

	if _, err := s.ListChatMessages(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEmptyChatHistory(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	_ = s.SaveActivity(ctx, makeActivity("a1"))

	got, err := s.ListChatMessages(ctx, "a1")
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	_ = s.SaveActivity(ctx, makeActivity("a1"))
	_ = s.SaveActivity(ctx, makeActivity("a2"))
	_ = s.AddChatMessage(ctx, &api.ChatMessage{ID: "m1", ActivityID: "a1"})

	// Touch a1 so a2 becomes the least recently used.
	if _, err := s.GetActivity(ctx, "a1"); err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	_ = s.SaveActivity(ctx, makeActivity("a3"))

	if _, err := s.GetActivity(ctx, "a2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("a2 should have been evicted, got %v", err)
	}
	for _, id := range []string{"a1", "a3"} {
		if _, err := s.GetActivity(ctx, id); err != nil {
			t.Errorf("%s should still exist: %v", id, err)
		}
	}
}

func TestStudentsAndLessons(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	_ = s.SaveStudent(ctx, &api.Student{ID: "s1", Name: "Ada", Grade: "5", Interests: []string{"space"}})
	st, err := s.GetStudent(ctx, "s1")
	if err != nil || st.Grade != "5" || st.CreatedAt.IsZero() {
		t.Errorf("GetStudent = %+v, %v", st, err)
	}
	if _, err := s.GetStudent(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_ = s.SaveLesson(ctx, &api.Lesson{ID: "l1", Topic: "Volcanoes", Phases: []api.LessonPhase{{Name: "Explore"}}})
	l, err := s.GetLesson(ctx, "l1")
	if err != nil || l.Topic != "Volcanoes" || len(l.Phases) != 1 {
		t.Errorf("GetLesson = %+v, %v", l, err)
	}
}

func TestFixAttemptsNewestFirst(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	for i, cat := range []string{"syntax", "type", "syntax", "syntax"} {
		_ = s.SaveFixAttempt(ctx, &api.FixAttempt{ID: string(rune('a' + i)), Category: cat, Attempt: i + 1})
	}

	got, _ := s.ListFixAttempts(ctx, "syntax", 2)
	if len(got) != 2 || got[0].ID != "d" || got[1].ID != "c" {
		t.Errorf("syntax fixes = %+v", got)
	}

	all, _ := s.ListFixAttempts(ctx, "", 0)
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}
}

func TestPerformanceMetrics(t *testing.T) {
	s := New(0)
	_ = s.SavePerformanceMetric(context.Background(), &api.PerformanceMetric{ID: "p1", AgentType: "activity_creator", SuccessRate: 0.8})

	got := s.PerformanceMetrics()
	if len(got) != 1 || got[0].SuccessRate != 0.8 || got[0].CreatedAt.IsZero() {
		t.Errorf("metrics = %+v", got)
	}
}
