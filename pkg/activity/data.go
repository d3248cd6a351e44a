package activity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// SaveStudent creates or replaces a student profile. A missing id is
// generated.
func (w *Workflow) SaveStudent(ctx context.Context, s api.Student) (*api.Student, error) {
	if s.ID == "" {
		s.ID = api.NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = w.nowFn()
	}
	if err := w.cfg.Store.SaveStudent(ctx, &s); err != nil {
		return nil, fmt.Errorf("saving student %s: %w", s.ID, err)
	}
	slog.Info("student saved", "student_id", s.ID, "tutor_id", s.TutorID)
	return &s, nil
}

// GetStudent returns a stored student profile.
func (w *Workflow) GetStudent(ctx context.Context, id string) (*api.Student, error) {
	s, err := w.cfg.Store.GetStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("student %s: %w", id, err)
	}
	return s, nil
}

// SaveLesson creates or replaces a lesson plan. Its student must exist.
func (w *Workflow) SaveLesson(ctx context.Context, l api.Lesson) (*api.Lesson, error) {
	if _, err := w.cfg.Store.GetStudent(ctx, l.StudentID); err != nil {
		return nil, fmt.Errorf("student %s: %w", l.StudentID, err)
	}
	if l.ID == "" {
		l.ID = api.NewID()
	}
	if l.Title == "" {
		l.Title = l.Topic
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = w.nowFn()
	}
	if err := w.cfg.Store.SaveLesson(ctx, &l); err != nil {
		return nil, fmt.Errorf("saving lesson %s: %w", l.ID, err)
	}
	slog.Info("lesson saved", "lesson_id", l.ID, "student_id", l.StudentID)
	return &l, nil
}
