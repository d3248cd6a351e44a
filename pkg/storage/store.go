package storage

import (
	"context"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// Store persists students, lessons, activities and the records derived
// from activity generation. Activities and their chat messages are scoped
// to the tenant in the context when one is set.
type Store interface {
	SaveStudent(ctx context.Context, s *api.Student) error
	GetStudent(ctx context.Context, id string) (*api.Student, error)

	SaveLesson(ctx context.Context, l *api.Lesson) error
	GetLesson(ctx context.Context, id string) (*api.Lesson, error)

	SaveActivity(ctx context.Context, a *api.Activity) error
	GetActivity(ctx context.Context, id string) (*api.Activity, error)
	// UpdateActivity replaces a stored activity. ErrNotFound if it does not exist.
	UpdateActivity(ctx context.Context, a *api.Activity) error

	AddChatMessage(ctx context.Context, m *api.ChatMessage) error
	// ListChatMessages returns an activity's messages oldest first.
	ListChatMessages(ctx context.Context, activityID string) ([]api.ChatMessage, error)

	SaveFixAttempt(ctx context.Context, f *api.FixAttempt) error
	// ListFixAttempts returns the newest fix attempts, optionally filtered by category.
	ListFixAttempts(ctx context.Context, category string, limit int) ([]api.FixAttempt, error)

	SavePerformanceMetric(ctx context.Context, m *api.PerformanceMetric) error

	HealthCheck(ctx context.Context) error
	Close() error
}
