package transport

import (
	"context"

	"github.com/itsbakr/weave-tutor/pkg/api"
)

// ActivityService is implemented by the activity workflow.
type ActivityService interface {
	Create(ctx context.Context, req api.CreateActivityRequest) (*api.ActivityResult, error)
	Redeploy(ctx context.Context, req api.RedeployRequest) (*api.RedeployResult, error)
	Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResult, error)
	History(ctx context.Context, activityID string) (*api.ChatHistory, error)
	Get(ctx context.Context, id string) (*api.Activity, error)

	SaveStudent(ctx context.Context, s api.Student) (*api.Student, error)
	GetStudent(ctx context.Context, id string) (*api.Student, error)
	SaveLesson(ctx context.Context, l api.Lesson) (*api.Lesson, error)
}

// Operation is one service call. The closure captures its own inputs and
// outputs so middleware stays independent of request types.
type Operation func(ctx context.Context) error

// Handler runs named operations.
type Handler interface {
	Handle(ctx context.Context, name string, op Operation) error
}

// HandlerFunc is an adapter that allows using an ordinary function as a
// Handler.
type HandlerFunc func(ctx context.Context, name string, op Operation) error

// Handle calls f(ctx, name, op).
func (f HandlerFunc) Handle(ctx context.Context, name string, op Operation) error {
	return f(ctx, name, op)
}

// Direct runs the operation without any wrapping.
var Direct Handler = HandlerFunc(func(ctx context.Context, _ string, op Operation) error {
	return op(ctx)
})
