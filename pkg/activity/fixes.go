package activity

import (
	"context"
	"log/slog"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/storage"
)

// FixConfidence is the confidence recorded for automatic repairs.
const FixConfidence = 0.6

// FixRecorder is a deploy.Observer that stores every repair as an
// api.FixAttempt so recurring failure categories can be analysed.
type FixRecorder struct {
	store storage.Store
}

var _ deploy.Observer = (*FixRecorder)(nil)

// NewFixRecorder creates a FixRecorder writing to store.
func NewFixRecorder(store storage.Store) *FixRecorder {
	return &FixRecorder{store: store}
}

// AttemptCompleted is a no-op.
func (r *FixRecorder) AttemptCompleted(context.Context, deploy.Context, deploy.Attempt) {}

// RepairCompleted stores the repair. Storage errors are logged only.
func (r *FixRecorder) RepairCompleted(ctx context.Context, dc deploy.Context, ev deploy.RepairEvent) {
	f := &api.FixAttempt{
		ID:            api.NewID(),
		SessionKey:    dc.SessionKey,
		Topic:         dc.Topic,
		Category:      string(ev.Category),
		Attempt:       ev.Attempt,
		ErrorExcerpt:  ev.ErrorExcerpt,
		OriginalBytes: len(ev.OriginalCode),
		FixedBytes:    len(ev.RepairedCode),
		RepairFailed:  ev.Err != nil,
		Confidence:    FixConfidence,
	}
	if f.RepairFailed {
		f.Confidence = 0
	}
	if err := r.store.SaveFixAttempt(ctx, f); err != nil {
		slog.Warn("saving fix attempt failed", "session", dc.SessionKey, "attempt", ev.Attempt, "error", err)
	}
}
