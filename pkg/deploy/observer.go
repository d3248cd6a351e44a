package deploy

import (
	"context"

	"github.com/itsbakr/weave-tutor/pkg/classify"
)

// RepairEvent describes one call to the Repairer.
type RepairEvent struct {
	// Attempt is the number of the failed attempt that was repaired.
	Attempt      int
	Category     classify.Category
	ErrorExcerpt string
	OriginalCode string
	RepairedCode string

	// Err is set when the Repairer failed and the original code is retried.
	Err error
}

// Changed reports whether the repair produced different code.
func (e RepairEvent) Changed() bool {
	return e.Err == nil && e.RepairedCode != e.OriginalCode
}

// Observer is notified synchronously as the loop progresses. Observers
// cannot fail the loop and should return quickly.
type Observer interface {
	AttemptCompleted(ctx context.Context, dc Context, a Attempt)
	RepairCompleted(ctx context.Context, dc Context, ev RepairEvent)
}

// ObserverFuncs adapts optional callbacks to Observer.
type ObserverFuncs struct {
	OnAttempt func(ctx context.Context, dc Context, a Attempt)
	OnRepair  func(ctx context.Context, dc Context, ev RepairEvent)
}

// AttemptCompleted calls OnAttempt when set.
func (f ObserverFuncs) AttemptCompleted(ctx context.Context, dc Context, a Attempt) {
	if f.OnAttempt != nil {
		f.OnAttempt(ctx, dc, a)
	}
}

// RepairCompleted calls OnRepair when set.
func (f ObserverFuncs) RepairCompleted(ctx context.Context, dc Context, ev RepairEvent) {
	if f.OnRepair != nil {
		f.OnRepair(ctx, dc, ev)
	}
}
