package board

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// writeGate admits exactly one writer at a time. Readers never pass through it.
type writeGate struct {
	slot *semaphore.Weighted
}

func newWriteGate() *writeGate {
	return &writeGate{slot: semaphore.NewWeighted(1)}
}

// run waits for the write slot, honouring ctx only while waiting. Once admitted, fn runs
// on a context that ignores caller cancellation so a write always commits or rolls back.
func (g *writeGate) run(ctx context.Context, fn func(context.Context) error) error {
	if err := g.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.slot.Release(1)
	return fn(context.WithoutCancel(ctx))
}
