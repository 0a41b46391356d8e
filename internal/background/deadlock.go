package background

import (
	"context"
	"time"
	"weak"
)

// DeadlockDetector calls DetectFunc on owner every Interval until ctx is
// cancelled or owner is collected. Unlike Checkpointer it has no suspend/
// resume/force surface — spec §4.5 gives the detector only the sleep-then-
// detect loop and the same interrupt-to-exit contract.
type DeadlockDetector[T any] struct {
	ref      weak.Pointer[T]
	detect   func(context.Context, *T) error
	interval time.Duration
}

// NewDeadlockDetector constructs a DeadlockDetector over owner, held
// weakly so Run exits on its own once owner is gone.
func NewDeadlockDetector[T any](owner *T, detect func(context.Context, *T) error, interval time.Duration) *DeadlockDetector[T] {
	return &DeadlockDetector[T]{ref: weak.Make(owner), detect: detect, interval: interval}
}

// Run loops, detecting deadlocks once per tick, swallowing errors (logged
// by the caller-supplied detect func) so one failed pass never stops the
// next, per spec §7's "background-task failures are logged; the task
// continues on next tick unless interrupted."
func (d *DeadlockDetector[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		owner := d.ref.Value()
		if owner == nil {
			return
		}
		_ = d.detect(ctx, owner)
	}
}
