// Package background implements C8: the periodic checkpointer and
// deadlock detector that run for the lifetime of a repository. Both hold
// only a weak reference to their owner (the stdlib `weak` package) so a
// repository can be dropped and finalized without a background goroutine
// artificially keeping it alive — the owner type is a Go generic
// parameter rather than a concrete internal/repository.Repository so this
// package never has to import internal/repository and create a cycle with
// it (C9 constructs C8, per spec §2's dependency order, not the reverse).
package background

import (
	"context"
	"sync"
	"time"
	"weak"
)

// Checkpointer runs CheckpointFunc on owner every Interval, unless
// suspended, until its context is cancelled or owner is garbage collected.
// It implements the CheckpointCapability surface (Suspend/Resume/Force)
// described in spec §4.5 and §6.
type Checkpointer[T any] struct {
	ref        weak.Pointer[T]
	checkpoint func(context.Context, *T) error
	interval   time.Duration

	mu          sync.Mutex
	inProgress  bool
	suspendUntil time.Time
	notify      chan struct{} // closed and replaced each time inProgress flips false
}

// NewCheckpointer constructs a Checkpointer over owner, calling checkpoint
// once per tick. owner is referenced weakly: Run exits on its own once
// owner has been collected.
func NewCheckpointer[T any](owner *T, checkpoint func(context.Context, *T) error, interval time.Duration) *Checkpointer[T] {
	return &Checkpointer[T]{
		ref:        weak.Make(owner),
		checkpoint: checkpoint,
		interval:   interval,
		notify:     make(chan struct{}),
	}
}

// Run loops until ctx is cancelled or the owner is gone, matching spec
// §4.5's pseudocode: sleep, skip the tick if suspended, otherwise run one
// checkpoint. An interrupt (ctx cancellation) ends the loop; it is never
// treated as an error worth surfacing, matching the "background-task
// failures are logged, task continues" propagation policy for anything
// short of cancellation.
func (c *Checkpointer[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if c.ref.Value() == nil {
			return
		}
		c.tick(ctx)
	}
}

func (c *Checkpointer[T]) tick(ctx context.Context) {
	c.mu.Lock()
	if time.Now().Before(c.suspendUntil) {
		c.mu.Unlock()
		return
	}
	c.inProgress = true
	c.mu.Unlock()

	owner := c.ref.Value()
	if owner != nil {
		_ = c.checkpoint(ctx, owner) // logged by the caller-supplied func; a failed checkpoint tries again next tick
	}

	c.mu.Lock()
	c.inProgress = false
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
}

// waitIdle blocks until no checkpoint is in progress.
func (c *Checkpointer[T]) waitIdle() {
	for {
		c.mu.Lock()
		if !c.inProgress {
			c.mu.Unlock()
			return
		}
		ch := c.notify
		c.mu.Unlock()
		<-ch
	}
}

// maxInstant is the clamp target for Suspend's overflow case: Go's
// time.Time has no single "maximum representable instant" the way a
// language-level integer duration does, so a far-future sentinel stands in
// for it — any suspension that would outlive the process by centuries is
// equivalent to "suspended indefinitely, until Resume."
var maxInstant = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// maxSuspend bounds a single Suspend request: anything past it (including
// a caller passing the maximum representable duration) clamps to
// maxInstant instead of computing an instant no deployment will ever
// reach, satisfying "clamped on overflow, never negative."
const maxSuspend = 100 * 365 * 24 * time.Hour

// Suspend blocks until any in-flight checkpoint finishes, then prevents
// further checkpoints from running until d has elapsed. Negative and
// implausibly large durations are clamped to maxInstant rather than
// wrapping into the past.
func (c *Checkpointer[T]) Suspend(d time.Duration) {
	c.waitIdle()
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 || d > maxSuspend {
		c.suspendUntil = maxInstant
		return
	}
	c.suspendUntil = time.Now().Add(d)
}

// Resume clears any pending suspension immediately.
func (c *Checkpointer[T]) Resume() {
	c.mu.Lock()
	c.suspendUntil = time.Time{}
	c.mu.Unlock()
}

// Force blocks until any in-flight checkpoint finishes, then runs one
// synchronously regardless of suspension, and only returns once it has
// completed — satisfying spec §8's "forceCheckpoint returns only after a
// full checkpoint has completed whose issuance strictly follows the call."
func (c *Checkpointer[T]) Force(ctx context.Context) error {
	c.waitIdle()
	owner := c.ref.Value()
	if owner == nil {
		return nil
	}
	c.mu.Lock()
	c.inProgress = true
	c.mu.Unlock()
	err := c.checkpoint(ctx, owner)
	c.mu.Lock()
	c.inProgress = false
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
	return err
}
