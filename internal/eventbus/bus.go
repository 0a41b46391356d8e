// Package eventbus implements the trigger-dispatch mechanism C6's storage
// façade uses for before/after insert/update/delete/load callbacks. It is
// a direct generalization of a handler-registry/priority-dispatch bus:
// Register/Unregister/Dispatch, handlers sorted by priority and called
// sequentially, the same shape, minus any external publish step — a
// Storage's triggers run synchronously inside the transaction whose
// outcome they can still veto, so there is nothing to hand off
// asynchronously to.
package eventbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Phase identifies where in an operation's lifecycle a Trigger fires.
type Phase int

const (
	BeforeInsert Phase = iota
	AfterInsert
	BeforeUpdate
	AfterUpdate
	BeforeDelete
	AfterDelete
	BeforeLoad
	AfterLoad
)

func (p Phase) String() string {
	switch p {
	case BeforeInsert:
		return "before_insert"
	case AfterInsert:
		return "after_insert"
	case BeforeUpdate:
		return "before_update"
	case AfterUpdate:
		return "after_update"
	case BeforeDelete:
		return "before_delete"
	case AfterDelete:
		return "after_delete"
	case BeforeLoad:
		return "before_load"
	case AfterLoad:
		return "after_load"
	default:
		return "unknown"
	}
}

// Event carries the record a trigger fires for. Record is a pointer to the
// caller's registered Go type; Before holds the prior value on an update
// (nil otherwise).
type Event struct {
	Phase  Phase
	Record any
	Before any
}

// Trigger is one registered callback. Handle returning a non-nil error
// aborts the enclosing operation: a failing before-phase trigger must
// never be silently swallowed, since the caller's record would otherwise
// be written despite a trigger's objection.
type Trigger interface {
	ID() string
	Priority() int
	Handles() []Phase
	Handle(ctx context.Context, event *Event) error
}

// Bus dispatches Events to registered Triggers for one Storage. Handlers
// run sequentially, lowest priority first; handlers of equal priority run
// in registration order.
type Bus struct {
	mu       sync.RWMutex
	triggers []Trigger
}

func New() *Bus { return &Bus{} }

func (b *Bus) Register(t Trigger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers = append(b.triggers, t)
}

func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.triggers {
		if t.ID() == id {
			b.triggers = append(b.triggers[:i], b.triggers[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch runs every trigger registered for event.Phase, in priority
// order, stopping at (and returning) the first error: a write-path
// trigger's veto must abort the operation, not just get logged and
// ignored.
func (b *Bus) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}
	b.mu.RLock()
	matching := b.matchingLocked(event.Phase)
	b.mu.RUnlock()

	for _, t := range matching {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: context canceled: %w", err)
		}
		if err := t.Handle(ctx, event); err != nil {
			return fmt.Errorf("eventbus: trigger %q failed on %s: %w", t.ID(), event.Phase, err)
		}
	}
	return nil
}

// Triggers returns the registered triggers, restricted to those handling
// any of the given phases when at least one is named. Callers use the
// phase-filtered form to decide whether a phase has observers at all
// (e.g. storage's truncate choosing between native truncate and
// per-record delete so delete triggers still fire).
func (b *Bus) Triggers(phases ...Phase) []Trigger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(phases) == 0 {
		out := make([]Trigger, len(b.triggers))
		copy(out, b.triggers)
		return out
	}
	var out []Trigger
	for _, t := range b.triggers {
		for _, p := range phases {
			if handlesPhase(t, p) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func handlesPhase(t Trigger, phase Phase) bool {
	for _, p := range t.Handles() {
		if p == phase {
			return true
		}
	}
	return false
}

func (b *Bus) matchingLocked(phase Phase) []Trigger {
	var matched []Trigger
	for _, t := range b.triggers {
		if handlesPhase(t, phase) {
			matched = append(matched, t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
