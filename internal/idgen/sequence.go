// Package idgen implements the sequence producer domain component spec §9
// requires in the "superset" reading of the Open Question: each repository
// owns zero or more named monotonic integer sequences (e.g. a type's
// surrogate primary key), reserving ID blocks in batches so issuing an ID
// never costs a metadata write. Adapted from the teacher's idgen package:
// kept the package name and the "reserve once, hand out many" shape, but
// replaced the content-hash/semantic bead-ID algorithms (which have no
// analog here — this store's primary keys are declared by the registered
// type, not generated from content) with a persisted monotonic counter.
package idgen

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Persister is the narrow durability hook a Sequence needs: read and
// write the high-water mark for one named sequence. internal/repository
// supplies an implementation backed by a dedicated engine database, kept
// separate from the metadata store, so the mark survives a restart.
type Persister interface {
	LoadHighWater(ctx context.Context, name string) (int64, bool, error)
	StoreHighWater(ctx context.Context, name string, value int64) error
}

// Sequence hands out a monotonically increasing stream of int64 IDs,
// reserving BlockSize at a time. The reservation's upper bound is
// persisted before any ID in the block is handed out, so a crash never
// risks reissuing an ID: at worst it leaves a gap the size of the unused
// remainder of the block, which is the documented tradeoff in spec §9.
type Sequence struct {
	name      string
	persist   Persister
	blockSize int64

	mu   sync.Mutex
	next int64 // next ID to hand out
	end  int64 // exclusive upper bound of the current reservation
}

// NewSequence constructs a Sequence named name, backed by persist, handing
// out IDs blockSize at a time. blockSize must be positive.
func NewSequence(name string, persist Persister, blockSize int64) *Sequence {
	if blockSize <= 0 {
		blockSize = 1
	}
	return &Sequence{name: name, persist: persist, blockSize: blockSize}
}

// Next returns the next ID in the sequence, reserving a fresh block from
// the persister if the current one is exhausted.
func (s *Sequence) Next(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.end {
		if err := s.reserveLocked(ctx); err != nil {
			return 0, err
		}
	}
	id := s.next
	s.next++
	return id, nil
}

func (s *Sequence) reserveLocked(ctx context.Context) error {
	hw, found, err := s.persist.LoadHighWater(ctx, s.name)
	if err != nil {
		return fmt.Errorf("idgen: load high-water for sequence %q: %w", s.name, err)
	}
	if !found {
		hw = 0
	}
	newHW := hw + s.blockSize
	if err := s.persist.StoreHighWater(ctx, s.name, newHW); err != nil {
		return fmt.Errorf("idgen: reserve block for sequence %q: %w", s.name, err)
	}
	s.next, s.end = hw, newHW
	return nil
}

// Return logs and discards whatever remains of the sequence's current
// reservation, per spec §4.6 step 1 ("return unused sequence
// reservations") and §9's acceptance of gaps over ID reuse: the block's
// upper bound was already persisted when it was reserved, so there is
// nothing further to write back — a future Sequence over the same name
// simply starts its first reservation from that already-durable
// high-water mark.
func (s *Sequence) Return() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unused := s.end - s.next; unused > 0 {
		log.Printf("idgen: sequence %q returning %d unused reserved id(s)", s.name, unused)
	}
	s.next, s.end = 0, 0
}
