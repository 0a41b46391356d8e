package idgen

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu    sync.Mutex
	marks map[string]int64
}

func newMemPersister() *memPersister { return &memPersister{marks: make(map[string]int64)} }

func (m *memPersister) LoadHighWater(_ context.Context, name string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.marks[name]
	return v, ok, nil
}

func (m *memPersister) StoreHighWater(_ context.Context, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[name] = value
	return nil
}

func TestSequence_MonotonicWithinBlock(t *testing.T) {
	p := newMemPersister()
	seq := NewSequence("issues", p, 4)
	ctx := context.Background()
	for i := int64(0); i < 4; i++ {
		id, err := seq.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, i, id)
	}
	hw, ok, err := p.LoadHighWater(ctx, "issues")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4), hw, "block boundary is persisted as soon as it's reserved")
}

func TestSequence_ReturnAcceptsGapNotReuse(t *testing.T) {
	p := newMemPersister()
	ctx := context.Background()
	seq := NewSequence("issues", p, 10)
	id, err := seq.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), id)
	seq.Return()

	seq2 := NewSequence("issues", p, 10)
	next, err := seq2.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), next, "a fresh sequence starts past the whole returned block, not at the unused tail")
}

func TestSequence_ReservesNewBlockAcrossSequences(t *testing.T) {
	p := newMemPersister()
	ctx := context.Background()
	a := NewSequence("s", p, 2)
	b := NewSequence("s", p, 2)

	id1, err := a.Next(ctx)
	require.NoError(t, err)
	id2, err := b.Next(ctx)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}
