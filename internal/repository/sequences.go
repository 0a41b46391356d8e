package repository

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/typedkv/typedkv/internal/idgen"
	"github.com/typedkv/typedkv/internal/kvengine"
)

// sequencesDatabaseName is the dedicated engine database backing every
// named idgen.Sequence's high-water mark, kept separate from the metadata
// table (metastore.DatabaseName) since a sequence's key space (sequence
// name -> 8-byte counter) has nothing to do with registered-type
// descriptors.
const sequencesDatabaseName = "__typestore_sequences"

// enginePersister adapts an Engine database to idgen.Persister, running
// each load/store in its own top-level auto-committing transaction: a
// Sequence reserves a block outside of any caller-visible scope, so the
// reservation is durable the instant Next returns, independent of whatever
// transaction (if any) the caller is inside.
type enginePersister struct {
	engine kvengine.Engine
	db     kvengine.Database
}

func newEnginePersister(ctx context.Context, engine kvengine.Engine) (*enginePersister, error) {
	db, err := engine.OpenDatabase(ctx, sequencesDatabaseName, true)
	if err != nil {
		return nil, fmt.Errorf("repository: open sequences database: %w", err)
	}
	return &enginePersister{engine: engine, db: db}, nil
}

func (p *enginePersister) LoadHighWater(ctx context.Context, name string) (int64, bool, error) {
	txn, err := p.engine.Begin(ctx, false)
	if err != nil {
		return 0, false, fmt.Errorf("repository: begin sequence read: %w", err)
	}
	defer func() { _ = txn.Rollback(ctx) }()

	raw, err := txn.Get(ctx, p.db, []byte(name))
	if err == kvengine.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("repository: load high-water for %q: %w", name, err)
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

func (p *enginePersister) StoreHighWater(ctx context.Context, name string, value int64) error {
	txn, err := p.engine.Begin(ctx, true)
	if err != nil {
		return fmt.Errorf("repository: begin sequence write: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	if err := txn.Put(ctx, p.db, []byte(name), buf[:]); err != nil {
		_ = txn.Rollback(ctx)
		return fmt.Errorf("repository: store high-water for %q: %w", name, err)
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("repository: commit high-water for %q: %w", name, err)
	}
	return nil
}

// Sequence returns the named idgen.Sequence, creating it (and its
// supporting database) on first use.
func (r *Repository) Sequence(ctx context.Context, name string) (*idgen.Sequence, error) {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	if seq, ok := r.sequences[name]; ok {
		return seq, nil
	}
	if r.seqPersist == nil {
		p, err := newEnginePersister(ctx, r.engine)
		if err != nil {
			return nil, err
		}
		r.seqPersist = p
	}
	seq := idgen.NewSequence(name, r.seqPersist, r.seqBlockSize)
	r.sequences[name] = seq
	return seq, nil
}

// returnSequences gives back every outstanding sequence's unused block, per
// spec §4.6 step 1.
func (r *Repository) returnSequences() {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	for _, seq := range r.sequences {
		seq.Return()
	}
}
