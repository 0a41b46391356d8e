package memkv

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/storeerr"
)

// txnSnapshot is the per-database copy-on-write clone a transaction
// mutates: a top-level transaction clones the committed database tree, a
// nested one clones its parent transaction's snapshot.
type txnSnapshot struct {
	db   *database
	tree *btree.BTree
}

// reservation records one key this Txn has claimed via PutNoOverwrite in
// db, pending this Txn's own Commit or Rollback.
type reservation struct {
	db  *database
	key string
}

// Txn is a memkv transaction. Every transaction works on a copy-on-write
// snapshot of each database it touches, taken under the database's read
// lock only for the clone; a writable transaction's Commit takes the write
// lock just long enough to swap its snapshot in. No lock is held between
// operations, so transactions never lock each other out.
type Txn struct {
	engine   *Engine
	writable bool
	parent   *Txn

	mu           sync.Mutex
	snapshots    map[string]*txnSnapshot
	reservations []reservation
	done         bool
}

func (t *Txn) snapshotFor(db *database) *txnSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap, ok := t.snapshots[db.name]; ok {
		return snap
	}
	var tree *btree.BTree
	if t.parent != nil {
		tree = t.parent.snapshotFor(db).tree.Clone()
	} else {
		db.mu.RLock()
		tree = db.tree.Clone()
		db.mu.RUnlock()
	}
	snap := &txnSnapshot{db: db, tree: tree}
	t.snapshots[db.name] = snap
	return snap
}

// Begin opens a real nested transaction: a child Txn whose snapshots clone
// the parent's in-flight trees rather than the committed engine state, so
// writes made by the parent before the child starts are visible to it, and
// the child's writes are only visible to the parent (and beyond, to the
// engine) once the child commits.
func (t *Txn) Begin(_ context.Context) (kvengine.Txn, error) {
	if !t.writable {
		return nil, fmt.Errorf("%w: nested transaction under a read-only transaction", storeerr.ErrNotSupported)
	}
	return &Txn{
		engine:    t.engine,
		writable:  true,
		parent:    t,
		snapshots: make(map[string]*txnSnapshot),
	}, nil
}

func (t *Txn) toDB(db kvengine.Database) *database {
	return db.(*database)
}

func (t *Txn) Get(_ context.Context, db kvengine.Database, key []byte) ([]byte, error) {
	snap := t.snapshotFor(t.toDB(db))
	found := snap.tree.Get(item{key: key})
	if found == nil {
		return nil, kvengine.ErrKeyNotFound
	}
	return append([]byte(nil), found.(item).value...), nil
}

func (t *Txn) Put(_ context.Context, db kvengine.Database, key, value []byte) error {
	snap := t.snapshotFor(t.toDB(db))
	snap.tree.ReplaceOrInsert(item{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

// PutNoOverwrite is kvengine.Txn's spec §4.1 put_no_overwrite primitive.
// Because a writable Txn's snapshot is private until Commit, checking
// snap.tree for key's presence only rules out a key this same Txn already
// holds (committed before this snapshot was cloned, or written earlier in
// this Txn); it says nothing about another live Txn racing to create the
// same key. db.reserved closes that gap: the first Txn to call
// PutNoOverwrite for a given key claims it under db.reserveMu, and every
// other Txn's call for that key fails fast with created=false until the
// claim is released by the owner's Commit or Rollback.
func (t *Txn) PutNoOverwrite(_ context.Context, db kvengine.Database, key, value []byte) (bool, error) {
	d := t.toDB(db)
	snap := t.snapshotFor(d)
	if _, exists := snap.tree.Get(item{key: key}).(item); exists {
		return false, nil
	}

	keyStr := string(key)
	d.reserveMu.Lock()
	if d.reserved == nil {
		d.reserved = make(map[string]*Txn)
	}
	if owner, claimed := d.reserved[keyStr]; claimed && owner != t {
		d.reserveMu.Unlock()
		return false, nil
	}
	d.reserved[keyStr] = t
	d.reserveMu.Unlock()

	snap.tree.ReplaceOrInsert(item{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	t.mu.Lock()
	t.reservations = append(t.reservations, reservation{db: d, key: keyStr})
	t.mu.Unlock()
	return true, nil
}

// releaseReservations drops every key claim this Txn holds. Called at the
// end of both Commit and Rollback so a key PutNoOverwrite rejected while
// this Txn was live becomes claimable again as soon as it finishes one way
// or the other.
func (t *Txn) releaseReservations() {
	t.mu.Lock()
	res := t.reservations
	t.reservations = nil
	t.mu.Unlock()
	for _, r := range res {
		r.db.reserveMu.Lock()
		if r.db.reserved[r.key] == t {
			delete(r.db.reserved, r.key)
		}
		r.db.reserveMu.Unlock()
	}
}

// transferReservations reassigns this Txn's key claims to parent, called
// when a nested Txn commits: the parent now owns the not-yet-durable
// write, so another Txn racing on the same key must keep failing until
// the parent itself commits or rolls back, not just until the child does.
func (t *Txn) transferReservations(parent *Txn) {
	t.mu.Lock()
	res := t.reservations
	t.reservations = nil
	t.mu.Unlock()
	for _, r := range res {
		r.db.reserveMu.Lock()
		if r.db.reserved[r.key] == t {
			r.db.reserved[r.key] = parent
		}
		r.db.reserveMu.Unlock()
	}
	parent.mu.Lock()
	parent.reservations = append(parent.reservations, res...)
	parent.mu.Unlock()
}

func (t *Txn) Delete(_ context.Context, db kvengine.Database, key []byte) error {
	snap := t.snapshotFor(t.toDB(db))
	snap.tree.Delete(item{key: key})
	return nil
}

func (t *Txn) Truncate(_ context.Context, db kvengine.Database) error {
	snap := t.snapshotFor(t.toDB(db))
	snap.tree = btree.New(btreeDegree)
	t.mu.Lock()
	t.snapshots[db.(*database).name] = snap
	t.mu.Unlock()
	return nil
}

func (t *Txn) IsEmpty(_ context.Context, db kvengine.Database) (bool, error) {
	snap := t.snapshotFor(t.toDB(db))
	return snap.tree.Len() == 0, nil
}

func (t *Txn) Cursor(_ context.Context, db kvengine.Database) (kvengine.Cursor, error) {
	snap := t.snapshotFor(t.toDB(db))
	return &Cursor{snap: snap}, nil
}

// Commit, for a top-level transaction, replaces each touched database's
// tree with the transaction's snapshot under the database's write lock. For
// a nested transaction, it instead folds its snapshots into the parent's,
// so the parent sees the child's writes without touching the engine.
func (t *Txn) Commit(_ context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	parent := t.parent
	t.mu.Unlock()

	if parent != nil {
		t.mu.Lock()
		for name, snap := range t.snapshots {
			parent.mu.Lock()
			parent.snapshots[name] = snap
			parent.mu.Unlock()
		}
		t.mu.Unlock()
		t.transferReservations(parent)
		return nil
	}

	t.mu.Lock()
	snapshots := t.snapshots
	t.mu.Unlock()
	for _, snap := range snapshots {
		snap.db.mu.Lock()
		snap.db.tree = snap.tree
		snap.db.mu.Unlock()
	}
	t.releaseReservations()
	return nil
}

// Rollback discards the transaction's snapshots without touching the
// parent or the engine's committed trees.
func (t *Txn) Rollback(_ context.Context) error {
	t.mu.Lock()
	t.done = true
	t.snapshots = nil
	t.mu.Unlock()
	t.releaseReservations()
	return nil
}
