// Package memkv is the default in-process kvengine product: an ordered,
// byte-keyed store backed by github.com/google/btree, registered under the
// product name "memkv". It is the engine every in-repository test runs
// against; a caller selects it with Options.Product "memkv".
//
// Nesting is real, not faked: BTree.Clone gives O(1) copy-on-write
// snapshots, so a nested transaction clones its parent's tree, mutates the
// clone, and on commit replaces the parent's tree with the clone. Under a
// writable parent internal/txscope therefore takes its real-nesting path;
// only a nested Begin under a read-only parent reports
// storeerr.ErrNotSupported and sends txscope to its fake-nesting fallback.
package memkv

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/typedkv/typedkv/internal/kvengine"
)

const btreeDegree = 32

type item struct {
	key, value []byte
}

func (a item) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(item).key) < 0
}

// database is one named ordered key space. Its tree is guarded by mu so
// that Begin can clone it for a new top-level transaction without racing a
// concurrent writer. reserveMu/reserved back PutNoOverwrite: since a
// writable Txn's snapshot is private until Commit, two concurrent
// transactions each calling PutNoOverwrite for the same key would
// otherwise both see the key absent and both "succeed" in their own
// snapshot, only for the second committer to silently clobber the first.
// reserved records, per key, which live Txn currently owns the right to
// create it, so the loser of the race is told so immediately rather than
// at commit time.
type database struct {
	name string
	mu   sync.RWMutex
	tree *btree.BTree

	reserveMu sync.Mutex
	reserved  map[string]*Txn
}

func (d *database) Name() string { return d.name }

// Engine implements kvengine.Engine over an in-process set of named
// btree-backed databases.
type Engine struct {
	mu        sync.Mutex
	databases map[string]*database
	dd        *deadlockDetector
	opts      kvengine.Options
}

func init() {
	kvengine.RegisterProduct("memkv", func(_ context.Context, opts kvengine.Options) (kvengine.Engine, error) {
		return New(opts), nil
	})
}

// New constructs a ready-to-use in-process engine. Unlike the on-disk
// products, it ignores EnvHome/DataHome entirely: there is nothing to open
// on the filesystem.
func New(opts kvengine.Options) *Engine {
	e := &Engine{
		databases: make(map[string]*database),
		opts:      opts,
	}
	if opts.RunDeadlockDetector {
		e.dd = newDeadlockDetector()
	}
	return e
}

func (e *Engine) OpenDatabase(_ context.Context, name string, create bool) (kvengine.Database, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.databases[name]; ok {
		return db, nil
	}
	if !create {
		return nil, kvengine.ErrKeyNotFound
	}
	db := &database{name: name, tree: btree.New(btreeDegree), reserved: make(map[string]*Txn)}
	e.databases[name] = db
	return db, nil
}

func (e *Engine) Begin(_ context.Context, writable bool) (kvengine.Txn, error) {
	return &Txn{engine: e, writable: writable, snapshots: make(map[string]*txnSnapshot)}, nil
}

// DetectDeadlocks runs one pass of the wait-for graph scan. The in-process
// engine has no real lock manager to deadlock against (database mutexes
// are held only for the duration of a tree-pointer swap), so this rarely
// finds anything, but it gives internal/background's deadlock controller
// (C8) a real engine call to drive rather than a stub.
func (e *Engine) DetectDeadlocks(_ context.Context) (int64, error) {
	if e.dd == nil {
		return 0, nil
	}
	return e.dd.scan(), nil
}

// Engine deliberately does not implement kvengine.BackupCapable: an
// in-process engine has no files to freeze or copy, and the capability
// contract says such products should fail the type assertion so
// Repository.StartBackup reports not-supported rather than pretending an
// empty backup succeeded.

func (e *Engine) Checkpoint(_ context.Context) error {
	// No WAL or page cache to flush for an in-process engine; present
	// for symmetry with on-disk products and so callers can schedule it
	// unconditionally.
	return nil
}

func (e *Engine) Compact(_ context.Context) (kvengine.CompactionStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var stats kvengine.CompactionStats
	for _, db := range e.databases {
		db.mu.RLock()
		stats.PagesExamined += int64(db.tree.Len())
		db.mu.RUnlock()
	}
	if e.dd != nil {
		stats.DeadlockCount = e.dd.count()
	}
	// PagesFree and PagesTruncated stay zero: there are no pages, only
	// an in-memory tree, so reporting anything else would be fiction.
	return stats, nil
}

func (e *Engine) Close() error {
	return nil
}
