// Package kvengine is the adapter boundary (C1) between the object store
// and an embedded ordered key/value engine. An Engine exposes exactly one
// native search primitive, cursor positioning at "the first key >= a given
// key" (Cursor.Seek); every other access pattern, including reverse range
// scans, is built on top of it by internal/rangecursor.
//
// The interface shapes here are modeled on erigon-lib's kv package
// (RoDB/RwDB/Tx/RwTx/Cursor/RwCursor): a database handle that begins
// read-only or read-write transactions, a transaction that opens named
// buckets ("databases" in the object store's vocabulary, one per
// registered type plus the metadata table), and a cursor per bucket.
package kvengine

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get and by cursor positioning methods when
// no key satisfies the request.
var ErrKeyNotFound = errors.New("kvengine: key not found")

// Engine is a registered, openable product: "memkv", "dolt", "mysql". Each
// product's package registers itself via RegisterProduct in an init func,
// mirroring the teacher's backend-factory registry pattern rather than
// reflection-based class lookup.
type Engine interface {
	// Begin starts a new top-level transaction. writable selects a
	// read-write transaction; non-writable transactions never block
	// writers and never acquire locks other engines might deadlock on.
	Begin(ctx context.Context, writable bool) (Txn, error)

	// OpenDatabase idempotently ensures a named ordered key space exists
	// and returns a handle to it, valid for the lifetime of the Engine.
	// create controls whether a missing database is created or the call
	// fails with ErrKeyNotFound.
	OpenDatabase(ctx context.Context, name string, create bool) (Database, error)

	// DetectDeadlocks runs one pass of the engine's deadlock detector
	// and reports how many cycles it broke. C8's deadlock controller
	// calls this on its own timer (spec §4.5); engines with nothing to
	// detect (no lock manager) return 0, nil unconditionally.
	DetectDeadlocks(ctx context.Context) (broken int64, err error)

	// Checkpoint forces a durability checkpoint (e.g. WAL flush,
	// background compaction sync point) outside of any transaction.
	Checkpoint(ctx context.Context) error

	// Compact reports the CompactionCapability snapshot described in
	// the external interfaces; engines that cannot compute meaningful
	// figures (in-memory engines) return zeroed fields rather than
	// failing.
	Compact(ctx context.Context) (CompactionStats, error)

	// Close releases all resources. It must be safe to call once all
	// outstanding transactions have completed; calling it with open
	// transactions is a programmer error and may panic.
	Close() error
}

// Database is a named ordered key space within an Engine, analogous to an
// erigon-lib bucket or an LMDB sub-database.
type Database interface {
	Name() string
}

// Txn is a native engine transaction. The object store's own transaction
// scope (C4) wraps one of these per top-level scope frame; nested scope
// frames either reuse the same Txn (fake nesting) or, for engines that
// support it, open a real child transaction via Txn.Begin.
type Txn interface {
	// Begin opens a real nested transaction if the engine supports one,
	// or returns ErrNotSupported (storeerr.ErrNotSupported) if it must
	// be faked by the caller instead.
	Begin(ctx context.Context) (Txn, error)

	Get(ctx context.Context, db Database, key []byte) (value []byte, err error)
	Put(ctx context.Context, db Database, key, value []byte) error
	Delete(ctx context.Context, db Database, key []byte) error

	// Truncate removes every key in db. Engines that support a native
	// bulk-truncate primitive should implement it here directly rather
	// than relying on the caller's batch tryDelete fallback.
	Truncate(ctx context.Context, db Database) error

	// IsEmpty reports whether db has zero keys, visible to this
	// transaction.
	IsEmpty(ctx context.Context, db Database) (bool, error)

	// Cursor opens a forward cursor over db, positioned before the
	// first key.
	Cursor(ctx context.Context, db Database) (Cursor, error)

	// PutNoOverwrite atomically inserts key/value only if key is absent
	// across every transaction concurrently touching db — the spec
	// §4.1 put_no_overwrite primitive. It reports created=false with a
	// nil error when the key already exists (or another transaction
	// has already reserved it), so a caller can distinguish "lost the
	// race" from "something went wrong."
	PutNoOverwrite(ctx context.Context, db Database, key, value []byte) (created bool, err error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Cursor is the engine's one native search primitive plus linear stepping.
// internal/rangecursor builds bounded forward and reverse iteration,
// including "<=K" emulation, entirely out of Seek/Next/Prev/Close.
type Cursor interface {
	// Seek positions the cursor at the first key >= key and returns it.
	// If no such key exists, it returns ErrKeyNotFound and the cursor is
	// positioned past the end.
	Seek(ctx context.Context, key []byte) (k, v []byte, err error)

	// First and Last position at the smallest/largest key in the
	// database, respectively.
	First(ctx context.Context) (k, v []byte, err error)
	Last(ctx context.Context) (k, v []byte, err error)

	Next(ctx context.Context) (k, v []byte, err error)
	Prev(ctx context.Context) (k, v []byte, err error)

	// Current returns the cursor's current position without moving it.
	Current(ctx context.Context) (k, v []byte, err error)

	Close() error
}

// CompactionStats is the CompactionCapability snapshot (external
// interfaces, §6 amendment).
type CompactionStats struct {
	PagesExamined int64
	PagesFree     int64
	PagesTruncated int64
	Levels        int
	DeadlockCount int64
}

// Options carries the subset of the Configuration Contract (§6) that is
// engine-specific: everything else (logging hooks, shutdown hooks) lives in
// internal/config and internal/repository.
type Options struct {
	Product            string
	EnvHome            string
	DataHome            string
	FileNameMap         map[string]string
	ReadOnly            bool
	CacheSize           int64
	LockTimeoutMillis   int64
	TxnTimeoutMillis    int64
	TransactionNoSync   bool
	DatabasePageSize    int
	Private             bool
	Multiversion        bool
	RunFullRecovery     bool
	RunDeadlockDetector bool
	ChecksumEnabled     bool
}

// Factory constructs an Engine from Options. Each product package calls
// RegisterProduct in its init func.
type Factory func(ctx context.Context, opts Options) (Engine, error)

var registry = map[string]Factory{}

// RegisterProduct registers a named engine product. Calling it twice for
// the same name panics: a duplicate registration is always a build
// mistake, not a runtime condition to tolerate.
func RegisterProduct(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic("kvengine: product already registered: " + name)
	}
	registry[name] = factory
}

// Open constructs the engine named by opts.Product.
func Open(ctx context.Context, opts Options) (Engine, error) {
	factory, ok := registry[opts.Product]
	if !ok {
		return nil, &UnknownProductError{Product: opts.Product}
	}
	return factory(ctx, opts)
}

// UnknownProductError is returned by Open when opts.Product names no
// registered factory.
type UnknownProductError struct {
	Product string
}

func (e *UnknownProductError) Error() string {
	return "kvengine: unknown product " + e.Product
}
