// Package repository implements C9: the root object of the typed
// transactional object store. A Repository owns the engine (C1), the
// self-hosted metadata store (C3), the transaction manager (C4), a
// per-type map of lazily-created Storage façades (C6), the background
// checkpointer and deadlock detector (C8), the pre/post-shutdown hook
// runner, named ID sequences, and hot-backup reference counting — every
// component below it in spec §2's dependency order.
package repository

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/typedkv/typedkv/internal/background"
	"github.com/typedkv/typedkv/internal/config"
	"github.com/typedkv/typedkv/internal/hooks"
	"github.com/typedkv/typedkv/internal/idgen"
	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/metastore"
	"github.com/typedkv/typedkv/internal/planner"
	"github.com/typedkv/typedkv/internal/storage"
	"github.com/typedkv/typedkv/internal/storeerr"
	"github.com/typedkv/typedkv/internal/txscope"
	"github.com/typedkv/typedkv/internal/types"
)

// Repository is the root object returned by Build. The zero value is not
// usable.
type Repository struct {
	opts   config.Options
	engine kvengine.Engine
	meta   *metastore.Store
	tm     *txscope.Manager
	hooks  *hooks.Runner
	tel    *telemetry

	// openBlocker counts in-flight lazy Storage creations so Shutdown can
	// wait for them to finish rather than tearing down the engine out
	// from under a goroutine mid-Open (spec §5: "per-type Storage
	// handles created lazily under a shutdown-blocking latch").
	openBlocker sync.WaitGroup

	mu       sync.RWMutex
	storages map[string]*storage.Storage
	shutdown bool

	backupMu    sync.Mutex
	backupCount int

	seqMu        sync.Mutex
	sequences    map[string]*idgen.Sequence
	seqPersist   *enginePersister
	seqBlockSize int64

	checkpointer *background.Checkpointer[Repository]
	deadlocks    *background.DeadlockDetector[Repository]
	bgCancel     context.CancelFunc
	bgWG         sync.WaitGroup
}

// Build constructs a Repository from opts: opens the engine, the metadata
// store, the transaction manager, and (unless ReadOnly/disabled) the
// background controllers, per spec §2's "C9 constructs C1, C3, C4, C8"
// control flow.
func Build(ctx context.Context, opts config.Options) (*Repository, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrConfiguration, err)
	}

	engine, err := kvengine.Open(ctx, engineOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("repository: open engine: %w", err)
	}
	meta, err := metastore.Open(ctx, engine)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("repository: open metadata store: %w", err)
	}

	r := &Repository{
		opts:         opts,
		engine:       engine,
		meta:         meta,
		tm:           txscope.NewManager(engine),
		hooks:        hooks.NewRunner(30 * time.Second),
		tel:          newTelemetry(),
		storages:     make(map[string]*storage.Storage),
		sequences:    make(map[string]*idgen.Sequence),
		seqBlockSize: 100,
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	r.bgCancel = cancel
	if opts.RunCheckpointer && !opts.ReadOnly {
		r.checkpointer = background.NewCheckpointer(r, checkpointOwner, opts.CheckpointInterval)
		r.bgWG.Add(1)
		go func() { defer r.bgWG.Done(); r.checkpointer.Run(bgCtx) }()
	}
	if opts.RunDeadlockDetector {
		r.deadlocks = background.NewDeadlockDetector(r, deadlockOwner, 500*time.Millisecond)
		r.bgWG.Add(1)
		go func() { defer r.bgWG.Done(); r.deadlocks.Run(bgCtx) }()
	}

	return r, nil
}

// engineOptions translates the Configuration Contract (spec §6) into
// kvengine.Options, the engine-specific subset C1 needs.
func engineOptions(opts config.Options) kvengine.Options {
	pageSize := opts.DatabasePageSize[""]
	return kvengine.Options{
		Product:             opts.Product,
		EnvHome:             opts.EnvHome,
		DataHome:            opts.DataHome,
		FileNameMap:         opts.FileNameMap,
		ReadOnly:            opts.ReadOnly,
		CacheSize:           opts.CacheSize,
		LockTimeoutMillis:   opts.LockTimeout.Milliseconds(),
		TxnTimeoutMillis:    opts.TransactionTimeout.Milliseconds(),
		TransactionNoSync:   opts.TransactionNoSync,
		DatabasePageSize:    pageSize,
		Private:             opts.Private,
		Multiversion:        opts.Multiversion,
		RunFullRecovery:     opts.RunFullRecovery,
		RunDeadlockDetector: opts.RunDeadlockDetector,
		ChecksumEnabled:     opts.ChecksumEnabled,
	}
}

func checkpointOwner(ctx context.Context, r *Repository) error {
	start := time.Now()
	err := r.engine.Checkpoint(ctx)
	r.tel.recordCheckpoint(ctx, time.Since(start), err)
	return err
}

func deadlockOwner(ctx context.Context, r *Repository) error {
	broken, err := r.engine.DetectDeadlocks(ctx)
	r.tel.recordDeadlocks(ctx, broken)
	return err
}

// RegisterHook names a pre- or post-shutdown callback so Options'
// PreShutdownHook/PostShutdownHook string fields can address it.
func (r *Repository) RegisterHook(name string, fn hooks.Func) {
	r.hooks.Register(name, fn)
}

// Engine exposes the underlying kvengine.Engine, for capability surfaces
// (compaction, hot backup) that need to type-assert against it.
func (r *Repository) Engine() kvengine.Engine { return r.engine }

// TM returns the transaction manager, for callers to mint scopes via
// TM().NewScope().
func (r *Repository) TM() *txscope.Manager { return r.tm }

// Register binds goType (the caller's record struct) to binding and opens
// its Storage, per spec §4.4's open protocol. Calling Register twice for
// the same binding.TypeName returns the existing Storage.
func (r *Repository) Register(ctx context.Context, goType reflect.Type, binding types.Binding) (*storage.Storage, error) {
	r.openBlocker.Add(1)
	defer r.openBlocker.Done()

	r.mu.RLock()
	if r.shutdown {
		r.mu.RUnlock()
		return nil, storeerr.ErrRepositoryClosed
	}
	if s, ok := r.storages[binding.TypeName]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	s, err := storage.Open(ctx, r.engine, r.meta, goType, binding)
	if err != nil {
		return nil, err
	}
	s.SetForeignResolver(r.foreignLookup)
	s.SetSharedDatabaseFile(r.opts.SingleFileName != "" || len(r.opts.FileNameMap) > 0)

	r.mu.Lock()
	if existing, ok := r.storages[binding.TypeName]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.storages[binding.TypeName] = s
	r.mu.Unlock()
	return s, nil
}

// StorageFor returns the already-registered Storage for typeName, if any.
func (r *Repository) StorageFor(typeName string) (*storage.Storage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.storages[typeName]
	return s, ok
}

// foreignLookup adapts StorageFor to planner.ForeignLookup for chained
// reference properties (spec §4.7.6): it is called lazily, at Query build
// time, so a foreign type registered after this Storage was created still
// resolves correctly.
func (r *Repository) foreignLookup(typeName string) (planner.TypeSource, bool) {
	s, ok := r.StorageFor(typeName)
	if !ok {
		return nil, false
	}
	return s, true
}

// NewScope mints a new transaction scope (C4) over this repository's
// engine.
func (r *Repository) NewScope() (*txscope.Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.shutdown {
		return nil, storeerr.ErrRepositoryClosed
	}
	return r.tm.NewScope()
}
