// Package storage implements C6: the per-registered-type façade over a
// kvengine database, dispatching trigger callbacks around every write and
// load, and handling the open protocol (open the type's database, verify
// or write its metadata descriptor).
package storage

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/typedkv/typedkv/internal/codec"
	"github.com/typedkv/typedkv/internal/eventbus"
	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/metastore"
	"github.com/typedkv/typedkv/internal/storeerr"
	"github.com/typedkv/typedkv/internal/types"
)

// Storage is the per-type façade: prepare/load/insert/update/delete/
// truncate, backed by one kvengine.Database and one codec.Codec, with a
// Bus of triggers fired around every write and load.
type Storage struct {
	binding types.Binding
	goType  reflect.Type
	codec   codec.Codec
	engine  kvengine.Engine
	db      kvengine.Database
	alts    map[string]kvengine.Database
	bus     *eventbus.Bus
	foreign ForeignResolver

	// sharedFile records that this type's database lives in a physical
	// file grouped with other types (single_file_name / file_name_map),
	// so Truncate must delete per record instead of bulk-clearing.
	sharedFile bool
}

// SetSharedDatabaseFile marks the type's database as living in a physical
// file shared across types. Repository sets it from the file-grouping
// configuration right after opening the Storage.
func (s *Storage) SetSharedDatabaseFile(shared bool) {
	s.sharedFile = shared
}

// Open opens binding.TypeName's database and either writes a fresh
// metadata row (first registration) or verifies the stored descriptor is
// still compatible with binding. The metadata write is retried up to three
// times with backoff, each attempt in its own top-level transaction; Open
// does not fall back to a nested-transaction attempt once those retries
// are used up.
func Open(ctx context.Context, engine kvengine.Engine, meta *metastore.Store, goType reflect.Type, binding types.Binding) (*Storage, error) {
	db, err := engine.OpenDatabase(ctx, binding.TypeName, true)
	if err != nil {
		return nil, fmt.Errorf("storage: open database for %q: %w", binding.TypeName, err)
	}
	s := &Storage{
		binding: binding,
		goType:  goType,
		codec:   codec.NewReflectJSON(goType, binding),
		engine:  engine,
		db:      db,
		alts:    make(map[string]kvengine.Database, len(binding.Alternates)),
		bus:     eventbus.New(),
	}
	for _, idx := range binding.Alternates {
		altDB, err := engine.OpenDatabase(ctx, altDatabaseName(binding.TypeName, idx.Name), true)
		if err != nil {
			return nil, fmt.Errorf("storage: open index database %q for %q: %w", idx.Name, binding.TypeName, err)
		}
		s.alts[idx.Name] = altDB
	}
	if err := s.reconcileMetadata(ctx, meta); err != nil {
		return nil, err
	}
	return s, nil
}

// altDatabaseName derives the engine database holding one alternate
// index's entries. Double underscore rather than a dot so the name stays a
// plain identifier for engine products that map databases onto SQL tables.
func altDatabaseName(typeName, indexName string) string {
	return typeName + "__" + indexName
}

func (s *Storage) reconcileMetadata(ctx context.Context, meta *metastore.Store) error {
	nameDescriptor, typeDescriptor, err := metastore.DescribeIndexes(s.binding)
	if err != nil {
		return err
	}

	op := func() error {
		txn, err := s.engine.Begin(ctx, true)
		if err != nil {
			return err
		}
		existing, found, err := meta.Get(ctx, txn, s.binding.TypeName)
		if err != nil {
			_ = txn.Rollback(ctx)
			return backoff.Permanent(err)
		}
		if found {
			empty, err := txn.IsEmpty(ctx, s.db)
			if err != nil {
				_ = txn.Rollback(ctx)
				return backoff.Permanent(err)
			}
			if err := metastore.CheckCompatible(existing, s.binding, !empty); err != nil {
				_ = txn.Rollback(ctx)
				return backoff.Permanent(err)
			}
		}
		record := types.MetadataRecord{
			TypeName:            s.binding.TypeName,
			IndexNameDescriptor: nameDescriptor,
			IndexTypeDescriptor: typeDescriptor,
			EvolutionStrategy:   s.binding.Evolution,
		}
		if found {
			record.CreationTimestamp = existing.CreationTimestamp
			record.VersionNumber = existing.VersionNumber
			record.ExtraData = existing.ExtraData
			if existing.IndexNameDescriptor != nameDescriptor ||
				existing.IndexTypeDescriptor != typeDescriptor ||
				existing.EvolutionStrategy != s.binding.Evolution {
				record.VersionNumber++
			}
		} else {
			record.CreationTimestamp = time.Now().UnixMilli()
			record.VersionNumber = 1
		}
		if err := meta.Put(ctx, txn, record); err != nil {
			_ = txn.Rollback(ctx)
			return err
		}
		return txn.Commit(ctx)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("storage: reconcile metadata for %q: %w", s.binding.TypeName, err)
	}
	return nil
}

// AddTrigger registers t on the Storage's bus.
func (s *Storage) AddTrigger(t eventbus.Trigger) { s.bus.Register(t) }

// RemoveTrigger unregisters the trigger with the given id.
func (s *Storage) RemoveTrigger(id string) bool { return s.bus.Unregister(id) }

func (s *Storage) fire(ctx context.Context, phase eventbus.Phase, rec, before types.Record) error {
	return s.bus.Dispatch(ctx, &eventbus.Event{Phase: phase, Record: rec, Before: before})
}

// Load fetches rec's primary key from txn and decodes the stored value
// into rec in place. It returns storeerr.ErrFetchCorruptEncoding (wrapped)
// if decoding fails, or kvengine.ErrKeyNotFound if no record exists.
func (s *Storage) Load(ctx context.Context, txn kvengine.Txn, rec types.Record) error {
	if err := s.fire(ctx, eventbus.BeforeLoad, rec, nil); err != nil {
		return err
	}
	key, err := s.codec.EncodeKey(rec)
	if err != nil {
		return err
	}
	value, err := txn.Get(ctx, s.db, key)
	if err != nil {
		return err
	}
	if err := s.codec.Decode(key, value, rec); err != nil {
		return err
	}
	return s.fire(ctx, eventbus.AfterLoad, rec, nil)
}

// TryLoad is Load without the kvengine.ErrKeyNotFound case being an error:
// it returns found=false instead.
func (s *Storage) TryLoad(ctx context.Context, txn kvengine.Txn, rec types.Record) (found bool, err error) {
	err = s.Load(ctx, txn, rec)
	if err == kvengine.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Insert writes rec, failing with storeerr.ErrUniqueConstraint if its
// primary key already exists.
func (s *Storage) Insert(ctx context.Context, txn kvengine.Txn, rec types.Record) error {
	ok, err := s.TryInsert(ctx, txn, rec)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: type %q", storeerr.ErrUniqueConstraint, s.binding.TypeName)
	}
	return nil
}

// TryInsert writes rec and returns false (no error) if its primary key
// already exists, rather than failing. The existence check and the write
// happen as a single call to txn.PutNoOverwrite so two concurrent
// TryInsert calls racing on the same key can never both report created,
// unlike a separate Get-then-Put check-then-act sequence.
func (s *Storage) TryInsert(ctx context.Context, txn kvengine.Txn, rec types.Record) (bool, error) {
	key, err := s.codec.EncodeKey(rec)
	if err != nil {
		return false, err
	}
	if err := s.fire(ctx, eventbus.BeforeInsert, rec, nil); err != nil {
		return false, err
	}
	value, err := s.codec.EncodeValue(rec)
	if err != nil {
		return false, err
	}
	created, err := txn.PutNoOverwrite(ctx, s.db, key, value)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	if err := s.putIndexEntries(ctx, txn, rec, key); err != nil {
		return false, err
	}
	if err := s.fire(ctx, eventbus.AfterInsert, rec, nil); err != nil {
		return false, err
	}
	return true, nil
}

// putIndexEntries writes rec's entry into every alternate index database.
// Entry keys append the primary key to the index's own encoding so two
// records sharing a non-unique index value never collide; the entry value
// is the primary key itself, which an index scan follows back to the
// primary database for the full record.
func (s *Storage) putIndexEntries(ctx context.Context, txn kvengine.Txn, rec types.Record, primaryKey []byte) error {
	for _, idx := range s.binding.Alternates {
		entryKey, err := s.indexEntryKey(rec, idx.Name, primaryKey)
		if err != nil {
			return err
		}
		if err := txn.Put(ctx, s.alts[idx.Name], entryKey, primaryKey); err != nil {
			return err
		}
	}
	return nil
}

// deleteIndexEntries removes rec's entry from every alternate index
// database. rec must be fully populated, not just its key properties, or
// the computed entry keys will not match what putIndexEntries wrote.
func (s *Storage) deleteIndexEntries(ctx context.Context, txn kvengine.Txn, rec types.Record, primaryKey []byte) error {
	for _, idx := range s.binding.Alternates {
		entryKey, err := s.indexEntryKey(rec, idx.Name, primaryKey)
		if err != nil {
			return err
		}
		if err := txn.Delete(ctx, s.alts[idx.Name], entryKey); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) indexEntryKey(rec types.Record, indexName string, primaryKey []byte) ([]byte, error) {
	altKey, err := s.codec.EncodeAltKey(rec, indexName)
	if err != nil {
		return nil, err
	}
	return append(altKey, primaryKey...), nil
}

// loadCurrent fetches and decodes the record currently stored under key,
// so update and delete paths can compute the index entries the stored
// version occupies (which the caller's record, often populated with key
// properties only, cannot supply).
func (s *Storage) loadCurrent(ctx context.Context, txn kvengine.Txn, key []byte) (types.Record, error) {
	value, err := txn.Get(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	current := s.codec.NewRecord()
	if err := s.codec.Decode(key, value, current); err != nil {
		return nil, err
	}
	return current, nil
}

// Store writes rec unconditionally (upsert): insert if absent, update if
// present. before, if non-nil, is passed through to update triggers.
func (s *Storage) Store(ctx context.Context, txn kvengine.Txn, rec types.Record, before types.Record) error {
	key, err := s.codec.EncodeKey(rec)
	if err != nil {
		return err
	}
	old, getErr := s.loadCurrent(ctx, txn, key)
	if getErr != nil && getErr != kvengine.ErrKeyNotFound {
		return getErr
	}
	isUpdate := getErr == nil
	phaseBefore, phaseAfter := eventbus.BeforeInsert, eventbus.AfterInsert
	if isUpdate {
		phaseBefore, phaseAfter = eventbus.BeforeUpdate, eventbus.AfterUpdate
		if before == nil {
			before = old
		}
	}
	if err := s.fire(ctx, phaseBefore, rec, before); err != nil {
		return err
	}
	value, err := s.codec.EncodeValue(rec)
	if err != nil {
		return err
	}
	if err := txn.Put(ctx, s.db, key, value); err != nil {
		return err
	}
	if isUpdate {
		if err := s.deleteIndexEntries(ctx, txn, old, key); err != nil {
			return err
		}
	}
	if err := s.putIndexEntries(ctx, txn, rec, key); err != nil {
		return err
	}
	return s.fire(ctx, phaseAfter, rec, before)
}

// TryDelete removes rec's primary key, returning whether a record was
// actually present to remove.
func (s *Storage) TryDelete(ctx context.Context, txn kvengine.Txn, rec types.Record) (bool, error) {
	key, err := s.codec.EncodeKey(rec)
	if err != nil {
		return false, err
	}
	current, err := s.loadCurrent(ctx, txn, key)
	if err == kvengine.ErrKeyNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := s.fire(ctx, eventbus.BeforeDelete, rec, nil); err != nil {
		return false, err
	}
	if err := txn.Delete(ctx, s.db, key); err != nil {
		return false, err
	}
	if err := s.deleteIndexEntries(ctx, txn, current, key); err != nil {
		return false, err
	}
	if err := s.fire(ctx, eventbus.AfterDelete, rec, nil); err != nil {
		return false, err
	}
	return true, nil
}

// truncateBatchSize bounds each delete batch of the per-record truncate
// path. Every batch runs inside the caller's one transaction; nothing is
// committed or released between batches.
const truncateBatchSize = 100

// Truncate removes every record of this type. When no delete trigger is
// registered and the type's database is not grouped into a file shared
// with other types, the engine's native Truncate clears the primary and
// index databases directly. Otherwise it falls back to iterating and
// TryDelete-ing in batches of truncateBatchSize, so every registered
// delete trigger fires once per record and a shared physical file is
// never bulk-cleared out from under the other types living in it.
func (s *Storage) Truncate(ctx context.Context, txn kvengine.Txn) error {
	hasDeleteTriggers := len(s.bus.Triggers(eventbus.BeforeDelete, eventbus.AfterDelete)) > 0
	if !hasDeleteTriggers && !s.sharedFile {
		for _, altDB := range s.alts {
			if err := txn.Truncate(ctx, altDB); err != nil {
				return err
			}
		}
		return txn.Truncate(ctx, s.db)
	}

	for {
		cur, err := txn.Cursor(ctx, s.db)
		if err != nil {
			return err
		}
		batch := make([]types.Record, 0, truncateBatchSize)
		k, v, err := cur.First(ctx)
		for i := 0; i < truncateBatchSize && err == nil; i++ {
			rec := s.codec.NewRecord()
			if decErr := s.codec.Decode(k, v, rec); decErr != nil {
				_ = cur.Close()
				return decErr
			}
			batch = append(batch, rec)
			k, v, err = cur.Next(ctx)
		}
		_ = cur.Close()
		if err != nil && err != kvengine.ErrKeyNotFound {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, rec := range batch {
			if _, err := s.TryDelete(ctx, txn, rec); err != nil {
				return err
			}
		}
	}
}

// Database exposes the underlying kvengine.Database, for internal/planner
// and internal/rangecursor to open cursors against directly.
func (s *Storage) Database() kvengine.Database { return s.db }

// AltDatabase returns the database holding the named alternate index's
// entries, for the planner's index scans over a non-primary index.
func (s *Storage) AltDatabase(indexName string) (kvengine.Database, bool) {
	db, ok := s.alts[indexName]
	return db, ok
}

// Binding returns the type's registration record.
func (s *Storage) Binding() types.Binding { return s.binding }

// Codec returns the type's codec, for callers building cursors that need
// to decode stored values.
func (s *Storage) Codec() codec.Codec { return s.codec }
