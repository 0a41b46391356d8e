// Package metastore implements C3: the self-hosted metadata table that
// records one row per registered type, keyed by type name, in the same
// engine and under the same transactional guarantees as every other
// database the repository manages. There is no bootstrap problem here
// deliberately: the metadata database is just another kvengine.Database,
// opened through the same Engine.OpenDatabase call every registered type's
// storage uses.
package metastore

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/storeerr"
	"github.com/typedkv/typedkv/internal/types"
)

// DatabaseName is the fixed name of the metadata database within the
// engine, chosen to be extremely unlikely to collide with a registered
// record type's own database name.
const DatabaseName = "__typestore_metadata"

// Store wraps the metadata database with typed get/put operations over
// types.MetadataRecord, plus the schema-incompatibility check the Storage
// façade (C6) runs before accepting a Binding for a type that already has
// records.
type Store struct {
	engine kvengine.Engine
	db     kvengine.Database
}

// Open ensures the metadata database exists and returns a Store over it.
func Open(ctx context.Context, engine kvengine.Engine) (*Store, error) {
	db, err := engine.OpenDatabase(ctx, DatabaseName, true)
	if err != nil {
		return nil, fmt.Errorf("metastore: open metadata database: %w", err)
	}
	return &Store{engine: engine, db: db}, nil
}

// record is the wire shape of one metadata row, the JSON-serialized form of
// types.MetadataRecord with its index descriptors pre-rendered to YAML so
// the opaque descriptor columns are directly human-readable without a
// second decode step.
type record struct {
	TypeName            string `json:"typeName"`
	IndexNameDescriptor string `json:"indexNameDescriptor"`
	IndexTypeDescriptor string `json:"indexTypeDescriptor"`
	EvolutionStrategy   int    `json:"evolutionStrategy"`
	CreationTimestamp   int64  `json:"creationTimestamp"`
	VersionNumber       uint32 `json:"versionNumber"`
	ExtraData           []byte `json:"extraData,omitempty"`
}

// Get fetches the stored metadata row for typeName, within txn.
func (s *Store) Get(ctx context.Context, txn kvengine.Txn, typeName string) (types.MetadataRecord, bool, error) {
	raw, err := txn.Get(ctx, s.db, []byte(typeName))
	if err == kvengine.ErrKeyNotFound {
		return types.MetadataRecord{}, false, nil
	}
	if err != nil {
		return types.MetadataRecord{}, false, fmt.Errorf("metastore: get %q: %w", typeName, err)
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return types.MetadataRecord{}, false, fmt.Errorf("%w: metadata row for %q: %v", storeerr.ErrFetchCorruptEncoding, typeName, err)
	}
	return types.MetadataRecord{
		TypeName:            r.TypeName,
		IndexNameDescriptor: r.IndexNameDescriptor,
		IndexTypeDescriptor: r.IndexTypeDescriptor,
		EvolutionStrategy:   types.EvolutionStrategy(r.EvolutionStrategy),
		CreationTimestamp:   r.CreationTimestamp,
		VersionNumber:       r.VersionNumber,
		ExtraData:           r.ExtraData,
	}, true, nil
}

// Put writes or overwrites the metadata row for m.TypeName.
func (s *Store) Put(ctx context.Context, txn kvengine.Txn, m types.MetadataRecord) error {
	r := record{
		TypeName:            m.TypeName,
		IndexNameDescriptor: m.IndexNameDescriptor,
		IndexTypeDescriptor: m.IndexTypeDescriptor,
		EvolutionStrategy:   int(m.EvolutionStrategy),
		CreationTimestamp:   m.CreationTimestamp,
		VersionNumber:       m.VersionNumber,
		ExtraData:           m.ExtraData,
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("metastore: marshal %q: %w", m.TypeName, err)
	}
	if err := txn.Put(ctx, s.db, []byte(m.TypeName), raw); err != nil {
		return fmt.Errorf("metastore: put %q: %w", m.TypeName, err)
	}
	return nil
}

// DescribeIndexes renders a Binding's primary and alternate index
// descriptors to the two opaque YAML strings the metadata row stores.
func DescribeIndexes(b types.Binding) (nameDescriptor, typeDescriptor string, err error) {
	nameBytes, err := yaml.Marshal(indexNames(b))
	if err != nil {
		return "", "", fmt.Errorf("metastore: render index name descriptor: %w", err)
	}
	typeBytes, err := yaml.Marshal(struct {
		Primary    types.IndexDescriptor   `yaml:"primary"`
		Alternates []types.IndexDescriptor `yaml:"alternates"`
	}{Primary: b.Primary, Alternates: b.Alternates})
	if err != nil {
		return "", "", fmt.Errorf("metastore: render index type descriptor: %w", err)
	}
	return string(nameBytes), string(typeBytes), nil
}

func indexNames(b types.Binding) []string {
	names := make([]string, 0, 1+len(b.Alternates))
	names = append(names, b.Primary.Name)
	for _, alt := range b.Alternates {
		names = append(names, alt.Name)
	}
	return names
}

// CheckCompatible verifies that binding's index layout and evolution
// strategy match the stored metadata row for its type. hasRecords must be
// true if the type's storage database is non-empty: a type with zero
// records may always update its descriptor, since there is nothing yet on
// disk to conflict with it (spec §3's schema-incompatibility invariant).
func CheckCompatible(existing types.MetadataRecord, binding types.Binding, hasRecords bool) error {
	if !hasRecords {
		return nil
	}
	_, typeDescriptor, err := DescribeIndexes(binding)
	if err != nil {
		return err
	}
	if existing.IndexTypeDescriptor != typeDescriptor {
		return fmt.Errorf("%w: type %q index layout changed with existing records present",
			storeerr.ErrSchemaIncompatible, binding.TypeName)
	}
	if existing.EvolutionStrategy != binding.Evolution {
		return fmt.Errorf("%w: type %q evolution strategy changed with existing records present",
			storeerr.ErrSchemaIncompatible, binding.TypeName)
	}
	return nil
}
