// Package types defines the data model shared across the object store: the
// Record contract every storable type implements, property/index
// descriptors, and the small enums (Direction, EvolutionStrategy) used to
// describe how a type's keys are laid out and how its schema may change.
package types

import "fmt"

// Record is implemented by every Go struct a caller registers with a
// Repository. Binding describes the struct's properties and primary key
// once; the store never uses reflection tags at call sites, only at
// registration time, so hot-path encode/decode stays allocation-light.
type Record interface {
	// TypeName is the stable identifier stored in the metadata table's
	// databaseName column. It must not change across releases without
	// a deliberate migration: renaming it orphans the existing
	// metadata row and the type is treated as newly registered.
	TypeName() string
}

// Direction is the sort direction of one property within a primary or
// alternate key.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// KeyProperty names one property participating in a key and the direction
// its encoded bytes sort in.
type KeyProperty struct {
	Name      string
	Direction Direction
}

// EvolutionStrategy describes how a registered type tolerates its stored
// records having been written by an earlier generation of its schema.
type EvolutionStrategy int

const (
	// EvolutionNone rejects any generation mismatch: the type must be
	// re-registered with an explicit migration before it can be opened
	// against records written by a different generation.
	EvolutionNone EvolutionStrategy = iota
	// EvolutionAdditive allows new optional properties to appear across
	// generations; removed or retyped properties still fail.
	EvolutionAdditive
	// EvolutionFreeform defers entirely to the codec's decode step,
	// which must tolerate arbitrary stored shapes for this type.
	EvolutionFreeform
)

// IndexDescriptor is the opaque-to-the-engine, human-inspectable
// description of one index (primary or alternate) over a registered type.
// It round-trips through YAML when persisted in the metadata store so an
// operator can read it directly out of the table.
type IndexDescriptor struct {
	Name       string        `yaml:"name"`
	Unique     bool          `yaml:"unique"`
	Clustered  bool          `yaml:"clustered"`
	Properties []KeyProperty `yaml:"properties"`
}

// ReferenceProperty describes a property whose value identifies a record of
// another registered type, resolved by binding this type's local property
// names to the foreign type's key property names. The query planner
// uses this to rewrite a chained filter like "order.address.state" into a
// joined executor over the foreign type.
type ReferenceProperty struct {
	Name           string
	ForeignType    string
	LocalToForeign map[string]string
}

func (d IndexDescriptor) String() string {
	return fmt.Sprintf("IndexDescriptor{name=%s unique=%t properties=%v}", d.Name, d.Unique, d.Properties)
}

// Binding is the full registration record for a Go type: its primary key,
// any alternate indexes, and the evolution strategy the metadata store
// should enforce for it. The caller builds it and passes it to
// Repository.Register at registration time.
type Binding struct {
	TypeName   string
	GoType     string // reflect.Type.String(), recorded for diagnostics only
	Generation uint32
	Primary    IndexDescriptor
	Alternates []IndexDescriptor
	References []ReferenceProperty
	Evolution  EvolutionStrategy
}

// MetadataRecord is the shape of one row in the self-hosted metadata table
// (C3): one per registered type, keyed by TypeName. VersionNumber is
// monotonic, incremented on every metadata change; ExtraData is reserved
// for evolving the row itself without a table migration.
type MetadataRecord struct {
	TypeName           string
	IndexNameDescriptor string
	IndexTypeDescriptor string
	EvolutionStrategy   EvolutionStrategy
	CreationTimestamp   int64
	VersionNumber       uint32
	ExtraData           []byte
}
