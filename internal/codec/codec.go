// Package codec implements C2: the round-trip between a Record value and
// the (primary-key-bytes, value-bytes) pair the engine actually stores.
// Key bytes are built to preserve lexicographic ordering for every
// supported property type, so a range cursor's byte comparisons match the
// declared key's logical ordering; value bytes are a generation-tagged
// JSON envelope, matching the teacher's JSONL-based record persistence.
package codec

import "github.com/typedkv/typedkv/internal/types"

// Codec encodes and decodes one registered record type. A Repository holds
// exactly one Codec per Binding, built once at registration time.
type Codec interface {
	// EncodeKey renders rec's primary key as ordered bytes.
	EncodeKey(rec types.Record) ([]byte, error)

	// EncodeAltKey renders rec's key for the named alternate index.
	EncodeAltKey(rec types.Record, indexName string) ([]byte, error)

	// EncodeValue renders rec's non-key properties, tagged with the
	// codec's current generation.
	EncodeValue(rec types.Record) ([]byte, error)

	// Decode populates out (a pointer to the registered Go type) from
	// stored key and value bytes. It returns storeerr.ErrFetchCorruptEncoding
	// (wrapped) if value was written by a generation the codec's
	// EvolutionStrategy does not tolerate.
	Decode(key, value []byte, out types.Record) error

	// Generation is the schema generation this codec currently writes.
	Generation() uint32

	// EncodePropertyPrefix renders values for props (in order) as ordered
	// key bytes, without requiring a full record. The query planner uses
	// this to build index scan bounds directly from a filter's equality
	// and range constraints.
	EncodePropertyPrefix(props []types.KeyProperty, values map[string]any) ([]byte, error)

	// NewRecord returns a fresh zero-value instance of the registered Go
	// type, as a types.Record, for the planner to decode scanned rows
	// into.
	NewRecord() types.Record
}
