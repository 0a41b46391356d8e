package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/typedkv/typedkv/internal/storeerr"
	"github.com/typedkv/typedkv/internal/types"
)

// envelope is the on-disk value shape: a generation tag alongside the
// record's JSON body, so a later reader can tell which schema generation
// wrote a given value before attempting to decode it. This mirrors the
// teacher's JSONL records, one JSON object per line, generalized with an
// explicit generation field the teacher's fixed Issue schema never needed.
type envelope struct {
	Generation uint32          `json:"gen"`
	Body       json.RawMessage `json:"body"`
}

// ReflectJSON is the default Codec: it encodes keys with encodeKeyProperties
// and values as a generation-tagged JSON envelope via encoding/json,
// addressing fields by name through reflection. It is built once per
// registered type, at registration time, from that type's types.Binding.
type ReflectJSON struct {
	binding types.Binding
	goType  reflect.Type
}

// NewReflectJSON builds a codec for goType (the registered struct type,
// not a pointer) described by binding.
func NewReflectJSON(goType reflect.Type, binding types.Binding) *ReflectJSON {
	return &ReflectJSON{binding: binding, goType: goType}
}

func (c *ReflectJSON) EncodeKey(rec types.Record) ([]byte, error) {
	return encodeKeyProperties(rec, c.binding.Primary.Properties)
}

func (c *ReflectJSON) EncodeAltKey(rec types.Record, indexName string) ([]byte, error) {
	for _, idx := range c.binding.Alternates {
		if idx.Name == indexName {
			return encodeKeyProperties(rec, idx.Properties)
		}
	}
	return nil, fmt.Errorf("codec: type %s has no alternate index %q", c.binding.TypeName, indexName)
}

func (c *ReflectJSON) EncodeValue(rec types.Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %s: %w", c.binding.TypeName, err)
	}
	return json.Marshal(envelope{Generation: c.binding.Generation, Body: body})
}

func (c *ReflectJSON) Decode(_ []byte, value []byte, out types.Record) error {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return storeerr.Op("ReflectJSON.Decode", fmt.Errorf("%w: %v", storeerr.ErrFetchCorruptEncoding, err))
	}
	if env.Generation != c.binding.Generation && c.binding.Evolution == types.EvolutionNone {
		return storeerr.Op("ReflectJSON.Decode",
			fmt.Errorf("%w: stored generation %d, codec generation %d, evolution strategy none",
				storeerr.ErrFetchCorruptEncoding, env.Generation, c.binding.Generation))
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return storeerr.Op("ReflectJSON.Decode", fmt.Errorf("%w: %v", storeerr.ErrFetchCorruptEncoding, err))
	}
	return nil
}

func (c *ReflectJSON) Generation() uint32 { return c.binding.Generation }

func (c *ReflectJSON) EncodePropertyPrefix(props []types.KeyProperty, values map[string]any) ([]byte, error) {
	return encodePropertyValues(props, values)
}

func (c *ReflectJSON) NewRecord() types.Record {
	return reflect.New(c.goType).Interface().(types.Record)
}
