package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/typedkv/typedkv/internal/types"
)

// encodeOrderedValue appends v's order-preserving byte encoding to buf.
// Integers are encoded as fixed-width big-endian with the sign bit
// flipped so two's-complement ordering matches byte-lexicographic
// ordering; strings and byte slices are length-prefixed so no value is a
// prefix of another's encoding, which would otherwise corrupt ordering
// across a multi-property key.
func encodeOrderedValue(buf []byte, v reflect.Value, dir types.Direction) ([]byte, error) {
	start := len(buf)
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, s...)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int())^(1<<63))
		buf = append(buf, b[:]...)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v.Uint())
		buf = append(buf, b[:]...)
	case reflect.Float32, reflect.Float64:
		bits := math.Float64bits(v.Float())
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf = append(buf, b[:]...)
	case reflect.Bool:
		if v.Bool() {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := v.Bytes()
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, b...)
			break
		}
		return buf, fmt.Errorf("codec: unsupported key element slice type %s", v.Type())
	default:
		return buf, fmt.Errorf("codec: unsupported key element type %s", v.Type())
	}
	if dir == types.Descending {
		for i := start; i < len(buf); i++ {
			buf[i] = ^buf[i]
		}
	}
	return buf, nil
}

// encodeKeyProperties renders props, in order, as an ordered byte string.
func encodeKeyProperties(rec types.Record, props []types.KeyProperty) ([]byte, error) {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	buf := make([]byte, 0, 32)
	for _, p := range props {
		field := v.FieldByName(p.Name)
		if !field.IsValid() {
			return nil, fmt.Errorf("codec: type %s has no field %q named by its key", v.Type(), p.Name)
		}
		var err error
		buf, err = encodeOrderedValue(buf, field, p.Direction)
		if err != nil {
			return nil, fmt.Errorf("codec: property %q: %w", p.Name, err)
		}
	}
	return buf, nil
}

// encodePropertyValues renders values for props, in order, as ordered key
// bytes, stopping at (and returning) the prefix successfully encoded so
// far if a named property is absent from values — callers building a
// partial identity prefix rely on this short-circuit.
func encodePropertyValues(props []types.KeyProperty, values map[string]any) ([]byte, error) {
	buf := make([]byte, 0, 32)
	for _, p := range props {
		val, ok := values[p.Name]
		if !ok {
			break
		}
		var err error
		buf, err = encodeOrderedValue(buf, reflect.ValueOf(val), p.Direction)
		if err != nil {
			return nil, fmt.Errorf("codec: property %q: %w", p.Name, err)
		}
	}
	return buf, nil
}
