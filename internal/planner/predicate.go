package planner

import (
	"fmt"
	"reflect"

	"github.com/typedkv/typedkv/internal/planner/expr"
	"github.com/typedkv/typedkv/internal/types"
)

// matches reports whether rec satisfies every comparison in disjunct.
func matches(rec types.Record, disjunct expr.Disjunct) bool {
	for _, c := range disjunct {
		if !matchesComparison(rec, c) {
			return false
		}
	}
	return true
}

func matchesComparison(rec types.Record, c *expr.Comparison) bool {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	field := v.FieldByName(c.Property)
	if !field.IsValid() {
		return false
	}
	cmp, ok := compareValues(field, reflect.ValueOf(c.Value))
	if !ok {
		return false
	}
	switch c.Op {
	case expr.OpEquals:
		return cmp == 0
	case expr.OpNotEquals:
		return cmp != 0
	case expr.OpLess:
		return cmp < 0
	case expr.OpLessEq:
		return cmp <= 0
	case expr.OpGreater:
		return cmp > 0
	case expr.OpGreaterEq:
		return cmp >= 0
	default:
		return false
	}
}

// compareValues compares a struct field against a literal, returning
// (negative|0|positive, ok). ok is false when the two are not
// comparable (e.g. a string field against a numeric literal).
func compareValues(field, literal reflect.Value) (int, bool) {
	switch field.Kind() {
	case reflect.String:
		if literal.Kind() != reflect.String {
			return 0, false
		}
		a, b := field.String(), literal.String()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := asFloat(literal)
		if !ok {
			return 0, false
		}
		return compareFloat(float64(field.Int()), f), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, ok := asFloat(literal)
		if !ok {
			return 0, false
		}
		return compareFloat(float64(field.Uint()), f), true
	case reflect.Float32, reflect.Float64:
		f, ok := asFloat(literal)
		if !ok {
			return 0, false
		}
		return compareFloat(field.Float(), f), true
	case reflect.Bool:
		if literal.Kind() != reflect.Bool {
			return 0, false
		}
		a, b := field.Bool(), literal.Bool()
		if a == b {
			return 0, true
		}
		if !a && b {
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}

func asFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func fieldValues(rec types.Record, props []types.KeyProperty) map[string]any {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	out := make(map[string]any, len(props))
	for _, p := range props {
		field := v.FieldByName(p.Name)
		if field.IsValid() {
			out[p.Name] = field.Interface()
		}
	}
	return out
}

func describeDisjunct(d expr.Disjunct) string {
	if len(d) == 0 {
		return "true"
	}
	s := d[0].String()
	for _, c := range d[1:] {
		s += fmt.Sprintf(" AND %s", c)
	}
	return s
}
