package planner

import (
	"reflect"
	"sort"

	"github.com/typedkv/typedkv/internal/types"
)

// sortGrouped sorts rows by finisher, but only within contiguous runs that
// already agree on handled (the prefix upstream's own ordering already
// guarantees) — Sorted only pays for comparing the trailing, unhandled
// properties, never for re-deciding an ordering upstream already settled.
func sortGrouped(rows []types.Record, handled, finisher []OrderTerm) []types.Record {
	if len(handled) == 0 {
		sortByTerms(rows, finisher)
		return rows
	}
	out := make([]types.Record, 0, len(rows))
	i := 0
	for i < len(rows) {
		j := i + 1
		for j < len(rows) && equalOnTerms(rows[i], rows[j], handled) {
			j++
		}
		group := rows[i:j]
		sortByTerms(group, finisher)
		out = append(out, group...)
		i = j
	}
	return out
}

func sortByTerms(rows []types.Record, terms []OrderTerm) {
	if len(terms) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, term := range terms {
			c := compareFields(rows[i], rows[j], term.Property)
			if c == 0 {
				continue
			}
			if term.Direction == types.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func equalOnTerms(a, b types.Record, terms []OrderTerm) bool {
	for _, term := range terms {
		if compareFields(a, b, term.Property) != 0 {
			return false
		}
	}
	return true
}

func compareFields(a, b types.Record, property string) int {
	av := fieldByName(a, property)
	bv := fieldByName(b, property)
	if !av.IsValid() || !bv.IsValid() {
		return 0
	}
	c, ok := compareValues(av, bv)
	if !ok {
		return 0
	}
	return c
}

func fieldByName(rec types.Record, name string) reflect.Value {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v.FieldByName(name)
}
