package storage

import (
	"context"
	"fmt"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/planner"
	"github.com/typedkv/typedkv/internal/planner/expr"
	"github.com/typedkv/typedkv/internal/planner/langparse"
	"github.com/typedkv/typedkv/internal/types"
)

// ForeignResolver lets a Query's planner follow a chained reference
// property to another registered type's Storage, without this package
// depending on internal/repository (which owns the type-name-to-Storage
// map). A Repository passes its own lookup closure into every Storage it
// builds; a Storage with no reference properties never calls it.
type ForeignResolver func(typeName string) (planner.TypeSource, bool)

// Prepare returns a zero-value instance of the registered Go type, ready
// for a caller to populate and pass to Insert/Load/etc.
func (s *Storage) Prepare() types.Record {
	return s.codec.NewRecord()
}

// Query builds an empty Query (matches every record) over this Storage's
// type. Callers narrow it with Filter/FilterString and OrderBy before
// calling a terminal method.
func (s *Storage) Query() *Query {
	return &Query{source: s}
}

// QueryFilter builds a Query pre-populated with filter as its root
// condition.
func (s *Storage) QueryFilter(filter expr.Node) *Query {
	return &Query{source: s, filter: filter}
}

// SetForeignResolver wires foreign into every Query this Storage builds,
// so joined plans across chained reference properties can resolve the
// foreign type's TypeSource. Repository calls this once per Storage right
// after registration.
func (s *Storage) SetForeignResolver(foreign ForeignResolver) {
	s.foreign = foreign
}

// Query is the builder/terminal surface spec §6 describes: Filter/OrderBy
// narrow it, Fetch/Count/Exists/DeleteOne/DeleteAll execute it. A Query is
// immutable once built — Filter and OrderBy each return a new value —
// so the same base Query can be reused to build several variants.
type Query struct {
	source   *Storage
	filter   expr.Node
	ordering []planner.OrderTerm
}

// Filter returns a copy of q with its root condition replaced by filter
// (a boolean tree of comparisons over the registered type's property
// names).
func (q Query) Filter(filter expr.Node) *Query {
	q.filter = filter
	return &q
}

// FilterString parses a small comparison grammar ("property op value",
// AND/OR/NOT, parens) into a filter tree. It is a convenience for callers
// that would rather write a string than build expr.Node values by hand;
// the planner itself never parses text.
func (q Query) FilterString(s string) (*Query, error) {
	node, err := langparse.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("storage: parse filter %q: %w", s, err)
	}
	q.filter = node
	return &q, nil
}

// OrderBy returns a copy of q ordered by terms, most significant first.
func (q Query) OrderBy(terms ...planner.OrderTerm) *Query {
	q.ordering = append([]planner.OrderTerm(nil), terms...)
	return &q
}

func (q *Query) build() (planner.Executor, error) {
	var foreignLookup planner.ForeignLookup
	if q.source.foreign != nil {
		foreignLookup = planner.ForeignLookup(q.source.foreign)
	}
	return planner.Build(q.source, foreignLookup, planner.Request{Filter: q.filter, Ordering: q.ordering})
}

// Fetch runs the query within txn and returns every matching record,
// decoded and in the ordering the plan reports (which may differ from the
// requested ordering only by being a superset prefix match, per §4.7.3's
// free-ordering rule).
func (q *Query) Fetch(ctx context.Context, txn kvengine.Txn) ([]types.Record, error) {
	exec, err := q.build()
	if err != nil {
		return nil, err
	}
	it, err := exec.Open(ctx, txn)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []types.Record
	for {
		rec, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, rec)
	}
}

// Count returns the number of matching records. It uses the executor's
// cheap Count() when the plan can answer without a scan, otherwise it
// falls back to counting a full Fetch.
func (q *Query) Count(ctx context.Context, txn kvengine.Txn) (int64, error) {
	exec, err := q.build()
	if err != nil {
		return 0, err
	}
	if n := exec.Count(); n >= 0 {
		return n, nil
	}
	it, err := exec.Open(ctx, txn)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var n int64
	for {
		_, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Exists reports whether the query matches at least one record, stopping
// at the first match rather than scanning the whole plan.
func (q *Query) Exists(ctx context.Context, txn kvengine.Txn) (bool, error) {
	exec, err := q.build()
	if err != nil {
		return false, err
	}
	it, err := exec.Open(ctx, txn)
	if err != nil {
		return false, err
	}
	defer it.Close()
	_, ok, err := it.Next(ctx)
	return ok, err
}

// DeleteOne deletes at most one matching record and reports whether it
// found one to delete.
func (q *Query) DeleteOne(ctx context.Context, txn kvengine.Txn) (bool, error) {
	exec, err := q.build()
	if err != nil {
		return false, err
	}
	it, err := exec.Open(ctx, txn)
	if err != nil {
		return false, err
	}
	defer it.Close()
	rec, ok, err := it.Next(ctx)
	if err != nil || !ok {
		return false, err
	}
	return q.source.TryDelete(ctx, txn, rec)
}

// DeleteAll deletes every matching record and returns how many were
// removed. It materializes matching keys before deleting any of them, so
// deleting a record doesn't perturb the cursor the plan is still reading
// from.
func (q *Query) DeleteAll(ctx context.Context, txn kvengine.Txn) (int64, error) {
	matches, err := q.Fetch(ctx, txn)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range matches {
		ok, err := q.source.TryDelete(ctx, txn, rec)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Explain returns the executor tree's human-readable plan, for
// diagnostics.
func (q *Query) Explain() (string, error) {
	exec, err := q.build()
	if err != nil {
		return "", err
	}
	return exec.Explain(), nil
}
