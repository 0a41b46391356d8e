package planner

import (
	"context"
	"fmt"

	"github.com/typedkv/typedkv/internal/codec"
	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/planner/expr"
	"github.com/typedkv/typedkv/internal/rangecursor"
	"github.com/typedkv/typedkv/internal/types"
)

// TypeSource is the planner's view of a registered type's storage: enough
// to open cursors and decode rows, without depending on the storage
// package's concrete type. *storage.Storage satisfies this directly.
type TypeSource interface {
	Database() kvengine.Database
	// AltDatabase resolves a declared alternate index's entry database,
	// whose values are primary keys an index scan follows back to
	// Database() for the full record.
	AltDatabase(indexName string) (kvengine.Database, bool)
	Codec() codec.Codec
	Binding() types.Binding
}

// RowIterator yields decoded records lazily. Next returns (nil, false, nil)
// once exhausted.
type RowIterator interface {
	Next(ctx context.Context) (types.Record, bool, error)
	Close() error
}

// Executor is one node of an executor tree: it can be opened into a
// RowIterator, and it can describe itself for explain output and further
// composition (Sorted wrapping, Joined ordering rewrite).
type Executor interface {
	Open(ctx context.Context, txn kvengine.Txn) (RowIterator, error)
	Ordering() []OrderTerm
	// Count returns a cheaply-known row count, or -1 if the executor
	// would have to scan to find out.
	Count() int64
	Explain() string
}

// --- IndexScan -------------------------------------------------------

// IndexScanExecutor reads a bounded range of one index, decoding each row.
// It applies no predicate beyond the range itself: identity values became
// the bound prefix, so no further filtering is required for rows the scan
// yields, but RemainderFilters (if any) still need a Filtered wrapper.
type IndexScanExecutor struct {
	source  TypeSource
	index   types.IndexDescriptor
	rng     rangecursor.Range
	reverse bool
}

func NewIndexScan(source TypeSource, index types.IndexDescriptor, rng rangecursor.Range, reverse bool) *IndexScanExecutor {
	return &IndexScanExecutor{source: source, index: index, rng: rng, reverse: reverse}
}

func (e *IndexScanExecutor) Open(ctx context.Context, txn kvengine.Txn) (RowIterator, error) {
	scanDB := e.source.Database()
	viaAlt := e.index.Name != e.source.Binding().Primary.Name
	if viaAlt {
		altDB, ok := e.source.AltDatabase(e.index.Name)
		if !ok {
			return nil, fmt.Errorf("planner: type %q has no database for index %q", e.source.Binding().TypeName, e.index.Name)
		}
		scanDB = altDB
	}
	native, err := txn.Cursor(ctx, scanDB)
	if err != nil {
		return nil, fmt.Errorf("planner: open cursor for index %q: %w", e.index.Name, err)
	}
	dir := rangecursor.Forward
	if e.reverse {
		dir = rangecursor.Reverse
	}
	cur := rangecursor.New(native, e.rng, dir)
	return &indexScanIter{cur: cur, source: e.source, viaAlt: viaAlt, txn: txn}, nil
}

func (e *IndexScanExecutor) Ordering() []OrderTerm {
	terms := make([]OrderTerm, len(e.index.Properties))
	for i, p := range e.index.Properties {
		dir := p.Direction
		if e.reverse {
			if dir == types.Ascending {
				dir = types.Descending
			} else {
				dir = types.Ascending
			}
		}
		terms[i] = OrderTerm{Property: p.Name, Direction: dir}
	}
	return terms
}

func (e *IndexScanExecutor) Count() int64 { return -1 }
func (e *IndexScanExecutor) Explain() string {
	return fmt.Sprintf("IndexScan(%s, reverse=%t)", e.index.Name, e.reverse)
}

// indexScanIter decodes one row per cursor step. A primary scan's cursor
// value is the stored record itself; an alternate scan's value is the
// primary key, followed through the primary database for the record.
type indexScanIter struct {
	cur    *rangecursor.Cursor
	source TypeSource
	viaAlt bool
	txn    kvengine.Txn
}

func (it *indexScanIter) Next(ctx context.Context) (types.Record, bool, error) {
	ok, err := it.cur.Next(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	key, value := it.cur.Key(), it.cur.Value()
	if it.viaAlt {
		key = value
		value, err = it.txn.Get(ctx, it.source.Database(), key)
		if err != nil {
			return nil, false, fmt.Errorf("planner: resolve index entry to primary record: %w", err)
		}
	}
	rec := it.source.Codec().NewRecord()
	if err := it.source.Codec().Decode(key, value, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (it *indexScanIter) Close() error { return it.cur.Close() }

// --- FullScan ----------------------------------------------------------

// FullScanExecutor walks every row of a type's primary index, applying
// disjuncts as a post-filter (a row survives if it matches any one of
// them). It is the fallback when no index beats a full scan, or when
// merge-back rejoins a union with no beneficial split.
type FullScanExecutor struct {
	source   TypeSource
	disjuncts []expr.Disjunct
}

// NewFullScan scopes a full scan to a single disjunct's remainder.
func NewFullScan(source TypeSource, disjunct expr.Disjunct) *FullScanExecutor {
	return &FullScanExecutor{source: source, disjuncts: []expr.Disjunct{disjunct}}
}

// NewFullScanOr scopes a full scan to the OR of several disjuncts, for
// the union merge-back rule.
func NewFullScanOr(source TypeSource, disjuncts []expr.Disjunct) *FullScanExecutor {
	return &FullScanExecutor{source: source, disjuncts: disjuncts}
}

func (e *FullScanExecutor) Open(ctx context.Context, txn kvengine.Txn) (RowIterator, error) {
	native, err := txn.Cursor(ctx, e.source.Database())
	if err != nil {
		return nil, fmt.Errorf("planner: open full scan cursor: %w", err)
	}
	rng := rangecursor.Range{Lower: rangecursor.UnboundedBound(), Upper: rangecursor.UnboundedBound()}
	cur := rangecursor.New(native, rng, rangecursor.Forward)
	return &fullScanIter{upstream: &indexScanIter{cur: cur, source: e.source}, disjuncts: e.disjuncts}, nil
}

func (e *FullScanExecutor) Ordering() []OrderTerm { return nil }
func (e *FullScanExecutor) Count() int64          { return -1 }
func (e *FullScanExecutor) Explain() string {
	s := "FullScan(remainder="
	for i, d := range e.disjuncts {
		if i > 0 {
			s += " OR "
		}
		s += describeDisjunct(d)
	}
	return s + ")"
}

type fullScanIter struct {
	upstream  RowIterator
	disjuncts []expr.Disjunct
}

func (it *fullScanIter) Next(ctx context.Context) (types.Record, bool, error) {
	for {
		rec, ok, err := it.upstream.Next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		if len(it.disjuncts) == 0 {
			return rec, true, nil
		}
		for _, d := range it.disjuncts {
			if matches(rec, d) {
				return rec, true, nil
			}
		}
	}
}

func (it *fullScanIter) Close() error { return it.upstream.Close() }

// --- Filtered ------------------------------------------------------------

// FilteredExecutor wraps upstream with a post-filter predicate. It
// preserves upstream's ordering, since filtering never reorders rows.
type FilteredExecutor struct {
	upstream Executor
	disjunct expr.Disjunct
}

func NewFiltered(upstream Executor, disjunct expr.Disjunct) Executor {
	if len(disjunct) == 0 {
		return upstream
	}
	return &FilteredExecutor{upstream: upstream, disjunct: disjunct}
}

func (e *FilteredExecutor) Open(ctx context.Context, txn kvengine.Txn) (RowIterator, error) {
	up, err := e.upstream.Open(ctx, txn)
	if err != nil {
		return nil, err
	}
	return &filteredIter{upstream: up, disjunct: e.disjunct}, nil
}

func (e *FilteredExecutor) Ordering() []OrderTerm { return e.upstream.Ordering() }
func (e *FilteredExecutor) Count() int64          { return -1 }
func (e *FilteredExecutor) Explain() string {
	return fmt.Sprintf("Filtered(%s, remainder=%s)", e.upstream.Explain(), describeDisjunct(e.disjunct))
}

type filteredIter struct {
	upstream RowIterator
	disjunct expr.Disjunct
}

func (it *filteredIter) Next(ctx context.Context) (types.Record, bool, error) {
	for {
		rec, ok, err := it.upstream.Next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		if matches(rec, it.disjunct) {
			return rec, true, nil
		}
	}
}

func (it *filteredIter) Close() error { return it.upstream.Close() }

// --- Sorted --------------------------------------------------------------

// SortedExecutor buffers and sorts upstream's rows by a requested
// ordering. When handled names a prefix of properties upstream already
// groups rows by (its own Ordering() covers them), only finisher needs
// sorting, and it is applied within each such group rather than across
// the whole stream — the grouping optimization the operator table calls
// out explicitly.
type SortedExecutor struct {
	upstream Executor
	handled  []OrderTerm
	finisher []OrderTerm
}

func NewSorted(upstream Executor, handled, finisher []OrderTerm) *SortedExecutor {
	return &SortedExecutor{upstream: upstream, handled: handled, finisher: finisher}
}

func (e *SortedExecutor) Open(ctx context.Context, txn kvengine.Txn) (RowIterator, error) {
	up, err := e.upstream.Open(ctx, txn)
	if err != nil {
		return nil, err
	}
	defer up.Close()

	var rows []types.Record
	for {
		rec, ok, err := up.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, rec)
	}

	sorted := sortGrouped(rows, e.handled, e.finisher)
	return &sliceIter{rows: sorted}, nil
}

func (e *SortedExecutor) Ordering() []OrderTerm {
	return append(append([]OrderTerm{}, e.handled...), e.finisher...)
}
func (e *SortedExecutor) Count() int64 { return e.upstream.Count() }
func (e *SortedExecutor) Explain() string {
	return fmt.Sprintf("Sorted(%s, finisher=%d terms)", e.upstream.Explain(), len(e.finisher))
}

type sliceIter struct {
	rows []types.Record
	pos  int
}

func (it *sliceIter) Next(context.Context) (types.Record, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	rec := it.rows[it.pos]
	it.pos++
	return rec, true, nil
}

func (it *sliceIter) Close() error { return nil }

// --- Union -----------------------------------------------------------------

// UnionExecutor concatenates K branches over the same type. Its reported
// ordering is the intersection of its branches' orderings: only a prefix
// every branch agrees on.
type UnionExecutor struct {
	branches []Executor
}

func NewUnion(branches []Executor) *UnionExecutor {
	return &UnionExecutor{branches: branches}
}

func (e *UnionExecutor) Open(ctx context.Context, txn kvengine.Txn) (RowIterator, error) {
	return &unionIter{branches: e.branches, txn: txn, ctx: ctx}, nil
}

func (e *UnionExecutor) Ordering() []OrderTerm {
	if len(e.branches) == 0 {
		return nil
	}
	common := e.branches[0].Ordering()
	for _, b := range e.branches[1:] {
		common = intersectOrdering(common, b.Ordering())
	}
	return common
}

func (e *UnionExecutor) Count() int64 {
	var total int64
	for _, b := range e.branches {
		c := b.Count()
		if c < 0 {
			return -1
		}
		total += c
	}
	return total
}

func (e *UnionExecutor) Explain() string {
	s := "Union("
	for i, b := range e.branches {
		if i > 0 {
			s += ", "
		}
		s += b.Explain()
	}
	return s + ")"
}

func intersectOrdering(a, b []OrderTerm) []OrderTerm {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var out []OrderTerm
	for i := 0; i < n; i++ {
		if a[i].Property != b[i].Property || a[i].Direction != b[i].Direction {
			break
		}
		out = append(out, a[i])
	}
	return out
}

type unionIter struct {
	branches []Executor
	txn      kvengine.Txn
	ctx      context.Context
	cur      RowIterator
	idx      int
}

func (it *unionIter) Next(ctx context.Context) (types.Record, bool, error) {
	for {
		if it.cur == nil {
			if it.idx >= len(it.branches) {
				return nil, false, nil
			}
			up, err := it.branches[it.idx].Open(ctx, it.txn)
			if err != nil {
				return nil, false, err
			}
			it.cur = up
		}
		rec, ok, err := it.cur.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return rec, true, nil
		}
		_ = it.cur.Close()
		it.cur = nil
		it.idx++
	}
}

func (it *unionIter) Close() error {
	if it.cur != nil {
		return it.cur.Close()
	}
	return nil
}

// --- Joined ------------------------------------------------------------

// ReferenceResolver maps one foreign-type row to the source-type rows
// that reference it, via the reverse direction of a reference property
// (a secondary index lookup on the source when one exists, else a full
// scan).
type ReferenceResolver func(ctx context.Context, txn kvengine.Txn, foreign types.Record) ([]types.Record, error)

// JoinedExecutor runs inner over a foreign type and, for each foreign row
// it yields, materializes zero or more source-type rows via resolve.
type JoinedExecutor struct {
	inner    Executor
	resolve  ReferenceResolver
	ordering []OrderTerm
}

func NewJoined(inner Executor, resolve ReferenceResolver, ordering []OrderTerm) *JoinedExecutor {
	return &JoinedExecutor{inner: inner, resolve: resolve, ordering: ordering}
}

func (e *JoinedExecutor) Open(ctx context.Context, txn kvengine.Txn) (RowIterator, error) {
	up, err := e.inner.Open(ctx, txn)
	if err != nil {
		return nil, err
	}
	return &joinedIter{upstream: up, resolve: e.resolve, txn: txn}, nil
}

func (e *JoinedExecutor) Ordering() []OrderTerm { return e.ordering }
func (e *JoinedExecutor) Count() int64          { return -1 }
func (e *JoinedExecutor) Explain() string       { return fmt.Sprintf("Joined(%s)", e.inner.Explain()) }

type joinedIter struct {
	upstream RowIterator
	resolve  ReferenceResolver
	txn      kvengine.Txn
	pending  []types.Record
}

func (it *joinedIter) Next(ctx context.Context) (types.Record, bool, error) {
	for {
		if len(it.pending) > 0 {
			rec := it.pending[0]
			it.pending = it.pending[1:]
			return rec, true, nil
		}
		foreign, ok, err := it.upstream.Next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		resolved, err := it.resolve(ctx, it.txn, foreign)
		if err != nil {
			return nil, false, err
		}
		it.pending = resolved
	}
}

func (it *joinedIter) Close() error { return it.upstream.Close() }

// --- Singleton / Empty ---------------------------------------------------

// SingletonExecutor yields exactly one precomputed row, or zero if rec is
// nil — the planner's shortcut for an is-key-match identity lookup.
type SingletonExecutor struct{ rec types.Record }

func NewSingleton(rec types.Record) *SingletonExecutor { return &SingletonExecutor{rec: rec} }

func (e *SingletonExecutor) Open(context.Context, kvengine.Txn) (RowIterator, error) {
	if e.rec == nil {
		return &sliceIter{}, nil
	}
	return &sliceIter{rows: []types.Record{e.rec}}, nil
}

func (e *SingletonExecutor) Ordering() []OrderTerm { return nil }
func (e *SingletonExecutor) Count() int64 {
	if e.rec == nil {
		return 0
	}
	return 1
}
func (e *SingletonExecutor) Explain() string { return "Singleton" }

// EmptyExecutor yields no rows at all — the planner's shortcut for a
// filter it can prove unsatisfiable (reserved for future constant-folding;
// currently only reachable explicitly).
type EmptyExecutor struct{}

func (EmptyExecutor) Open(context.Context, kvengine.Txn) (RowIterator, error) { return &sliceIter{}, nil }
func (EmptyExecutor) Ordering() []OrderTerm                                   { return nil }
func (EmptyExecutor) Count() int64                                           { return 0 }
func (EmptyExecutor) Explain() string                                        { return "Empty" }
