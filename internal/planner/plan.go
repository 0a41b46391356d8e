package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/planner/expr"
	"github.com/typedkv/typedkv/internal/rangecursor"
	"github.com/typedkv/typedkv/internal/types"
)

// Request is the planner's input: a normalized filter tree and a
// requested ordering.
type Request struct {
	Filter   expr.Node
	Ordering []OrderTerm
}

// ForeignLookup resolves a reference property's target type to its
// TypeSource, for joined plan construction across chained properties.
type ForeignLookup func(typeName string) (TypeSource, bool)

// Build plans req against source, producing the root Executor of the
// tree that answers it. foreign resolves reference property targets; it
// may be nil if source declares no references.
func Build(source TypeSource, foreign ForeignLookup, req Request) (Executor, error) {
	disjuncts := normalizeFilter(req.Filter)

	branches := make([]branch, 0, len(disjuncts))
	for _, d := range disjuncts {
		b, err := planDisjunct(source, foreign, d, req.Ordering)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}

	exec := assemble(source, branches, disjuncts, req.Ordering)
	return wrapOrdering(exec, req.Ordering), nil
}

// normalizeFilter rewrites req.Filter to DNF. A nil filter (match
// everything) becomes a single empty disjunct.
func normalizeFilter(node expr.Node) []expr.Disjunct {
	if node == nil {
		return []expr.Disjunct{{}}
	}
	return expr.ToDNF(node)
}

// branch is one disjunct's chosen plan: its executor, the "lane" (index
// name plus the exact identity/range values bound against it) it
// occupies, and whether that lane is actually narrower than a full scan.
// Two branches only benefit from being split into a Union if both are
// beneficial and their lanes are distinct; a branch that found no usable
// index is equivalent to a full scan regardless of which index name it
// nominally picked, so it always triggers merge-back.
type branch struct {
	exec       Executor
	lane       string
	beneficial bool
}

func planDisjunct(source TypeSource, foreign ForeignLookup, d expr.Disjunct, ordering []OrderTerm) (branch, error) {
	local, chained := splitChained(source.Binding(), d)
	if len(chained) > 0 && foreign != nil {
		if b, ok, err := planJoined(source, foreign, local, chained, ordering); err != nil {
			return branch{}, err
		} else if ok {
			return b, nil
		}
	}
	return planLocal(source, d, ordering), nil
}

// splitChained separates a disjunct's comparisons into ones over source's
// own properties and ones whose Property path starts with a declared
// reference property's name followed by a dot (e.g. "Address.State").
func splitChained(binding types.Binding, d expr.Disjunct) (local expr.Disjunct, chained map[string]expr.Disjunct) {
	chained = map[string]expr.Disjunct{}
	refNames := map[string]bool{}
	for _, r := range binding.References {
		refNames[r.Name] = true
	}
	for _, c := range d {
		if idx := strings.IndexByte(c.Property, '.'); idx > 0 {
			refName, rest := c.Property[:idx], c.Property[idx+1:]
			if refNames[refName] {
				chained[refName] = append(chained[refName], &expr.Comparison{Property: rest, Op: c.Op, Value: c.Value})
				continue
			}
		}
		local = append(local, c)
	}
	return local, chained
}

func planLocal(source TypeSource, d expr.Disjunct, ordering []OrderTerm) branch {
	binding := source.Binding()
	candidates := append([]types.IndexDescriptor{binding.Primary}, binding.Alternates...)
	composite := bestIndex(candidates, d, ordering)
	fs := composite.Filter
	exec := buildIndexScan(source, fs)
	beneficial := fs.IdentityCount > 0 || fs.HasRangeMatch || fs.RangeStart != nil || fs.RangeEnd != nil
	lane := fmt.Sprintf("%s|%v|%v|%v", fs.Index.Name, fs.IdentityValues, rangeKey(fs.RangeStart), rangeKey(fs.RangeEnd))
	return branch{exec: exec, lane: lane, beneficial: beneficial}
}

func rangeKey(c *expr.Comparison) string {
	if c == nil {
		return ""
	}
	return c.String()
}

// buildIndexScan turns a FilterScore into an IndexScan (plus Filtered
// wrapper for its remainder), choosing range bounds from the identity
// prefix and any range start/end comparisons found on the next property.
func buildIndexScan(source TypeSource, fs FilterScore) Executor {
	idx := fs.Index
	prefixProps := idx.Properties[:fs.IdentityCount]
	prefix, err := source.Codec().EncodePropertyPrefix(prefixProps, fs.IdentityValues)
	if err != nil {
		return NewFullScan(source, fs.RemainderFilters)
	}

	lower := rangecursor.UnboundedBound()
	upper := rangecursor.UnboundedBound()
	if len(prefix) > 0 {
		lower = rangecursor.InclusiveBound(prefix)
		if b, ok := rangecursor.PrefixUpperBound(prefix); ok {
			upper = b
		}
	}

	if fs.IdentityCount < len(idx.Properties) {
		next := idx.Properties[fs.IdentityCount]
		values := map[string]any{}
		for k, v := range fs.IdentityValues {
			values[k] = v
		}
		if fs.RangeStart != nil {
			values[next.Name] = fs.RangeStart.Value
			if b, err := source.Codec().EncodePropertyPrefix(append(append([]types.KeyProperty{}, prefixProps...), next), values); err == nil {
				if fs.RangeStart.Op == expr.OpGreater {
					lower = rangecursor.ExclusiveBound(b)
				} else {
					lower = rangecursor.InclusiveBound(b)
				}
			}
		}
		if fs.RangeEnd != nil {
			values[next.Name] = fs.RangeEnd.Value
			if b, err := source.Codec().EncodePropertyPrefix(append(append([]types.KeyProperty{}, prefixProps...), next), values); err == nil {
				if fs.RangeEnd.Op == expr.OpLess {
					upper = rangecursor.ExclusiveBound(b)
				} else {
					upper = rangecursor.InclusiveBound(b)
				}
			}
		}
	}

	rng := rangecursor.Range{Lower: lower, Upper: upper, MaxPrefix: len(prefix)}
	scan := NewIndexScan(source, idx, rng, fs.ShouldReverseRange)
	return NewFiltered(scan, fs.RemainderFilters)
}

// planJoined builds a Joined executor when a disjunct's best opportunity
// lies on a foreign type reached through exactly one reference property.
// It returns ok=false when no reference resolves, so the caller falls
// back to a local (full-scan) plan.
func planJoined(source TypeSource, foreign ForeignLookup, local expr.Disjunct, chained map[string]expr.Disjunct, ordering []OrderTerm) (branch, bool, error) {
	if len(chained) != 1 {
		return branch{}, false, nil
	}
	var refName string
	var innerDisjunct expr.Disjunct
	for name, dd := range chained {
		refName, innerDisjunct = name, dd
	}

	var ref *types.ReferenceProperty
	for _, r := range source.Binding().References {
		if r.Name == refName {
			rc := r
			ref = &rc
			break
		}
	}
	if ref == nil {
		return branch{}, false, nil
	}
	foreignSource, ok := foreign(ref.ForeignType)
	if !ok {
		return branch{}, false, nil
	}

	innerComposite := bestIndex(
		append([]types.IndexDescriptor{foreignSource.Binding().Primary}, foreignSource.Binding().Alternates...),
		innerDisjunct, nil)
	inner := buildIndexScan(foreignSource, innerComposite.Filter)

	resolve := buildReverseResolver(source, *ref, local)

	joinedOrdering := make([]OrderTerm, len(ordering))
	for i, t := range ordering {
		joinedOrdering[i] = OrderTerm{Property: refName + "." + t.Property, Direction: t.Direction, Unspecified: t.Unspecified}
	}

	return branch{exec: NewJoined(inner, resolve, joinedOrdering), lane: "joined:" + refName, beneficial: true}, true, nil
}

// buildReverseResolver materializes source rows referencing a foreign
// row via ref's binding, then applies local as a post-filter. With no
// index over the local properties named by ref's binding, it falls back
// to a full scan of source filtered by the derived equality constraints.
func buildReverseResolver(source TypeSource, ref types.ReferenceProperty, local expr.Disjunct) ReferenceResolver {
	binding := source.Binding()
	candidates := append([]types.IndexDescriptor{binding.Primary}, binding.Alternates...)

	return func(ctx context.Context, txn kvengine.Txn, foreignRec types.Record) ([]types.Record, error) {
		values := fieldValues(foreignRec, foreignKeyProps(ref))
		derived := make(expr.Disjunct, 0, len(ref.LocalToForeign))
		for localProp, foreignProp := range ref.LocalToForeign {
			if v, ok := values[foreignProp]; ok {
				derived = append(derived, &expr.Comparison{Property: localProp, Op: expr.OpEquals, Value: v})
			}
		}
		full := append(append(expr.Disjunct{}, derived...), local...)

		composite := bestIndex(candidates, full, nil)
		exec := buildIndexScan(source, composite.Filter)

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
				break
			}
			out = append(out, rec)
		}
		return out, nil
	}
}

// foreignKeyProps lists the foreign-side property names named by ref's
// binding, in map iteration order (field lookup by name makes the order
// irrelevant to correctness).
func foreignKeyProps(ref types.ReferenceProperty) []types.KeyProperty {
	props := make([]types.KeyProperty, 0, len(ref.LocalToForeign))
	for _, foreignProp := range ref.LocalToForeign {
		props = append(props, types.KeyProperty{Name: foreignProp})
	}
	return props
}

// assemble applies the union-split-or-merge-back rule: branches in
// disjoint lanes become a Union, each sorted into the requested ordering;
// if every branch shares a lane (splitting bought nothing), the disjuncts
// are rejoined into a single full scan filtered by the original OR.
func assemble(source TypeSource, branches []branch, disjuncts []expr.Disjunct, ordering []OrderTerm) Executor {
	if len(branches) == 1 {
		return branches[0].exec
	}

	lanes := map[string]bool{}
	allBeneficial := true
	for _, b := range branches {
		lanes[b.lane] = true
		if !b.beneficial {
			allBeneficial = false
		}
	}
	if !allBeneficial || len(lanes) != len(branches) {
		return NewFullScanOr(source, disjuncts)
	}

	execs := make([]Executor, len(branches))
	for i, b := range branches {
		execs[i] = wrapOrdering(b.exec, ordering)
	}
	return NewUnion(execs)
}

// wrapOrdering sorts exec's output into requested if exec's own ordering
// does not already satisfy it as a prefix, splitting requested into the
// handled prefix (already free from exec's natural order) and the
// finisher suffix Sorted must actually compare.
func wrapOrdering(exec Executor, requested []OrderTerm) Executor {
	if len(requested) == 0 {
		return exec
	}
	existing := exec.Ordering()
	handled := 0
	for handled < len(existing) && handled < len(requested) {
		if existing[handled].Property != requested[handled].Property {
			break
		}
		if !requested[handled].Unspecified && existing[handled].Direction != requested[handled].Direction {
			break
		}
		handled++
	}
	if handled == len(requested) {
		return exec
	}
	return NewSorted(exec, requested[:handled], requested[handled:])
}
