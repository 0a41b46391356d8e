// Package planner scores a type's indexes against a normalized filter and
// a requested ordering, then assembles an executor tree: index scans,
// residual filters, sorts, unions across disjuncts, and joins across
// chained reference properties. It is grounded on the teacher's
// internal/query parser for the filter AST shape (see
// internal/planner/expr) and built fresh for everything downstream of the
// AST, since the teacher has no index planner of its own to adapt.
package planner

import (
	"sort"

	"github.com/typedkv/typedkv/internal/planner/expr"
	"github.com/typedkv/typedkv/internal/types"
)

// OrderTerm is one property of a requested ordering.
type OrderTerm struct {
	Property string
	// Direction is the requested sort direction. When Unspecified is
	// true, Direction is advisory only: the first concrete direction
	// encountered while scoring pins it for the rest of the ordering.
	Direction   types.Direction
	Unspecified bool
}

// FilterScore is the result of scoring one index against one disjunct
// (a flat AND of comparisons).
type FilterScore struct {
	Index              types.IndexDescriptor
	IdentityCount      int
	IdentityValues     map[string]any
	RangeStart         *expr.Comparison
	RangeEnd           *expr.Comparison
	ShouldReverseRange bool
	ArrangementScore   int
	RemainderFilters   expr.Disjunct
	IsKeyMatch         bool
	HasRangeMatch      bool
}

// scoreFilter computes the FilterScore of idx against disjunct.
func scoreFilter(idx types.IndexDescriptor, disjunct expr.Disjunct) FilterScore {
	equality := map[string]*expr.Comparison{}
	byProperty := map[string][]*expr.Comparison{}
	for _, c := range disjunct {
		byProperty[c.Property] = append(byProperty[c.Property], c)
		if c.Op == expr.OpEquals {
			equality[c.Property] = c
		}
	}

	consumed := map[*expr.Comparison]bool{}

	identityCount := 0
	identityValues := map[string]any{}
	for _, p := range idx.Properties {
		c, ok := equality[p.Name]
		if !ok {
			break
		}
		consumed[c] = true
		identityValues[p.Name] = c.Value
		identityCount++
	}

	var rangeStart, rangeEnd *expr.Comparison
	shouldReverse := false
	if identityCount < len(idx.Properties) {
		next := idx.Properties[identityCount]
		shouldReverse = next.Direction == types.Descending
		for _, c := range byProperty[next.Name] {
			if consumed[c] {
				continue
			}
			switch c.Op {
			case expr.OpGreater, expr.OpGreaterEq:
				if rangeStart == nil {
					rangeStart = c
					consumed[c] = true
				}
			case expr.OpLess, expr.OpLessEq:
				if rangeEnd == nil {
					rangeEnd = c
					consumed[c] = true
				}
			}
		}
	}

	arrangement := arrangementScore(idx, disjunct)

	var remainder expr.Disjunct
	for _, c := range disjunct {
		if !consumed[c] {
			remainder = append(remainder, c)
		}
	}

	isKeyMatch := idx.Unique && identityCount == len(idx.Properties)
	hasRangeMatch := rangeStart != nil && rangeEnd != nil

	return FilterScore{
		Index:              idx,
		IdentityCount:      identityCount,
		IdentityValues:     identityValues,
		RangeStart:         rangeStart,
		RangeEnd:           rangeEnd,
		ShouldReverseRange: shouldReverse,
		ArrangementScore:   arrangement,
		RemainderFilters:   remainder,
		IsKeyMatch:         isKeyMatch,
		HasRangeMatch:      hasRangeMatch,
	}
}

// arrangementScore is the longest prefix of idx's properties that also
// appears, in the same left-to-right order, among disjunct's equality
// constraints (regardless of how many of those constraints actually form
// the identity prefix).
func arrangementScore(idx types.IndexDescriptor, disjunct expr.Disjunct) int {
	order := make([]string, 0, len(disjunct))
	seen := map[string]bool{}
	for _, c := range disjunct {
		if c.Op == expr.OpEquals && !seen[c.Property] {
			order = append(order, c.Property)
			seen[c.Property] = true
		}
	}

	score := 0
	pos := 0
	for _, p := range idx.Properties {
		found := -1
		for i := pos; i < len(order); i++ {
			if order[i] == p.Name {
				found = i
				break
			}
		}
		if found == -1 {
			break
		}
		pos = found + 1
		score++
	}
	return score
}

// rangeLess orders FilterScores by the "range comparator": higher
// identity count wins; then range match; then range-start-or-end
// presence; then clustered. It ignores property count entirely, since it
// exists to preserve correctness rather than to minimize cost.
func rangeLess(a, b FilterScore) bool {
	if a.IdentityCount != b.IdentityCount {
		return a.IdentityCount > b.IdentityCount
	}
	if a.HasRangeMatch != b.HasRangeMatch {
		return a.HasRangeMatch
	}
	aHasRange := a.RangeStart != nil || a.RangeEnd != nil
	bHasRange := b.RangeStart != nil || b.RangeEnd != nil
	if aHasRange != bHasRange {
		return aHasRange
	}
	if a.Index.Clustered != b.Index.Clustered {
		return a.Index.Clustered
	}
	return false
}

// fullLess extends rangeLess with clustered > narrower (fewer properties)
// > better arrangement, for cost-based tiebreaking once correctness is
// already satisfied.
func fullLess(a, b FilterScore) bool {
	if rangeLess(a, b) {
		return true
	}
	if rangeLess(b, a) {
		return false
	}
	if a.Index.Clustered != b.Index.Clustered {
		return a.Index.Clustered
	}
	if len(a.Index.Properties) != len(b.Index.Properties) {
		return len(a.Index.Properties) < len(b.Index.Properties)
	}
	return a.ArrangementScore > b.ArrangementScore
}

// OrderingScore is the result of scoring one index against a requested
// ordering, given the equality constraints already known from a filter.
type OrderingScore struct {
	Index              types.IndexDescriptor
	HandledCount       int
	FreeOrdering       []types.KeyProperty
	ShouldReverseOrder bool
}

// scoreOrdering computes the longest prefix of requested that idx
// satisfies in order, honoring equality-constrained gaps and the
// vacuous-satisfaction rule for fully identity-constrained unique
// indexes.
func scoreOrdering(idx types.IndexDescriptor, equality map[string]bool, requested []OrderTerm) OrderingScore {
	handled := 0
	globalReverse := false
	reversePinned := false
	reqIdx := 0

	for _, p := range idx.Properties {
		if reqIdx < len(requested) && requested[reqIdx].Property == p.Name {
			term := requested[reqIdx]
			if term.Unspecified {
				if !reversePinned {
					globalReverse = false
					reversePinned = true
				}
				handled++
				reqIdx++
				continue
			}
			reverse := term.Direction != p.Direction
			if !reversePinned {
				globalReverse = reverse
				reversePinned = true
			}
			if reverse != globalReverse {
				break
			}
			handled++
			reqIdx++
			continue
		}
		if equality[p.Name] {
			continue
		}
		break
	}

	if idx.Unique && handled == 0 && reqIdx == 0 {
		allIdentity := true
		for _, p := range idx.Properties {
			if !equality[p.Name] {
				allIdentity = false
				break
			}
		}
		if allIdentity && len(requested) > 0 {
			return OrderingScore{Index: idx, HandledCount: len(requested), ShouldReverseOrder: false}
		}
	}

	var free []types.KeyProperty
	for i := handled; i < len(idx.Properties); i++ {
		p := idx.Properties[i]
		if reqIdx < len(requested) && requested[reqIdx].Property == p.Name {
			break
		}
		free = append(free, p)
	}

	return OrderingScore{
		Index:              idx,
		HandledCount:       handled,
		FreeOrdering:       free,
		ShouldReverseOrder: globalReverse,
	}
}

// orderingLess ranks by handledCount desc, then clustered, then
// narrowness (fewer properties wins).
func orderingLess(a, b OrderingScore) bool {
	if a.HandledCount != b.HandledCount {
		return a.HandledCount > b.HandledCount
	}
	if a.Index.Clustered != b.Index.Clustered {
		return a.Index.Clustered
	}
	return len(a.Index.Properties) < len(b.Index.Properties)
}

// CompositeScore pairs a FilterScore with an OrderingScore for the same
// index and disjunct.
type CompositeScore struct {
	Filter   FilterScore
	Ordering OrderingScore
}

// bestIndex picks the index whose CompositeScore wins: range comparator
// first (correctness-bearing), then ordering, then full comparator.
func bestIndex(candidates []types.IndexDescriptor, disjunct expr.Disjunct, requested []OrderTerm) CompositeScore {
	scores := make([]CompositeScore, 0, len(candidates))
	for _, idx := range candidates {
		fs := scoreFilter(idx, disjunct)
		equality := map[string]bool{}
		for i := 0; i < fs.IdentityCount && i < len(idx.Properties); i++ {
			equality[idx.Properties[i].Name] = true
		}
		os := scoreOrdering(idx, equality, requested)
		scores = append(scores, CompositeScore{Filter: fs, Ordering: os})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if rangeLess(scores[i].Filter, scores[j].Filter) != rangeLess(scores[j].Filter, scores[i].Filter) {
			return rangeLess(scores[i].Filter, scores[j].Filter)
		}
		if orderingLess(scores[i].Ordering, scores[j].Ordering) != orderingLess(scores[j].Ordering, scores[i].Ordering) {
			return orderingLess(scores[i].Ordering, scores[j].Ordering)
		}
		return fullLess(scores[i].Filter, scores[j].Filter)
	})

	return scores[0]
}
