package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func cmp(prop string, op ComparisonOp, val any) *Comparison {
	return &Comparison{Property: prop, Op: op, Value: val}
}

func TestToDNFSingleComparison(t *testing.T) {
	disjuncts := ToDNF(cmp("a", OpEquals, 1))
	require.Len(t, disjuncts, 1)
	require.Equal(t, Disjunct{cmp("a", OpEquals, 1)}, disjuncts[0])
}

func TestToDNFSimpleAnd(t *testing.T) {
	// a=1 AND b=2 is already a single conjunctive disjunct.
	node := &And{Left: cmp("a", OpEquals, 1), Right: cmp("b", OpEquals, 2)}
	disjuncts := ToDNF(node)
	require.Len(t, disjuncts, 1)
	require.ElementsMatch(t, Disjunct{cmp("a", OpEquals, 1), cmp("b", OpEquals, 2)}, disjuncts[0])
}

func TestToDNFSimpleOr(t *testing.T) {
	// a=1 OR b=2 splits into two independent disjuncts.
	node := &Or{Left: cmp("a", OpEquals, 1), Right: cmp("b", OpEquals, 2)}
	disjuncts := ToDNF(node)
	require.Len(t, disjuncts, 2)
}

func TestToDNFDistributesAndOverOr(t *testing.T) {
	// (a=1 OR b=2) AND c=3  ==  (a=1 AND c=3) OR (b=2 AND c=3)
	node := &And{
		Left:  &Or{Left: cmp("a", OpEquals, 1), Right: cmp("b", OpEquals, 2)},
		Right: cmp("c", OpEquals, 3),
	}
	disjuncts := ToDNF(node)
	require.Len(t, disjuncts, 2)
	for _, d := range disjuncts {
		require.Len(t, d, 2)
		props := []string{d[0].Property, d[1].Property}
		require.Contains(t, props, "c")
	}
}

func TestToDNFPushesNotThroughAndViaDeMorgan(t *testing.T) {
	// NOT(a=1 AND b=2) == a!=1 OR b!=2
	node := &Not{Child: &And{Left: cmp("a", OpEquals, 1), Right: cmp("b", OpEquals, 2)}}
	disjuncts := ToDNF(node)
	require.Len(t, disjuncts, 2)
	for _, d := range disjuncts {
		require.Len(t, d, 1)
		require.Equal(t, OpNotEquals, d[0].Op)
	}
}

func TestToDNFPushesNotThroughOrViaDeMorgan(t *testing.T) {
	// NOT(a=1 OR b=2) == a!=1 AND b!=2 — a single disjunct, two comparisons.
	node := &Not{Child: &Or{Left: cmp("a", OpEquals, 1), Right: cmp("b", OpEquals, 2)}}
	disjuncts := ToDNF(node)
	require.Len(t, disjuncts, 1)
	require.Len(t, disjuncts[0], 2)
	for _, c := range disjuncts[0] {
		require.Equal(t, OpNotEquals, c.Op)
	}
}

func TestToDNFDoubleNegationCancels(t *testing.T) {
	node := &Not{Child: &Not{Child: cmp("a", OpLess, 5)}}
	disjuncts := ToDNF(node)
	require.Len(t, disjuncts, 1)
	require.Equal(t, OpLess, disjuncts[0][0].Op)
}

func TestNegateComparisonFlipsRangeOps(t *testing.T) {
	cases := []struct {
		op, want ComparisonOp
	}{
		{OpEquals, OpNotEquals},
		{OpNotEquals, OpEquals},
		{OpLess, OpGreaterEq},
		{OpLessEq, OpGreater},
		{OpGreater, OpLessEq},
		{OpGreaterEq, OpLess},
	}
	for _, tc := range cases {
		got := negateComparison(cmp("x", tc.op, 1))
		require.Equal(t, tc.want, got.Op)
	}
}

func TestComparisonOpIsRangeOp(t *testing.T) {
	require.True(t, OpLess.IsRangeOp())
	require.True(t, OpLessEq.IsRangeOp())
	require.True(t, OpGreater.IsRangeOp())
	require.True(t, OpGreaterEq.IsRangeOp())
	require.False(t, OpEquals.IsRangeOp())
	require.False(t, OpNotEquals.IsRangeOp())
}

func TestComparisonOpString(t *testing.T) {
	require.Equal(t, "=", OpEquals.String())
	require.Equal(t, "!=", OpNotEquals.String())
	require.Equal(t, "<", OpLess.String())
	require.Equal(t, "<=", OpLessEq.String())
	require.Equal(t, ">", OpGreater.String())
	require.Equal(t, ">=", OpGreaterEq.String())
}
