package expr

// Disjunct is one term of a tree's disjunctive normal form: a flat slice
// of Comparisons, implicitly ANDed together. A NOT over a Comparison is
// folded into the Comparison's own negated operator rather than kept as a
// wrapping node, so every Disjunct is comparison-only and directly
// scoreable against an index.
type Disjunct []*Comparison

// ToDNF rewrites node into disjunctive normal form: a slice of Disjuncts
// whose overall OR is logically equivalent to node. NOT is pushed down to
// the leaves via De Morgan's laws first (negateComparison), then AND is
// distributed over OR.
func ToDNF(node Node) []Disjunct {
	return distribute(pushNot(node, false))
}

// pushNot rewrites node so no Not remains, negating comparisons directly
// and flipping And/Or via De Morgan's laws as it
// descends. negate tracks whether an odd number of Not ancestors are still
// pending.
func pushNot(node Node, negate bool) Node {
	switch n := node.(type) {
	case *Comparison:
		if negate {
			return negateComparison(n)
		}
		return n
	case *Not:
		return pushNot(n.Child, !negate)
	case *And:
		left, right := pushNot(n.Left, negate), pushNot(n.Right, negate)
		if negate {
			return &Or{Left: left, Right: right}
		}
		return &And{Left: left, Right: right}
	case *Or:
		left, right := pushNot(n.Left, negate), pushNot(n.Right, negate)
		if negate {
			return &And{Left: left, Right: right}
		}
		return &Or{Left: left, Right: right}
	default:
		return node
	}
}

func negateComparison(c *Comparison) *Comparison {
	var negated ComparisonOp
	switch c.Op {
	case OpEquals:
		negated = OpNotEquals
	case OpNotEquals:
		negated = OpEquals
	case OpLess:
		negated = OpGreaterEq
	case OpLessEq:
		negated = OpGreater
	case OpGreater:
		negated = OpLessEq
	case OpGreaterEq:
		negated = OpLess
	}
	return &Comparison{Property: c.Property, Op: negated, Value: c.Value}
}

// distribute expands a Not-free tree into a slice of Disjuncts by
// distributing And over Or wherever both operands are already
// disjunctions.
func distribute(node Node) []Disjunct {
	switch n := node.(type) {
	case *Comparison:
		return []Disjunct{{n}}
	case *Or:
		return append(distribute(n.Left), distribute(n.Right)...)
	case *And:
		left := distribute(n.Left)
		right := distribute(n.Right)
		out := make([]Disjunct, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				merged := make(Disjunct, 0, len(l)+len(r))
				merged = append(merged, l...)
				merged = append(merged, r...)
				out = append(out, merged)
			}
		}
		return out
	default:
		return nil
	}
}
