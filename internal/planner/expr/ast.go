// Package expr defines the boolean filter AST the query planner (C7)
// normalizes to disjunctive normal form and scores against each type's
// indexes. It is the planner's only input shape: there is no textual
// query language in the core module (building one is left to a caller),
// only this tree, which internal/planner/langparse happens to also be
// able to produce by parsing a small comparison grammar.
package expr

import "fmt"

// ComparisonOp is one of the relational operators a Comparison may use.
type ComparisonOp int

const (
	OpEquals ComparisonOp = iota
	OpNotEquals
	OpLess
	OpLessEq
	OpGreater
	OpGreaterEq
)

func (op ComparisonOp) String() string {
	switch op {
	case OpEquals:
		return "="
	case OpNotEquals:
		return "!="
	case OpLess:
		return "<"
	case OpLessEq:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEq:
		return ">="
	default:
		return "?"
	}
}

// IsRangeOp reports whether op can participate in an index range scan
// (as opposed to requiring an exact-match or a post-filter residual).
func (op ComparisonOp) IsRangeOp() bool {
	switch op {
	case OpLess, OpLessEq, OpGreater, OpGreaterEq:
		return true
	default:
		return false
	}
}

// Node is one node of the filter tree: a Comparison leaf, or an And/Or/Not
// combinator over child Nodes.
type Node interface {
	node()
	String() string
}

// Comparison is a leaf comparing a named property against a literal
// value.
type Comparison struct {
	Property string
	Op       ComparisonOp
	Value    any
}

func (*Comparison) node() {}
func (c *Comparison) String() string {
	return fmt.Sprintf("%s%s%v", c.Property, c.Op, c.Value)
}

// And is the conjunction of Left and Right.
type And struct{ Left, Right Node }

func (*And) node() {}
func (n *And) String() string { return fmt.Sprintf("(%s AND %s)", n.Left, n.Right) }

// Or is the disjunction of Left and Right.
type Or struct{ Left, Right Node }

func (*Or) node() {}
func (n *Or) String() string { return fmt.Sprintf("(%s OR %s)", n.Left, n.Right) }

// Not negates Child.
type Not struct{ Child Node }

func (*Not) node() {}
func (n *Not) String() string { return fmt.Sprintf("NOT %s", n.Child) }
