package langparse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/typedkv/typedkv/internal/planner/expr"
)

func TestParseSimpleComparison(t *testing.T) {
	node, err := Parse(`status = "open"`)
	require.NoError(t, err)
	cmp, ok := node.(*expr.Comparison)
	require.True(t, ok)
	require.Equal(t, "status", cmp.Property)
	require.Equal(t, expr.OpEquals, cmp.Op)
	require.Equal(t, "open", cmp.Value)
}

func TestParseAndOrPrecedence(t *testing.T) {
	node, err := Parse(`priority > 2 AND status = "open" OR owner = "alice"`)
	require.NoError(t, err)

	or, ok := node.(*expr.Or)
	require.True(t, ok, "top level should be OR (lowest precedence)")
	and, ok := or.Left.(*expr.And)
	require.True(t, ok, "left of OR should be the AND group")
	require.IsType(t, &expr.Comparison{}, and.Left)
	require.IsType(t, &expr.Comparison{}, and.Right)
	require.IsType(t, &expr.Comparison{}, or.Right)
}

func TestParseParenOverridesPrecedence(t *testing.T) {
	node, err := Parse(`priority > 2 AND (status = "open" OR status = "blocked")`)
	require.NoError(t, err)
	and, ok := node.(*expr.And)
	require.True(t, ok)
	require.IsType(t, &expr.Or{}, and.Right)
}

func TestParseNot(t *testing.T) {
	node, err := Parse(`NOT status = "closed"`)
	require.NoError(t, err)
	not, ok := node.(*expr.Not)
	require.True(t, ok)
	require.IsType(t, &expr.Comparison{}, not.Child)
}

func TestParseNumericAndBooleanLiterals(t *testing.T) {
	node, err := Parse(`age >= 21`)
	require.NoError(t, err)
	cmp := node.(*expr.Comparison)
	require.Equal(t, 21.0, cmp.Value)

	node, err = Parse(`active = true`)
	require.NoError(t, err)
	cmp = node.(*expr.Comparison)
	require.Equal(t, true, cmp.Value)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse(`status = "open" )`)
	require.Error(t, err)
}

func TestParseRejectsUnterminatedString(t *testing.T) {
	_, err := Parse(`status = "open`)
	require.Error(t, err)
}
