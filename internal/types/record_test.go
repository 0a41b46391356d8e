package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectionString(t *testing.T) {
	require.Equal(t, "ascending", Ascending.String())
	require.Equal(t, "descending", Descending.String())
}

func TestIndexDescriptorString(t *testing.T) {
	d := IndexDescriptor{
		Name:       "primary",
		Unique:     true,
		Properties: []KeyProperty{{Name: "ID", Direction: Ascending}},
	}
	s := d.String()
	require.Contains(t, s, "primary")
	require.Contains(t, s, "unique=true")
	require.Contains(t, s, "ID")
}
