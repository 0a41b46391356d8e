package codec

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/typedkv/typedkv/internal/types"
)

type widget struct {
	SKU   string
	Price int64
	Name  string
}

func (widget) TypeName() string { return "widget" }

func binding() types.Binding {
	return types.Binding{
		TypeName:   "widget",
		Generation: 1,
		Primary: types.IndexDescriptor{
			Name:       "primary",
			Unique:     true,
			Properties: []types.KeyProperty{{Name: "SKU"}},
		},
		Alternates: []types.IndexDescriptor{
			{
				Name:       "byPrice",
				Properties: []types.KeyProperty{{Name: "Price"}, {Name: "SKU"}},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	c := NewReflectJSON(reflect.TypeOf(widget{}), binding())
	w := widget{SKU: "abc", Price: 1099, Name: "gadget"}

	key, err := c.EncodeKey(&w)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	value, err := c.EncodeValue(&w)
	require.NoError(t, err)

	var out widget
	require.NoError(t, c.Decode(key, value, &out))
	require.Equal(t, w, out)
}

func TestKeyOrderingPreservesNumericOrder(t *testing.T) {
	c := NewReflectJSON(reflect.TypeOf(widget{}), binding())
	low := widget{SKU: "a", Price: 100}
	high := widget{SKU: "a", Price: 200}

	kLow, err := c.EncodeAltKey(&low, "byPrice")
	require.NoError(t, err)
	kHigh, err := c.EncodeAltKey(&high, "byPrice")
	require.NoError(t, err)

	require.True(t, bytes.Compare(kLow, kHigh) < 0, "lower price must sort before higher price")
}

func TestDecodeRejectsGenerationMismatchUnderEvolutionNone(t *testing.T) {
	b := binding()
	c := NewReflectJSON(reflect.TypeOf(widget{}), b)
	w := widget{SKU: "abc", Price: 1, Name: "x"}
	value, err := c.EncodeValue(&w)
	require.NoError(t, err)

	b2 := b
	b2.Generation = 2
	c2 := NewReflectJSON(reflect.TypeOf(widget{}), b2)

	var out widget
	err = c2.Decode(nil, value, &out)
	require.Error(t, err)
}
