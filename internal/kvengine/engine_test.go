package kvengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenUnknownProduct(t *testing.T) {
	_, err := Open(context.Background(), Options{Product: "no-such-product"})
	require.Error(t, err)
	var upe *UnknownProductError
	require.ErrorAs(t, err, &upe)
	require.Equal(t, "no-such-product", upe.Product)
}

func TestRegisterProductAndOpen(t *testing.T) {
	const name = "engine-test-fake"
	called := false
	RegisterProduct(name, func(ctx context.Context, opts Options) (Engine, error) {
		called = true
		return nil, nil
	})

	_, err := Open(context.Background(), Options{Product: name})
	require.NoError(t, err)
	require.True(t, called)
}

func TestRegisterProductDuplicatePanics(t *testing.T) {
	const name = "engine-test-dup"
	RegisterProduct(name, func(ctx context.Context, opts Options) (Engine, error) {
		return nil, nil
	})

	require.Panics(t, func() {
		RegisterProduct(name, func(ctx context.Context, opts Options) (Engine, error) {
			return nil, nil
		})
	})
}

func TestUnknownProductErrorMessage(t *testing.T) {
	err := &UnknownProductError{Product: "bogus"}
	require.Equal(t, "kvengine: unknown product bogus", err.Error())
}
