package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/typedkv/typedkv/internal/eventbus"
	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/kvengine/memkv"
	"github.com/typedkv/typedkv/internal/metastore"
	"github.com/typedkv/typedkv/internal/storeerr"
	"github.com/typedkv/typedkv/internal/types"
)

type widget struct {
	SKU  string
	Name string
}

func (widget) TypeName() string { return "widget" }

func widgetBinding() types.Binding {
	return types.Binding{
		TypeName: "widget",
		Primary: types.IndexDescriptor{
			Name:       "primary",
			Unique:     true,
			Properties: []types.KeyProperty{{Name: "SKU"}},
		},
	}
}

func newTestStorage(t *testing.T) (*Storage, kvengine.Engine) {
	t.Helper()
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	meta, err := metastore.Open(ctx, eng)
	require.NoError(t, err)
	s, err := Open(ctx, eng, meta, reflect.TypeOf(widget{}), widgetBinding())
	require.NoError(t, err)
	return s, eng
}

func TestInsertLoadDelete(t *testing.T) {
	ctx := context.Background()
	s, eng := newTestStorage(t)

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	w := &widget{SKU: "a", Name: "one"}
	require.NoError(t, s.Insert(ctx, txn, w))
	require.NoError(t, txn.Commit(ctx))

	txn2, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	loaded := &widget{SKU: "a"}
	require.NoError(t, s.Load(ctx, txn2, loaded))
	require.Equal(t, "one", loaded.Name)

	txn3, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	ok, err := s.TryDelete(ctx, txn3, &widget{SKU: "a"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, txn3.Commit(ctx))
}

func TestInsertDuplicateFails(t *testing.T) {
	ctx := context.Background()
	s, eng := newTestStorage(t)

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, txn, &widget{SKU: "a"}))
	err = s.Insert(ctx, txn, &widget{SKU: "a"})
	require.ErrorIs(t, err, storeerr.ErrUniqueConstraint)
}

func TestBeforeInsertTriggerCanVeto(t *testing.T) {
	ctx := context.Background()
	s, eng := newTestStorage(t)
	s.AddTrigger(eventbus.NewFuncTrigger("veto", 0, []eventbus.Phase{eventbus.BeforeInsert},
		func(context.Context, *eventbus.Event) error {
			return errors.New("rejected")
		}))

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	err = s.Insert(ctx, txn, &widget{SKU: "a"})
	require.Error(t, err)
}

func TestInsertMaintainsAlternateIndexEntries(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	meta, err := metastore.Open(ctx, eng)
	require.NoError(t, err)

	b := widgetBinding()
	b.Alternates = []types.IndexDescriptor{
		{Name: "byName", Properties: []types.KeyProperty{{Name: "Name"}}},
	}
	s, err := Open(ctx, eng, meta, reflect.TypeOf(widget{}), b)
	require.NoError(t, err)

	altDB, ok := s.AltDatabase("byName")
	require.True(t, ok)

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, txn, &widget{SKU: "a", Name: "one"}))
	empty, err := txn.IsEmpty(ctx, altDB)
	require.NoError(t, err)
	require.False(t, empty, "insert must write the alternate index entry")

	deleted, err := s.TryDelete(ctx, txn, &widget{SKU: "a"})
	require.NoError(t, err)
	require.True(t, deleted)
	empty, err = txn.IsEmpty(ctx, altDB)
	require.NoError(t, err)
	require.True(t, empty, "delete must remove the alternate index entry")
	require.NoError(t, txn.Commit(ctx))
}

func TestStoreReindexesChangedProperties(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	meta, err := metastore.Open(ctx, eng)
	require.NoError(t, err)

	b := widgetBinding()
	b.Alternates = []types.IndexDescriptor{
		{Name: "byName", Properties: []types.KeyProperty{{Name: "Name"}}},
	}
	s, err := Open(ctx, eng, meta, reflect.TypeOf(widget{}), b)
	require.NoError(t, err)
	altDB, _ := s.AltDatabase("byName")

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, txn, &widget{SKU: "a", Name: "old"}))
	require.NoError(t, s.Store(ctx, txn, &widget{SKU: "a", Name: "new"}, nil))

	// Exactly one entry must remain: the stale "old" entry is removed
	// when the update re-indexes, not left behind alongside "new".
	cur, err := txn.Cursor(ctx, altDB)
	require.NoError(t, err)
	defer cur.Close()
	n := 0
	_, _, err = cur.First(ctx)
	for err == nil {
		n++
		_, _, err = cur.Next(ctx)
	}
	require.Equal(t, 1, n)
	require.NoError(t, txn.Commit(ctx))
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	s, eng := newTestStorage(t)

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	for _, sku := range []string{"a", "b", "c"} {
		require.NoError(t, s.Insert(ctx, txn, &widget{SKU: sku}))
	}
	require.NoError(t, s.Truncate(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	txn2, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	empty, err := txn2.IsEmpty(ctx, s.Database())
	require.NoError(t, err)
	require.True(t, empty)
}

func TestTruncateDispatchesDeleteTriggers(t *testing.T) {
	ctx := context.Background()
	s, eng := newTestStorage(t)

	var before, after int
	s.AddTrigger(eventbus.NewFuncTrigger("count", 0,
		[]eventbus.Phase{eventbus.BeforeDelete, eventbus.AfterDelete},
		func(_ context.Context, ev *eventbus.Event) error {
			if ev.Phase == eventbus.BeforeDelete {
				before++
			} else {
				after++
			}
			return nil
		}))

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	for _, sku := range []string{"a", "b", "c"} {
		require.NoError(t, s.Insert(ctx, txn, &widget{SKU: sku}))
	}
	require.NoError(t, s.Truncate(ctx, txn))
	require.NoError(t, txn.Commit(ctx))

	require.Equal(t, 3, before, "truncate must fire BeforeDelete once per record")
	require.Equal(t, 3, after, "truncate must fire AfterDelete once per record")

	txn2, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	empty, err := txn2.IsEmpty(ctx, s.Database())
	require.NoError(t, err)
	require.True(t, empty)
}

func TestTruncateSharedFileDeletesPerRecord(t *testing.T) {
	ctx := context.Background()
	s, eng := newTestStorage(t)
	s.SetSharedDatabaseFile(true)

	txn, err := eng.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, txn, &widget{SKU: "a"}))
	require.NoError(t, s.Truncate(ctx, txn))
	empty, err := txn.IsEmpty(ctx, s.Database())
	require.NoError(t, err)
	require.True(t, empty)
	require.NoError(t, txn.Commit(ctx))
}
