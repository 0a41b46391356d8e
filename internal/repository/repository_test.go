package repository

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/typedkv/typedkv/internal/config"
	"github.com/typedkv/typedkv/internal/kvengine"
	_ "github.com/typedkv/typedkv/internal/kvengine/memkv"
	"github.com/typedkv/typedkv/internal/planner/expr"
	"github.com/typedkv/typedkv/internal/storeerr"
	"github.com/typedkv/typedkv/internal/txscope"
	"github.com/typedkv/typedkv/internal/types"
)

type widget struct {
	SKU   string
	Name  string
	Price int64
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

type order struct {
	ID        string
	WidgetSKU string
	Quantity  int64
}

func (order) TypeName() string { return "order" }

func orderBinding() types.Binding {
	return types.Binding{
		TypeName: "order",
		Primary: types.IndexDescriptor{
			Name:       "primary",
			Unique:     true,
			Properties: []types.KeyProperty{{Name: "ID"}},
		},
		References: []types.ReferenceProperty{
			{Name: "WidgetSKU", ForeignType: "widget", LocalToForeign: map[string]string{"WidgetSKU": "SKU"}},
		},
	}
}

func testOptions() config.Options {
	opts := config.Default()
	opts.Product = "memkv"
	opts.RunCheckpointer = false
	opts.RunDeadlockDetector = false
	return opts
}

func openRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Build(context.Background(), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func registerWidgets(t *testing.T, r *Repository) {
	t.Helper()
	_, err := r.Register(context.Background(), reflect.TypeOf(widget{}), widgetBinding())
	require.NoError(t, err)
}

func TestBuild_RejectsMissingProduct(t *testing.T) {
	_, err := Build(context.Background(), config.Options{})
	require.ErrorIs(t, err, storeerr.ErrConfiguration)
}

func TestRegister_IsIdempotentByTypeName(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	s1, err := r.Register(ctx, reflect.TypeOf(widget{}), widgetBinding())
	require.NoError(t, err)
	s2, err := r.Register(ctx, reflect.TypeOf(widget{}), widgetBinding())
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func TestInsertLoadRoundTrip(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	registerWidgets(t, r)
	s, ok := r.StorageFor("widget")
	require.True(t, ok)

	scope, err := r.NewScope()
	require.NoError(t, err)
	defer r.TM().Release(scope)

	frame, err := scope.Enter(ctx, true, txscope.RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, frame.Native(), &widget{SKU: "w1", Name: "Widget One", Price: 100}))
	require.NoError(t, frame.PreCommit(ctx))
	require.NoError(t, frame.Commit(ctx))
	require.NoError(t, frame.Exit(ctx))

	frame2, err := scope.Enter(ctx, false, txscope.ReadCommitted)
	require.NoError(t, err)
	loaded := &widget{SKU: "w1"}
	require.NoError(t, s.Load(ctx, frame2.Native(), loaded))
	require.Equal(t, "Widget One", loaded.Name)
	require.NoError(t, frame2.Exit(ctx))
}

func TestInsertDuplicate_UniqueConstraint(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	registerWidgets(t, r)
	s, _ := r.StorageFor("widget")

	scope, err := r.NewScope()
	require.NoError(t, err)
	defer r.TM().Release(scope)

	frame, err := scope.Enter(ctx, true, txscope.RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, frame.Native(), &widget{SKU: "dup"}))
	err = s.Insert(ctx, frame.Native(), &widget{SKU: "dup"})
	require.ErrorIs(t, err, storeerr.ErrUniqueConstraint)
	require.NoError(t, frame.Exit(ctx))
}

func TestNestedFrame_AbortDoesNotAffectParent(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	registerWidgets(t, r)
	s, _ := r.StorageFor("widget")

	scope, err := r.NewScope()
	require.NoError(t, err)
	defer r.TM().Release(scope)

	outer, err := scope.Enter(ctx, true, txscope.RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, outer.Native(), &widget{SKU: "keep"}))

	inner, err := scope.Enter(ctx, true, txscope.RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, inner.Native(), &widget{SKU: "rollback-me"}))
	require.NoError(t, inner.Exit(ctx)) // abandoned without Commit

	require.NoError(t, outer.PreCommit(ctx))
	require.NoError(t, outer.Commit(ctx))
	require.NoError(t, outer.Exit(ctx))

	verify, err := scope.Enter(ctx, false, txscope.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, s.Load(ctx, verify.Native(), &widget{SKU: "keep"}))
	ok, err := s.TryLoad(ctx, verify.Native(), &widget{SKU: "rollback-me"})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, verify.Exit(ctx))
}

func TestQuery_FilterAndCount(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	registerWidgets(t, r)
	s, _ := r.StorageFor("widget")

	scope, err := r.NewScope()
	require.NoError(t, err)
	defer r.TM().Release(scope)

	frame, err := scope.Enter(ctx, true, txscope.RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, frame.Native(), &widget{SKU: "a", Price: 10}))
	require.NoError(t, s.Insert(ctx, frame.Native(), &widget{SKU: "b", Price: 20}))
	require.NoError(t, s.Insert(ctx, frame.Native(), &widget{SKU: "c", Price: 30}))
	require.NoError(t, frame.PreCommit(ctx))
	require.NoError(t, frame.Commit(ctx))
	require.NoError(t, frame.Exit(ctx))

	read, err := scope.Enter(ctx, false, txscope.ReadCommitted)
	require.NoError(t, err)
	defer read.Exit(ctx)

	count, err := s.Query().
		Filter(&expr.Comparison{Property: "Price", Op: expr.OpGreater, Value: int64(15)}).
		Count(ctx, read.Native())
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestChainedReference_Join(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	registerWidgets(t, r)
	_, err := r.Register(ctx, reflect.TypeOf(order{}), orderBinding())
	require.NoError(t, err)
	widgets, _ := r.StorageFor("widget")
	orders, _ := r.StorageFor("order")

	scope, err := r.NewScope()
	require.NoError(t, err)
	defer r.TM().Release(scope)

	frame, err := scope.Enter(ctx, true, txscope.RepeatableRead)
	require.NoError(t, err)
	require.NoError(t, widgets.Insert(ctx, frame.Native(), &widget{SKU: "w1", Name: "Gadget"}))
	require.NoError(t, orders.Insert(ctx, frame.Native(), &order{ID: "o1", WidgetSKU: "w1", Quantity: 3}))
	require.NoError(t, frame.PreCommit(ctx))
	require.NoError(t, frame.Commit(ctx))
	require.NoError(t, frame.Exit(ctx))

	read, err := scope.Enter(ctx, false, txscope.ReadCommitted)
	require.NoError(t, err)
	defer read.Exit(ctx)

	got, err := orders.Query().
		Filter(&expr.Comparison{Property: "WidgetSKU.Name", Op: expr.OpEquals, Value: "Gadget"}).
		Fetch(ctx, read.Native())
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSequence_FirstValueIsZero(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	seq, err := r.Sequence(ctx, "order-ids")
	require.NoError(t, err)
	first, err := seq.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), first)
}

func TestShutdown_CompletesTeardownWhenScopeDrainTimesOut(t *testing.T) {
	ctx := context.Background()
	r, err := Build(ctx, testOptions())
	require.NoError(t, err)
	registered := false
	r.RegisterHook("post", func(context.Context) error {
		registered = true
		return nil
	})
	r.opts.PostShutdownHook = "post"

	// A scope nobody releases: the drain wait must give up on ctx expiry,
	// force-close it, and still run every later teardown step.
	scope, err := r.NewScope()
	require.NoError(t, err)
	frame, err := scope.Enter(ctx, true, txscope.ReadCommitted)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = r.Shutdown(shutdownCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, txscope.FrameExited, frame.State(), "the open frame must be force-closed")
	require.True(t, registered, "the post-shutdown hook must run despite the drain error")
	require.NoError(t, r.Shutdown(ctx), "a second Shutdown is still a no-op")
}

func TestShutdown_IsIdempotent(t *testing.T) {
	r, err := Build(context.Background(), testOptions())
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRegister_AfterShutdownFails(t *testing.T) {
	r, err := Build(context.Background(), testOptions())
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))
	_, err = r.Register(context.Background(), reflect.TypeOf(widget{}), widgetBinding())
	require.ErrorIs(t, err, storeerr.ErrRepositoryClosed)
}

func TestStartBackup_NotSupportedByMemkv(t *testing.T) {
	r := openRepo(t)
	err := r.StartBackup(context.Background())
	require.ErrorIs(t, err, storeerr.ErrNotSupported)
}

func TestCompact_ReturnsStats(t *testing.T) {
	r := openRepo(t)
	stats, err := r.Compact(context.Background())
	require.NoError(t, err)
	require.IsType(t, kvengine.CompactionStats{}, stats)
}

func TestCheckpointer_ForceCheckpointWhileRunning(t *testing.T) {
	opts := testOptions()
	opts.RunCheckpointer = true
	opts.CheckpointInterval = 10 * time.Millisecond
	r, err := Build(context.Background(), opts)
	require.NoError(t, err)
	defer r.Shutdown(context.Background())

	require.NoError(t, r.ForceCheckpoint(context.Background()))
}
