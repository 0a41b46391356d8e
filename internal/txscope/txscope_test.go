package txscope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/kvengine/memkv"
	"github.com/typedkv/typedkv/internal/storeerr"
)

func TestTopLevelFrameCommit(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	frame, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	require.Equal(t, 1, scope.Depth())
	require.NoError(t, frame.Commit(ctx))
	require.Equal(t, 0, scope.Depth())
}

func TestNestedFrameCommitKeepsParent(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	top, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	nested, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	require.Equal(t, 2, scope.Depth())

	// memkv supports real nesting, so this is not a fake-nested frame;
	// assert the structural property that matters regardless: the
	// nested frame's commit does not remove the parent.
	require.NoError(t, nested.Commit(ctx))
	require.Equal(t, 1, scope.Depth())
	require.NoError(t, top.Commit(ctx))
	require.Equal(t, 0, scope.Depth())
}

func TestExitIsAlwaysSafe(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	frame, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, frame.Exit(ctx))
	require.NoError(t, frame.Exit(ctx), "Exit must be idempotent")
}

func TestCommitCascadesIntoOpenChild(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	top, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	nested, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	require.Equal(t, 2, scope.Depth())

	// Committing the still-open parent must cascade into the still-open
	// child first rather than leaving it dangling.
	require.NoError(t, top.Commit(ctx))
	require.Equal(t, FrameExited, nested.State())
	require.Equal(t, 0, scope.Depth())
}

func TestExitCascadesIntoOpenChild(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	top, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	nested, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)

	require.NoError(t, top.Exit(ctx))
	require.Equal(t, FrameExited, nested.State())
	require.Equal(t, 0, scope.Depth())
}

func TestScopeCloseExitsOpenFramesAndRejectsEnter(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	frame, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)

	scope.Close(false)
	require.Equal(t, FrameExited, frame.State())

	_, err = scope.Enter(ctx, true, ReadCommitted)
	require.ErrorIs(t, err, storeerr.ErrRepositoryClosed)
}

func TestScopeCloseSuspendPinsLaterEnter(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	_, err = scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)

	scope.Close(true)

	entered := make(chan struct{})
	go func() {
		_, _ = scope.Enter(ctx, true, ReadCommitted)
		close(entered)
	}()

	select {
	case <-entered:
		t.Fatal("Enter must never return once Close(suspend=true) has pinned the scope's lock")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnterTopOwnsIndependentTransaction(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	outer, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	top, err := scope.EnterTop(ctx, true, ReadCommitted)
	require.NoError(t, err)
	require.NotSame(t, outer.Native(), top.Native(), "EnterTop must not share the enclosing frame's native transaction")

	db, err := eng.OpenDatabase(ctx, "d", true)
	require.NoError(t, err)
	require.NoError(t, top.Native().Put(ctx, db, []byte("k"), []byte("v")))
	require.NoError(t, top.Commit(ctx))

	// The top frame's write is durable even though the enclosing frame
	// never commits.
	require.NoError(t, outer.Exit(ctx))
	reader, err := eng.Begin(ctx, false)
	require.NoError(t, err)
	v, err := reader.Get(ctx, db, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestSetForUpdateTogglesFrameFlag(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	frame, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)
	require.False(t, frame.ForUpdate())

	require.NoError(t, frame.SetForUpdate(ctx, true))
	require.True(t, frame.ForUpdate())

	frame.SetDesiredLockTimeout(5 * time.Second)
	require.Equal(t, 5*time.Second, frame.DesiredLockTimeout())

	require.NoError(t, frame.Exit(ctx))
}

func TestShutdownAfterReleaseRejectsNewScopes(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		mgr.Release(scope)
		close(done)
	}()
	<-done

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, mgr.Shutdown(shutdownCtx))

	_, err = mgr.NewScope()
	require.ErrorIs(t, err, storeerr.ErrRepositoryClosed)
}

func TestShutdownForciblyClosesUnreleasedScopes(t *testing.T) {
	ctx := context.Background()
	eng := memkv.New(kvengine.Options{})
	mgr := NewManager(eng)
	scope, err := mgr.NewScope()
	require.NoError(t, err)

	frame, err := scope.Enter(ctx, true, ReadCommitted)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = mgr.Shutdown(shutdownCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, FrameExited, frame.State(), "Shutdown must force-close a scope nobody released")

	entered := make(chan struct{})
	go func() {
		_, _ = scope.Enter(ctx, true, ReadCommitted)
		close(entered)
	}()

	select {
	case <-entered:
		t.Fatal("Enter must never return on a scope Shutdown force-closed with Close(suspend=true)")
	case <-time.After(50 * time.Millisecond):
	}
}
