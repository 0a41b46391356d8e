//go:build unix

package lockfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// flock treats each open file description as its own lock owner, so two
// Acquire calls in one process conflict exactly the way two processes
// would — which is what lets these tests run without forking.

func TestExclusiveConflictsWithExclusive(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, true)
	require.NoError(t, err)

	_, err = Acquire(dir, true)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())
	second, err := Acquire(dir, true)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestSharedHoldersCoexist(t *testing.T) {
	dir := t.TempDir()

	a, err := Acquire(dir, false)
	require.NoError(t, err)
	b, err := Acquire(dir, false)
	require.NoError(t, err, "two shared holders must coexist")

	_, err = Acquire(dir, true)
	require.ErrorIs(t, err, ErrLocked, "exclusive must not be granted while shared locks are held")

	require.NoError(t, a.Release())
	require.NoError(t, b.Release())
}

func TestExclusiveBlocksShared(t *testing.T) {
	dir := t.TempDir()

	ex, err := Acquire(dir, true)
	require.NoError(t, err)

	_, err = Acquire(dir, false)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, ex.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, true)
	require.NoError(t, err)
	require.NotEmpty(t, l.Path())
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}
