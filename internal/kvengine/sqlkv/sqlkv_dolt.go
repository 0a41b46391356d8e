//go:build cgo

package sqlkv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// dolthub/driver registers itself as the "dolt" database/sql driver
	// name; it requires CGO (it embeds Dolt's own storage engine rather
	// than speaking the wire protocol to a server), mirroring the
	// teacher's factory_dolt.go //go:build cgo self-registration.
	_ "github.com/dolthub/driver"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/lockfile"
)

func init() {
	kvengine.RegisterProduct("dolt", openDolt)
}

// doltEngine adds BackupCapable by walking the embedded environment's own
// directory tree: unlike sqlkv_mysql.go's remote server, an embedded Dolt
// database is a real directory on this process's filesystem, so
// "BackupFiles" has a direct, literal answer the way spec §6's
// HotBackupCapability describes ("yields ordered data-file and log-file
// lists").
type doltEngine struct {
	*Engine
	envHome string
}

// openDolt opens path (opts.EnvHome) as an embedded Dolt database via
// dolthub/driver's DSN form "file://<path>?commitname=...&commitemail=...".
// The database name defaults to "typedkv" when FileNameMap has no ""
// entry, giving every type its own table within that one logical database
// (Dolt's unit of commit/branch), matching the spec's "one logical database
// per record type, optionally merged into one physical file" on-disk model.
//
// The environment directory is held under an internal/lockfile advisory
// lock for the engine's lifetime: shared by default so cooperating
// processes can open the same environment, exclusive when opts.Private
// disables cross-process sharing.
func openDolt(ctx context.Context, opts kvengine.Options) (kvengine.Engine, error) {
	if opts.EnvHome == "" {
		return nil, fmt.Errorf("sqlkv/dolt: env_home is required")
	}
	lock, err := lockfile.Acquire(opts.EnvHome, opts.Private)
	if err != nil {
		return nil, fmt.Errorf("sqlkv/dolt: lock environment: %w", err)
	}
	dbName := opts.FileNameMap[""]
	if dbName == "" {
		dbName = "typedkv"
	}
	dsn := fmt.Sprintf("file://%s?commitname=typedkv&commitemail=typedkv@localhost&database=%s",
		opts.EnvHome, dbName)

	db, err := sql.Open("dolt", dsn)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("sqlkv/dolt: open %s: %w", opts.EnvHome, err)
	}
	timeout := time.Duration(opts.TxnTimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := pingWithTimeout(db, timeout); err != nil {
		_ = db.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("sqlkv/dolt: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS `"+dbName+"`"); err == nil {
		_, _ = db.ExecContext(ctx, "USE `"+dbName+"`")
	}
	closer := func() error {
		closeErr := db.Close()
		if err := lock.Release(); err != nil && closeErr == nil {
			closeErr = err
		}
		return closeErr
	}
	return &doltEngine{Engine: newEngine(db, "dolt", closer), envHome: opts.EnvHome}, nil
}

func (e *doltEngine) EnterBackupMode(ctx context.Context) error {
	_, err := e.Engine.db.ExecContext(ctx, "FLUSH TABLES WITH READ LOCK")
	return err
}

func (e *doltEngine) ExitBackupMode(ctx context.Context) error {
	_, err := e.Engine.db.ExecContext(ctx, "UNLOCK TABLES")
	return err
}

// BackupFiles lists every regular file under EnvHome's .dolt directory
// (or the environment root if .dolt hasn't been created under a
// subdirectory), in a stable lexical order a caller can copy sequentially.
func (e *doltEngine) BackupFiles(ctx context.Context) ([]string, error) {
	root := e.envHome
	if fi, err := os.Stat(filepath.Join(root, ".dolt")); err == nil && fi.IsDir() {
		root = filepath.Join(root, ".dolt")
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlkv/dolt: walk %s: %w", root, err)
	}
	return files, nil
}
