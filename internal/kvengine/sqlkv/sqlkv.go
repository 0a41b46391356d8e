// Package sqlkv implements kvengine.Engine (C1) over a MySQL-wire-compatible
// server: Dolt in server mode, a Dolt sql-server federation member, or plain
// MySQL. Each named Database is one table of the shape
//
//	CREATE TABLE `<name>` (k VARBINARY(1024) PRIMARY KEY, v LONGBLOB NOT NULL)
//
// and the engine's one native search primitive (Cursor.Seek, "first key >=
// K") is a stateless `ORDER BY k LIMIT 1` query re-issued on every step —
// there is no server-side cursor to hold open across round trips, so
// internal/rangecursor's forward/reverse emulation runs entirely client-side
// against this primitive, exactly as it does against memkv.
//
// Two products register against this shared core: "mysql" (sqlkv_mysql.go,
// pure Go, github.com/go-sql-driver/mysql) and "dolt" (sqlkv_dolt.go,
// cgo-gated, github.com/dolthub/driver for embedded access without a
// server). Grounded on the teacher's internal/storage/dolt package, which
// drives both connection modes through the same database/sql surface and
// picks the driver by whether ServerMode is set.
package sqlkv

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/typedkv/typedkv/internal/kvengine"
	"github.com/typedkv/typedkv/internal/storeerr"
)

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent backtick-quotes a database/table name after verifying it looks
// like a plain identifier.
func quoteIdent(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("sqlkv: invalid identifier %q", name)
	}
	return "`" + name + "`", nil
}

// Engine adapts a *sql.DB (already connected to a specific schema/database)
// to kvengine.Engine. Both products construct one of these once they have a
// working connection; the rest of the logic (table DDL, cursor emulation,
// transaction wrapping) is shared.
type Engine struct {
	db      *sql.DB
	product string
	closer  func() error
}

func newEngine(db *sql.DB, product string, closer func() error) *Engine {
	return &Engine{db: db, product: product, closer: closer}
}

// Database is one table, one row per key.
type database struct {
	name  string
	table string // quoted
}

func (d *database) Name() string { return d.name }

func (e *Engine) OpenDatabase(ctx context.Context, name string, create bool) (kvengine.Database, error) {
	table, err := quoteIdent(name)
	if err != nil {
		return nil, err
	}
	if create {
		ddl := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (k VARBINARY(1024) PRIMARY KEY, v LONGBLOB NOT NULL)",
			table,
		)
		if _, err := e.db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("sqlkv: create table %s: %w", name, err)
		}
	} else {
		var exists int
		row := e.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1")
		if err := row.Scan(&exists); err != nil && err != sql.ErrNoRows {
			return nil, kvengine.ErrKeyNotFound
		}
	}
	return &database{name: name, table: table}, nil
}

func (e *Engine) Begin(ctx context.Context, writable bool) (kvengine.Txn, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: !writable})
	if err != nil {
		return nil, translateErr(err)
	}
	return &Txn{engine: e, exec: tx, commitFn: tx.Commit, rollbackFn: tx.Rollback}, nil
}

func (e *Engine) DetectDeadlocks(context.Context) (int64, error) {
	// mysql/dolt run their own internal-XA-style lock-wait-timeout and
	// deadlock detector; a cycle surfaces as error 1213 ("Deadlock found")
	// on the offending Commit/Exec call, translated by translateErr into
	// storeerr.ErrPersistDeadlock at the point of
	// failure. There is no separate server-side counter this adapter can
	// poll out of band, so C8's periodic detector call is a degenerate
	// no-op here, the same shape memkv reports for its in-process engine
	// with no real lock manager.
	return 0, nil
}

func (e *Engine) Checkpoint(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, "FLUSH TABLES")
	return err
}

func (e *Engine) Compact(ctx context.Context) (kvengine.CompactionStats, error) {
	rows, err := e.db.QueryContext(ctx, "SHOW TABLE STATUS")
	if err != nil {
		return kvengine.CompactionStats{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return kvengine.CompactionStats{}, err
	}
	var stats kvengine.CompactionStats
	for rows.Next() {
		vals := make([]sql.RawBytes, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			continue
		}
		for i, c := range cols {
			if strings.EqualFold(c, "Rows") {
				var n int64
				fmt.Sscanf(string(vals[i]), "%d", &n)
				stats.PagesExamined += n
			}
		}
	}
	return stats, rows.Err()
}

func (e *Engine) Close() error {
	if e.closer != nil {
		return e.closer()
	}
	return e.db.Close()
}

// sqlExecutor is the subset of *sql.Tx this package uses, so Txn can share
// logic between a top-level transaction and a SAVEPOINT-backed nested one
// without two near-identical implementations.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Txn wraps one *sql.Tx (top-level) or a SAVEPOINT within it (nested). MySQL
// and Dolt both support real SAVEPOINT-based nesting, so this Begin never
// needs txscope's fake-nesting fallback
// — it is exercised by the object store only when the engine genuinely
// lacks the feature.
type Txn struct {
	engine     *Engine
	exec       sqlExecutor
	savepoint  string
	commitFn   func() error
	rollbackFn func() error
	depth      int
}

var savepointSeq atomic.Int64

func nextSavepoint() string {
	return fmt.Sprintf("sqlkv_sp_%d", savepointSeq.Add(1))
}

func (t *Txn) Begin(ctx context.Context) (kvengine.Txn, error) {
	sp := nextSavepoint()
	if _, err := t.exec.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return nil, translateErr(err)
	}
	return &Txn{
		engine:    t.engine,
		exec:      t.exec,
		savepoint: sp,
		depth:     t.depth + 1,
		commitFn:  func() error { _, err := t.exec.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); return err },
		rollbackFn: func() error {
			_, err := t.exec.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
			return err
		},
	}, nil
}

func (t *Txn) Get(ctx context.Context, db kvengine.Database, key []byte) ([]byte, error) {
	table := db.(*database).table
	var v []byte
	row := t.exec.QueryRowContext(ctx, "SELECT v FROM "+table+" WHERE k = ?", key)
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, kvengine.ErrKeyNotFound
		}
		return nil, translateErr(err)
	}
	return v, nil
}

func (t *Txn) Put(ctx context.Context, db kvengine.Database, key, value []byte) error {
	table := db.(*database).table
	_, err := t.exec.ExecContext(ctx,
		"INSERT INTO "+table+" (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)", key, value)
	return translateErr(err)
}

// PutNoOverwrite is kvengine.Txn's spec §4.1 put_no_overwrite primitive.
// INSERT IGNORE relies on k's PRIMARY KEY constraint to make the
// check-and-insert atomic server-side: a conflicting row is silently
// dropped instead of erroring, and RowsAffected distinguishes "inserted"
// from "already there" without a separate round trip that could race
// another session's concurrent insert.
func (t *Txn) PutNoOverwrite(ctx context.Context, db kvengine.Database, key, value []byte) (bool, error) {
	table := db.(*database).table
	res, err := t.exec.ExecContext(ctx,
		"INSERT IGNORE INTO "+table+" (k, v) VALUES (?, ?)", key, value)
	if err != nil {
		return false, translateErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translateErr(err)
	}
	return n > 0, nil
}

func (t *Txn) Delete(ctx context.Context, db kvengine.Database, key []byte) error {
	table := db.(*database).table
	_, err := t.exec.ExecContext(ctx, "DELETE FROM "+table+" WHERE k = ?", key)
	return translateErr(err)
}

func (t *Txn) Truncate(ctx context.Context, db kvengine.Database) error {
	table := db.(*database).table
	_, err := t.exec.ExecContext(ctx, "DELETE FROM "+table)
	return translateErr(err)
}

func (t *Txn) IsEmpty(ctx context.Context, db kvengine.Database) (bool, error) {
	table := db.(*database).table
	var n int
	row := t.exec.QueryRowContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1")
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, translateErr(err)
	}
	return false, nil
}

func (t *Txn) Cursor(ctx context.Context, db kvengine.Database) (kvengine.Cursor, error) {
	return &cursor{txn: t, table: db.(*database).table}, nil
}

func (t *Txn) Commit(ctx context.Context) error {
	if t.commitFn == nil {
		return nil
	}
	return translateErr(t.commitFn())
}

func (t *Txn) Rollback(ctx context.Context) error {
	if t.rollbackFn == nil {
		return nil
	}
	return translateErr(t.rollbackFn())
}

// cursor re-issues a fresh, stateless query per step against t.exec —
// "Seek" is the only primitive with server-side meaning; First/Last/Next/
// Prev are all expressed as an ORDER BY ... LIMIT 1 query bounded by the
// last key returned, matching the adapter contract's promise that Seek
// ("first key >= K") is the one native search primitive an engine must
// supply.
type cursor struct {
	txn     *Txn
	table   string
	hasKey  bool
	lastKey []byte
}

func (c *cursor) Seek(ctx context.Context, key []byte) ([]byte, []byte, error) {
	return c.query(ctx, "SELECT k, v FROM "+c.table+" WHERE k >= ? ORDER BY k ASC LIMIT 1", key)
}

func (c *cursor) First(ctx context.Context) ([]byte, []byte, error) {
	return c.query(ctx, "SELECT k, v FROM "+c.table+" ORDER BY k ASC LIMIT 1")
}

func (c *cursor) Last(ctx context.Context) ([]byte, []byte, error) {
	return c.query(ctx, "SELECT k, v FROM "+c.table+" ORDER BY k DESC LIMIT 1")
}

func (c *cursor) Next(ctx context.Context) ([]byte, []byte, error) {
	if !c.hasKey {
		return c.First(ctx)
	}
	return c.query(ctx, "SELECT k, v FROM "+c.table+" WHERE k > ? ORDER BY k ASC LIMIT 1", c.lastKey)
}

func (c *cursor) Prev(ctx context.Context) ([]byte, []byte, error) {
	if !c.hasKey {
		return c.Last(ctx)
	}
	return c.query(ctx, "SELECT k, v FROM "+c.table+" WHERE k < ? ORDER BY k DESC LIMIT 1", c.lastKey)
}

func (c *cursor) Current(ctx context.Context) ([]byte, []byte, error) {
	if !c.hasKey {
		return nil, nil, kvengine.ErrKeyNotFound
	}
	return c.query(ctx, "SELECT k, v FROM "+c.table+" WHERE k = ? LIMIT 1", c.lastKey)
}

func (c *cursor) query(ctx context.Context, sqlText string, args ...any) ([]byte, []byte, error) {
	row := c.txn.exec.QueryRowContext(ctx, sqlText, args...)
	var k, v []byte
	if err := row.Scan(&k, &v); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, kvengine.ErrKeyNotFound
		}
		return nil, nil, translateErr(err)
	}
	c.hasKey = true
	c.lastKey = k
	return k, v, nil
}

func (c *cursor) Close() error { return nil }

// translateErr converts the driver's error strings into the C1 taxonomy
// (spec §4.1: "the adapter converts engine-specific deadlock, lock-timeout,
// and corrupt encoding errors"). Both go-sql-driver/mysql and
// dolthub/driver surface these as the MySQL wire protocol's numeric error
// codes embedded in the error text (1213 deadlock, 1205 lock wait timeout),
// so matching on substring is the only portion detection available without
// depending on the mysql driver's error type from this shared file (the
// embedded dolt build excludes that import).
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Error 1213") || strings.Contains(msg, "Deadlock found"):
		return fmt.Errorf("%w: %v", storeerr.ErrPersistDeadlock, err)
	case strings.Contains(msg, "Error 1205") || strings.Contains(msg, "Lock wait timeout"):
		return fmt.Errorf("%w: %v", storeerr.ErrPersistTimeout, err)
	case strings.Contains(msg, "Error 1062") || strings.Contains(msg, "Duplicate entry"):
		return fmt.Errorf("%w: %v", storeerr.ErrUniqueConstraint, err)
	default:
		return err
	}
}

// pingWithTimeout is shared setup logic: both products dial, then verify
// the connection is live before handing the *sql.DB back to OpenDatabase
// callers, so a misconfigured DSN fails fast inside kvengine.Open rather
// than on the first query.
func pingWithTimeout(db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return db.PingContext(ctx)
}
