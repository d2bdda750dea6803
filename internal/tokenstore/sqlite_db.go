package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// queryable abstracts *sql.DB and *sql.Tx for shared query code, identical
// to the teacher's sqlite package split.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteDB is the SQLite-backed persistent tier for sealed token rows.
type sqliteDB struct {
	db   *sql.DB
	q    queryable
	path string
}

// openSQLite opens a SQLite database at path, creating it if absent, and
// runs migrations. The DSN mirrors the teacher's WAL + single-connection
// construction so a 5-second busy timeout absorbs brief lock contention
// instead of surfacing SQLITE_BUSY to callers.
func openSQLite(ctx context.Context, path string) (*sqliteDB, error) {
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if isNew {
		if err := os.Chmod(path, 0o600); err != nil {
			db.Close()
			return nil, fmt.Errorf("chmod token database: %w", err)
		}
	}

	return &sqliteDB{db: db, q: db, path: path}, nil
}

// withTx runs fn inside a transaction, reusing one already in progress on
// this handle (mirrors the teacher's deadlock-avoidance under
// SetMaxOpenConns(1)).
func (d *sqliteDB) withTx(ctx context.Context, fn func(q queryable) error) error {
	if tx, ok := d.q.(*sql.Tx); ok {
		return fn(tx)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *sqliteDB) Close() error {
	return d.db.Close()
}
