// Package csql provides the opaque database capability the core query
// gateway requires: begin a transaction, run a statement, fetch rows, commit
// or roll back, close. Connection pooling, credential fetch and the concrete
// wire protocol are deliberately kept out of the core packages (core/handlers,
// core/dao, core/batch); they depend only on the interfaces in this file.
package csql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // postgres driver, loaded for its side effect of registering "postgres"
)

// Rows is the minimal cursor surface a SQL handler needs to materialize a result set.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Columns() ([]string, error)
	Close() error
	Err() error
}

// Result is the outcome of a non-query statement (INSERT/UPDATE/DELETE without RETURNING).
type Result interface {
	RowsAffected() (int64, error)
}

// Connection is the opaque capability the core requires from a database: run a
// statement, fetch rows. It is satisfied by *Tx (one operation inside an open
// transaction) and intentionally has no notion of connection pooling — that
// belongs to whatever constructs a DB.
type Connection interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Row is a single-row query result, mirroring database/sql.Row.
type Row interface {
	Scan(dest ...interface{}) error
}

// ErrNoRows is returned by QueryRow's Scan when no row matched.
var ErrNoRows = sql.ErrNoRows

// DB wraps a standard *sql.DB bound to a single schema, and is the root from which
// request-scoped transactions (Tx) are opened.
type DB struct {
	*sql.DB
	Schema string
}

// OpenWithSchema opens a database connection pool and ensures the given schema
// exists. An empty schema falls back to "public".
func OpenWithSchema(driverName, dataSourceName, schema string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("cannot reach database: %w", err)
	}
	if schema == "" {
		schema = "public"
	} else if driverName == "postgres" {
		if _, err := db.Exec(`CREATE extension IF NOT EXISTS "uuid-ossp"; CREATE schema IF NOT EXISTS ` + schema + `;`); err != nil {
			return nil, fmt.Errorf("cannot create schema %s: %w", schema, err)
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// Begin opens a new transaction-scoped Connection. The caller owns it exclusively
// for the lifetime of one request (the connection is owned exclusively by the
// request for its lifetime) and must Commit or Rollback exactly once.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx adapts a *sql.Tx to the Connection interface.
type Tx struct {
	tx *sql.Tx
}

// Query implements Connection.
func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRow implements Connection.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Exec implements Connection.
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Commit commits the underlying transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the underlying transaction. Rollback after Commit, or on an
// already-finished transaction, returns an error callers typically ignore.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
