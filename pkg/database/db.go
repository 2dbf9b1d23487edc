package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Driver identifies the SQL dialect behind a DB handle.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DB is a database/sql handle tagged with its dialect. Postgres handles are
// backed by a pgx pool, SQLite handles by the ncruces driver.
type DB struct {
	sql    *sql.DB
	driver Driver
}

// SQL returns the underlying database/sql handle.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// Driver returns the dialect of this handle.
func (db *DB) Driver() Driver {
	return db.driver
}

// Ping verifies the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Close releases the handle.
func (db *DB) Close() error {
	return db.sql.Close()
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise, including when ctx is cancelled
// while fn is running.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadTx runs fn inside a read-only transaction so multi-statement reads see
// one snapshot. SQLite transactions are already serialized.
func (db *DB) ReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var opts *sql.TxOptions
	if db.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := db.sql.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
