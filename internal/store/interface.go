// Package store defines the persistent storage interface used throughout
// dupescan, with SQLite and MySQL backends in its sqlite and mysql
// subpackages.
package store

import (
	"context"
	"fmt"
)

// Querier is the read/write surface shared by Store and a transaction handle.
type Querier interface {
	// Select executes a query and scans all rows into dest (pointer to a slice of structs).
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Get executes a query expected to return a single row and scans into dest.
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...interface{}) error

	// Insert inserts a struct-tagged record into table and returns the new row ID.
	Insert(ctx context.Context, table string, record interface{}) (int64, error)

	// Update updates rows matching the where clause with values from record.
	Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error
}

// Tx is a Querier scoped to a single transaction.
type Tx interface {
	Querier
}

// Store is the generic storage interface used throughout dupescan.
// Implementations exist for SQLite (default) and MySQL.
type Store interface {
	Querier

	// Upsert inserts or updates based on conflictCols (ON CONFLICT/ON DUPLICATE KEY clause).
	Upsert(ctx context.Context, table string, record interface{}, conflictCols []string) error

	// WithTx runs fn inside a transaction. On sqlite the transaction is opened
	// with BEGIN IMMEDIATE, taking the single writer lock upfront so a
	// plain SELECT inside fn is enough to make claim-style reads exclusive;
	// on mysql fn is expected to add "FOR UPDATE SKIP LOCKED" to any SELECT
	// that needs the same guarantee. fn's error aborts and rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Migrate applies pending schema migrations in order.
	Migrate(ctx context.Context) error

	// Ping verifies the database connection is alive.
	Ping(ctx context.Context) error

	// Close releases the database connection.
	Close() error

	// Driver returns the backend name: "sqlite" or "mysql".
	Driver() string
}

// ErrUnsupportedDriver is returned by a backend factory for an unrecognised
// driver name.
type ErrUnsupportedDriver struct{ Driver string }

func (e ErrUnsupportedDriver) Error() string {
	return fmt.Sprintf("unsupported database driver %q (supported: sqlite, mysql)", e.Driver)
}
