// Package sqlite implements store.Store over SQLite via mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dupescan/dupescan/internal/store"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB implements store.Store over SQLite. SQLite is single-writer, so every
// write (including claim-style transactions) serialises through one
// connection.
type DB struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the SQLite database at path.
func New(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &DB{db: db, path: path}
	if err := s.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	return s, nil
}

func (s *DB) Driver() string { return "sqlite" }

func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DB) Close() error { return s.db.Close() }

// Migrate applies all *.sql files from migrations/ in sorted order, tracked
// in a schema_migrations table.
func (s *DB) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		filename   TEXT    NOT NULL UNIQUE,
		applied_at TEXT    NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var count int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		slog.Info("applied migration", "file", name)
	}
	return nil
}

func (s *DB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return store.ScanRows(rows, dest)
}

func (s *DB) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return store.ScanOne(rows, dest)
}

func (s *DB) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *DB) Insert(ctx context.Context, table string, record interface{}) (int64, error) {
	return store.InsertWith(ctx, s.db, table, record)
}

func (s *DB) Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error {
	return store.UpdateWith(ctx, s.db, table, record, where, args...)
}

// Upsert inserts or replaces using SQLite's ON CONFLICT DO UPDATE.
func (s *DB) Upsert(ctx context.Context, table string, record interface{}, conflictCols []string) error {
	cols, placeholders, vals := store.StructToInsert(record)
	updateCols := make([]string, 0, len(cols))
	for _, c := range cols {
		if !contains(conflictCols, c) {
			updateCols = append(updateCols, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	// Internal DB helper: identifiers come from trusted struct tags/call sites; values remain parameterized.
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		strings.Join(conflictCols, ", "), strings.Join(updateCols, ", "),
	)
	_, err := s.db.ExecContext(ctx, query, vals...)
	return err
}

// WithTx opens the transaction with BEGIN IMMEDIATE, taking SQLite's single
// writer lock upfront. Anything fn selects inside is therefore already
// exclusive; no FOR UPDATE equivalent is needed.
func (s *DB) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	txWrapper := &connTx{conn: conn}
	if err := fn(txWrapper); err != nil {
		if _, rerr := conn.ExecContext(ctx, "ROLLBACK"); rerr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rerr)
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// connTx implements store.Tx over a single *sql.Conn already inside a
// BEGIN IMMEDIATE transaction (sql.Tx can't be started with a custom BEGIN
// statement, so the transaction is driven manually on a pinned connection).
type connTx struct{ conn *sql.Conn }

func (t *connTx) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return store.ScanRows(rows, dest)
}

func (t *connTx) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return store.ScanOne(rows, dest)
}

func (t *connTx) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := t.conn.ExecContext(ctx, query, args...)
	return err
}

func (t *connTx) Insert(ctx context.Context, table string, record interface{}) (int64, error) {
	return store.InsertWith(ctx, t.conn, table, record)
}

func (t *connTx) Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error {
	return store.UpdateWith(ctx, t.conn, table, record, where, args...)
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
