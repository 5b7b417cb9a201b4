package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dupescan/dupescan/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dupescan-test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type repoRow struct {
	ID        int64  `db:"id"`
	Owner     string `db:"owner"`
	Name      string `db:"name"`
	CreatedAt string `db:"created_at"`
}

func TestInsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.Insert(ctx, "repos", &repoRow{
		Owner:     "acme",
		Name:      "widgets",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected nonzero id")
	}

	var got repoRow
	if err := db.Get(ctx, &got, "SELECT id, owner, name, created_at FROM repos WHERE id = ?", id); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Owner != "acme" || got.Name != "widgets" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestGetNoRowsReturnsErrNoRows(t *testing.T) {
	db := newTestDB(t)
	var got repoRow
	err := db.Get(context.Background(), &got, "SELECT id, owner, name, created_at FROM repos WHERE id = ?", 999)
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Insert(ctx, "repos", &repoRow{
			Owner:     "rollback",
			Name:      "me",
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("expected error")
	}

	var rows []repoRow
	if err := db.Select(ctx, &rows, "SELECT id, owner, name, created_at FROM repos WHERE owner = 'rollback'"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback to discard the insert, found %d rows", len(rows))
	}
}

// TestWithTxSerialisesConcurrentClaims exercises the property the job queue
// depends on: two goroutines racing BEGIN IMMEDIATE transactions against the
// same row never both observe it as claimable.
func TestWithTxSerialisesConcurrentClaims(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)

	type jobRow struct {
		ID       int64  `db:"id"`
		Type     string `db:"type"`
		Payload  string `db:"payload"`
		Status   string `db:"status"`
		Result   string `db:"result"`
		Error    string `db:"error"`
		RunAfter string `db:"run_after"`
		CreatedAt string `db:"created_at"`
		UpdatedAt string `db:"updated_at"`
	}
	id, err := db.Insert(ctx, "jobs", &jobRow{
		Type: "ingest", Payload: "{}", Status: "queued", Result: "{}",
		RunAfter: now, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("insert job: %v", err)
	}

	var txErrors int64
	var wg sync.WaitGroup
	attempts := 8
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			err := db.WithTx(ctx, func(tx store.Tx) error {
				var j jobRow
				if err := tx.Get(ctx, &j, "SELECT id, type, payload, status, result, error, run_after, created_at, updated_at FROM jobs WHERE id = ? AND status = 'queued'", id); err != nil {
					if err == sql.ErrNoRows {
						return nil
					}
					return err
				}
				return tx.Update(ctx, "jobs", &jobRow{
					ID: j.ID, Type: j.Type, Payload: j.Payload, Status: "running",
					Result: j.Result, RunAfter: j.RunAfter, CreatedAt: j.CreatedAt, UpdatedAt: now,
				}, "id = ?", j.ID)
			})
			if err != nil {
				atomic.AddInt64(&txErrors, 1)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt64(&txErrors); n != 0 {
		t.Fatalf("expected no transaction errors under BEGIN IMMEDIATE serialisation, got %d", n)
	}

	var row jobRow
	if err := db.Get(ctx, &row, "SELECT id, type, payload, status, result, error, run_after, created_at, updated_at FROM jobs WHERE id = ?", id); err != nil {
		t.Fatalf("get final state: %v", err)
	}
	if row.Status != "running" {
		t.Fatalf("expected job to end up running, got %s", row.Status)
	}
}
