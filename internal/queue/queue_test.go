package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/store/sqlite"
	"github.com/dupescan/dupescan/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dupescan-test.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, config.QueueConfig{BaseBackoffMs: 10, MaxRetries: 3})
}

func TestEnqueueClaimCompleteRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, models.JobTypeIngest, map[string]any{"repoId": 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatalf("expected a claimable job")
	}
	if job.ID != id || job.Type != models.JobTypeIngest || job.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", job)
	}

	if err := q.Complete(ctx, job.ID, map[string]any{"ok": true}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if again, err := q.Claim(ctx); err != nil || again != nil {
		t.Fatalf("expected no claimable job after completion, got %+v, err=%v", again, err)
	}
}

// Invariant 4: claiming a job in two concurrent workers yields exactly one
// success; the other returns nil.
func TestClaimConcurrentWorkersYieldsExactlyOneSuccess(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, models.JobTypeIngest, map[string]any{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var claims int64
	var wg sync.WaitGroup
	attempts := 8
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			job, err := q.Claim(ctx)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if job != nil {
				atomic.AddInt64(&claims, 1)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&claims); n != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", n)
	}
}

// Invariant 5: enqueue followed by a crash before complete results in the
// job being re-claimable after runAfter, with attempts incremented.
func TestFailRetryableRequeuesAfterBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, models.JobTypeIngest, map[string]any{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected attempts=1 after first claim, got %d", job.Attempts)
	}

	// Simulate a crash: fail retryable without completing.
	if err := q.Fail(ctx, job, fmt.Errorf("simulated crash"), true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Not yet claimable: runAfter is in the future.
	if again, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	} else if again != nil {
		t.Fatalf("expected job to not be claimable before its backoff elapses")
	}

	time.Sleep(50 * time.Millisecond)

	retried, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim after backoff: %v", err)
	}
	if retried == nil {
		t.Fatalf("expected job to be re-claimable after backoff elapsed")
	}
	if retried.ID != job.ID || retried.Attempts != 2 {
		t.Fatalf("expected same job with attempts=2, got %+v", retried)
	}
}

func TestFailExhaustsRetriesToFailedStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	q.baseBackoff = time.Millisecond
	q.maxRetries = 1

	if _, err := q.Enqueue(ctx, models.JobTypeIngest, map[string]any{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	job.MaxRetries = 1

	if err := q.Fail(ctx, job, fmt.Errorf("still failing"), true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if again, err := q.Claim(ctx); err != nil || again == nil {
		t.Fatalf("expected one retry claimable, got job=%v err=%v", again, err)
	} else {
		// Second failure exhausts retries (attempts now exceeds maxRetries).
		if err := q.Fail(ctx, again, fmt.Errorf("exhausted"), true); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	if permanentlyFailed, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	} else if permanentlyFailed != nil {
		t.Fatalf("expected job to stay failed, not requeued: %+v", permanentlyFailed)
	}
}

func TestFailExhaustingRetriesAlsoFailsOwningScan(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	q.baseBackoff = time.Millisecond
	q.maxRetries = 1

	repoID, err := q.store.Insert(ctx, "repos", models.Repo{Owner: "acme", Name: "widgets", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("insert repo: %v", err)
	}
	scanID, err := q.store.Insert(ctx, "scans", models.Scan{RepoID: repoID, Status: models.ScanStatusIngesting, PhaseCursor: "{}", StartedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("insert scan: %v", err)
	}

	if _, err := q.Enqueue(ctx, models.JobTypeIngest, map[string]any{"scanId": scanID}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	job.MaxRetries = 1

	if err := q.Fail(ctx, job, fmt.Errorf("rate limited"), true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var scan models.Scan
	if err := q.store.Get(ctx, &scan, `SELECT id, repo_id, status, phase_cursor, pr_count, dupe_group_count, started_at, completed_at, error FROM scans WHERE id = ?`, scanID); err != nil {
		t.Fatalf("loading scan: %v", err)
	}
	if scan.Status != models.ScanStatusIngesting {
		t.Fatalf("expected scan to remain %q after a retryable failure with retries left, got %q", models.ScanStatusIngesting, scan.Status)
	}

	time.Sleep(10 * time.Millisecond)
	again, err := q.Claim(ctx)
	if err != nil || again == nil {
		t.Fatalf("claim after backoff: job=%v err=%v", again, err)
	}
	// Final failure: attempts now exceeds maxRetries, so this is permanent.
	if err := q.Fail(ctx, again, fmt.Errorf("rate limited again"), true); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := q.store.Get(ctx, &scan, `SELECT id, repo_id, status, phase_cursor, pr_count, dupe_group_count, started_at, completed_at, error FROM scans WHERE id = ?`, scanID); err != nil {
		t.Fatalf("loading scan: %v", err)
	}
	if scan.Status != models.ScanStatusFailed {
		t.Fatalf("expected the owning scan to be failed once its job permanently fails, got %q", scan.Status)
	}
	if scan.Error == "" {
		t.Fatalf("expected a failure reason to be recorded on the scan")
	}
}

func TestReleaseReturnsJobToQueuedWithoutBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, models.JobTypeIngest, map[string]any{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	if err := q.Release(ctx, job.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if again == nil {
		t.Fatalf("expected released job to be immediately claimable")
	}
}
