// Package queue implements the durable, at-least-once job queue every
// pipeline phase enqueues into and claims from. Claim atomicity comes from
// store.Store.WithTx: on SQLite the BEGIN IMMEDIATE taken by WithTx makes a
// plain SELECT...LIMIT 1 exclusive; on MySQL the claim query itself adds
// FOR UPDATE SKIP LOCKED so concurrent claimers skip rows already locked by
// another transaction instead of blocking on them.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/models"
)

// Queue wraps a store.Store with job lifecycle operations.
type Queue struct {
	store       store.Store
	baseBackoff time.Duration
	maxRetries  int
}

// New returns a Queue backed by s, using cfg for retry/backoff defaults.
func New(s store.Store, cfg config.QueueConfig) *Queue {
	base := time.Duration(cfg.BaseBackoffMs) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{store: s, baseBackoff: base, maxRetries: maxRetries}
}

// Enqueue inserts a new queued job of the given type with payload marshalled
// to JSON, runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, jobType models.JobType, payload interface{}) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshalling job payload: %w", err)
	}
	now := time.Now().UTC()
	job := models.Job{
		Type:       jobType,
		Payload:    string(body),
		Status:     models.JobStatusQueued,
		MaxRetries: q.maxRetries,
		RunAfter:   now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return q.store.Insert(ctx, "jobs", job)
}

// Claim atomically selects and marks one runnable queued job as running,
// returning nil, nil if no job is currently claimable.
func (q *Queue) Claim(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job

	err := q.store.WithTx(ctx, func(tx store.Tx) error {
		var job models.Job
		selectQuery := `SELECT id, type, payload, status, result, error, attempts, max_retries, run_after, created_at, updated_at
			FROM jobs WHERE status = 'queued' AND run_after <= ? ORDER BY created_at LIMIT 1`
		if q.store.Driver() == "mysql" {
			selectQuery += " FOR UPDATE SKIP LOCKED"
		}

		err := tx.Get(ctx, &job, selectQuery, time.Now().UTC())
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("claiming job: %w", err)
		}

		if err := tx.Exec(ctx,
			`UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), job.ID,
		); err != nil {
			return fmt.Errorf("marking job running: %w", err)
		}

		job.Status = models.JobStatusRunning
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a job done, persisting result as its JSON result column.
func (q *Queue) Complete(ctx context.Context, jobID int64, result interface{}) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling job result: %w", err)
	}
	return q.store.Exec(ctx,
		`UPDATE jobs SET status = 'done', result = ?, updated_at = ? WHERE id = ?`,
		string(body), time.Now().UTC(), jobID,
	)
}

// Fail records a job failure. If retryable and attempts remain, the job is
// requeued with exponential backoff; otherwise it is marked permanently
// failed and the scan it belongs to is failed alongside it, since no
// successor job will ever be enqueued for it (spec §4.1, §4.4).
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error, retryable bool) error {
	if retryable && job.Attempts <= job.MaxRetries {
		runAfter := time.Now().UTC().Add(backoffFor(q.baseBackoff, job.Attempts))
		return q.store.Exec(ctx,
			`UPDATE jobs SET status = 'queued', error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			cause.Error(), runAfter, time.Now().UTC(), job.ID,
		)
	}
	if err := q.store.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`,
		cause.Error(), time.Now().UTC(), job.ID,
	); err != nil {
		return err
	}
	return q.failOwningScan(ctx, job, cause)
}

// scanIDPayload matches the "scanId" field every phase job payload carries,
// regardless of job type.
type scanIDPayload struct {
	ScanID int64 `json:"scanId"`
}

// failOwningScan marks the scan a permanently-failed job belongs to as
// failed, so it doesn't sit stuck in an in-progress status forever once its
// job has exhausted retries.
func (q *Queue) failOwningScan(ctx context.Context, job *models.Job, cause error) error {
	var payload scanIDPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil || payload.ScanID == 0 {
		return nil
	}
	return q.store.Exec(ctx,
		`UPDATE scans SET status = 'failed', error = ? WHERE id = ? AND status NOT IN ('done', 'failed')`,
		fmt.Sprintf("job %d permanently failed: %s", job.ID, cause.Error()), payload.ScanID,
	)
}

// Release returns a claimed job to queued without counting it as a retry
// attempt, for graceful worker shutdown mid-claim.
func (q *Queue) Release(ctx context.Context, jobID int64) error {
	return q.store.Exec(ctx,
		`UPDATE jobs SET status = 'queued', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), jobID,
	)
}

// backoffFor computes exponential backoff with jitter: base * 2^(attempts-1)
// plus up to 20% jitter, matching the doubling-with-cap shape of
// internal/ai/openai.go's openAIRetryDelay.
func backoffFor(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base << (attempts - 1)
	const backoffCap = 5 * time.Minute
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}
