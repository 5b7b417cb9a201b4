package models

import "time"

// JobStatus is the lifecycle state of a queued unit of work.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
	JobStatusPaused  JobStatus = "paused"
)

// JobType identifies which phase processor consumes a Job.
type JobType string

const (
	JobTypeScan    JobType = "scan"
	JobTypeIngest  JobType = "ingest"
	JobTypeEmbed   JobType = "embed"
	JobTypeCluster JobType = "cluster"
	JobTypeVerify  JobType = "verify"
	JobTypeRank    JobType = "rank"
)

// Job is one durable unit of work on the FIFO queue. Claimed atomically by a
// single worker; at-least-once delivery with exponential-backoff retries.
type Job struct {
	ID         int64     `json:"id"          db:"id"`
	Type       JobType   `json:"type"        db:"type"`
	Payload    string    `json:"payload"     db:"payload"` // JSON text
	Status     JobStatus `json:"status"      db:"status"`
	Result     string    `json:"result"      db:"result"` // JSON text
	Error      string    `json:"error"       db:"error"`
	Attempts   int       `json:"attempts"    db:"attempts"`
	MaxRetries int       `json:"max_retries" db:"max_retries"`
	RunAfter   time.Time `json:"run_after"   db:"run_after"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"  db:"updated_at"`
}
