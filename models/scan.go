package models

import "time"

// ScanStatus enumerates the phase a Scan is currently in.
type ScanStatus string

const (
	ScanStatusQueued     ScanStatus = "queued"
	ScanStatusIngesting  ScanStatus = "ingesting"
	ScanStatusEmbedding  ScanStatus = "embedding"
	ScanStatusClustering ScanStatus = "clustering"
	ScanStatusVerifying  ScanStatus = "verifying"
	ScanStatusRanking    ScanStatus = "ranking"
	ScanStatusDone       ScanStatus = "done"
	ScanStatusFailed     ScanStatus = "failed"
	ScanStatusPaused     ScanStatus = "paused"
)

// Scan tracks one run of the duplicate-PR pipeline against a Repo.
// Mutated only by the processor of its current phase; terminal at
// done/failed. PhaseCursor is opaque JSON owned exclusively by whichever
// processor matches Status — no other processor may read or write it.
type Scan struct {
	ID            int64      `json:"id"              db:"id"`
	RepoID        int64      `json:"repo_id"         db:"repo_id"`
	Status        ScanStatus `json:"status"          db:"status"`
	PhaseCursor   string     `json:"phase_cursor"    db:"phase_cursor"` // JSON text
	PRCount       int        `json:"pr_count"        db:"pr_count"`
	DupeGroupCount int       `json:"dupe_group_count" db:"dupe_group_count"`
	StartedAt     time.Time  `json:"started_at"      db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"    db:"completed_at"`
	Error         string     `json:"error"           db:"error"`
}

// DupeGroup is an immutable cluster of PRs judged duplicates of each other.
// Created by the rank phase; prCount members carry dense ranks 1..prCount.
type DupeGroup struct {
	ID      int64  `json:"id"       db:"id"`
	ScanID  int64  `json:"scan_id"  db:"scan_id"`
	RepoID  int64  `json:"repo_id"  db:"repo_id"`
	Label   string `json:"label"    db:"label"`
	PRCount int    `json:"pr_count" db:"pr_count"`
}

// DupeGroupMember is one PR's ranked position within a DupeGroup.
// Unique on (groupId, prId). Rank 1 is the PR to keep.
type DupeGroupMember struct {
	ID        int64   `json:"id"        db:"id"`
	GroupID   int64   `json:"group_id"  db:"group_id"`
	PRID      int64   `json:"pr_id"     db:"pr_id"`
	Rank      int     `json:"rank"      db:"rank"`
	Score     float64 `json:"score"     db:"score"`
	Rationale string  `json:"rationale" db:"rationale"`
}
