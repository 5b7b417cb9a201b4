package models

import "time"

// Repo is a tracked source-control repository. Unique on (owner, name).
// Deleting a Repo cascades to every PR, Scan, and DupeGroup it owns.
type Repo struct {
	ID         int64      `json:"id"           db:"id"`
	Owner      string     `json:"owner"        db:"owner"`
	Name       string     `json:"name"         db:"name"`
	LastScanAt *time.Time `json:"last_scan_at" db:"last_scan_at"`
	CreatedAt  time.Time  `json:"created_at"   db:"created_at"`
}

// PRState is the lifecycle state of a tracked pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// PullRequest is a proposed change set ingested from the source host.
// Unique on (repoId, number). Never hard-deleted except via Repo cascade.
type PullRequest struct {
	ID         int64     `json:"id"          db:"id"`
	RepoID     int64     `json:"repo_id"     db:"repo_id"`
	Number     int       `json:"number"      db:"number"`
	Title      string    `json:"title"       db:"title"`
	Body       string    `json:"body"        db:"body"`
	Author     string    `json:"author"      db:"author"`
	DiffHash   string    `json:"diff_hash"   db:"diff_hash"`
	FilePaths  string    `json:"file_paths"  db:"file_paths"` // JSON-encoded ordered list
	State      PRState   `json:"state"       db:"state"`
	GithubEtag string    `json:"github_etag" db:"github_etag"`
	UpdatedAt  time.Time `json:"updated_at"  db:"updated_at"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}
