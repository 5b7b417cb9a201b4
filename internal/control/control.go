// Package control implements the three functions the (external, unbuilt)
// HTTP layer consumes per spec §4.9/§6: CreateScan, GetScan, ListDupeGroups.
// Grounded on the teacher's repo-scoped uniqueness checks in
// internal/gateway/api_jobs.go's delete/list query shaping, adapted here to
// enforce "at most one active scan per repo" (spec §5) inside the same
// transaction as the scan insert.
package control

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dupescan/dupescan/internal/phase"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/models"
)

// ErrActiveScanExists is returned by CreateScan when the repo already has a
// non-terminal scan in flight.
var ErrActiveScanExists = errors.New("repo already has an active scan")

// ScanHandle is CreateScan's result (spec §6 "create scan").
type ScanHandle struct {
	ScanID int64  `json:"scanId"`
	JobID  int64  `json:"jobId"`
	Status string `json:"status"`
}

// GroupWithMembers is a DupeGroup joined to its ranked members and their PR
// metadata, the shape ListDupeGroups returns per spec §6 "list dupe groups".
type GroupWithMembers struct {
	models.DupeGroup
	Members []MemberWithPR `json:"members"`
}

// MemberWithPR is one DupeGroupMember joined to the PullRequest it ranks.
type MemberWithPR struct {
	models.DupeGroupMember
	PRNumber int    `json:"prNumber"`
	PRTitle  string `json:"prTitle"`
}

// Control implements the control-surface contract against a Store.
type Control struct {
	Store store.Store
}

// CreateScan persists a new queued Scan for repoID and enqueues its "scan"
// job, all inside one transaction so the active-scan check and the insert
// are atomic (spec §5 "at most one active scan per repo").
func (c *Control) CreateScan(ctx context.Context, repoID int64) (*ScanHandle, error) {
	var handle ScanHandle

	err := c.Store.WithTx(ctx, func(tx store.Tx) error {
		activeQuery := `SELECT id FROM scans WHERE repo_id = ? AND status NOT IN ('done', 'failed') LIMIT 1`
		if c.Store.Driver() == "mysql" {
			activeQuery += " FOR UPDATE"
		}
		var existing models.Scan
		err := tx.Get(ctx, &existing, activeQuery, repoID)
		if err == nil {
			return ErrActiveScanExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking for active scan: %w", err)
		}

		now := time.Now().UTC()
		scan := models.Scan{
			RepoID:      repoID,
			Status:      models.ScanStatusQueued,
			PhaseCursor: "{}",
			StartedAt:   now,
		}
		scanID, err := tx.Insert(ctx, "scans", scan)
		if err != nil {
			return fmt.Errorf("inserting scan: %w", err)
		}

		body, err := json.Marshal(phase.ScanJobPayload{ScanID: scanID, RepoID: repoID})
		if err != nil {
			return fmt.Errorf("marshalling scan job payload: %w", err)
		}
		jobID, err := tx.Insert(ctx, "jobs", models.Job{
			Type:       models.JobTypeScan,
			Payload:    string(body),
			Status:     models.JobStatusQueued,
			MaxRetries: 3,
			RunAfter:   now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("enqueuing scan job: %w", err)
		}

		handle = ScanHandle{ScanID: scanID, JobID: jobID, Status: string(models.ScanStatusQueued)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &handle, nil
}

// GetScan returns the full Scan row.
func (c *Control) GetScan(ctx context.Context, scanID int64) (*models.Scan, error) {
	var scan models.Scan
	if err := c.Store.Get(ctx, &scan,
		`SELECT id, repo_id, status, phase_cursor, pr_count, dupe_group_count, started_at, completed_at, error FROM scans WHERE id = ?`,
		scanID,
	); err != nil {
		return nil, fmt.Errorf("loading scan %d: %w", scanID, err)
	}
	return &scan, nil
}

// ListDupeGroups returns every DupeGroup for scanID with members joined to
// their PR metadata, ordered by group ID then rank.
func (c *Control) ListDupeGroups(ctx context.Context, scanID int64) ([]GroupWithMembers, error) {
	var groups []models.DupeGroup
	if err := c.Store.Select(ctx, &groups,
		`SELECT id, scan_id, repo_id, label, pr_count FROM dupe_groups WHERE scan_id = ? ORDER BY id ASC`, scanID,
	); err != nil {
		return nil, fmt.Errorf("loading dupe groups for scan %d: %w", scanID, err)
	}

	result := make([]GroupWithMembers, 0, len(groups))
	for _, g := range groups {
		members, err := c.loadMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, GroupWithMembers{DupeGroup: g, Members: members})
	}
	return result, nil
}

// memberRow is a flat scan target for the group-member join: the store's
// reflection-based Select matches columns to `db:` tags on top-level
// fields only, so this cannot be expressed as models.DupeGroupMember plus
// embedded extra columns.
type memberRow struct {
	ID        int64   `db:"id"`
	GroupID   int64   `db:"group_id"`
	PRID      int64   `db:"pr_id"`
	Rank      int     `db:"rank"`
	Score     float64 `db:"score"`
	Rationale string  `db:"rationale"`
	PRNumber  int     `db:"number"`
	PRTitle   string  `db:"title"`
}

func (c *Control) loadMembers(ctx context.Context, groupID int64) ([]MemberWithPR, error) {
	var rows []memberRow
	if err := c.Store.Select(ctx, &rows, `
		SELECT m.id, m.group_id, m.pr_id, m.rank, m.score, m.rationale, p.number, p.title
		FROM dupe_group_members m
		JOIN pull_requests p ON p.id = m.pr_id
		WHERE m.group_id = ?
		ORDER BY m.rank ASC`, groupID,
	); err != nil {
		return nil, fmt.Errorf("loading members for group %d: %w", groupID, err)
	}

	members := make([]MemberWithPR, 0, len(rows))
	for _, r := range rows {
		members = append(members, MemberWithPR{
			DupeGroupMember: models.DupeGroupMember{
				ID:        r.ID,
				GroupID:   r.GroupID,
				PRID:      r.PRID,
				Rank:      r.Rank,
				Score:     r.Score,
				Rationale: r.Rationale,
			},
			PRNumber: r.PRNumber,
			PRTitle:  r.PRTitle,
		})
	}
	return members, nil
}
