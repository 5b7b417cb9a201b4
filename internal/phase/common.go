package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/models"
)

// decodePayload unmarshals a job's JSON payload into dest.
func decodePayload(job *models.Job, dest interface{}) error {
	if err := json.Unmarshal([]byte(job.Payload), dest); err != nil {
		return fmt.Errorf("decoding %s payload: %w", job.Type, err)
	}
	return nil
}

// getScan fetches the Scan row a job's phase is advancing.
func getScan(ctx context.Context, s store.Store, scanID int64) (*models.Scan, error) {
	var scan models.Scan
	if err := s.Get(ctx, &scan, `SELECT id, repo_id, status, phase_cursor, pr_count, dupe_group_count, started_at, completed_at, error FROM scans WHERE id = ?`, scanID); err != nil {
		return nil, fmt.Errorf("loading scan %d: %w", scanID, err)
	}
	return &scan, nil
}

// setScanStatus advances scan.status as the first durable write of a phase
// (spec §4.2 step 2). It does not touch phaseCursor.
func setScanStatus(ctx context.Context, s store.Store, scanID int64, status models.ScanStatus) error {
	return s.Exec(ctx, `UPDATE scans SET status = ? WHERE id = ?`, status, scanID)
}

// setPhaseCursor persists a phase's incremental progress marker so a crash
// loses at most one chunk of work (spec §4.2 step 3).
func setPhaseCursor(ctx context.Context, s store.Store, scanID int64, cursor interface{}) error {
	body, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshalling phase cursor: %w", err)
	}
	return s.Exec(ctx, `UPDATE scans SET phase_cursor = ? WHERE id = ?`, string(body), scanID)
}

// failScan marks scan terminally failed with cause recorded (spec §4.2 step
// 6, §7 "Invariant violation"/"Configuration" error kinds). Processors call
// this on fatal errors and then return (nil, nil): the job itself completes
// normally, no retry is attempted, and the scan carries the failure.
func failScan(ctx context.Context, s store.Store, scanID int64, cause error) error {
	return s.Exec(ctx, `UPDATE scans SET status = 'failed', error = ? WHERE id = ?`, cause.Error(), scanID)
}

// completeScan marks scan done with its final dupe-group count (rank's
// terminal write, spec §4.7).
func completeScan(ctx context.Context, s store.Store, scanID int64, dupeGroupCount int) error {
	now := time.Now().UTC()
	return s.Exec(ctx,
		`UPDATE scans SET status = 'done', dupe_group_count = ?, completed_at = ? WHERE id = ?`,
		dupeGroupCount, now, scanID,
	)
}

// encodeFilePaths JSON-encodes an ordered file-path list for storage in
// PullRequest.FilePaths.
func encodeFilePaths(paths []string) string {
	if paths == nil {
		paths = []string{}
	}
	body, _ := json.Marshal(paths)
	return string(body)
}

// decodeFilePaths decodes a PullRequest.FilePaths column back into a slice.
func decodeFilePaths(encoded string) []string {
	var paths []string
	if encoded == "" {
		return paths
	}
	_ = json.Unmarshal([]byte(encoded), &paths)
	return paths
}

// getRepo fetches the Repo a scan targets.
func getRepo(ctx context.Context, s store.Store, repoID int64) (*models.Repo, error) {
	var repo models.Repo
	if err := s.Get(ctx, &repo, `SELECT id, owner, name, last_scan_at, created_at FROM repos WHERE id = ?`, repoID); err != nil {
		return nil, fmt.Errorf("loading repo %d: %w", repoID, err)
	}
	return &repo, nil
}
