package control

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/internal/store/sqlite"
	"github.com/dupescan/dupescan/models"
)

func newTestControl(t *testing.T) (*Control, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "control-test.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &Control{Store: db}, db
}

func insertRepo(t *testing.T, s store.Store, owner, name string) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), "repos", models.Repo{Owner: owner, Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("insert repo: %v", err)
	}
	return id
}

func TestCreateScanEnqueuesScanJob(t *testing.T) {
	ctl, s := newTestControl(t)
	repoID := insertRepo(t, s, "acme", "widgets")

	handle, err := ctl.CreateScan(context.Background(), repoID)
	if err != nil {
		t.Fatalf("create scan: %v", err)
	}
	if handle.ScanID == 0 || handle.JobID == 0 {
		t.Fatalf("expected nonzero scan/job ids, got %+v", handle)
	}

	var job models.Job
	if err := s.Get(context.Background(), &job,
		`SELECT id, type, payload, status, result, error, attempts, max_retries, run_after, created_at, updated_at FROM jobs WHERE id = ?`,
		handle.JobID,
	); err != nil {
		t.Fatalf("loading enqueued job: %v", err)
	}
	if job.Type != models.JobTypeScan || job.Status != models.JobStatusQueued {
		t.Fatalf("unexpected enqueued job: %+v", job)
	}
}

func TestCreateScanRejectsSecondActiveScanForSameRepo(t *testing.T) {
	ctl, s := newTestControl(t)
	repoID := insertRepo(t, s, "acme", "widgets")

	if _, err := ctl.CreateScan(context.Background(), repoID); err != nil {
		t.Fatalf("first create scan: %v", err)
	}
	if _, err := ctl.CreateScan(context.Background(), repoID); !errors.Is(err, ErrActiveScanExists) {
		t.Fatalf("expected ErrActiveScanExists, got %v", err)
	}
}

func TestCreateScanAllowsNewScanAfterPriorOneTerminates(t *testing.T) {
	ctl, s := newTestControl(t)
	repoID := insertRepo(t, s, "acme", "widgets")

	first, err := ctl.CreateScan(context.Background(), repoID)
	if err != nil {
		t.Fatalf("first create scan: %v", err)
	}
	if err := s.Exec(context.Background(), `UPDATE scans SET status = 'done' WHERE id = ?`, first.ScanID); err != nil {
		t.Fatalf("marking scan done: %v", err)
	}

	if _, err := ctl.CreateScan(context.Background(), repoID); err != nil {
		t.Fatalf("expected a new scan to be allowed once the prior one is terminal, got %v", err)
	}
}

func TestGetScanReturnsCurrentRow(t *testing.T) {
	ctl, s := newTestControl(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	handle, err := ctl.CreateScan(context.Background(), repoID)
	if err != nil {
		t.Fatalf("create scan: %v", err)
	}

	scan, err := ctl.GetScan(context.Background(), handle.ScanID)
	if err != nil {
		t.Fatalf("get scan: %v", err)
	}
	if scan.ID != handle.ScanID || scan.RepoID != repoID || scan.Status != models.ScanStatusQueued {
		t.Fatalf("unexpected scan: %+v", scan)
	}
}

func TestListDupeGroupsJoinsMembersWithPRMetadata(t *testing.T) {
	ctl, s := newTestControl(t)
	ctx := context.Background()
	repoID := insertRepo(t, s, "acme", "widgets")
	scanID, err := s.Insert(ctx, "scans", models.Scan{RepoID: repoID, Status: models.ScanStatusDone, PhaseCursor: "{}", StartedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("insert scan: %v", err)
	}
	pr1, err := s.Insert(ctx, "pull_requests", models.PullRequest{RepoID: repoID, Number: 1, Title: "Keep me", State: models.PRStateOpen, UpdatedAt: time.Now().UTC(), CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("insert pr1: %v", err)
	}
	pr2, err := s.Insert(ctx, "pull_requests", models.PullRequest{RepoID: repoID, Number: 2, Title: "Close me", State: models.PRStateOpen, UpdatedAt: time.Now().UTC(), CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("insert pr2: %v", err)
	}
	groupID, err := s.Insert(ctx, "dupe_groups", models.DupeGroup{ScanID: scanID, RepoID: repoID, Label: "exact duplicate", PRCount: 2})
	if err != nil {
		t.Fatalf("insert group: %v", err)
	}
	if _, err := s.Insert(ctx, "dupe_group_members", models.DupeGroupMember{GroupID: groupID, PRID: pr1, Rank: 1, Score: 0.9}); err != nil {
		t.Fatalf("insert member 1: %v", err)
	}
	if _, err := s.Insert(ctx, "dupe_group_members", models.DupeGroupMember{GroupID: groupID, PRID: pr2, Rank: 2, Score: 0.4}); err != nil {
		t.Fatalf("insert member 2: %v", err)
	}

	groups, err := ctl.ListDupeGroups(ctx, scanID)
	if err != nil {
		t.Fatalf("list dupe groups: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Members) != 2 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
	if groups[0].Members[0].PRTitle != "Keep me" || groups[0].Members[0].Rank != 1 {
		t.Fatalf("expected rank-1 member joined to its PR title, got %+v", groups[0].Members[0])
	}
	if groups[0].Members[1].PRTitle != "Close me" || groups[0].Members[1].Rank != 2 {
		t.Fatalf("expected rank-2 member joined to its PR title, got %+v", groups[0].Members[1])
	}
}
