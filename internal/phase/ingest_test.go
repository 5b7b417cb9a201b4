package phase

import (
	"context"
	"testing"

	"github.com/dupescan/dupescan/internal/hostclient"
)

// Ingest.Process resolves its source-host client via hostclient.New, which
// requires a live provider; these tests exercise the upsert/diffing logic
// directly against an injected fakeHostClient instead of going through
// Process end-to-end.

func TestUpsertPRInsertsNewOpenPR(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")

	client := &fakeHostClient{
		files: map[int][]string{7: {"a.go", "b.go"}},
		diffs: map[int]string{7: "--- a\n+++ b\n"},
	}
	p := &Ingest{Store: s}
	payload := IngestPayload{RepoID: repoID, Owner: "acme", Repo: "widgets"}
	ref := hostclient.PullRequestRef{Number: 7, Title: "Fix bug", Body: "body", Author: "alice", UpdatedAt: "2026-01-01T00:00:00Z"}

	if err := p.upsertPR(context.Background(), payload, client, ref, nil); err != nil {
		t.Fatalf("upsertPR: %v", err)
	}

	existing, err := p.loadExisting(context.Background(), repoID)
	if err != nil {
		t.Fatalf("loadExisting: %v", err)
	}
	pr, ok := existing[7]
	if !ok {
		t.Fatalf("expected PR #7 to be inserted")
	}
	if pr.Title != "Fix bug" || pr.DiffHash == "" || pr.FilePaths == "" {
		t.Fatalf("unexpected stored PR: %+v", pr)
	}
}

func TestUpsertPRSkipsDiffFetchWhenUnchanged(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	insertPR(t, s, repoID, 7, "Fix bug", "old-hash", `["a.go"]`)

	client := &fakeHostClient{
		// No files/diffs registered: a fetch here would return empty and
		// overwrite the prior diffHash, which must not happen.
	}
	p := &Ingest{Store: s}
	payload := IngestPayload{RepoID: repoID, Owner: "acme", Repo: "widgets"}
	prior, err := p.loadExisting(context.Background(), repoID)
	if err != nil {
		t.Fatalf("loadExisting: %v", err)
	}
	ref := hostclient.PullRequestRef{Number: 7, Title: "Fix bug", UpdatedAt: prior[7].UpdatedAt.Format("2006-01-02T15:04:05Z")}

	if err := p.upsertPR(context.Background(), payload, client, ref, prior[7]); err != nil {
		t.Fatalf("upsertPR: %v", err)
	}

	existing, err := p.loadExisting(context.Background(), repoID)
	if err != nil {
		t.Fatalf("loadExisting: %v", err)
	}
	if existing[7].DiffHash != "old-hash" {
		t.Fatalf("expected diffHash to be preserved when PR is unchanged, got %q", existing[7].DiffHash)
	}
}

func TestLoadExistingIndexesByNumber(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	insertPR(t, s, repoID, 1, "One", "", "[]")
	insertPR(t, s, repoID, 2, "Two", "", "[]")

	p := &Ingest{Store: s}
	existing, err := p.loadExisting(context.Background(), repoID)
	if err != nil {
		t.Fatalf("loadExisting: %v", err)
	}
	if len(existing) != 2 || existing[1].Title != "One" || existing[2].Title != "Two" {
		t.Fatalf("unexpected index: %+v", existing)
	}
}
