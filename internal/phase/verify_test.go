package phase

import (
	"context"
	"testing"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/models"
)

func TestVerifyBuildsCliqueFromConfirmedPairs(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	scanID := insertScan(t, s, repoID)
	id1 := insertPR(t, s, repoID, 1, "A", "", "[]")
	id2 := insertPR(t, s, repoID, 2, "B", "", "[]")

	p := &Verify{
		Store: s,
		Chat:  &fakeChat{responses: []string{`{"isDuplicate":true,"confidence":0.9,"relationship":"exact duplicate"}`}},
		Cfg:   config.ScanConfig{Concurrency: 2},
	}

	enqueue, err := p.Process(context.Background(), &models.Job{
		Type: models.JobTypeVerify,
		Payload: marshalPayload(t, VerifyPayload{
			RepoID: repoID, ScanID: scanID, Owner: "acme", Repo: "widgets",
			CandidateGroups: []CandidateGroup{{PRNumbers: []int{1, 2}, PRIDs: []int64{id1, id2}}},
		}),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if enqueue == nil || enqueue.Type != models.JobTypeRank {
		t.Fatalf("expected a rank enqueue, got %+v", enqueue)
	}
	rankPayload := enqueue.Payload.(RankPayload)
	if len(rankPayload.VerifiedGroups) != 1 || len(rankPayload.VerifiedGroups[0].PRIDs) != 2 {
		t.Fatalf("expected one verified group of 2 PRs, got %+v", rankPayload.VerifiedGroups)
	}
}

func TestVerifyDropsPairsJudgedNotDuplicate(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	scanID := insertScan(t, s, repoID)
	id1 := insertPR(t, s, repoID, 1, "A", "", "[]")
	id2 := insertPR(t, s, repoID, 2, "B", "", "[]")

	p := &Verify{
		Store: s,
		Chat:  &fakeChat{responses: []string{`{"isDuplicate":false,"confidence":0.1,"relationship":"unrelated"}`}},
		Cfg:   config.ScanConfig{Concurrency: 2},
	}

	enqueue, err := p.Process(context.Background(), &models.Job{
		Type: models.JobTypeVerify,
		Payload: marshalPayload(t, VerifyPayload{
			RepoID: repoID, ScanID: scanID, Owner: "acme", Repo: "widgets",
			CandidateGroups: []CandidateGroup{{PRNumbers: []int{1, 2}, PRIDs: []int64{id1, id2}}},
		}),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	rankPayload := enqueue.Payload.(RankPayload)
	if len(rankPayload.VerifiedGroups) != 0 {
		t.Fatalf("expected no verified groups when the pair is judged not duplicate, got %+v", rankPayload.VerifiedGroups)
	}
}

func TestVerifyNoCandidateGroupsSkipsStraightToRank(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	scanID := insertScan(t, s, repoID)

	p := &Verify{Store: s, Chat: &fakeChat{responses: []string{"unused"}}}
	enqueue, err := p.Process(context.Background(), &models.Job{
		Type:    models.JobTypeVerify,
		Payload: marshalPayload(t, VerifyPayload{RepoID: repoID, ScanID: scanID, Owner: "acme", Repo: "widgets"}),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if enqueue == nil || enqueue.Type != models.JobTypeRank {
		t.Fatalf("expected a rank enqueue even with no candidate groups, got %+v", enqueue)
	}

	scan := loadScan(t, s, scanID)
	if scan.Status != models.ScanStatusVerifying {
		t.Fatalf("expected scan status to have advanced to verifying, got %q", scan.Status)
	}
}
