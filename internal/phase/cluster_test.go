package phase

import (
	"context"
	"testing"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/vectorstore"
	"github.com/dupescan/dupescan/internal/vectorstore/memory"
	"github.com/dupescan/dupescan/models"
)

func TestClusterUnionsExactDiffHashMatches(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	scanID := insertScan(t, s, repoID)
	insertPR(t, s, repoID, 1, "A", "same-hash", "[]")
	insertPR(t, s, repoID, 2, "B", "same-hash", "[]")
	insertPR(t, s, repoID, 3, "C", "other-hash", "[]")

	vs := memory.New()
	p := &Cluster{
		Store:       s,
		VectorStore: vs,
		Cfg:         config.ScanConfig{CodeSimilarityThreshold: 0.85, IntentSimilarityThreshold: 0.80},
		VectorCfg:   config.VectorStoreConfig{CodeCollection: "code", IntentCollection: "intent"},
	}

	enqueue, err := p.Process(context.Background(), &models.Job{
		Type:    models.JobTypeCluster,
		Payload: marshalPayload(t, ClusterPayload{RepoID: repoID, ScanID: scanID, Owner: "acme", Repo: "widgets"}),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if enqueue == nil || enqueue.Type != models.JobTypeVerify {
		t.Fatalf("expected a verify enqueue, got %+v", enqueue)
	}
	verifyPayload := enqueue.Payload.(VerifyPayload)
	if len(verifyPayload.CandidateGroups) != 1 {
		t.Fatalf("expected exactly one candidate group, got %+v", verifyPayload.CandidateGroups)
	}
	if got := verifyPayload.CandidateGroups[0].PRNumbers; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected group {1,2}, got %+v", got)
	}
}

func TestClusterUnionsSimilarVectorsAboveThreshold(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	scanID := insertScan(t, s, repoID)
	insertPR(t, s, repoID, 1, "A", "", "[]")
	insertPR(t, s, repoID, 2, "B", "", "[]")

	vs := memory.New()
	ctx := context.Background()
	vs.EnsureCollection(ctx, "code", 2)
	vs.EnsureCollection(ctx, "intent", 2)
	vs.Upsert(ctx, "code", []vectorstore.Point{
		{ID: pointID(repoID, 1, "code"), Vector: []float32{1, 0}, Payload: map[string]any{"repoId": repoID, "prNumber": 1}},
		{ID: pointID(repoID, 2, "code"), Vector: []float32{1, 0}, Payload: map[string]any{"repoId": repoID, "prNumber": 2}},
	})

	p := &Cluster{
		Store:       s,
		VectorStore: vs,
		Cfg:         config.ScanConfig{CodeSimilarityThreshold: 0.9, IntentSimilarityThreshold: 0.9},
		VectorCfg:   config.VectorStoreConfig{CodeCollection: "code", IntentCollection: "intent"},
	}

	enqueue, err := p.Process(ctx, &models.Job{
		Type:    models.JobTypeCluster,
		Payload: marshalPayload(t, ClusterPayload{RepoID: repoID, ScanID: scanID, Owner: "acme", Repo: "widgets"}),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	verifyPayload := enqueue.Payload.(VerifyPayload)
	if len(verifyPayload.CandidateGroups) != 1 || len(verifyPayload.CandidateGroups[0].PRNumbers) != 2 {
		t.Fatalf("expected identical code vectors to union into one group, got %+v", verifyPayload.CandidateGroups)
	}
}

func TestClusterOmitsSingletonsFromCandidateGroups(t *testing.T) {
	s := newTestStore(t)
	repoID := insertRepo(t, s, "acme", "widgets")
	scanID := insertScan(t, s, repoID)
	insertPR(t, s, repoID, 1, "A", "", "[]")
	insertPR(t, s, repoID, 2, "B", "", "[]")

	p := &Cluster{
		Store:       s,
		VectorStore: memory.New(),
		Cfg:         config.ScanConfig{},
		VectorCfg:   config.VectorStoreConfig{CodeCollection: "code", IntentCollection: "intent"},
	}

	enqueue, err := p.Process(context.Background(), &models.Job{
		Type:    models.JobTypeCluster,
		Payload: marshalPayload(t, ClusterPayload{RepoID: repoID, ScanID: scanID, Owner: "acme", Repo: "widgets"}),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	verifyPayload := enqueue.Payload.(VerifyPayload)
	if len(verifyPayload.CandidateGroups) != 0 {
		t.Fatalf("expected no candidate groups with no duplicate signal, got %+v", verifyPayload.CandidateGroups)
	}
}
