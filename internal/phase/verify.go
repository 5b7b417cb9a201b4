package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dupescan/dupescan/internal/chatprovider"
	"github.com/dupescan/dupescan/internal/clique"
	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/models"
)

// VerifiedGroup is a clique of PRs the pairwise LLM pass confirmed as
// duplicates of one another (spec §4.6).
type VerifiedGroup struct {
	PRIDs        []int64 `json:"prIds"`
	Label        string  `json:"label"`
	Confidence   float64 `json:"confidence"`
	Relationship string  `json:"relationship"`
}

// RankPayload is rank's input (spec §4.7).
type RankPayload struct {
	RepoID         int64           `json:"repoId"`
	ScanID         int64           `json:"scanId"`
	Owner          string          `json:"owner"`
	Repo           string          `json:"repo"`
	VerifiedGroups []VerifiedGroup `json:"verifiedGroups"`
}

type pairwiseVerdict struct {
	IsDuplicate  bool    `json:"isDuplicate"`
	Confidence   float64 `json:"confidence"`
	Relationship string  `json:"relationship"`
}

// Verify is the "verify" Processor (spec §4.6): runs pairwise LLM
// verification over every unordered pair within each candidate group, then
// collapses confirmed edges into cliques via internal/clique. Grounded on
// the teacher's bounded-concurrency fan-out in
// internal/agent/fixer_findings.go (x/sync-style semaphore gating), applied
// here to per-pair chat calls instead of per-finding triage calls.
type Verify struct {
	Store store.Store
	Chat  chatprovider.Provider
	Cfg   config.ScanConfig
}

func (p *Verify) Type() models.JobType { return models.JobTypeVerify }

func (p *Verify) Process(ctx context.Context, job *models.Job) (*Enqueue, error) {
	var payload VerifyPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	if err := setScanStatus(ctx, p.Store, payload.ScanID, models.ScanStatusVerifying); err != nil {
		return nil, err
	}

	if len(payload.CandidateGroups) == 0 {
		// No candidate groups is a valid outcome (no duplicates found), not
		// an invariant violation — rank still runs to close out the scan.
		return &Enqueue{
			Type: models.JobTypeRank,
			Payload: RankPayload{
				RepoID: payload.RepoID,
				ScanID: payload.ScanID,
				Owner:  payload.Owner,
				Repo:   payload.Repo,
			},
		}, nil
	}

	prByID, err := p.loadPRsByID(ctx, payload.RepoID, payload.CandidateGroups)
	if err != nil {
		return nil, err
	}

	concurrency := p.Cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var verifiedGroups []VerifiedGroup
	var mu sync.Mutex

	for _, group := range payload.CandidateGroups {
		edges, err := p.verifyGroup(ctx, sem, group, prByID)
		if err != nil {
			return nil, err
		}
		for _, g := range clique.Build(edges) {
			mu.Lock()
			verifiedGroups = append(verifiedGroups, VerifiedGroup{
				PRIDs:        indicesToIDs(g.Members, group.PRIDs),
				Label:        g.Relationship,
				Confidence:   g.AvgConfidence,
				Relationship: g.Relationship,
			})
			mu.Unlock()
		}
	}

	return &Enqueue{
		Type: models.JobTypeRank,
		Payload: RankPayload{
			RepoID:         payload.RepoID,
			ScanID:         payload.ScanID,
			Owner:          payload.Owner,
			Repo:           payload.Repo,
			VerifiedGroups: verifiedGroups,
		},
	}, nil
}

// verifyGroup runs every unordered pair (i<j) within group's members
// through the chat provider concurrently, bounded by sem.
func (p *Verify) verifyGroup(ctx context.Context, sem *semaphore.Weighted, group CandidateGroup, prByID map[int64]models.PullRequest) ([]clique.Edge, error) {
	type pairResult struct {
		a, b    int
		verdict pairwiseVerdict
	}

	n := len(group.PRIDs)
	results := make([]*pairResult, 0, n*(n-1)/2)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				verdict, err := p.verifyPair(gctx, prByID[group.PRIDs[i]], prByID[group.PRIDs[j]])
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, &pairResult{a: i, b: j, verdict: *verdict})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	edges := make([]clique.Edge, 0, len(results))
	for _, r := range results {
		if !r.verdict.IsDuplicate {
			continue
		}
		edges = append(edges, clique.Edge{
			A:            r.a,
			B:            r.b,
			Confidence:   r.verdict.Confidence,
			Relationship: r.verdict.Relationship,
		})
	}
	return edges, nil
}

func (p *Verify) verifyPair(ctx context.Context, a, b models.PullRequest) (*pairwiseVerdict, error) {
	prompt := fmt.Sprintf(`Two pull requests from the same repository may be duplicates: they propose the
same change or address the same underlying intent. Compare them and respond
with ONLY a JSON object, no markdown fences:
{"isDuplicate": <bool>, "confidence": <0.0-1.0>, "relationship": "<short label, e.g. 'exact duplicate' or 'overlapping fix'>"}

PR A #%d: %s
Files: %s
Body: %s

PR B #%d: %s
Files: %s
Body: %s`,
		a.Number, a.Title, strings.Join(decodeFilePaths(a.FilePaths), ", "), truncateRunes(a.Body, 1000),
		b.Number, b.Title, strings.Join(decodeFilePaths(b.FilePaths), ", "), truncateRunes(b.Body, 1000),
	)

	result, err := p.Chat.Chat(ctx, []chatprovider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("verifying PR #%d vs #%d: %w", a.Number, b.Number, err)
	}

	var verdict pairwiseVerdict
	if err := json.Unmarshal([]byte(result.Response), &verdict); err != nil {
		// Data-kind failure per spec §7: retried once by re-asking, then
		// fatal to the pair (treated as not-duplicate rather than aborting
		// the whole group).
		retry, retryErr := p.Chat.Chat(ctx, []chatprovider.Message{{Role: "user", Content: prompt}})
		if retryErr != nil || json.Unmarshal([]byte(retry.Response), &verdict) != nil {
			return &pairwiseVerdict{IsDuplicate: false}, nil
		}
	}
	return &verdict, nil
}

func (p *Verify) loadPRsByID(ctx context.Context, repoID int64, groups []CandidateGroup) (map[int64]models.PullRequest, error) {
	ids := map[int64]bool{}
	for _, g := range groups {
		for _, id := range g.PRIDs {
			ids[id] = true
		}
	}
	var rows []models.PullRequest
	if err := p.Store.Select(ctx, &rows,
		`SELECT id, repo_id, number, title, body, author, diff_hash, file_paths, state, github_etag, updated_at, created_at
		 FROM pull_requests WHERE repo_id = ?`, repoID,
	); err != nil {
		return nil, fmt.Errorf("loading candidate pull requests: %w", err)
	}
	byID := make(map[int64]models.PullRequest, len(ids))
	for _, pr := range rows {
		if ids[pr.ID] {
			byID[pr.ID] = pr
		}
	}
	return byID, nil
}

// indicesToIDs maps clique member indices (positions within group.PRIDs)
// back to their PR IDs.
func indicesToIDs(members []int, prIDs []int64) []int64 {
	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = prIDs[m]
	}
	return ids
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
