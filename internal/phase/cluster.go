package phase

import (
	"context"
	"fmt"
	"sort"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/internal/unionfind"
	"github.com/dupescan/dupescan/internal/vectorstore"
	"github.com/dupescan/dupescan/models"
)

// CandidateGroup is one connected component of possibly-duplicate PRs
// produced by cluster, before any LLM has looked at it (spec §4.5).
type CandidateGroup struct {
	PRNumbers []int   `json:"prNumbers"`
	PRIDs     []int64 `json:"prIds"`
}

// clusterCursor is cluster's phaseCursor shape.
type clusterCursor struct {
	CandidateGroups []CandidateGroup `json:"candidateGroups"`
}

// VerifyPayload is verify's input (spec §4.6).
type VerifyPayload struct {
	RepoID          int64            `json:"repoId"`
	ScanID          int64            `json:"scanId"`
	Owner           string           `json:"owner"`
	Repo            string           `json:"repo"`
	CandidateGroups []CandidateGroup `json:"candidateGroups"`
}

// Cluster is the "cluster" Processor (spec §4.5): groups PRs into candidate
// duplicate components via union-find, first over exact diffHash matches,
// then over vector-store nearest-neighbour search on both the code and
// intent collections. No LLM involvement.
type Cluster struct {
	Store       store.Store
	VectorStore vectorstore.Store
	Cfg         config.ScanConfig
	VectorCfg   config.VectorStoreConfig
}

func (p *Cluster) Type() models.JobType { return models.JobTypeCluster }

func (p *Cluster) Process(ctx context.Context, job *models.Job) (*Enqueue, error) {
	var payload ClusterPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	if err := setScanStatus(ctx, p.Store, payload.ScanID, models.ScanStatusClustering); err != nil {
		return nil, err
	}

	var prs []models.PullRequest
	if err := p.Store.Select(ctx, &prs,
		`SELECT id, repo_id, number, title, body, author, diff_hash, file_paths, state, github_etag, updated_at, created_at
		 FROM pull_requests WHERE repo_id = ? AND state = 'open' ORDER BY number ASC`, payload.RepoID,
	); err != nil {
		return nil, fmt.Errorf("loading open pull requests: %w", err)
	}

	uf := unionfind.New[int]()
	idByNumber := make(map[int]int64, len(prs))
	for _, pr := range prs {
		uf.Add(pr.Number)
		idByNumber[pr.Number] = pr.ID
	}

	// Exact-diff path: union every PR sharing a non-empty diffHash.
	byHash := make(map[string][]int)
	for _, pr := range prs {
		if pr.DiffHash == "" {
			continue
		}
		byHash[pr.DiffHash] = append(byHash[pr.DiffHash], pr.Number)
	}
	for _, numbers := range byHash {
		for i := 1; i < len(numbers); i++ {
			uf.Union(numbers[0], numbers[i])
		}
	}

	codeThreshold := p.Cfg.CodeSimilarityThreshold
	if codeThreshold <= 0 {
		codeThreshold = 0.85
	}
	intentThreshold := p.Cfg.IntentSimilarityThreshold
	if intentThreshold <= 0 {
		intentThreshold = 0.80
	}

	// Similarity path: union PRs whose stored code/intent vectors have a
	// nearest neighbour above the configured threshold.
	for _, pr := range prs {
		if err := p.unionNeighbours(ctx, uf, payload.RepoID, pr.Number, p.VectorCfg.CodeCollection, "code", codeThreshold); err != nil {
			return nil, err
		}
		if err := p.unionNeighbours(ctx, uf, payload.RepoID, pr.Number, p.VectorCfg.IntentCollection, "intent", intentThreshold); err != nil {
			return nil, err
		}
	}

	components := uf.Components(2)
	groups := make([]CandidateGroup, 0, len(components))
	for _, members := range components {
		sort.Ints(members)
		ids := make([]int64, len(members))
		for i, n := range members {
			ids[i] = idByNumber[n]
		}
		groups = append(groups, CandidateGroup{PRNumbers: members, PRIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].PRNumbers[0] < groups[j].PRNumbers[0]
	})

	if err := setPhaseCursor(ctx, p.Store, payload.ScanID, clusterCursor{CandidateGroups: groups}); err != nil {
		return nil, err
	}

	return &Enqueue{
		Type: models.JobTypeVerify,
		Payload: VerifyPayload{
			RepoID:          payload.RepoID,
			ScanID:          payload.ScanID,
			Owner:           payload.Owner,
			Repo:            payload.Repo,
			CandidateGroups: groups,
		},
	}, nil
}

func (p *Cluster) unionNeighbours(ctx context.Context, uf *unionfind.Set[int], repoID int64, number int, collection, kind string, threshold float64) error {
	point, err := p.VectorStore.Get(ctx, collection, pointID(repoID, number, kind))
	if err != nil {
		return fmt.Errorf("fetching %s vector for PR #%d: %w", kind, number, err)
	}
	if point == nil {
		return nil
	}

	neighbours, err := p.VectorStore.Search(ctx, collection, point.Vector, vectorstore.Filter{"repoId": repoID}, 50)
	if err != nil {
		return fmt.Errorf("searching %s neighbours for PR #%d: %w", kind, number, err)
	}
	for _, n := range neighbours {
		if float64(n.Score) < threshold {
			continue
		}
		neighbourNumber, ok := n.Payload["prNumber"]
		if !ok {
			continue
		}
		num, ok := toInt(neighbourNumber)
		if !ok || num == number {
			continue
		}
		uf.Union(number, num)
	}
	return nil
}

// toInt normalises a payload value that may have round-tripped through
// JSON (float64) or stayed an int (in-memory vectorstore) back to int.
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
