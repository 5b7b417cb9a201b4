package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dupescan/dupescan/internal/chatprovider"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/models"
)

type rankingEntry struct {
	PRNumber     int     `json:"prNumber"`
	Score        float64 `json:"score"`
	CodeQuality  float64 `json:"codeQuality"`
	Completeness float64 `json:"completeness"`
	Rationale    string  `json:"rationale"`
}

type rankingResponse struct {
	Rankings []rankingEntry `json:"rankings"`
}

// Rank is the "rank" Processor (spec §4.7): sends one chat call per
// verified group asking it to score each member's code quality and
// completeness, sorts by score descending, and persists the DupeGroup /
// DupeGroupMember rows in a single transaction. Terminal phase: marks the
// scan done.
type Rank struct {
	Store store.Store
	Chat  chatprovider.Provider
}

func (p *Rank) Type() models.JobType { return models.JobTypeRank }

func (p *Rank) Process(ctx context.Context, job *models.Job) (*Enqueue, error) {
	var payload RankPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	if err := setScanStatus(ctx, p.Store, payload.ScanID, models.ScanStatusRanking); err != nil {
		return nil, err
	}

	groupCount := 0
	for _, vg := range payload.VerifiedGroups {
		if len(vg.PRIDs) < 2 {
			// Invariant violation per spec §7: rank receiving a group with
			// fewer than 2 members is an impossible state (verify's clique
			// construction never emits one). Fatal: fail the scan.
			if ferr := failScan(ctx, p.Store, payload.ScanID, fmt.Errorf("rank received a verified group with %d member(s)", len(vg.PRIDs))); ferr != nil {
				return nil, ferr
			}
			return nil, nil
		}
		if err := p.rankGroup(ctx, payload.ScanID, payload.RepoID, vg); err != nil {
			return nil, err
		}
		groupCount++
	}

	if err := completeScan(ctx, p.Store, payload.ScanID, groupCount); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *Rank) rankGroup(ctx context.Context, scanID, repoID int64, vg VerifiedGroup) error {
	prs, err := p.loadPRs(ctx, vg.PRIDs)
	if err != nil {
		return err
	}

	rankings, err := p.callChat(ctx, prs)
	if err != nil {
		return err
	}

	// Guarantee every PR in the group gets exactly one dense rank (invariant
	// 1): start from whatever the model returned for PRs it covered, then
	// append any PR it omitted at the bottom.
	covered := make(map[int]bool, len(rankings))
	for _, r := range rankings {
		covered[r.PRNumber] = true
	}
	for _, pr := range prs {
		if !covered[pr.Number] {
			rankings = append(rankings, rankingEntry{PRNumber: pr.Number, Rationale: "not addressed by ranking response"})
		}
	}
	sort.Slice(rankings, func(i, j int) bool { return rankings[i].Score > rankings[j].Score })

	byNumber := make(map[int]models.PullRequest, len(prs))
	for _, pr := range prs {
		byNumber[pr.Number] = pr
	}

	return p.Store.WithTx(ctx, func(tx store.Tx) error {
		groupID, err := tx.Insert(ctx, "dupe_groups", models.DupeGroup{
			ScanID:  scanID,
			RepoID:  repoID,
			Label:   vg.Label,
			PRCount: len(prs),
		})
		if err != nil {
			return fmt.Errorf("inserting dupe group: %w", err)
		}

		rank := 0
		for _, entry := range rankings {
			pr, ok := byNumber[entry.PRNumber]
			if !ok {
				continue
			}
			rank++
			_, err := tx.Insert(ctx, "dupe_group_members", models.DupeGroupMember{
				GroupID:   groupID,
				PRID:      pr.ID,
				Rank:      rank,
				Score:     entry.Score,
				Rationale: entry.Rationale,
			})
			if err != nil {
				return fmt.Errorf("inserting dupe group member for PR #%d: %w", entry.PRNumber, err)
			}
		}
		return nil
	})
}

func (p *Rank) callChat(ctx context.Context, prs []models.PullRequest) ([]rankingEntry, error) {
	var b strings.Builder
	for _, pr := range prs {
		fmt.Fprintf(&b, "PR #%d: %s\nFiles: %s\nBody: %s\n\n",
			pr.Number, pr.Title, strings.Join(decodeFilePaths(pr.FilePaths), ", "), truncateRunes(pr.Body, 1000))
	}

	prompt := fmt.Sprintf(`These pull requests are confirmed duplicates of each other. Rank them by which
should be kept (highest score) versus closed (lowest score), judging code
quality and completeness of the change. Respond with ONLY a JSON object, no
markdown fences:
{"rankings": [{"prNumber": <int>, "score": <0.0-1.0>, "codeQuality": <0.0-1.0>, "completeness": <0.0-1.0>, "rationale": "<one sentence>"}]}

%s`, b.String())

	result, err := p.Chat.Chat(ctx, []chatprovider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("ranking group: %w", err)
	}

	var resp rankingResponse
	if err := json.Unmarshal([]byte(result.Response), &resp); err != nil {
		retry, retryErr := p.Chat.Chat(ctx, []chatprovider.Message{{Role: "user", Content: prompt}})
		if retryErr != nil {
			return nil, fmt.Errorf("parsing ranking response: %w", err)
		}
		if err := json.Unmarshal([]byte(retry.Response), &resp); err != nil {
			return nil, fmt.Errorf("parsing ranking response after retry: %w", err)
		}
	}
	return resp.Rankings, nil
}

func (p *Rank) loadPRs(ctx context.Context, ids []int64) ([]models.PullRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	var prs []models.PullRequest
	query := fmt.Sprintf(
		`SELECT id, repo_id, number, title, body, author, diff_hash, file_paths, state, github_etag, updated_at, created_at
		 FROM pull_requests WHERE id IN (%s)`, strings.Join(placeholders, ", "),
	)
	if err := p.Store.Select(ctx, &prs, query, args...); err != nil {
		return nil, fmt.Errorf("loading ranked pull requests: %w", err)
	}
	return prs, nil
}
