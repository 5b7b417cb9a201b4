package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dupescan/dupescan/internal/chatprovider"
	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/embedprovider"
	"github.com/dupescan/dupescan/internal/hostclient"
	"github.com/dupescan/dupescan/internal/ratelimit"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/internal/tokenbudget"
	"github.com/dupescan/dupescan/internal/vectorstore"
	"github.com/dupescan/dupescan/models"
)

// ClusterPayload is cluster's input (spec §4.5).
type ClusterPayload struct {
	RepoID int64  `json:"repoId"`
	ScanID int64  `json:"scanId"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
}

// embedCursor is embed's phaseCursor shape: the highest PR number embedded
// so a restart skips completed work (spec §4.4).
type embedCursor struct {
	LastPRNumber int `json:"lastPrNumber"`
}

const defaultEmbedBatchSize = 64

// Embed is the "embed" Processor (spec §4.4): builds code/intent texts per
// open PR, token-budgets them, batches them through an embedprovider, and
// upserts the resulting vectors into the code/intent vectorstore
// collections. Grounded on the teacher's batching loops in
// internal/agent/fixer_findings.go, generalised from triage-finding batches
// to embedding-request batches.
type Embed struct {
	Store         store.Store
	VectorStore   vectorstore.Store
	EmbedProvider embedprovider.Provider
	Chat          chatprovider.Provider
	Git           config.GitConfig
	Cfg           config.EmbedConfig
	VectorCfg     config.VectorStoreConfig
	Limiter       *ratelimit.Limiter
}

func (p *Embed) Type() models.JobType { return models.JobTypeEmbed }

func (p *Embed) Process(ctx context.Context, job *models.Job) (*Enqueue, error) {
	var payload EmbedPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	if err := setScanStatus(ctx, p.Store, payload.ScanID, models.ScanStatusEmbedding); err != nil {
		return nil, err
	}

	scan, err := getScan(ctx, p.Store, payload.ScanID)
	if err != nil {
		return nil, err
	}
	var cursor embedCursor
	if scan.PhaseCursor != "" {
		_ = json.Unmarshal([]byte(scan.PhaseCursor), &cursor)
	}

	var prs []models.PullRequest
	if err := p.Store.Select(ctx, &prs,
		`SELECT id, repo_id, number, title, body, author, diff_hash, file_paths, state, github_etag, updated_at, created_at
		 FROM pull_requests WHERE repo_id = ? AND state = 'open' ORDER BY number ASC`, payload.RepoID,
	); err != nil {
		return nil, fmt.Errorf("loading open pull requests: %w", err)
	}

	codeCollection := p.VectorCfg.CodeCollection
	intentCollection := p.VectorCfg.IntentCollection
	if err := p.VectorStore.EnsureCollection(ctx, codeCollection, p.EmbedProvider.Dimensions()); err != nil {
		return nil, fmt.Errorf("ensuring code collection: %w", err)
	}
	if err := p.VectorStore.EnsureCollection(ctx, intentCollection, p.EmbedProvider.Dimensions()); err != nil {
		return nil, fmt.Errorf("ensuring intent collection: %w", err)
	}

	client, err := hostclient.New(hostclient.DetectProvider(payload.Owner+"/"+payload.Repo), p.Git, p.Limiter)
	if err != nil {
		if ferr := failScan(ctx, p.Store, payload.ScanID, fmt.Errorf("resolving source host client: %w", err)); ferr != nil {
			return nil, ferr
		}
		return nil, nil
	}

	budget := tokenbudget.Budget(p.Cfg.ContextWindow, p.Cfg.TokenBudgetFactor)
	batchSize := p.Cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}

	type pending struct {
		pr       models.PullRequest
		codeText string
		intent   string
	}
	var batch []pending

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, 0, len(batch)*2)
		for _, b := range batch {
			texts = append(texts, b.codeText, b.intent)
		}
		vectors, err := p.EmbedProvider.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embed provider returned %d vectors for %d texts", len(vectors), len(texts))
		}

		codePoints := make([]vectorstore.Point, 0, len(batch))
		intentPoints := make([]vectorstore.Point, 0, len(batch))
		for i, b := range batch {
			codePoints = append(codePoints, vectorstore.Point{
				ID:     pointID(payload.RepoID, b.pr.Number, "code"),
				Vector: vectors[i*2],
				Payload: map[string]any{
					"repoId":   payload.RepoID,
					"prNumber": b.pr.Number,
				},
			})
			intentPoints = append(intentPoints, vectorstore.Point{
				ID:     pointID(payload.RepoID, b.pr.Number, "intent"),
				Vector: vectors[i*2+1],
				Payload: map[string]any{
					"repoId":   payload.RepoID,
					"prNumber": b.pr.Number,
				},
			})
		}
		if err := p.VectorStore.Upsert(ctx, codeCollection, codePoints); err != nil {
			return fmt.Errorf("upserting code vectors: %w", err)
		}
		if err := p.VectorStore.Upsert(ctx, intentCollection, intentPoints); err != nil {
			return fmt.Errorf("upserting intent vectors: %w", err)
		}

		last := batch[len(batch)-1].pr.Number
		if err := setPhaseCursor(ctx, p.Store, payload.ScanID, embedCursor{LastPRNumber: last}); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, pr := range prs {
		if pr.Number <= cursor.LastPRNumber {
			continue
		}

		diff, err := client.GetPullRequestDiff(ctx, payload.Owner, payload.Repo, pr.Number)
		if err != nil {
			return nil, fmt.Errorf("fetching diff for PR #%d: %w", pr.Number, err)
		}

		codeText := tokenbudget.Truncate(buildCodeText(pr, diff), budget)
		intentText, err := p.buildIntentText(ctx, pr)
		if err != nil {
			return nil, err
		}
		intentText = tokenbudget.Truncate(intentText, budget)

		batch = append(batch, pending{pr: pr, codeText: codeText, intent: intentText})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return &Enqueue{
		Type: models.JobTypeCluster,
		Payload: ClusterPayload{
			RepoID: payload.RepoID,
			ScanID: payload.ScanID,
			Owner:  payload.Owner,
			Repo:   payload.Repo,
		},
	}, nil
}

func buildCodeText(pr models.PullRequest, diff string) string {
	var b strings.Builder
	b.WriteString(pr.Title)
	b.WriteString("\n")
	for _, path := range decodeFilePaths(pr.FilePaths) {
		b.WriteString(path)
		b.WriteString("\n")
	}
	b.WriteString(diff)
	return b.String()
}

// buildIntentText produces the natural-language summary of what a PR tries
// to accomplish: a deterministic template by default, or a single chat call
// when IntentMode is "llm" (spec §4.4).
func (p *Embed) buildIntentText(ctx context.Context, pr models.PullRequest) (string, error) {
	paths := decodeFilePaths(pr.FilePaths)
	template := fmt.Sprintf("%s\n\n%s\n\nFiles touched: %s", pr.Title, pr.Body, strings.Join(paths, ", "))

	if p.Cfg.IntentMode != "llm" || p.Chat == nil {
		return template, nil
	}

	prompt := fmt.Sprintf(`Summarise in 2-3 sentences what this pull request tries to accomplish. Respond with plain text only, no markdown.

Title: %s
Body: %s
Files touched: %s`, pr.Title, pr.Body, strings.Join(paths, ", "))

	result, err := p.Chat.Chat(ctx, []chatprovider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		// Data-kind failure per spec §7: fall back to the deterministic
		// template rather than failing the whole embed phase over one PR's
		// summary.
		return template, nil
	}
	return result.Response, nil
}

// pointID builds the vectorstore point ID keying convention from spec §4.4:
// "${repoId}-${prNumber}-${kind}".
func pointID(repoID int64, prNumber int, kind string) string {
	return fmt.Sprintf("%d-%d-%s", repoID, prNumber, kind)
}
