package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/diffhash"
	"github.com/dupescan/dupescan/internal/hostclient"
	"github.com/dupescan/dupescan/internal/ratelimit"
	"github.com/dupescan/dupescan/internal/store"
	"github.com/dupescan/dupescan/models"
)

// EmbedPayload is embed's input (spec §4.4).
type EmbedPayload struct {
	RepoID int64  `json:"repoId"`
	ScanID int64  `json:"scanId"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
}

// Ingest is the "ingest" Processor (spec §4.3): paginates open pull
// requests from the source host, upserts them by (repoId, number), and
// closes PRs that dropped out of the open set. Grounded on the teacher's
// scanner.BuildScanners dispatch-by-provider shape, generalised from
// vulnerability scanners to source-hosting clients.
type Ingest struct {
	Store   store.Store
	Git     config.GitConfig
	Limiter *ratelimit.Limiter
}

func (p *Ingest) Type() models.JobType { return models.JobTypeIngest }

func (p *Ingest) Process(ctx context.Context, job *models.Job) (*Enqueue, error) {
	var payload IngestPayload
	if err := decodePayload(job, &payload); err != nil {
		return nil, err
	}

	if err := setScanStatus(ctx, p.Store, payload.ScanID, models.ScanStatusIngesting); err != nil {
		return nil, err
	}

	client, err := hostclient.New(hostclient.DetectProvider(payload.Owner+"/"+payload.Repo), p.Git, p.Limiter)
	if err != nil {
		if ferr := failScan(ctx, p.Store, payload.ScanID, fmt.Errorf("resolving source host client: %w", err)); ferr != nil {
			return nil, ferr
		}
		return nil, nil
	}

	refs, err := client.ListOpenPullRequests(ctx, payload.Owner, payload.Repo, "")
	if err != nil {
		// Network/5xx/rate-limit failures are retried by the limiter inside
		// the host client (§4.8). If those retries run out the error is still
		// a *RetryableError and is returned so the queue retries the job; any
		// other error here is auth or 404, which is fatal per spec §4.3.
		var retryable *ratelimit.RetryableError
		if errors.As(err, &retryable) {
			return nil, err
		}
		if ferr := failScan(ctx, p.Store, payload.ScanID, fmt.Errorf("listing open pull requests: %w", err)); ferr != nil {
			return nil, ferr
		}
		return nil, nil
	}

	existing, err := p.loadExisting(ctx, payload.RepoID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(refs))
	for _, ref := range refs {
		seen[ref.Number] = true
		if err := p.upsertPR(ctx, payload, client, ref, existing[ref.Number]); err != nil {
			return nil, err
		}
	}

	for number, pr := range existing {
		if !seen[number] && pr.State == models.PRStateOpen {
			if err := p.Store.Exec(ctx,
				`UPDATE pull_requests SET state = 'closed', updated_at = ? WHERE id = ?`,
				time.Now().UTC(), pr.ID,
			); err != nil {
				return nil, fmt.Errorf("closing stale PR #%d: %w", number, err)
			}
		}
	}

	if err := p.Store.Exec(ctx, `UPDATE scans SET pr_count = ? WHERE id = ?`, len(refs), payload.ScanID); err != nil {
		return nil, err
	}

	return &Enqueue{
		Type: models.JobTypeEmbed,
		Payload: EmbedPayload{
			RepoID: payload.RepoID,
			ScanID: payload.ScanID,
			Owner:  payload.Owner,
			Repo:   payload.Repo,
		},
	}, nil
}

func (p *Ingest) loadExisting(ctx context.Context, repoID int64) (map[int]*models.PullRequest, error) {
	var rows []models.PullRequest
	if err := p.Store.Select(ctx, &rows,
		`SELECT id, repo_id, number, title, body, author, diff_hash, file_paths, state, github_etag, updated_at, created_at
		 FROM pull_requests WHERE repo_id = ?`, repoID,
	); err != nil {
		return nil, fmt.Errorf("loading existing pull requests: %w", err)
	}
	byNumber := make(map[int]*models.PullRequest, len(rows))
	for i := range rows {
		byNumber[rows[i].Number] = &rows[i]
	}
	return byNumber, nil
}

func (p *Ingest) upsertPR(ctx context.Context, payload IngestPayload, client hostclient.Client, ref hostclient.PullRequestRef, prior *models.PullRequest) error {
	updatedAt, err := time.Parse(time.RFC3339, ref.UpdatedAt)
	if err != nil {
		updatedAt = time.Now().UTC()
	}

	changed := prior == nil || updatedAt.After(prior.UpdatedAt)

	pr := models.PullRequest{
		RepoID:     payload.RepoID,
		Number:     ref.Number,
		Title:      ref.Title,
		Body:       ref.Body,
		Author:     ref.Author,
		State:      models.PRStateOpen,
		GithubEtag: ref.ETag,
		UpdatedAt:  updatedAt,
		CreatedAt:  time.Now().UTC(),
	}
	if prior != nil {
		pr.CreatedAt = prior.CreatedAt
		pr.DiffHash = prior.DiffHash
		pr.FilePaths = prior.FilePaths
	}

	if changed {
		paths, err := client.ListPullRequestFiles(ctx, payload.Owner, payload.Repo, ref.Number)
		if err != nil {
			return fmt.Errorf("listing files for PR #%d: %w", ref.Number, err)
		}
		diff, err := client.GetPullRequestDiff(ctx, payload.Owner, payload.Repo, ref.Number)
		if err != nil {
			return fmt.Errorf("fetching diff for PR #%d: %w", ref.Number, err)
		}
		pr.DiffHash = diffhash.Hash(diff)
		pr.FilePaths = encodeFilePaths(paths)
	}

	return p.Store.Upsert(ctx, "pull_requests", pr, []string{"repo_id", "number"})
}
