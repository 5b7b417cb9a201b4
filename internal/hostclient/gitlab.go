package hostclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/ratelimit"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLab implements Client for GitLab (cloud and self-hosted).
type GitLab struct {
	client  *gitlab.Client
	limiter *ratelimit.Limiter
}

// NewGitLab creates a GitLab client from the given configuration. Every
// outbound call it makes is routed through limiter (§4.8).
func NewGitLab(cfg config.GitLabConfig, limiter *ratelimit.Limiter) (*GitLab, error) {
	opts := []gitlab.ClientOptionFunc{}
	if cfg.Host != "" && cfg.Host != "gitlab.com" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("https://%s/api/v4/", cfg.Host)))
	}
	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GitLab client: %w", err)
	}
	return &GitLab{client: client, limiter: limiter}, nil
}

func (g *GitLab) Name() string { return "gitlab" }

// GitLab has no pull request concept; dupescan treats merge requests as its
// pull request equivalent throughout.
func (g *GitLab) ListOpenPullRequests(ctx context.Context, owner, repo, ifNoneMatch string) ([]PullRequestRef, error) {
	pid := owner + "/" + repo
	state := "opened"
	opt := &gitlab.ListProjectMergeRequestsOptions{
		State:       &state,
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}

	var refs []PullRequestRef
	for {
		var mrs []*gitlab.MergeRequest
		var resp *gitlab.Response
		err := g.limiter.Call(ctx, func(ctx context.Context) error {
			var callErr error
			mrs, resp, callErr = g.client.MergeRequests.ListProjectMergeRequests(pid, opt, gitlab.WithContext(ctx))
			return wrapGitLabError(resp, callErr)
		})
		if err != nil {
			return nil, fmt.Errorf("listing merge requests for %s: %w", pid, err)
		}
		for _, mr := range mrs {
			var updatedAt string
			if mr.UpdatedAt != nil {
				updatedAt = mr.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
			}
			refs = append(refs, PullRequestRef{
				Number:    int(mr.IID),
				Title:     mr.Title,
				Body:      mr.Description,
				Author:    mr.Author.Username,
				State:     mr.State,
				UpdatedAt: updatedAt,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return refs, nil
}

func (g *GitLab) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	pid := owner + "/" + repo
	var changes *gitlab.MergeRequest
	err := g.limiter.Call(ctx, func(ctx context.Context) error {
		var callErr error
		var resp *gitlab.Response
		changes, resp, callErr = g.client.MergeRequests.GetMergeRequestChanges(pid, number, nil, gitlab.WithContext(ctx))
		return wrapGitLabError(resp, callErr)
	})
	if err != nil {
		return nil, fmt.Errorf("getting merge request changes for %s!%d: %w", pid, number, err)
	}
	paths := make([]string, 0, len(changes.Changes))
	for _, c := range changes.Changes {
		paths = append(paths, c.NewPath)
	}
	return paths, nil
}

func (g *GitLab) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	pid := owner + "/" + repo
	var changes *gitlab.MergeRequest
	err := g.limiter.Call(ctx, func(ctx context.Context) error {
		var callErr error
		var resp *gitlab.Response
		changes, resp, callErr = g.client.MergeRequests.GetMergeRequestChanges(pid, number, nil, gitlab.WithContext(ctx))
		return wrapGitLabError(resp, callErr)
	})
	if err != nil {
		return "", fmt.Errorf("getting merge request diff for %s!%d: %w", pid, number, err)
	}
	var sb strings.Builder
	for _, c := range changes.Changes {
		sb.WriteString(fmt.Sprintf("--- a/%s\n+++ b/%s\n", c.OldPath, c.NewPath))
		sb.WriteString(c.Diff)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// wrapGitLabError classifies a client-go call's error as retryable (5xx,
// 429) or fatal, for ratelimit.Limiter.Call to act on.
func wrapGitLabError(resp *gitlab.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp != nil && ratelimit.IsRetryableStatus(resp.StatusCode) {
		return &ratelimit.RetryableError{Err: err, RetryAfter: ratelimit.RetryAfterFromHeader(resp.Header, "")}
	}
	return err
}
