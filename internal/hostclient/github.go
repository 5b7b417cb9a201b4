package hostclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/ratelimit"
	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GitHub implements Client for GitHub and GitHub Enterprise.
type GitHub struct {
	client  *gogithub.Client
	token   string
	limiter *ratelimit.Limiter
}

// NewGitHub creates a GitHub client from the given configuration. Every
// outbound call it makes is routed through limiter (§4.8).
func NewGitHub(cfg config.GitHubConfig, limiter *ratelimit.Limiter) (*GitHub, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	client := gogithub.NewClient(tc)

	if cfg.Host != "" && cfg.Host != "github.com" {
		base := fmt.Sprintf("https://%s/api/v3/", cfg.Host)
		upload := fmt.Sprintf("https://%s/api/uploads/", cfg.Host)
		var err error
		client, err = client.WithEnterpriseURLs(base, upload)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub enterprise URLs: %w", err)
		}
	}

	return &GitHub{client: client, token: cfg.Token, limiter: limiter}, nil
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) ListOpenPullRequests(ctx context.Context, owner, repo, ifNoneMatch string) ([]PullRequestRef, error) {
	opt := &gogithub.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var refs []PullRequestRef
	for {
		var prs []*gogithub.PullRequest
		var resp *gogithub.Response
		err := g.limiter.Call(ctx, func(ctx context.Context) error {
			var callErr error
			prs, resp, callErr = g.client.PullRequests.List(ctx, owner, repo, opt)
			return wrapGitHubError(resp, callErr)
		})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotModified {
				return nil, nil
			}
			return nil, fmt.Errorf("listing pull requests for %s/%s: %w", owner, repo, err)
		}

		for _, pr := range prs {
			refs = append(refs, PullRequestRef{
				Number:    pr.GetNumber(),
				Title:     pr.GetTitle(),
				Body:      pr.GetBody(),
				Author:    pr.GetUser().GetLogin(),
				State:     pr.GetState(),
				UpdatedAt: pr.GetUpdatedAt().Format("2006-01-02T15:04:05Z07:00"),
				ETag:      resp.Header.Get("ETag"),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return refs, nil
}

func (g *GitHub) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	opt := &gogithub.ListOptions{PerPage: 100}
	var paths []string
	for {
		var files []*gogithub.CommitFile
		var resp *gogithub.Response
		err := g.limiter.Call(ctx, func(ctx context.Context) error {
			var callErr error
			files, resp, callErr = g.client.PullRequests.ListFiles(ctx, owner, repo, number, opt)
			return wrapGitHubError(resp, callErr)
		})
		if err != nil {
			return nil, fmt.Errorf("listing files for %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, f := range files {
			paths = append(paths, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return paths, nil
}

func (g *GitHub) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	var diff string
	err := g.limiter.Call(ctx, func(ctx context.Context) error {
		var callErr error
		var resp *gogithub.Response
		diff, resp, callErr = g.client.PullRequests.GetRaw(ctx, owner, repo, number, gogithub.RawOptions{Type: gogithub.Diff})
		return wrapGitHubError(resp, callErr)
	})
	if err != nil {
		return "", fmt.Errorf("fetching diff for %s/%s#%d: %w", owner, repo, number, err)
	}
	return diff, nil
}

// wrapGitHubError classifies a go-github call's error as retryable (5xx,
// 429, primary/secondary rate limiting) or fatal, for ratelimit.Limiter.Call
// to act on.
func wrapGitHubError(resp *gogithub.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return &ratelimit.RetryableError{Err: err, RetryAfter: time.Until(rateErr.Rate.Reset.Time)}
	}
	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := time.Minute
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return &ratelimit.RetryableError{Err: err, RetryAfter: wait}
	}
	if resp != nil && ratelimit.IsRetryableStatus(resp.StatusCode) {
		return &ratelimit.RetryableError{Err: err, RetryAfter: ratelimit.RetryAfterFromHeader(resp.Header, "")}
	}
	return err
}
