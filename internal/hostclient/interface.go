// Package hostclient abstracts read access to a source-hosting platform for
// the ingest phase, with GitHub and GitLab implementations.
package hostclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/dupescan/dupescan/internal/config"
	"github.com/dupescan/dupescan/internal/ratelimit"
)

// PullRequestRef is one open pull request as seen by the host, before it has
// been diffed or hashed.
type PullRequestRef struct {
	Number     int
	Title      string
	Body       string
	Author     string
	State      string
	UpdatedAt  string // RFC3339
	ETag       string
}

// Client abstracts operations against a source-hosting platform needed by
// the ingest phase (§4.3).
type Client interface {
	// Name identifies the provider ("github" or "gitlab").
	Name() string

	// ListOpenPullRequests returns every open pull request for owner/repo.
	// ifNoneMatch is accepted but neither implementation sends it to the
	// host; every call lists all pages.
	ListOpenPullRequests(ctx context.Context, owner, repo, ifNoneMatch string) ([]PullRequestRef, error)

	// ListPullRequestFiles returns the ordered list of file paths touched
	// by the given pull request.
	ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]string, error)

	// GetPullRequestDiff returns the unified diff of the given pull request.
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
}

// DetectProvider infers the hosting platform from a repository URL or
// "owner/name" shorthand, defaulting to GitHub when ambiguous.
func DetectProvider(ref string) string {
	lower := strings.ToLower(ref)
	if strings.Contains(lower, "gitlab") {
		return "gitlab"
	}
	return "github"
}

// New returns the Client for the given provider, configured from cfg, with
// every outbound call routed through limiter (§4.3, §4.8).
func New(provider string, cfg config.GitConfig, limiter *ratelimit.Limiter) (Client, error) {
	switch provider {
	case "github":
		if len(cfg.GitHub) == 0 || cfg.GitHub[0].Token == "" {
			return nil, fmt.Errorf("no GitHub token configured")
		}
		return NewGitHub(cfg.GitHub[0], limiter)
	case "gitlab":
		if len(cfg.GitLab) == 0 || cfg.GitLab[0].Token == "" {
			return nil, fmt.Errorf("no GitLab token configured")
		}
		return NewGitLab(cfg.GitLab[0], limiter)
	default:
		return nil, fmt.Errorf("unsupported source host %q", provider)
	}
}
