// Package github provides the code-hosting provider port over the GitHub
// API: listing open pull requests, fetching changed files and commit
// deltas, preflight checks, and posting reviews.
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/pr-warden/internal/core"
)

// PRSummary is the provider-level view of one open pull request, before
// files are fetched.
type PRSummary struct {
	Number     int
	Title      string
	Author     string
	BaseBranch string
	HeadSHA    string
	Labels     []string
}

// ReviewEvent is the posting classification for a review.
type ReviewEvent string

const (
	EventComment        ReviewEvent = "COMMENT"
	EventRequestChanges ReviewEvent = "REQUEST_CHANGES"
)

// Client defines the code-hosting operations the review pipeline needs.
type Client interface {
	// ListOpenPRs returns up to limit open pull requests for a repository.
	ListOpenPRs(ctx context.Context, owner, repo string, limit int) ([]PRSummary, error)

	// GetPRFiles returns every changed file of a pull request, paginating
	// as needed.
	GetPRFiles(ctx context.Context, owner, repo string, number int) ([]core.ChangedFile, error)

	// GetCommitDelta returns the filenames changed between two commits,
	// for incremental review narrowing.
	GetCommitDelta(ctx context.Context, owner, repo, base, head string) ([]string, error)

	// Preflight returns the remaining core API quota.
	Preflight(ctx context.Context) (int, error)

	// PreflightRepo verifies the repository is reachable with the current
	// credentials.
	PreflightRepo(ctx context.Context, owner, repo string) error

	// HasExistingReview reports whether a review tied to exactly headSHA is
	// already present on the pull request.
	HasExistingReview(ctx context.Context, owner, repo string, number int, headSHA string) (bool, error)

	// PostReview submits a review with the given body and event.
	PostReview(ctx context.Context, owner, repo string, number int, body string, event ReviewEvent) error
}

type gitHubClient struct {
	client *github.Client
	logger *slog.Logger
}

// NewClient wraps an authenticated go-github client behind the pipeline's
// provider port.
func NewClient(client *github.Client, logger *slog.Logger) Client {
	return &gitHubClient{client: client, logger: logger}
}

func (g *gitHubClient) ListOpenPRs(ctx context.Context, owner, repo string, limit int) ([]PRSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	perPage := limit
	if perPage > 100 {
		perPage = 100
	}

	var out []PRSummary
	opts := &github.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		prs, resp, err := g.client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			g.logger.Error("failed to list open pull requests", "owner", owner, "repo", repo, "error", err)
			return nil, wrapError(err)
		}
		for _, pr := range prs {
			var labels []string
			for _, l := range pr.Labels {
				labels = append(labels, l.GetName())
			}
			out = append(out, PRSummary{
				Number:     pr.GetNumber(),
				Title:      pr.GetTitle(),
				Author:     pr.GetUser().GetLogin(),
				BaseBranch: pr.GetBase().GetRef(),
				HeadSHA:    pr.GetHead().GetSHA(),
				Labels:     labels,
			})
			if len(out) >= limit {
				return out, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *gitHubClient) GetPRFiles(ctx context.Context, owner, repo string, number int) ([]core.ChangedFile, error) {
	var all []core.ChangedFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			g.logger.Error("failed to list files for pull request", "owner", owner, "repo", repo, "pr", number, "error", err)
			return nil, wrapError(err)
		}
		for _, f := range files {
			all = append(all, core.ChangedFile{
				Filename:  f.GetFilename(),
				Status:    core.FileStatus(f.GetStatus()),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *gitHubClient) GetCommitDelta(ctx context.Context, owner, repo, base, head string) ([]string, error) {
	var names []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		cmp, resp, err := g.client.Repositories.CompareCommits(ctx, owner, repo, base, head, opts)
		if err != nil {
			g.logger.Warn("failed to compare commits", "owner", owner, "repo", repo, "error", err)
			return nil, wrapError(err)
		}
		for _, f := range cmp.Files {
			names = append(names, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

func (g *gitHubClient) Preflight(ctx context.Context) (int, error) {
	limits, _, err := g.client.RateLimit.Get(ctx)
	if err != nil {
		g.logger.Error("failed to read rate limit", "error", err)
		return 0, wrapError(err)
	}
	return limits.GetCore().Remaining, nil
}

func (g *gitHubClient) PreflightRepo(ctx context.Context, owner, repo string) error {
	_, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		g.logger.Warn("repository preflight failed", "owner", owner, "repo", repo, "error", err)
		return wrapError(err)
	}
	return nil
}

func (g *gitHubClient) HasExistingReview(ctx context.Context, owner, repo string, number int, headSHA string) (bool, error) {
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := g.client.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			g.logger.Error("failed to list reviews", "owner", owner, "repo", repo, "pr", number, "error", err)
			return false, wrapError(err)
		}
		for _, r := range reviews {
			if r.GetCommitID() == headSHA {
				return true, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return false, nil
}

func (g *gitHubClient) PostReview(ctx context.Context, owner, repo string, number int, body string, event ReviewEvent) error {
	req := &github.PullRequestReviewRequest{
		Body:  github.Ptr(body),
		Event: github.Ptr(string(event)),
	}
	_, _, err := g.client.PullRequests.CreateReview(ctx, owner, repo, number, req)
	if err != nil {
		g.logger.Error("failed to create pull request review", "owner", owner, "repo", repo, "pr", number, "error", err)
		return wrapError(err)
	}
	return nil
}

// wrapError tags a go-github failure with its provider-error kind. Typed
// SDK errors win; the message shim is the last resort.
func wrapError(err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var urlErr *url.Error

	kind := core.ErrKindOther
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		kind = core.ErrKindRateLimited
	case errors.As(err, &urlErr):
		kind = core.ErrKindNetwork
	default:
		kind = core.ClassifyByMessage(err)
	}
	return core.NewProviderError("github", kind, err)
}
