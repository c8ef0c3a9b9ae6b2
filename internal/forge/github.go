package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/extract"
	"github.com/homer-dev/homer/internal/homer/herrors"
)

const defaultGitHubBaseURL = "https://api.github.com"

// GitHubClient implements extract.ForgeClient against the GitHub REST API.
type GitHubClient struct {
	owner, repo, token, baseURL string
	concurrency                 int
	http                        *http.Client
}

// NewGitHubClient builds a GitHub forge client. cfg.BaseURL overrides the
// default api.github.com endpoint, for GitHub Enterprise installations.
func NewGitHubClient(cfg config.ForgeConfig, concurrency int) *GitHubClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}
	return &GitHubClient{owner: cfg.Owner, repo: cfg.Repo, token: cfg.Token, baseURL: baseURL, concurrency: concurrency, http: &http.Client{}}
}

var _ extract.ForgeClient = (*GitHubClient)(nil)

type ghUser struct {
	Login string `json:"login"`
}

type ghPullRequest struct {
	Number         int     `json:"number"`
	Title          string  `json:"title"`
	State          string  `json:"state"`
	Body           string  `json:"body"`
	User           *ghUser `json:"user"`
	MergedAt       string  `json:"merged_at"`
	MergeCommitSHA string  `json:"merge_commit_sha"`
}

// ghIssue's PullRequest field is set by GitHub's issues endpoint when the
// item is actually a pull request; real issues omit it.
type ghIssue struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	State       string  `json:"state"`
	Body        string  `json:"body"`
	User        *ghUser `json:"user"`
	PullRequest any     `json:"pull_request"`
}

type ghReview struct {
	User        *ghUser `json:"user"`
	State       string  `json:"state"`
	Body        string  `json:"body"`
	SubmittedAt string  `json:"submitted_at"`
}

func (c *GitHubClient) ListPullRequests(ctx context.Context, since int) ([]extract.PullRequest, error) {
	pages, err := fetchAllPages(ctx, c.concurrency, func(ctx context.Context, page int) ([]byte, int, error) {
		url := fmt.Sprintf("%s/repos/%s/%s/pulls?state=all&sort=created&direction=asc&per_page=100&page=%d", c.baseURL, c.owner, c.repo, page)
		return c.get(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	var out []extract.PullRequest
	for _, body := range pages {
		var prs []ghPullRequest
		if err := json.Unmarshal(body, &prs); err != nil {
			return nil, herrors.Wrap(herrors.Input, "decoding github pull requests", err)
		}
		for _, pr := range prs {
			if pr.Number <= since {
				continue
			}
			out = append(out, extract.PullRequest{
				Number:         pr.Number,
				Title:          pr.Title,
				State:          pr.State,
				Body:           pr.Body,
				Author:         ghUserLogin(pr.User),
				MergedAt:       pr.MergedAt,
				MergeCommitSHA: pr.MergeCommitSHA,
			})
		}
	}
	return out, nil
}

func (c *GitHubClient) ListIssues(ctx context.Context, since int) ([]extract.Issue, error) {
	pages, err := fetchAllPages(ctx, c.concurrency, func(ctx context.Context, page int) ([]byte, int, error) {
		url := fmt.Sprintf("%s/repos/%s/%s/issues?state=all&sort=created&direction=asc&per_page=100&page=%d&filter=all", c.baseURL, c.owner, c.repo, page)
		return c.get(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	var out []extract.Issue
	for _, body := range pages {
		var issues []ghIssue
		if err := json.Unmarshal(body, &issues); err != nil {
			return nil, herrors.Wrap(herrors.Input, "decoding github issues", err)
		}
		for _, issue := range issues {
			if issue.Number <= since || issue.PullRequest != nil {
				continue // the issues endpoint also lists PRs; ListPullRequests handles those
			}
			out = append(out, extract.Issue{
				Number: issue.Number,
				Title:  issue.Title,
				State:  issue.State,
				Body:   issue.Body,
				Author: ghUserLogin(issue.User),
			})
		}
	}
	return out, nil
}

func (c *GitHubClient) ListReviews(ctx context.Context, prNumber int) ([]extract.Review, error) {
	pages, err := fetchAllPages(ctx, c.concurrency, func(ctx context.Context, page int) ([]byte, int, error) {
		url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/reviews?per_page=100&page=%d", c.baseURL, c.owner, c.repo, prNumber, page)
		return c.get(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	var out []extract.Review
	for _, body := range pages {
		var reviews []ghReview
		if err := json.Unmarshal(body, &reviews); err != nil {
			return nil, herrors.Wrap(herrors.Input, "decoding github reviews", err)
		}
		for _, r := range reviews {
			out = append(out, extract.Review{
				Reviewer:    ghUserLogin(r.User),
				State:       r.State,
				Body:        r.Body,
				SubmittedAt: r.SubmittedAt,
			})
		}
	}
	return out, nil
}

func ghUserLogin(u *ghUser) string {
	if u == nil {
		return ""
	}
	return u.Login
}

func (c *GitHubClient) get(ctx context.Context, url string) ([]byte, int, error) {
	auth := ""
	if c.token != "" {
		auth = "Bearer " + c.token
	}
	body, resp, err := doGet(ctx, c.http, url, "Authorization", auth, "application/vnd.github+json")
	if err != nil {
		return nil, 0, err
	}
	return body, lastPageFromLinkHeader(resp.Header.Get("Link")), nil
}

// lastPageFromLinkHeader parses GitHub's RFC 5988 pagination header
// (`<url>; rel="next", <url>; rel="last"`) for the last page number, or 0
// if there is no rel="last" entry (a single-page result).
func lastPageFromLinkHeader(header string) int {
	for _, part := range strings.Split(header, ",") {
		if !strings.Contains(part, `rel="last"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start == -1 || end == -1 || end <= start {
			continue
		}
		url := part[start+1 : end]
		pageIdx := strings.Index(url, "page=")
		if pageIdx == -1 {
			continue
		}
		rest := url[pageIdx+len("page="):]
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		if digits == 0 {
			continue
		}
		if n, err := strconv.Atoi(rest[:digits]); err == nil {
			return n
		}
	}
	return 0
}
