package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/extract"
	"github.com/homer-dev/homer/internal/homer/herrors"
)

const defaultGitLabBaseURL = "https://gitlab.com/api/v4"

// GitLabClient implements extract.ForgeClient against the GitLab REST API
// v4. Merge requests double as Homer's PullRequest node kind; GitLab has no
// per-merge-request review list, so ListReviews reports approvals instead
// (the nearest GitLab concept to a GitHub review).
type GitLabClient struct {
	projectPath, token, baseURL string
	concurrency                 int
	http                        *http.Client
}

// NewGitLabClient builds a GitLab forge client. cfg.BaseURL overrides the
// default gitlab.com endpoint, for self-hosted GitLab instances.
func NewGitLabClient(cfg config.ForgeConfig, concurrency int) *GitLabClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGitLabBaseURL
	}
	return &GitLabClient{
		projectPath: url.QueryEscape(cfg.Owner + "/" + cfg.Repo),
		token:       cfg.Token,
		baseURL:     baseURL,
		concurrency: concurrency,
		http:        &http.Client{},
	}
}

var _ extract.ForgeClient = (*GitLabClient)(nil)

type glUser struct {
	Username string `json:"username"`
}

type glMergeRequest struct {
	IID            int     `json:"iid"`
	Title          string  `json:"title"`
	State          string  `json:"state"`
	Description    string  `json:"description"`
	Author         *glUser `json:"author"`
	MergedAt       string  `json:"merged_at"`
	MergeCommitSHA string  `json:"merge_commit_sha"`
}

type glIssue struct {
	IID         int     `json:"iid"`
	Title       string  `json:"title"`
	State       string  `json:"state"`
	Description string  `json:"description"`
	Author      *glUser `json:"author"`
}

type glApprovals struct {
	ApprovedBy []struct {
		User glUser `json:"user"`
	} `json:"approved_by"`
}

func (c *GitLabClient) ListPullRequests(ctx context.Context, since int) ([]extract.PullRequest, error) {
	pages, err := fetchAllPages(ctx, c.concurrency, func(ctx context.Context, page int) ([]byte, int, error) {
		url := fmt.Sprintf("%s/projects/%s/merge_requests?state=all&order_by=created_at&sort=asc&per_page=100&page=%d", c.baseURL, c.projectPath, page)
		return c.get(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	var out []extract.PullRequest
	for _, body := range pages {
		var mrs []glMergeRequest
		if err := json.Unmarshal(body, &mrs); err != nil {
			return nil, herrors.Wrap(herrors.Input, "decoding gitlab merge requests", err)
		}
		for _, mr := range mrs {
			if mr.IID <= since {
				continue
			}
			out = append(out, extract.PullRequest{
				Number:         mr.IID,
				Title:          mr.Title,
				State:          mr.State,
				Body:           mr.Description,
				Author:         glUserLogin(mr.Author),
				MergedAt:       mr.MergedAt,
				MergeCommitSHA: mr.MergeCommitSHA,
			})
		}
	}
	return out, nil
}

func (c *GitLabClient) ListIssues(ctx context.Context, since int) ([]extract.Issue, error) {
	pages, err := fetchAllPages(ctx, c.concurrency, func(ctx context.Context, page int) ([]byte, int, error) {
		url := fmt.Sprintf("%s/projects/%s/issues?state=all&order_by=created_at&sort=asc&per_page=100&page=%d", c.baseURL, c.projectPath, page)
		return c.get(ctx, url)
	})
	if err != nil {
		return nil, err
	}

	var out []extract.Issue
	for _, body := range pages {
		var issues []glIssue
		if err := json.Unmarshal(body, &issues); err != nil {
			return nil, herrors.Wrap(herrors.Input, "decoding gitlab issues", err)
		}
		for _, issue := range issues {
			if issue.IID <= since {
				continue
			}
			out = append(out, extract.Issue{
				Number: issue.IID,
				Title:  issue.Title,
				State:  issue.State,
				Body:   issue.Description,
				Author: glUserLogin(issue.Author),
			})
		}
	}
	return out, nil
}

// ListReviews reports the merge request's approvals as Review entries
// (State "approved"); GitLab's API has no richer per-reviewer verdict.
func (c *GitLabClient) ListReviews(ctx context.Context, mrIID int) ([]extract.Review, error) {
	url := fmt.Sprintf("%s/projects/%s/merge_requests/%d/approvals", c.baseURL, c.projectPath, mrIID)
	body, _, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var approvals glApprovals
	if err := json.Unmarshal(body, &approvals); err != nil {
		return nil, herrors.Wrap(herrors.Input, "decoding gitlab approvals", err)
	}

	out := make([]extract.Review, 0, len(approvals.ApprovedBy))
	for _, a := range approvals.ApprovedBy {
		out = append(out, extract.Review{Reviewer: a.User.Username, State: "approved"})
	}
	return out, nil
}

func glUserLogin(u *glUser) string {
	if u == nil {
		return ""
	}
	return u.Username
}

func (c *GitLabClient) get(ctx context.Context, url string) ([]byte, int, error) {
	body, resp, err := doGet(ctx, c.http, url, "PRIVATE-TOKEN", c.token, "application/json")
	if err != nil {
		return nil, 0, err
	}
	totalPages, _ := strconv.Atoi(resp.Header.Get("X-Total-Pages"))
	return body, totalPages, nil
}
