package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/homer-dev/homer/internal/config"
)

func TestGitHubClientPaginatesPullRequestsViaLinkHeader(t *testing.T) {
	var requestedPages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPages = append(requestedPages, r.URL.RawQuery)
		page := r.URL.Query().Get("page")
		switch page {
		case "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/o/r/pulls?page=2>; rel="next", <%s/repos/o/r/pulls?page=2>; rel="last"`, r.Host, r.Host))
			w.Write([]byte(`[{"number":1,"title":"first","state":"open","user":{"login":"alice"}}]`))
		case "2":
			w.Write([]byte(`[{"number":2,"title":"second","state":"merged","merge_commit_sha":"abc123","user":{"login":"bob"}}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	client := NewGitHubClient(config.ForgeConfig{Owner: "o", Repo: "r", BaseURL: srv.URL}, 3)
	prs, err := client.ListPullRequests(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if len(prs) != 2 {
		t.Fatalf("expected 2 pull requests across 2 pages, got %d", len(prs))
	}
	if len(requestedPages) != 2 {
		t.Errorf("expected exactly 2 page requests, got %d: %v", len(requestedPages), requestedPages)
	}

	byNumber := map[int]bool{}
	for _, pr := range prs {
		byNumber[pr.Number] = true
	}
	if !byNumber[1] || !byNumber[2] {
		t.Errorf("expected PRs #1 and #2, got %+v", prs)
	}
}

func TestGitHubClientListPullRequestsSkipsSinceFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"number":1,"title":"old"},{"number":5,"title":"new"}]`))
	}))
	defer srv.Close()

	client := NewGitHubClient(config.ForgeConfig{Owner: "o", Repo: "r", BaseURL: srv.URL}, 3)
	prs, err := client.ListPullRequests(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if len(prs) != 1 || prs[0].Number != 5 {
		t.Fatalf("expected only PR #5 above the since floor, got %+v", prs)
	}
}

func TestGitHubClientListIssuesExcludesPullRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"number":3,"title":"real issue"},{"number":4,"title":"a pr","pull_request":{}}]`))
	}))
	defer srv.Close()

	client := NewGitHubClient(config.ForgeConfig{Owner: "o", Repo: "r", BaseURL: srv.URL}, 3)
	issues, err := client.ListIssues(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Number != 3 {
		t.Fatalf("expected only the real issue, got %+v", issues)
	}
}

func TestGitLabClientPaginatesMergeRequestsViaTotalPagesHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Total-Pages", "2")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`[{"iid":1,"title":"first","author":{"username":"alice"}}]`))
		default:
			w.Write([]byte(`[{"iid":2,"title":"second","merge_commit_sha":"def456"}]`))
		}
	}))
	defer srv.Close()

	client := NewGitLabClient(config.ForgeConfig{Owner: "o", Repo: "r", BaseURL: srv.URL}, 3)
	mrs, err := client.ListPullRequests(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if len(mrs) != 2 {
		t.Fatalf("expected 2 merge requests across 2 pages, got %d", len(mrs))
	}
}

func TestGitLabClientListReviewsReportsApprovals(t *testing.T) {
	var gotAuthHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthHeader = r.Header.Get("PRIVATE-TOKEN")
		w.Write([]byte(`{"approved_by":[{"user":{"username":"carol"}}]}`))
	}))
	defer srv.Close()

	client := NewGitLabClient(config.ForgeConfig{Owner: "o", Repo: "r", BaseURL: srv.URL, Token: "secret"}, 3)
	reviews, err := client.ListReviews(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Reviewer != "carol" || reviews[0].State != "approved" {
		t.Fatalf("expected one approval from carol, got %+v", reviews)
	}
	if gotAuthHeader != "secret" {
		t.Errorf("expected PRIVATE-TOKEN header to carry the configured token, got %q", gotAuthHeader)
	}
}

func TestNewDispatchesByProvider(t *testing.T) {
	cfg := config.Default()

	if client, err := New(cfg); err != nil || client != nil {
		t.Errorf("expected a nil client and no error with no provider configured, got %v, %v", client, err)
	}

	cfg.Forge.Provider = "github"
	cfg.Forge.Owner, cfg.Forge.Repo = "o", "r"
	if client, err := New(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	} else if _, ok := client.(*GitHubClient); !ok {
		t.Errorf("expected a *GitHubClient, got %T", client)
	}

	cfg.Forge.Provider = "gitlab"
	if client, err := New(cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	} else if _, ok := client.(*GitLabClient); !ok {
		t.Errorf("expected a *GitLabClient, got %T", client)
	}

	cfg.Forge.Provider = "bitbucket"
	if _, err := New(cfg); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}
