// Package forge implements the forge clients that satisfy
// extract.ForgeExtractor's pluggable ForgeClient contract: minimal GitHub
// and GitLab REST clients over net/http, paginated and bounded by the
// configured concurrency limit (spec §5's I/O-bound fanout).
package forge

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/extract"
	"github.com/homer-dev/homer/internal/homer/herrors"
)

// New builds the ForgeClient extract.NewForgeExtractor dispatches to, per
// cfg.Forge.Provider. A nil client with a nil error means no provider is
// configured, and the caller leaves the forge extractor out of the run.
func New(cfg *config.Config) (extract.ForgeClient, error) {
	concurrency := cfg.Extraction.ConcurrentForgeRequests
	switch cfg.Forge.Provider {
	case "":
		return nil, nil
	case "github":
		return NewGitHubClient(cfg.Forge, concurrency), nil
	case "gitlab":
		return NewGitLabClient(cfg.Forge, concurrency), nil
	default:
		return nil, herrors.New(herrors.Input, fmt.Sprintf("unknown forge provider %q", cfg.Forge.Provider))
	}
}

// pageFetcher performs one paginated request and reports the body plus the
// total page count the provider's pagination header names (0 meaning this
// is the only page).
type pageFetcher func(ctx context.Context, page int) (body []byte, totalPages int, err error)

// fetchAllPages fetches every page of a paginated listing. Page 1 is
// fetched first to learn the total page count from the response's
// pagination header; the remaining pages are then fetched concurrently,
// bounded by concurrency (spec §5: I/O-bound fanout, default 5).
func fetchAllPages(ctx context.Context, concurrency int, get pageFetcher) ([][]byte, error) {
	if concurrency <= 0 {
		concurrency = 5
	}

	first, totalPages, err := get(ctx, 1)
	if err != nil {
		return nil, err
	}
	if totalPages <= 1 {
		return [][]byte{first}, nil
	}

	pages := make([][]byte, totalPages+1) // 1-indexed; index 0 unused
	pages[1] = first

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for page := 2; page <= totalPages; page++ {
		page := page
		g.Go(func() error {
			body, _, err := get(gctx, page)
			if err != nil {
				return err
			}
			pages[page] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages[1:], nil
}

// doGet issues one authenticated GET request and returns its response body
// and status, for providers to layer their own header parsing on top of.
// authHeader/authValue are the auth header name/value pair ("Authorization"
// + "Bearer ..." for GitHub, "PRIVATE-TOKEN" + the raw token for GitLab);
// authValue empty skips setting the header entirely.
func doGet(ctx context.Context, client *http.Client, url, authHeader, authValue, accept string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if authValue != "" {
		req.Header.Set(authHeader, authValue)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, herrors.Wrap(herrors.Transient, "forge request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode >= 400 {
		return nil, resp, herrors.New(herrors.Transient, fmt.Sprintf("forge request to %s failed: %s: %s", url, resp.Status, string(body)))
	}
	return body, resp, nil
}
