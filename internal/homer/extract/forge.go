package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

const (
	forgeLastPRKey    = "forge_last_pr"
	forgeLastIssueKey = "forge_last_issue"
)

// PullRequest is one pull/merge request as reported by a forge provider.
type PullRequest struct {
	Number         int
	Title          string
	State          string
	Body           string
	Author         string
	MergedAt       string
	MergeCommitSHA string
}

// Issue is one tracker issue as reported by a forge provider.
type Issue struct {
	Number int
	Title  string
	State  string
	Body   string
	Author string
}

// Review is one pull request review as reported by a forge provider.
type Review struct {
	Reviewer    string
	State       string
	Body        string
	SubmittedAt string
}

// ForgeClient is the pluggable capability the Forge extractor dispatches
// to; pagination and rate-limit handling are the client implementation's
// concern (e.g. internal/forge), not the extractor's. Each List call
// returns every pull request/issue numbered above since.
type ForgeClient interface {
	ListPullRequests(ctx context.Context, since int) ([]PullRequest, error)
	ListIssues(ctx context.Context, since int) ([]Issue, error)
	ListReviews(ctx context.Context, prNumber int) ([]Review, error)
}

// ForgeExtractor fetches pull requests, issues, and reviews from a forge
// provider into PullRequest/Issue nodes and Authored/Reviewed/Resolves/
// Includes edges (spec §4.3).
type ForgeExtractor struct {
	client ForgeClient
}

// NewForgeExtractor constructs a Forge extractor. client is nil when no
// forge provider is configured, in which case HasWork reports false and
// the extractor is skipped (spec §7's Capability-error degrade path).
func NewForgeExtractor(client ForgeClient) *ForgeExtractor {
	return &ForgeExtractor{client: client}
}

func (f *ForgeExtractor) Name() string { return "forge" }

func (f *ForgeExtractor) HasWork(st *store.Store) (bool, error) {
	return f.client != nil, nil
}

func (f *ForgeExtractor) Extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	batch, err := st.BeginBatch()
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	stats, err := f.extract(batch.Store, cfg)
	if err != nil {
		batch.Rollback()
		return stats, err
	}
	if err := batch.Commit(); err != nil {
		return stats, fmt.Errorf("committing batch: %w", err)
	}
	return stats, nil
}

func (f *ForgeExtractor) extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	start := time.Now()
	stats := &ExtractStats{}
	ctx := context.Background()

	if f.client == nil {
		return stats, herrors.New(herrors.Capability, "no forge client configured")
	}

	lastPR, err := f.checkpointInt(st, forgeLastPRKey)
	if err != nil {
		return stats, err
	}
	lastIssue, err := f.checkpointInt(st, forgeLastIssueKey)
	if err != nil {
		return stats, err
	}

	// Issues are fetched first so that a PR referencing one via
	// parseIssueRefs finds a fully-populated node already in place; a bare
	// stub created the other way around would never pick up its title and
	// body later, since UpsertNode only touches a node once its content
	// hash (here always absent) matches the stored value.
	maxIssue, err := f.fetchIssues(ctx, st, stats, lastIssue)
	if err != nil {
		stats.recordError("issues", err)
	} else if maxIssue > lastIssue {
		if err := st.SetCheckpoint(forgeLastIssueKey, maxIssue); err != nil {
			return stats, err
		}
	}

	maxPR, err := f.fetchPullRequests(ctx, st, stats, lastPR)
	if err != nil {
		stats.recordError("pull_requests", err)
	} else if maxPR > lastPR {
		if err := st.SetCheckpoint(forgeLastPRKey, maxPR); err != nil {
			return stats, err
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (f *ForgeExtractor) checkpointInt(st *store.Store, key string) (int, error) {
	var v int
	err := st.Checkpoint(key, &v)
	if herrors.IsNotFound(err) {
		return 0, nil
	}
	return v, err
}

func (f *ForgeExtractor) fetchPullRequests(ctx context.Context, st *store.Store, stats *ExtractStats, since int) (int, error) {
	prs, err := f.client.ListPullRequests(ctx, since)
	if err != nil {
		return since, err
	}

	maxNumber := since
	for _, pr := range prs {
		if pr.Number <= since {
			continue
		}
		if pr.Number > maxNumber {
			maxNumber = pr.Number
		}

		prID, err := f.storePullRequest(st, stats, pr)
		if err != nil {
			stats.recordError("PR#"+strconv.Itoa(pr.Number), err)
			continue
		}

		reviews, err := f.client.ListReviews(ctx, pr.Number)
		if err != nil {
			stats.recordError("PR#"+strconv.Itoa(pr.Number)+" reviews", err)
			continue
		}
		for _, review := range reviews {
			if err := f.storeReview(st, stats, prID, review); err != nil {
				stats.recordError("PR#"+strconv.Itoa(pr.Number)+" review", err)
			}
		}
	}
	return maxNumber, nil
}

func (f *ForgeExtractor) storePullRequest(st *store.Store, stats *ExtractStats, pr PullRequest) (types.NodeID, error) {
	meta := map[string]any{
		"title":  pr.Title,
		"state":  pr.State,
		"number": pr.Number,
	}
	if pr.Body != "" {
		meta["body"] = pr.Body
	}
	if pr.MergedAt != "" {
		meta["merged_at"] = pr.MergedAt
	}
	if pr.MergeCommitSHA != "" {
		meta["merge_commit_sha"] = pr.MergeCommitSHA
	}
	if pr.Author != "" {
		meta["author"] = pr.Author
	}

	prID, res, err := st.UpsertNode(&types.Node{Kind: types.NodePullRequest, Name: "PR#" + strconv.Itoa(pr.Number), Metadata: meta})
	if err != nil {
		return 0, err
	}
	trackResult(stats, res)

	if pr.Author != "" {
		contribID, err := f.ensureContributor(st, stats, pr.Author)
		if err != nil {
			return prID, err
		}
		if _, created, err := st.UpsertHyperedge(&types.Hyperedge{
			Kind: types.EdgeAuthored,
			Members: []types.HyperedgeMember{
				{NodeID: contribID, Role: "author", Position: 0},
				{NodeID: prID, Role: "artifact", Position: 1},
			},
			Confidence: 1.0,
		}); err != nil {
			return prID, err
		} else if created {
			stats.EdgesCreated++
		}
	}

	for _, issueNum := range parseIssueRefs(pr.Body) {
		issueName := "Issue#" + strconv.Itoa(issueNum)
		issueID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeIssue, Name: issueName})
		if err != nil {
			return prID, err
		}
		trackResult(stats, res)

		_, created, err := st.UpsertHyperedge(&types.Hyperedge{
			Kind: types.EdgeResolves,
			Members: []types.HyperedgeMember{
				{NodeID: prID, Role: "resolver", Position: 0},
				{NodeID: issueID, Role: "resolved", Position: 1},
			},
			Confidence: 0.9,
		})
		if err != nil {
			return prID, err
		}
		if created {
			stats.EdgesCreated++
		}
	}

	if pr.MergeCommitSHA != "" {
		commit, err := st.FindNode(types.NodeCommit, pr.MergeCommitSHA)
		if err == nil {
			_, created, err := st.UpsertHyperedge(&types.Hyperedge{
				Kind: types.EdgeIncludes,
				Members: []types.HyperedgeMember{
					{NodeID: prID, Role: "pull_request", Position: 0},
					{NodeID: commit.ID, Role: "merge_commit", Position: 1},
				},
				Confidence: 1.0,
			})
			if err != nil {
				return prID, err
			}
			if created {
				stats.EdgesCreated++
			}
		} else if !herrors.IsNotFound(err) {
			return prID, err
		}
	}

	return prID, nil
}

func (f *ForgeExtractor) storeReview(st *store.Store, stats *ExtractStats, prID types.NodeID, review Review) error {
	if review.Reviewer == "" {
		return nil
	}
	reviewerID, err := f.ensureContributor(st, stats, review.Reviewer)
	if err != nil {
		return err
	}

	meta := map[string]any{"state": review.State}
	if review.SubmittedAt != "" {
		meta["submitted_at"] = review.SubmittedAt
	}
	if review.Body != "" {
		meta["body"] = review.Body
	}

	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeReviewed,
		Members: []types.HyperedgeMember{
			{NodeID: reviewerID, Role: "reviewer", Position: 0},
			{NodeID: prID, Role: "artifact", Position: 1},
		},
		Confidence: 1.0,
		Metadata:   meta,
	})
	if err != nil {
		return err
	}
	if created {
		stats.EdgesCreated++
	}
	return nil
}

func (f *ForgeExtractor) fetchIssues(ctx context.Context, st *store.Store, stats *ExtractStats, since int) (int, error) {
	issues, err := f.client.ListIssues(ctx, since)
	if err != nil {
		return since, err
	}

	maxNumber := since
	for _, issue := range issues {
		if issue.Number <= since {
			continue
		}
		if issue.Number > maxNumber {
			maxNumber = issue.Number
		}
		if err := f.storeIssue(st, stats, issue); err != nil {
			stats.recordError("Issue#"+strconv.Itoa(issue.Number), err)
		}
	}
	return maxNumber, nil
}

func (f *ForgeExtractor) storeIssue(st *store.Store, stats *ExtractStats, issue Issue) error {
	meta := map[string]any{
		"title":  issue.Title,
		"state":  issue.State,
		"number": issue.Number,
	}
	if issue.Body != "" {
		meta["body"] = issue.Body
	}
	if issue.Author != "" {
		meta["author"] = issue.Author
	}

	issueID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeIssue, Name: "Issue#" + strconv.Itoa(issue.Number), Metadata: meta})
	if err != nil {
		return err
	}
	trackResult(stats, res)

	if issue.Author == "" {
		return nil
	}
	contribID, err := f.ensureContributor(st, stats, issue.Author)
	if err != nil {
		return err
	}
	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeAuthored,
		Members: []types.HyperedgeMember{
			{NodeID: contribID, Role: "author", Position: 0},
			{NodeID: issueID, Role: "artifact", Position: 1},
		},
		Confidence: 1.0,
	})
	if err != nil {
		return err
	}
	if created {
		stats.EdgesCreated++
	}
	return nil
}

func (f *ForgeExtractor) ensureContributor(st *store.Store, stats *ExtractStats, login string) (types.NodeID, error) {
	id, res, err := st.UpsertNode(&types.Node{Kind: types.NodeContributor, Name: login})
	if err != nil {
		return 0, err
	}
	trackResult(stats, res)
	return id, nil
}

var issueRefKeywords = []string{
	"close ", "closes ", "closed ",
	"fix ", "fixes ", "fixed ",
	"resolve ", "resolves ", "resolved ",
}

// parseIssueRefs finds issue numbers named after a closing keyword
// ("fixes #123", "closes org/repo#456"), deduplicated and in first-seen
// order.
func parseIssueRefs(text string) []int {
	lower := strings.ToLower(text)
	var refs []int
	seen := map[int]bool{}

	for _, kw := range issueRefKeywords {
		search := lower
		for {
			pos := strings.Index(search, kw)
			if pos == -1 {
				break
			}
			after := search[pos+len(kw):]
			if num, ok := extractIssueNumber(after); ok && !seen[num] {
				seen[num] = true
				refs = append(refs, num)
			}
			search = after
		}
	}
	return refs
}

// extractIssueNumber parses a leading "#123" or "org/repo#123" reference.
func extractIssueNumber(text string) (int, bool) {
	text = strings.TrimLeft(text, " ")
	hashIdx := strings.IndexByte(text, '#')
	if hashIdx == -1 {
		return 0, false
	}
	rest := text[hashIdx+1:]

	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
