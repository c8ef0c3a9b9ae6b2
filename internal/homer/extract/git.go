package extract

import (
	"fmt"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/gitreader"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// gitCheckpointKey is the checkpoint under which the Git extractor records
// the SHA it last extracted up to.
const gitCheckpointKey = "git_last_sha"

// GitExtractor walks commit history, contributors, and tags into the
// hypergraph (spec §4.3). It reads through the GitReader capability rather
// than owning a repository handle directly, so an alternate GitReader
// implementation can be substituted without touching this extractor.
type GitExtractor struct {
	repoPath string
}

// NewGitExtractor constructs a Git extractor over the repository at repoPath.
func NewGitExtractor(repoPath string) *GitExtractor {
	return &GitExtractor{repoPath: repoPath}
}

func (g *GitExtractor) Name() string { return "git" }

// HasWork reports true unless the stored checkpoint already equals HEAD.
func (g *GitExtractor) HasWork(st *store.Store) (bool, error) {
	var checkpoint string
	err := st.Checkpoint(gitCheckpointKey, &checkpoint)
	if herrors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	r, err := gitreader.Open(g.repoPath)
	if err != nil {
		return false, err
	}
	head, err := r.Head()
	if err != nil {
		return false, err
	}
	return head != checkpoint, nil
}

// Extract runs the extraction pass inside a single batch transaction, so a
// crash or error partway through a run leaves the store exactly as it was
// before the run started (spec §4.1's batch form, §3's failure model).
func (g *GitExtractor) Extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	batch, err := st.BeginBatch()
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	stats, err := g.extract(batch.Store, cfg)
	if err != nil {
		batch.Rollback()
		return stats, err
	}
	if err := batch.Commit(); err != nil {
		return stats, fmt.Errorf("committing batch: %w", err)
	}
	return stats, nil
}

func (g *GitExtractor) extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	start := time.Now()
	stats := &ExtractStats{}

	r, err := gitreader.Open(g.repoPath)
	if err != nil {
		return stats, err
	}

	head, err := r.Head()
	if err != nil {
		return stats, err
	}

	var checkpoint string
	err = st.Checkpoint(gitCheckpointKey, &checkpoint)
	hasCheckpoint := err == nil
	if err != nil && !herrors.IsNotFound(err) {
		return stats, err
	}

	if hasCheckpoint && checkpoint == head {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	effectiveCheckpoint := ""
	if hasCheckpoint {
		ancestor, err := r.IsAncestor(head, checkpoint)
		if err != nil {
			return stats, err
		}
		if ancestor {
			effectiveCheckpoint = checkpoint
		}
		// Otherwise history was rewritten (force-push); fall back to a
		// full re-extraction by leaving effectiveCheckpoint empty.
	}

	commits, err := r.WalkSince(effectiveCheckpoint, cfg.Extraction.MaxCommits)
	if err != nil {
		return stats, err
	}

	for _, c := range commits {
		if err := g.processCommit(st, stats, c); err != nil {
			stats.recordError(c.SHA, err)
		}
	}

	if err := g.processTags(st, stats, r); err != nil {
		stats.recordError("tags", err)
	}

	if err := st.SetCheckpoint(gitCheckpointKey, head); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (g *GitExtractor) processCommit(st *store.Store, stats *ExtractStats, c *gitreader.Commit) error {
	commitMeta := map[string]any{
		"message":       c.Message,
		"author_name":   c.Author.Name,
		"author_email":  c.Author.Email,
		"parent_shas":   c.ParentSHAs,
		"committer":     c.Committer.Email,
	}
	commitID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeCommit, Name: c.SHA, Metadata: commitMeta})
	if err != nil {
		return err
	}
	trackResult(stats, res)

	contributorID, res, err := st.UpsertNode(&types.Node{
		Kind: types.NodeContributor,
		Name: c.Author.Email,
		Metadata: map[string]any{
			"display_name": c.Author.Name,
		},
	})
	if err != nil {
		return err
	}
	trackResult(stats, res)

	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeAuthored,
		Members: []types.HyperedgeMember{
			{NodeID: contributorID, Role: "author", Position: 0},
			{NodeID: commitID, Role: "commit", Position: 1},
		},
		Confidence:  1.0,
		LastUpdated: c.Timestamp,
	})
	if err != nil {
		return err
	}
	if created {
		stats.EdgesCreated++
	}

	if err := g.storeModifiesAndAliases(st, stats, commitID, c); err != nil {
		return err
	}

	if err := st.IndexText(commitID, "commit_message", c.Message); err != nil {
		return err
	}
	return nil
}

func (g *GitExtractor) storeModifiesAndAliases(st *store.Store, stats *ExtractStats, commitID types.NodeID, c *gitreader.Commit) error {
	if len(c.FileDiffs) == 0 {
		return nil
	}

	members := []types.HyperedgeMember{{NodeID: commitID, Role: "commit", Position: 0}}
	var filesMeta []any

	for i, diff := range c.FileDiffs {
		path := diff.NewPath
		if path == "" {
			path = diff.OldPath
		}
		fileID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: path})
		if err != nil {
			return err
		}
		trackResult(stats, res)

		members = append(members, types.HyperedgeMember{NodeID: fileID, Role: "file", Position: i + 1})
		filesMeta = append(filesMeta, map[string]any{
			"path":          path,
			"status":        string(diff.Status),
			"lines_added":   diff.LinesAdded,
			"lines_deleted": diff.LinesDeleted,
			"old_path":      diff.OldPath,
		})

		if diff.Status == gitreader.StatusRenamed {
			oldID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: diff.OldPath})
			if err != nil {
				return err
			}
			trackResult(stats, res)

			_, created, err := st.UpsertHyperedge(&types.Hyperedge{
				Kind: types.EdgeAliases,
				Members: []types.HyperedgeMember{
					{NodeID: oldID, Role: "old", Position: 0},
					{NodeID: fileID, Role: "new", Position: 1},
				},
				Confidence:  diff.RenameSimilarity,
				LastUpdated: c.Timestamp,
			})
			if err != nil {
				return err
			}
			if created {
				stats.EdgesCreated++
			}
			if err := st.RecordAlias(string(types.NodeFile), diff.OldPath, diff.NewPath); err != nil {
				return err
			}
		}
	}

	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind:        types.EdgeModifies,
		Members:     members,
		Confidence:  1.0,
		LastUpdated: c.Timestamp,
		Metadata:    map[string]any{"files": filesMeta},
	})
	if err != nil {
		return err
	}
	if created {
		stats.EdgesCreated++
	}
	return nil
}

func (g *GitExtractor) processTags(st *store.Store, stats *ExtractStats, r *gitreader.Reader) error {
	tags, err := r.Tags()
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}

	targets := make(map[string]bool, len(tags))
	for _, t := range tags {
		targets[t.TargetSHA] = true
	}

	for _, t := range tags {
		releaseID, res, err := st.UpsertNode(&types.Node{
			Kind:     types.NodeRelease,
			Name:     t.Name,
			Metadata: map[string]any{"target": t.TargetSHA},
		})
		if err != nil {
			return err
		}
		trackResult(stats, res)

		ancestors, err := r.AncestorsFrom(t.TargetSHA)
		if err != nil {
			stats.recordError(t.Name, err)
			continue
		}

		for _, sha := range ancestors {
			if sha != t.TargetSHA && targets[sha] {
				break // reached the previous release's boundary
			}
			commitNode, err := st.FindNode(types.NodeCommit, sha)
			if herrors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}

			_, created, err := st.UpsertHyperedge(&types.Hyperedge{
				Kind: types.EdgeIncludes,
				Members: []types.HyperedgeMember{
					{NodeID: releaseID, Role: "release", Position: 0},
					{NodeID: commitNode.ID, Role: "commit", Position: 1},
				},
				Confidence: 1.0,
			})
			if err != nil {
				return err
			}
			if created {
				stats.EdgesCreated++
			}
		}
	}
	return nil
}

func trackResult(stats *ExtractStats, res store.UpsertResult) {
	switch res {
	case store.UpsertCreated:
		stats.NodesCreated++
	case store.UpsertUpdated:
		stats.NodesUpdated++
	}
}

// trackResultID is trackResult plus content-change tracking, for the node
// kinds that carry a content hash: a node that comes back UpsertUpdated had
// its own content hash change this pass, which is exactly what conservative
// semantic invalidation keys on (spec §4.2).
func trackResultID(stats *ExtractStats, res store.UpsertResult, id types.NodeID) {
	trackResult(stats, res)
	if res == store.UpsertUpdated {
		stats.ContentChangedNodes = append(stats.ContentChangedNodes, id)
	}
}
