package analyze

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
	"github.com/homer-dev/homer/internal/llm"
)

// maxSemanticCandidates bounds how many entities one run summarizes,
// keeping a single pass's LLM spend predictable regardless of repository
// size (spec §4.2's "Semantic... whose analyzer bodies are out of the
// core" scoping decision: real, but deliberately shallow).
const maxSemanticCandidates = 20

// SemanticAnalyzer calls the Summarizer capability (internal/llm) over the
// repository's highest-salience entities and its merged pull requests,
// producing SemanticSummary/InvariantDescription for the former and
// DesignRationale for the latter. It is a capability-gated analyzer: Run
// checks cfg.LLM.Enabled itself and returns immediately when summarization
// is off, since NeedsRerun has no access to config and can't gate on it.
type SemanticAnalyzer struct {
	summarizer llm.Summarizer
}

// NewSemanticAnalyzer builds a SemanticAnalyzer against summarizer. Pass
// llm.NoopSummarizer{} to keep the analyzer schedulable with the
// capability disabled; Run's cfg.LLM.Enabled check means the Noop path is
// not invoked while summarization is off. With summarization on and no
// API key configured, Run does call it, and its Capability errors are
// skipped rather than recorded.
func NewSemanticAnalyzer(summarizer llm.Summarizer) *SemanticAnalyzer {
	return &SemanticAnalyzer{summarizer: summarizer}
}

func (s *SemanticAnalyzer) Name() string { return "semantic" }

func (s *SemanticAnalyzer) Produces() []types.AnalysisKind {
	return []types.AnalysisKind{
		types.AnalysisSemanticSummary,
		types.AnalysisInvariantDescription,
		types.AnalysisDesignRationale,
	}
}

// Requires CompositeSalience (and the centrality scores it's built from)
// so the scheduler orders semantic analysis after centrality has ranked
// entities to prioritize.
func (s *SemanticAnalyzer) Requires() []types.AnalysisKind {
	return []types.AnalysisKind{
		types.AnalysisCompositeSalience,
		types.AnalysisPageRank,
		types.AnalysisBetweennessCentrality,
	}
}

func (s *SemanticAnalyzer) NeedsRerun(st *store.Store) (bool, error) { return true, nil }

func (s *SemanticAnalyzer) Run(st *store.Store, cfg *config.Config) (*Stats, error) {
	stats := &Stats{}
	if !cfg.LLM.Enabled {
		return stats, nil
	}

	ctx := context.Background()
	concurrency := cfg.Extraction.ConcurrentForgeRequests
	if concurrency <= 0 {
		concurrency = 5
	}

	if err := s.summarizeSalientEntities(ctx, st, cfg, stats, concurrency); err != nil {
		stats.recordError("salient_entities", err)
	}
	if err := s.summarizeMergedPullRequests(ctx, st, cfg, stats, concurrency); err != nil {
		stats.recordError("merged_pull_requests", err)
	}
	return stats, nil
}

// salientEntityContent resolves the best available text for a node: its
// indexed source preview (set by the Structure extractor for File nodes),
// falling back to a stored doc comment (Function/Type nodes), falling
// back to the node's own name.
func salientEntityContent(st *store.Store, n types.Node) string {
	if text, err := st.GetIndexedText(n.ID, "source_code"); err == nil && text != "" {
		return text
	}
	if doc, ok := n.Metadata["doc_text"].(string); ok && doc != "" {
		return doc
	}
	return n.Name
}

func (s *SemanticAnalyzer) summarizeSalientEntities(ctx context.Context, st *store.Store, cfg *config.Config, stats *Stats, concurrency int) error {
	salience, err := st.FindAnalysesByKind(types.AnalysisCompositeSalience)
	if err != nil {
		return err
	}
	sort.Slice(salience, func(i, j int) bool {
		return scoreOf(salience[i]) > scoreOf(salience[j])
	})
	if len(salience) > maxSemanticCandidates {
		salience = salience[:maxSemanticCandidates]
	}

	type summaryResult struct {
		nodeID             types.NodeID
		summary, invariant *llm.Response
		err                error
	}
	results := make([]summaryResult, len(salience))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, result := range salience {
		i, nodeID := i, result.NodeID
		g.Go(func() error {
			node, err := st.GetNode(nodeID)
			if err != nil {
				results[i] = summaryResult{nodeID: nodeID, err: err}
				return nil
			}
			if _, err := st.GetAnalysis(nodeID, types.AnalysisSemanticSummary); err == nil {
				return nil // already summarized; conservative invalidation clears it if content changed
			}
			content := salientEntityContent(st, *node)

			summary, err := s.summarizer.Summarize(gctx, llm.Request{
				ModelID: cfg.LLM.Model, PromptTemplateVersion: cfg.LLM.PromptTemplateVersion,
				Kind: "summary", Content: content,
			})
			if err != nil {
				results[i] = summaryResult{nodeID: nodeID, err: err}
				return nil
			}
			invariant, err := s.summarizer.Summarize(gctx, llm.Request{
				ModelID: cfg.LLM.Model, PromptTemplateVersion: cfg.LLM.PromptTemplateVersion,
				Kind: "invariant_description", Content: content,
			})
			results[i] = summaryResult{nodeID: nodeID, summary: summary, invariant: invariant, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if r.nodeID == 0 {
			continue // no work scheduled for this slot (already summarized)
		}
		if r.err != nil {
			if herrors.KindOf(r.err) != herrors.Capability {
				stats.recordError(fmt.Sprintf("node#%d", r.nodeID), r.err)
			}
			continue
		}
		if r.summary != nil {
			if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: r.nodeID, Kind: types.AnalysisSemanticSummary, Data: r.summary.Data}); err != nil {
				stats.recordError(fmt.Sprintf("node#%d summary", r.nodeID), err)
				continue
			}
			stats.ResultsWritten++
		}
		if r.invariant != nil {
			if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: r.nodeID, Kind: types.AnalysisInvariantDescription, Data: r.invariant.Data}); err != nil {
				stats.recordError(fmt.Sprintf("node#%d invariant", r.nodeID), err)
				continue
			}
			stats.ResultsWritten++
		}
	}
	return nil
}

func (s *SemanticAnalyzer) summarizeMergedPullRequests(ctx context.Context, st *store.Store, cfg *config.Config, stats *Stats, concurrency int) error {
	prs, err := st.FindNodes(types.NodeFilter{Kind: types.NodePullRequest})
	if err != nil {
		return err
	}

	var merged []types.Node
	for _, pr := range prs {
		if state, _ := pr.Metadata["state"].(string); state == "merged" || pr.Metadata["merged_at"] != nil {
			merged = append(merged, pr)
		}
	}
	if len(merged) > maxSemanticCandidates {
		merged = merged[:maxSemanticCandidates]
	}

	type rationaleResult struct {
		nodeID types.NodeID
		resp   *llm.Response
		err    error
	}
	results := make([]rationaleResult, len(merged))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, pr := range merged {
		i, pr := i, pr
		g.Go(func() error {
			if _, err := st.GetAnalysis(pr.ID, types.AnalysisDesignRationale); err == nil {
				return nil
			}
			body, _ := pr.Metadata["body"].(string)
			if body == "" {
				body = pr.Name
			}
			resp, err := s.summarizer.Summarize(gctx, llm.Request{
				ModelID: cfg.LLM.Model, PromptTemplateVersion: cfg.LLM.PromptTemplateVersion,
				Kind: "design_rationale", Content: body,
			})
			results[i] = rationaleResult{nodeID: pr.ID, resp: resp, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if r.nodeID == 0 {
			continue
		}
		if r.err != nil {
			if herrors.KindOf(r.err) != herrors.Capability {
				stats.recordError(fmt.Sprintf("pr#%d", r.nodeID), r.err)
			}
			continue
		}
		if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: r.nodeID, Kind: types.AnalysisDesignRationale, Data: r.resp.Data}); err != nil {
			stats.recordError(fmt.Sprintf("pr#%d design_rationale", r.nodeID), err)
			continue
		}
		stats.ResultsWritten++
	}
	return nil
}

func scoreOf(r types.AnalysisResult) float64 {
	v, _ := r.Data["score"].(float64)
	return v
}
