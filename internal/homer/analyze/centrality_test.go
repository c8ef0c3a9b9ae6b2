package analyze

import (
	"testing"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

func mustEdge(t *testing.T, st *store.Store, kind types.HyperedgeKind, from, to types.NodeID) {
	t.Helper()
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: kind,
		Members: []types.HyperedgeMember{
			{NodeID: from, Role: "caller", Position: 0},
			{NodeID: to, Role: "callee", Position: 1},
		},
		Confidence: 1,
	}); err != nil {
		t.Fatalf("upsert edge: %v", err)
	}
}

func TestCentralityAnalyzerPageRankRanksHub(t *testing.T) {
	st := mustOpen(t)

	a := mustNode(t, st, types.NodeFunction, "pkg.A")
	b := mustNode(t, st, types.NodeFunction, "pkg.B")
	c := mustNode(t, st, types.NodeFunction, "pkg.C")
	hub := mustNode(t, st, types.NodeFunction, "pkg.Hub")

	// a, b, c all call hub; hub calls nothing. hub should rank highest.
	mustEdge(t, st, types.EdgeCalls, a, hub)
	mustEdge(t, st, types.EdgeCalls, b, hub)
	mustEdge(t, st, types.EdgeCalls, c, hub)

	cfg := config.Default()
	analyzer := NewCentralityAnalyzer()
	stats, err := analyzer.Run(st, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", stats.Errors)
	}

	hubResult, err := st.GetAnalysis(hub, types.AnalysisPageRank)
	if err != nil {
		t.Fatalf("get pagerank: %v", err)
	}
	aResult, err := st.GetAnalysis(a, types.AnalysisPageRank)
	if err != nil {
		t.Fatalf("get pagerank: %v", err)
	}

	hubScore, _ := hubResult.Data["score"].(float64)
	aScore, _ := aResult.Data["score"].(float64)
	if hubScore <= aScore {
		t.Errorf("expected hub pagerank (%v) > leaf pagerank (%v)", hubScore, aScore)
	}
}

func TestCentralityAnalyzerEmptyGraphProducesNoResults(t *testing.T) {
	st := mustOpen(t)
	cfg := config.Default()

	stats, err := NewCentralityAnalyzer().Run(st, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.NodesAnalyzed != 0 || stats.ResultsWritten != 0 {
		t.Errorf("expected no analysis on an empty graph, got %+v", stats)
	}
}

func TestBrandesBetweennessOfPathGraph(t *testing.T) {
	// a -> b -> c: b sits on every shortest path between a and c.
	g := types.NewInMemoryGraph([]types.Hyperedge{
		{Kind: types.EdgeCalls, Confidence: 1, Members: []types.HyperedgeMember{
			{NodeID: 1, Role: "caller"}, {NodeID: 2, Role: "callee"},
		}},
		{Kind: types.EdgeCalls, Confidence: 1, Members: []types.HyperedgeMember{
			{NodeID: 2, Role: "caller"}, {NodeID: 3, Role: "callee"},
		}},
	})

	scores, tier := betweenness(g, 50000)
	if tier != "exact" {
		t.Fatalf("expected exact tier for a tiny graph, got %s", tier)
	}

	bIdx := g.NodeIndex[2]
	aIdx := g.NodeIndex[1]
	if scores[bIdx] <= scores[aIdx] {
		t.Errorf("expected the middle node's betweenness (%v) to exceed an endpoint's (%v)", scores[bIdx], scores[aIdx])
	}
}

func TestRankScoresBreaksTiesByNodeIndex(t *testing.T) {
	ranks := rankScores(map[int]float64{0: 1.0, 1: 1.0, 2: 0.5})
	if ranks[0] != 1 || ranks[1] != 2 || ranks[2] != 3 {
		t.Errorf("unexpected tie-break ranking: %+v", ranks)
	}
}
