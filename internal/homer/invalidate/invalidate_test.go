package invalidate

import (
	"path/filepath"
	"testing"

	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestApplyClearsGlobalCentralityOnTopologyChange(t *testing.T) {
	st := mustOpen(t)
	id, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert node: %v", err)
	}
	if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: id, Kind: types.AnalysisPageRank, Data: map[string]any{}, InputHash: 1}); err != nil {
		t.Fatalf("write pagerank: %v", err)
	}

	eng := New(st)
	res, err := eng.Apply([]TopologyChange{{Kind: types.EdgeCalls}}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.GlobalCentralityCleared {
		t.Error("expected global centrality clear flag set")
	}
	if _, err := st.GetAnalysis(id, types.AnalysisPageRank); !herrors.IsNotFound(err) {
		t.Errorf("expected pagerank cleared, got %v", err)
	}
}

func TestApplyIgnoresNonTopologyKinds(t *testing.T) {
	st := mustOpen(t)
	id, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert node: %v", err)
	}
	if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: id, Kind: types.AnalysisPageRank, Data: map[string]any{}, InputHash: 1}); err != nil {
		t.Fatalf("write pagerank: %v", err)
	}

	eng := New(st)
	res, err := eng.Apply([]TopologyChange{{Kind: types.EdgeDocuments}}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.GlobalCentralityCleared {
		t.Error("expected no global clear for a non-topology edge kind")
	}
	if _, err := st.GetAnalysis(id, types.AnalysisPageRank); err != nil {
		t.Errorf("expected pagerank preserved, got %v", err)
	}
}

func TestApplyClearsOnlyChangedNodeSemantic(t *testing.T) {
	st := mustOpen(t)
	a, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	b, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "b"})
	if err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	for _, id := range []types.NodeID{a, b} {
		if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: id, Kind: types.AnalysisSemanticSummary, Data: map[string]any{}, InputHash: 1}); err != nil {
			t.Fatalf("write semantic for %d: %v", id, err)
		}
	}

	eng := New(st)
	if _, err := eng.Apply(nil, []ContentChange{{NodeID: a}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := st.GetAnalysis(a, types.AnalysisSemanticSummary); !herrors.IsNotFound(err) {
		t.Errorf("expected a's semantic summary cleared, got %v", err)
	}
	if _, err := st.GetAnalysis(b, types.AnalysisSemanticSummary); err != nil {
		t.Errorf("expected b's semantic summary preserved, got %v", err)
	}
}
