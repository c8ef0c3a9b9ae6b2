package analyze

import (
	"testing"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/types"
)

func TestCommunityAnalyzerClustersDenseSubgraph(t *testing.T) {
	st := mustOpen(t)

	a := mustNode(t, st, types.NodeFile, "pkg/a/x.go")
	b := mustNode(t, st, types.NodeFile, "pkg/a/y.go")
	c := mustNode(t, st, types.NodeFile, "pkg/a/z.go")
	d := mustNode(t, st, types.NodeFile, "pkg/b/w.go")
	e := mustNode(t, st, types.NodeFile, "pkg/b/v.go")
	f := mustNode(t, st, types.NodeFile, "pkg/b/u.go")

	// Two dense triangles, connected by a single bridge edge.
	mustEdge(t, st, types.EdgeImports, a, b)
	mustEdge(t, st, types.EdgeImports, b, c)
	mustEdge(t, st, types.EdgeImports, c, a)
	mustEdge(t, st, types.EdgeImports, d, e)
	mustEdge(t, st, types.EdgeImports, e, f)
	mustEdge(t, st, types.EdgeImports, f, d)
	mustEdge(t, st, types.EdgeImports, c, d)

	cfg := config.Default()
	stats, err := NewCommunityAnalyzer().Run(st, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", stats.Errors)
	}

	resultA, err := st.GetAnalysis(a, types.AnalysisCommunityAssignment)
	if err != nil {
		t.Fatalf("get community for a: %v", err)
	}
	resultD, err := st.GetAnalysis(d, types.AnalysisCommunityAssignment)
	if err != nil {
		t.Fatalf("get community for d: %v", err)
	}

	if resultA.Data["community_id"] == resultD.Data["community_id"] {
		t.Errorf("expected the two triangles in separate communities, both got %v", resultA.Data["community_id"])
	}

	aligned, _ := resultA.Data["directory_aligned"].(bool)
	if !aligned {
		t.Errorf("expected the pkg/a/* triangle to be directory-aligned, got %+v", resultA.Data)
	}
}

func TestDirPrefix(t *testing.T) {
	if got := dirPrefix("internal/homer/analyze/centrality.go", 2); got != "internal/homer" {
		t.Errorf("expected internal/homer, got %q", got)
	}
	if got := dirPrefix("main.go", 2); got != "" {
		t.Errorf("expected empty prefix for a root file, got %q", got)
	}
}

func TestLouvainAssignsDisconnectedComponentsSeparately(t *testing.T) {
	g := &weightedGraph{
		adj: [][]weightedPair{
			{{node: 1, weight: 1}},
			{{node: 0, weight: 1}},
			{{node: 3, weight: 1}},
			{{node: 2, weight: 1}},
		},
		selfLoop: make([]float64, 4),
	}
	assignment := louvain(4, g)
	if assignment[0] != assignment[1] {
		t.Errorf("expected nodes 0,1 in the same community, got %+v", assignment)
	}
	if assignment[2] != assignment[3] {
		t.Errorf("expected nodes 2,3 in the same community, got %+v", assignment)
	}
	if assignment[0] == assignment[2] {
		t.Errorf("expected the two disconnected pairs in different communities, got %+v", assignment)
	}
}

func TestLouvainAggregatesAcrossLevels(t *testing.T) {
	// Two dense quads joined by one weak bridge edge: each quad ends up as
	// one community, the quads collapse into two super-nodes, and the
	// aggregated level keeps them apart rather than merging across the
	// bridge.
	adj := make([][]weightedPair, 8)
	add := func(a, b int, w float64) {
		adj[a] = append(adj[a], weightedPair{node: b, weight: w})
		adj[b] = append(adj[b], weightedPair{node: a, weight: w})
	}
	quad := func(base int) {
		add(base, base+1, 1)
		add(base+1, base+2, 1)
		add(base+2, base+3, 1)
		add(base+3, base, 1)
		add(base, base+2, 1)
		add(base+1, base+3, 1)
	}
	quad(0)
	quad(4)
	add(3, 4, 0.5)

	g := &weightedGraph{adj: adj, selfLoop: make([]float64, 8)}
	assignment := louvain(8, g)
	for i := 1; i < 4; i++ {
		if assignment[i] != assignment[0] {
			t.Errorf("expected nodes 0-3 in one community, got %+v", assignment)
		}
	}
	for i := 5; i < 8; i++ {
		if assignment[i] != assignment[4] {
			t.Errorf("expected nodes 4-7 in one community, got %+v", assignment)
		}
	}
	if assignment[0] == assignment[4] {
		t.Errorf("expected the two quads in different communities, got %+v", assignment)
	}
}
