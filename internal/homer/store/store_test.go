package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/types"
)

func TestOpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()

	st, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	homerDir := filepath.Join(tmpDir, ".homer")
	if _, err := os.Stat(homerDir); os.IsNotExist(err) {
		t.Error(".homer directory was not created")
	}

	dbPath := filepath.Join(homerDir, "homer.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("homer.db was not created")
	}

	if err := st.Close(); err != nil {
		t.Errorf("failed to close store: %v", err)
	}
}

func mustOpen(t *testing.T) *Store {
	t.Helper()
	st, err := OpenPath(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestUpsertNodeCreateTouchUpdate(t *testing.T) {
	st := mustOpen(t)

	hashA := uint64(111)
	id, result, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "pkg.Foo", ContentHash: &hashA})
	if err != nil {
		t.Fatalf("upsert create: %v", err)
	}
	if result != UpsertCreated {
		t.Errorf("expected UpsertCreated, got %v", result)
	}

	id2, result, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "pkg.Foo", ContentHash: &hashA})
	if err != nil {
		t.Fatalf("upsert touch: %v", err)
	}
	if id2 != id {
		t.Errorf("expected same node id on touch, got %d vs %d", id2, id)
	}
	if result != UpsertTouched {
		t.Errorf("expected UpsertTouched, got %v", result)
	}

	hashB := uint64(222)
	id3, result, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "pkg.Foo", ContentHash: &hashB})
	if err != nil {
		t.Fatalf("upsert update: %v", err)
	}
	if id3 != id {
		t.Errorf("expected same node id on update, got %d vs %d", id3, id)
	}
	if result != UpsertUpdated {
		t.Errorf("expected UpsertUpdated, got %v", result)
	}

	got, err := st.GetNode(id)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if got.ContentHash == nil || *got.ContentHash != hashB {
		t.Errorf("expected content hash %d, got %v", hashB, got.ContentHash)
	}
}

func TestUpsertHyperedgeIdempotent(t *testing.T) {
	st := mustOpen(t)

	callerID, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert caller: %v", err)
	}
	calleeID, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "b"})
	if err != nil {
		t.Fatalf("upsert callee: %v", err)
	}

	edge := &types.Hyperedge{
		Kind: types.EdgeCalls,
		Members: []types.HyperedgeMember{
			{NodeID: callerID, Role: "caller", Position: 0},
			{NodeID: calleeID, Role: "callee", Position: 1},
		},
		Confidence: 0.9,
	}

	id1, created1, err := st.UpsertHyperedge(edge)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created1 {
		t.Error("expected first upsert to create")
	}

	// Re-extraction with members listed in a different order must resolve
	// to the same row, not a duplicate, since identity excludes position.
	edge2 := &types.Hyperedge{
		Kind: types.EdgeCalls,
		Members: []types.HyperedgeMember{
			{NodeID: calleeID, Role: "callee", Position: 0},
			{NodeID: callerID, Role: "caller", Position: 1},
		},
		Confidence: 0.95,
	}
	id2, created2, err := st.UpsertHyperedge(edge2)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created2 {
		t.Error("expected second upsert to update, not create")
	}
	if id1 != id2 {
		t.Errorf("expected same hyperedge id, got %d vs %d", id1, id2)
	}

	var count int
	if err := st.db.QueryRow(`SELECT COUNT(*) FROM hyperedges`).Scan(&count); err != nil {
		t.Fatalf("counting hyperedges: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly 1 hyperedge row, got %d", count)
	}

	got, err := st.GetHyperedge(id1)
	if err != nil {
		t.Fatalf("get hyperedge: %v", err)
	}
	if got.Confidence != 0.95 {
		t.Errorf("expected updated confidence 0.95, got %v", got.Confidence)
	}
}

func TestBatchTxRollsBackOnError(t *testing.T) {
	st := mustOpen(t)

	batch, err := st.BeginBatch()
	if err != nil {
		t.Fatalf("begin batch: %v", err)
	}
	if _, _, err := batch.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"}); err != nil {
		t.Fatalf("upsert inside batch: %v", err)
	}
	if err := batch.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	var count int
	if err := st.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&count); err != nil {
		t.Fatalf("counting nodes: %v", err)
	}
	if count != 0 {
		t.Errorf("expected the rolled-back write to leave no trace, got %d nodes", count)
	}
}

func TestBatchTxCommitsAllWritesTogether(t *testing.T) {
	st := mustOpen(t)

	batch, err := st.BeginBatch()
	if err != nil {
		t.Fatalf("begin batch: %v", err)
	}
	aID, _, err := batch.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	bID, _, err := batch.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "b"})
	if err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := st.GetNode(aID); err != nil {
		t.Errorf("expected node a to be visible after commit: %v", err)
	}
	if _, err := st.GetNode(bID); err != nil {
		t.Errorf("expected node b to be visible after commit: %v", err)
	}
}

func TestUpsertHyperedgeMemberRewriteIsAtomic(t *testing.T) {
	st := mustOpen(t)

	callerID, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert caller: %v", err)
	}
	calleeID, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "b"})
	if err != nil {
		t.Fatalf("upsert callee: %v", err)
	}
	otherID, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "c"})
	if err != nil {
		t.Fatalf("upsert other: %v", err)
	}

	id, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeCalls,
		Members: []types.HyperedgeMember{
			{NodeID: callerID, Role: "caller", Position: 0},
			{NodeID: calleeID, Role: "callee", Position: 1},
		},
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Rewrite the member set; since store.go:insertMembers runs inside
	// withTx alongside the DELETE of the old members, either both land or
	// neither does — the row can never end up with zero members.
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeCalls,
		Members: []types.HyperedgeMember{
			{NodeID: callerID, Role: "caller", Position: 0},
			{NodeID: otherID, Role: "callee", Position: 1},
		},
		Confidence: 0.9,
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := st.GetHyperedge(id)
	if err != nil {
		t.Fatalf("get hyperedge: %v", err)
	}
	if len(got.Members) != 2 {
		t.Fatalf("expected 2 members after rewrite, got %d", len(got.Members))
	}
}

func TestWriteAnalysisUpsertsByNodeKind(t *testing.T) {
	st := mustOpen(t)

	id, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert node: %v", err)
	}

	err = st.WriteAnalysis(&types.AnalysisResult{
		NodeID: id, Kind: types.AnalysisPageRank,
		Data: map[string]any{"score": 0.5}, InputHash: 7,
	})
	if err != nil {
		t.Fatalf("write analysis: %v", err)
	}
	err = st.WriteAnalysis(&types.AnalysisResult{
		NodeID: id, Kind: types.AnalysisPageRank,
		Data: map[string]any{"score": 0.8}, InputHash: 8,
	})
	if err != nil {
		t.Fatalf("rewrite analysis: %v", err)
	}

	got, err := st.GetAnalysis(id, types.AnalysisPageRank)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if got.Data["score"].(float64) != 0.8 {
		t.Errorf("expected latest score 0.8, got %v", got.Data["score"])
	}

	if _, err := st.GetAnalysis(id, types.AnalysisBetweennessCentrality); !herrors.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestClearSemanticOnlyTouchesSemanticKinds(t *testing.T) {
	st := mustOpen(t)
	id, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	if err != nil {
		t.Fatalf("upsert node: %v", err)
	}
	if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: id, Kind: types.AnalysisSemanticSummary, Data: map[string]any{}, InputHash: 1}); err != nil {
		t.Fatalf("write semantic: %v", err)
	}
	if err := st.WriteAnalysis(&types.AnalysisResult{NodeID: id, Kind: types.AnalysisPageRank, Data: map[string]any{}, InputHash: 1}); err != nil {
		t.Fatalf("write pagerank: %v", err)
	}

	if err := st.ClearSemantic(id); err != nil {
		t.Fatalf("clear semantic: %v", err)
	}

	if _, err := st.GetAnalysis(id, types.AnalysisSemanticSummary); !herrors.IsNotFound(err) {
		t.Errorf("expected semantic summary cleared, got err=%v", err)
	}
	if _, err := st.GetAnalysis(id, types.AnalysisPageRank); err != nil {
		t.Errorf("expected pagerank preserved, got err=%v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	st := mustOpen(t)

	type state struct {
		LastCommit string `json:"last_commit"`
	}
	if err := st.SetCheckpoint("git", state{LastCommit: "abc123"}); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}

	var got state
	if err := st.Checkpoint("git", &got); err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if got.LastCommit != "abc123" {
		t.Errorf("expected abc123, got %q", got.LastCommit)
	}

	var missing state
	if err := st.Checkpoint("docs", &missing); !herrors.IsNotFound(err) {
		t.Errorf("expected not-found for unset checkpoint, got %v", err)
	}
}

func TestCreateSnapshotIdempotentOnLabel(t *testing.T) {
	st := mustOpen(t)
	if _, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: "a.go"}); err != nil {
		t.Fatalf("upsert node: %v", err)
	}

	first, err := st.CreateSnapshot("v1.0.0")
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	if _, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: "b.go"}); err != nil {
		t.Fatalf("upsert second node: %v", err)
	}

	second, err := st.CreateSnapshot("v1.0.0")
	if err != nil {
		t.Fatalf("recreate snapshot: %v", err)
	}
	if second.NodeCount != first.NodeCount {
		t.Errorf("expected snapshot to stay idempotent on label, first=%d second=%d", first.NodeCount, second.NodeCount)
	}
}

func TestDiffSnapshots(t *testing.T) {
	st := mustOpen(t)
	if _, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: "a.go"}); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if _, err := st.CreateSnapshot("v1"); err != nil {
		t.Fatalf("snapshot v1: %v", err)
	}

	bID, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: "b.go"})
	if err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	if _, err := st.CreateSnapshot("v2"); err != nil {
		t.Fatalf("snapshot v2: %v", err)
	}

	diff, err := st.DiffSnapshots("v1", "v2")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diff.AddedNodes) != 1 || diff.AddedNodes[0] != bID {
		t.Errorf("expected b.go as the sole added node, got %v", diff.AddedNodes)
	}
	if len(diff.RemovedNodes) != 0 {
		t.Errorf("expected no removed nodes, got %v", diff.RemovedNodes)
	}
}

func TestAliasChainResolvesCanonical(t *testing.T) {
	st := mustOpen(t)
	if err := st.RecordAlias("function", "old.Foo", "mid.Foo"); err != nil {
		t.Fatalf("record alias 1: %v", err)
	}
	if err := st.RecordAlias("function", "mid.Foo", "new.Foo"); err != nil {
		t.Fatalf("record alias 2: %v", err)
	}

	canon, err := st.ResolveCanonical("function", "old.Foo")
	if err != nil {
		t.Fatalf("resolve canonical: %v", err)
	}
	if canon != "new.Foo" {
		t.Errorf("expected new.Foo, got %q", canon)
	}

	chain, err := st.AliasChain("function", "old.Foo")
	if err != nil {
		t.Fatalf("alias chain: %v", err)
	}
	want := []string{"old.Foo", "mid.Foo", "new.Foo"}
	if len(chain) != len(want) {
		t.Fatalf("expected chain %v, got %v", want, chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("expected chain %v, got %v", want, chain)
		}
	}
}

func TestLoadSubgraphNeighborhood(t *testing.T) {
	st := mustOpen(t)
	a, _, _ := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"})
	b, _, _ := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "b"})
	c, _, _ := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "c"})

	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeCalls,
		Members: []types.HyperedgeMember{
			{NodeID: a, Role: "caller", Position: 0},
			{NodeID: b, Role: "callee", Position: 1},
		},
		Confidence: 1,
	}); err != nil {
		t.Fatalf("upsert edge ab: %v", err)
	}
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeCalls,
		Members: []types.HyperedgeMember{
			{NodeID: b, Role: "caller", Position: 0},
			{NodeID: c, Role: "callee", Position: 1},
		},
		Confidence: 1,
	}); err != nil {
		t.Fatalf("upsert edge bc: %v", err)
	}

	g, err := st.LoadSubgraph(types.SubgraphFilter{Kind: types.SubgraphNeighborhood, Centers: []types.NodeID{a}, Hops: 1})
	if err != nil {
		t.Fatalf("load subgraph: %v", err)
	}
	if g.NodeCount() != 2 {
		t.Errorf("expected 2 nodes within 1 hop of a, got %d", g.NodeCount())
	}
}

func TestStatsCountsByKind(t *testing.T) {
	st := mustOpen(t)
	if _, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFunction, Name: "a"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: "a.go"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stats, err := st.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalNodes != 2 {
		t.Errorf("expected 2 nodes, got %d", stats.TotalNodes)
	}
	if stats.NodesByKind[types.NodeFunction] != 1 {
		t.Errorf("expected 1 function node, got %d", stats.NodesByKind[types.NodeFunction])
	}
}
