package analyze

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenPath(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustNode(t *testing.T, st *store.Store, kind types.NodeKind, name string) types.NodeID {
	t.Helper()
	id, _, err := st.UpsertNode(&types.Node{Kind: kind, Name: name})
	if err != nil {
		t.Fatalf("upsert node %s: %v", name, err)
	}
	return id
}

// seedCommit writes one Modifies edge (touching the given files, with equal
// lines added/deleted) and its matching Authored edge.
func seedCommit(t *testing.T, st *store.Store, commit, author types.NodeID, when time.Time, files []types.NodeID, filePaths []string) {
	t.Helper()

	filesMeta := make([]any, len(files))
	members := []types.HyperedgeMember{{NodeID: commit, Role: "commit", Position: 0}}
	for i, f := range files {
		members = append(members, types.HyperedgeMember{NodeID: f, Role: "file", Position: i + 1})
		filesMeta[i] = map[string]any{"path": filePaths[i], "lines_added": 10, "lines_deleted": 2}
	}
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind:        types.EdgeModifies,
		Members:     members,
		Confidence:  1,
		Metadata:    map[string]any{"files": filesMeta},
		LastUpdated: when,
	}); err != nil {
		t.Fatalf("seed modifies edge: %v", err)
	}

	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeAuthored,
		Members: []types.HyperedgeMember{
			{NodeID: author, Role: "author", Position: 0},
			{NodeID: commit, Role: "commit", Position: 1},
		},
		Confidence:  1,
		LastUpdated: when,
	}); err != nil {
		t.Fatalf("seed authored edge: %v", err)
	}
}

func TestBehavioralAnalyzerChangeFrequencyAndCoChange(t *testing.T) {
	st := mustOpen(t)

	authorA := mustNode(t, st, types.NodeContributor, "alice@example.com")
	fileX := mustNode(t, st, types.NodeFile, "pkg/x.go")
	fileY := mustNode(t, st, types.NodeFile, "pkg/y.go")
	fileZ := mustNode(t, st, types.NodeFile, "pkg/z.go")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		commit := mustNode(t, st, types.NodeCommit, sprintfCommit(i))
		seedCommit(t, st, commit, authorA, base.Add(time.Duration(i)*24*time.Hour),
			[]types.NodeID{fileX, fileY, fileZ}, []string{"pkg/x.go", "pkg/y.go", "pkg/z.go"})
	}

	cfg := config.Default()
	analyzer := NewBehavioralAnalyzer()
	stats, err := analyzer.Run(st, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", stats.Errors)
	}
	if stats.NodesAnalyzed != 3 {
		t.Errorf("expected 3 files analyzed, got %d", stats.NodesAnalyzed)
	}

	freq, err := st.GetAnalysis(fileX, types.AnalysisChangeFrequency)
	if err != nil {
		t.Fatalf("get change frequency: %v", err)
	}
	if total, _ := toInt(freq.Data["total"]); total != 4 {
		t.Errorf("expected total=4, got %v", freq.Data["total"])
	}

	edges, err := st.EdgesOfKind(types.EdgeCoChanges)
	if err != nil {
		t.Fatalf("edges of kind: %v", err)
	}
	if len(edges) == 0 {
		t.Fatal("expected at least one co-change cluster for three files changed together every commit")
	}
	if len(edges[0].Members) != 3 {
		t.Errorf("expected a 3-member cluster, got %d members", len(edges[0].Members))
	}
}

func TestBehavioralAnalyzerContributorConcentration(t *testing.T) {
	st := mustOpen(t)

	authorA := mustNode(t, st, types.NodeContributor, "alice@example.com")
	authorB := mustNode(t, st, types.NodeContributor, "bob@example.com")
	fileX := mustNode(t, st, types.NodeFile, "pkg/x.go")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		commit := mustNode(t, st, types.NodeCommit, sprintfCommit(i))
		seedCommit(t, st, commit, authorA, base.Add(time.Duration(i)*24*time.Hour), []types.NodeID{fileX}, []string{"pkg/x.go"})
	}
	commit := mustNode(t, st, types.NodeCommit, "commit-extra")
	seedCommit(t, st, commit, authorB, base.Add(9*24*time.Hour), []types.NodeID{fileX}, []string{"pkg/x.go"})

	cfg := config.Default()
	if _, err := NewBehavioralAnalyzer().Run(st, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	cc, err := st.GetAnalysis(fileX, types.AnalysisContributorConcentration)
	if err != nil {
		t.Fatalf("get contributor concentration: %v", err)
	}
	if unique, _ := toInt(cc.Data["unique_authors"]); unique != 2 {
		t.Errorf("expected 2 unique authors, got %v", cc.Data["unique_authors"])
	}
	if bf, _ := toInt(cc.Data["bus_factor"]); bf != 1 {
		t.Errorf("expected bus factor 1 (alice alone covers >=80%%), got %v", cc.Data["bus_factor"])
	}
}

func TestBehavioralAnalyzerDocumentationCoverageAndFreshness(t *testing.T) {
	st := mustOpen(t)

	authorA := mustNode(t, st, types.NodeContributor, "alice@example.com")
	fileX := mustNode(t, st, types.NodeFile, "pkg/x.go")
	fileY := mustNode(t, st, types.NodeFile, "pkg/y.go")

	if _, _, err := st.UpsertNode(&types.Node{
		Kind: types.NodeFunction, Name: "pkg:Documented",
		Metadata: map[string]any{"file": "pkg/x.go", "doc_text": "does a thing"},
	}); err != nil {
		t.Fatalf("upsert documented func: %v", err)
	}
	if _, _, err := st.UpsertNode(&types.Node{
		Kind: types.NodeFunction, Name: "pkg:Undocumented",
		Metadata: map[string]any{"file": "pkg/y.go"},
	}); err != nil {
		t.Fatalf("upsert undocumented func: %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		commit := mustNode(t, st, types.NodeCommit, sprintfCommit(i))
		seedCommit(t, st, commit, authorA, base.Add(time.Duration(i)*24*time.Hour),
			[]types.NodeID{fileY}, []string{"pkg/y.go"})
	}

	cfg := config.Default()
	if _, err := NewBehavioralAnalyzer().Run(st, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	docX, err := st.GetAnalysis(fileX, types.AnalysisDocumentationCoverage)
	if err != nil {
		t.Fatalf("get documentation coverage for x: %v", err)
	}
	if docX.Data["status"] != "documented" {
		t.Errorf("expected x.go to be fully documented, got %v", docX.Data["status"])
	}

	docY, err := st.GetAnalysis(fileY, types.AnalysisDocumentationCoverage)
	if err != nil {
		t.Fatalf("get documentation coverage for y: %v", err)
	}
	if docY.Data["status"] != "undocumented" {
		t.Errorf("expected y.go to be undocumented, got %v", docY.Data["status"])
	}

	freshY, err := st.GetAnalysis(fileY, types.AnalysisDocumentationFreshness)
	if err != nil {
		t.Fatalf("get documentation freshness for y: %v", err)
	}
	if stale, _ := freshY.Data["stale"].(bool); !stale {
		t.Errorf("expected y.go (undocumented, heavily churned) to be flagged stale, got %v", freshY.Data)
	}
}

func TestBehavioralAnalyzerPromptAndCorrectionHotspots(t *testing.T) {
	st := mustOpen(t)

	fileX := mustNode(t, st, types.NodeFile, "pkg/x.go")
	fileY := mustNode(t, st, types.NodeFile, "pkg/y.go")

	session, _, err := st.UpsertNode(&types.Node{
		Kind: types.NodeAgentSession, Name: "session-1",
		Metadata: map[string]any{"interaction_count": 5, "correction_count": 2},
	})
	if err != nil {
		t.Fatalf("upsert session: %v", err)
	}

	// Session referenced both files but only modified (and corrected on) y.go.
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgePromptReferences,
		Members: []types.HyperedgeMember{
			{NodeID: session, Role: "session", Position: 0},
			{NodeID: fileX, Role: "file", Position: 1},
		},
		Confidence: 0.9,
	}); err != nil {
		t.Fatalf("seed prompt references x: %v", err)
	}
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgePromptReferences,
		Members: []types.HyperedgeMember{
			{NodeID: session, Role: "session", Position: 0},
			{NodeID: fileY, Role: "file", Position: 1},
		},
		Confidence: 0.9,
	}); err != nil {
		t.Fatalf("seed prompt references y: %v", err)
	}
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgePromptModifiedFiles,
		Members: []types.HyperedgeMember{
			{NodeID: session, Role: "session", Position: 0},
			{NodeID: fileY, Role: "file", Position: 1},
		},
		Confidence: 1.0,
	}); err != nil {
		t.Fatalf("seed prompt modified y: %v", err)
	}

	cfg := config.Default()
	if _, err := NewBehavioralAnalyzer().Run(st, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	hotX, err := st.GetAnalysis(fileX, types.AnalysisPromptHotspot)
	if err != nil {
		t.Fatalf("get prompt hotspot for x: %v", err)
	}
	refs, _ := toInt(hotX.Data["reference_count"])
	mods, _ := toInt(hotX.Data["modification_count"])
	if refs != 1 || mods != 0 {
		t.Errorf("expected x.go referenced once and never modified, got %v", hotX.Data)
	}

	if _, err := st.GetAnalysis(fileX, types.AnalysisCorrectionHotspot); err == nil {
		t.Error("expected no correction hotspot for a file that was never modified")
	}

	correctionY, err := st.GetAnalysis(fileY, types.AnalysisCorrectionHotspot)
	if err != nil {
		t.Fatalf("get correction hotspot for y: %v", err)
	}
	if confusion, _ := correctionY.Data["is_confusion_zone"].(bool); !confusion {
		t.Errorf("expected y.go (2 corrections over 5 interactions) to be a confusion zone, got %v", correctionY.Data)
	}
}

func sprintfCommit(i int) string {
	return "commit-" + string(rune('a'+i))
}
