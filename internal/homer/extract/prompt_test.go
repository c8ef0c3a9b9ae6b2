package extract

import (
	"testing"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/types"
)

func TestClassifyRuleSource(t *testing.T) {
	cases := map[string]string{
		"AGENTS.md":              "agents-md",
		".cursor/rules/my.mdc":   "cursor",
		".windsurf/rules/r.md":   "windsurf",
		".clinerules/r.md":       "cline",
		"other.txt":              "unknown",
	}
	for path, want := range cases {
		if got := classifyRuleSource(path); got != want {
			t.Errorf("classifyRuleSource(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractFileReferences(t *testing.T) {
	content := "Use `src/main.go` for the entry point.\nSee `src/lib.go` for the API.\n"
	refs := extractFileReferences(content)
	want := []string{"src/lib.go", "src/main.go"}
	if len(refs) != len(want) {
		t.Fatalf("extractFileReferences = %v, want %v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("extractFileReferences[%d] = %q, want %q", i, refs[i], want[i])
		}
	}
}

func TestExtractFileReferencesIgnoresNonPaths(t *testing.T) {
	content := "Use `go build` to compile.\nTry `--verbose` flag.\n"
	if refs := extractFileReferences(content); len(refs) != 0 {
		t.Errorf("expected no references, got %v", refs)
	}
}

func TestNormalizeFilePath(t *testing.T) {
	cases := map[string]string{
		"./src/main.go":                  "src/main.go",
		"src\\lib.go":                    "src/lib.go",
		"/home/user/project/src/main.go": "src/main.go",
	}
	for in, want := range cases {
		if got := normalizeFilePath(in); got != want {
			t.Errorf("normalizeFilePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSessionJSONL(t *testing.T) {
	jsonl := `{"role":"user","content":"read src/main.go"}
{"role":"assistant","content":[{"type":"tool_use","name":"Read","input":{"file_path":"src/main.go"}}]}
{"role":"assistant","content":[{"type":"tool_use","name":"Edit","input":{"file_path":"src/lib.go","old_string":"a","new_string":"b"}}]}
{"role":"user","content":"actually, revert that"}
`
	interactions := parseSessionJSONL([]byte(jsonl))
	if len(interactions) != 2 {
		t.Fatalf("expected 2 interactions, got %d", len(interactions))
	}

	found := false
	for _, f := range interactions[0].referencedFiles {
		if f == "src/main.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected first interaction to reference src/main.go, got %v", interactions[0].referencedFiles)
	}

	found = false
	for _, f := range interactions[1].modifiedFiles {
		if f == "src/lib.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected second interaction to modify src/lib.go, got %v", interactions[1].modifiedFiles)
	}
	if !interactions[1].hadCorrection {
		t.Errorf("expected second interaction to be flagged as corrected")
	}
}

func TestDetectCorrectionMarkers(t *testing.T) {
	lines := []string{
		`{"role":"assistant","content":[{"type":"tool_use","name":"Edit","input":{"file_path":"src/main.go","old_string":"a","new_string":"b"}}]}`,
		`{"role":"user","content":"no, that's wrong"}`,
	}
	if !detectCorrection(lines, 0, map[string]bool{}) {
		t.Errorf("expected correction marker to be detected")
	}
}

func TestDetectCorrectionNoMarkers(t *testing.T) {
	lines := []string{
		`{"role":"assistant","content":[{"type":"tool_use","name":"Read","input":{"file_path":"src/main.go"}}]}`,
		`{"role":"user","content":"now add a test for it"}`,
	}
	if detectCorrection(lines, 0, map[string]bool{}) {
		t.Errorf("expected no correction marker")
	}
}

func TestPromptExtractorAgentRules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"AGENTS.md": "# AGENTS.md\n\nUse `src/main.go` as entry point.\nPrefer snake_case.\n",
		"src/main.go": "package main\n\nfunc main() {}\n",
	})

	st := newTestStore(t)
	cfg := config.Default()

	if _, err := NewStructureExtractor(root).Extract(st, cfg); err != nil {
		t.Fatalf("structure extract: %v", err)
	}

	ex := NewPromptExtractor(root)
	stats, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if stats.NodesCreated == 0 {
		t.Errorf("expected an AgentRule node to be created")
	}
	if stats.EdgesCreated == 0 {
		t.Errorf("expected a PromptReferences edge to src/main.go")
	}

	rule, err := st.FindNode(types.NodeAgentRule, "AGENTS.md")
	if err != nil {
		t.Fatalf("AGENTS.md rule not found: %v", err)
	}
	if rule.Metadata["source"] != "agents-md" {
		t.Errorf("expected source agents-md, got %v", rule.Metadata["source"])
	}
}

func TestPromptExtractorSkipsUnchangedRule(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"AGENTS.md": "# Rules\n",
	})

	st := newTestStore(t)
	cfg := config.Default()
	ex := NewPromptExtractor(root)

	stats1, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	if stats1.NodesCreated != 1 {
		t.Fatalf("expected 1 node created, got %d", stats1.NodesCreated)
	}

	stats2, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if stats2.NodesCreated != 0 {
		t.Errorf("expected unchanged rule to be skipped, got %d nodes created", stats2.NodesCreated)
	}
}

func TestPromptExtractorSessionsDisabledByDefault(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".agent/sessions/test/session.jsonl": `{"role":"user","content":"hello"}`,
	})

	st := newTestStore(t)
	cfg := config.Default()
	ex := NewPromptExtractor(root)

	if _, err := ex.Extract(st, cfg); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	sessions, err := st.FindNodes(types.NodeFilter{Kind: types.NodeAgentSession})
	if err != nil {
		t.Fatalf("FindNodes: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions extracted when prompts.enabled is false, got %d", len(sessions))
	}
}

func TestPromptExtractorSessionCorrelation(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/main.go":                         "package main\n",
		".agent/sessions/test/session.jsonl": `{"role":"assistant","content":[{"type":"tool_use","name":"Edit","input":{"file_path":"src/main.go","old_string":"a","new_string":"b"}}]}` + "\n",
	})

	st := newTestStore(t)
	cfg := config.Default()
	cfg.Extraction.Prompts.Enabled = true

	if _, err := NewStructureExtractor(root).Extract(st, cfg); err != nil {
		t.Fatalf("structure extract: %v", err)
	}

	ex := NewPromptExtractor(root)

	// Process the session first so its stored timestamp precedes the
	// commit's last_extracted time; correlation only matches a commit that
	// lands within 24h after the session.
	stats, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("first Extract: %v", err)
	}
	if stats.NodesCreated == 0 {
		t.Errorf("expected an AgentSession node to be created")
	}

	commitID, _, err := st.UpsertNode(&types.Node{Kind: types.NodeCommit, Name: "deadbeef"})
	if err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	fileID, err := st.FindNode(types.NodeFile, "src/main.go")
	if err != nil {
		t.Fatalf("find file: %v", err)
	}
	if _, _, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeModifies,
		Members: []types.HyperedgeMember{
			{NodeID: commitID, Role: "commit", Position: 0},
			{NodeID: fileID.ID, Role: "file", Position: 1},
		},
		Confidence: 1.0,
	}); err != nil {
		t.Fatalf("seed modifies edge: %v", err)
	}

	// Re-run so correlateSessionsWithCommits sees the now-present commit.
	if _, err := ex.Extract(st, cfg); err != nil {
		t.Fatalf("second Extract: %v", err)
	}

	sessions, err := st.FindNodes(types.NodeFilter{Kind: types.NodeAgentSession})
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d (%v)", len(sessions), err)
	}

	related, err := st.EdgesInvolving(sessions[0].ID, types.EdgeRelatedPrompts)
	if err != nil {
		t.Fatalf("EdgesInvolving: %v", err)
	}
	if len(related) != 1 {
		t.Errorf("expected one RelatedPrompts edge correlating the session to the seeded commit, got %d", len(related))
	}
}
