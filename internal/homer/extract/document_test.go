package extract

import (
	"testing"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/types"
)

func TestDocumentExtractorBasic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/main.go": "package main\n",
		"src/lib.go":  "package main\n",
		"README.md": "# My Project\n\n" +
			"## Overview\n\nThis is a test project. See [the library](src/lib.go) for the API.\n\n" +
			"## Getting Started\n\nRun `src/main.go` to start.\n",
		"docs/adr/001-use-go.md": "# ADR 001: Use Go\n\n## Status\n\nAccepted\n\n## Context\n\nSee `src/lib.go` for the core implementation.\n",
		"AGENTS.md":              "# AGENTS.md\n\n<!-- homer:preserve -->\n## Custom Section\nHuman content.\n\n## Module Map\nAuto-generated.\n",
	})

	st := newTestStore(t)
	cfg := config.Default()

	if _, err := NewStructureExtractor(root).Extract(st, cfg); err != nil {
		t.Fatalf("structure extract: %v", err)
	}

	ex := NewDocumentExtractor(root)
	stats, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if stats.NodesCreated == 0 {
		t.Errorf("expected document nodes to be created")
	}
	if stats.EdgesCreated == 0 {
		t.Errorf("expected cross-reference edges to be created")
	}

	readme, err := st.FindNode(types.NodeDocument, "README.md")
	if err != nil {
		t.Fatalf("README.md not found: %v", err)
	}
	if readme.Metadata["title"] != "My Project" {
		t.Errorf("expected title 'My Project', got %v", readme.Metadata["title"])
	}

	agents, err := st.FindNode(types.NodeDocument, "AGENTS.md")
	if err != nil {
		t.Fatalf("AGENTS.md not found: %v", err)
	}
	if agents.Metadata["has_preserve_markers"] != true {
		t.Errorf("expected AGENTS.md to carry has_preserve_markers, got %v", agents.Metadata["has_preserve_markers"])
	}

	edges, err := st.EdgesInvolving(readme.ID, types.EdgeDocuments)
	if err != nil {
		t.Fatalf("EdgesInvolving: %v", err)
	}
	if len(edges) == 0 {
		t.Errorf("expected README to carry Documents edges to referenced files")
	}
}

func TestClassifyDocument(t *testing.T) {
	cases := map[string]string{
		"README.md":            "readme",
		"CONTRIBUTING.md":      "contributing",
		"docs/adr/001-foo.md":  "adr",
		"CHANGELOG.md":         "changelog",
		"docs/guide.md":        "guide",
		"AGENTS.md":            "runbook",
	}
	for path, want := range cases {
		if got := classifyDocument(path); got != want {
			t.Errorf("classifyDocument(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractTitleAndSections(t *testing.T) {
	if got := extractTitle("# My Title\n\nContent", "test.md"); got != "My Title" {
		t.Errorf("extractTitle = %q", got)
	}
	if got := extractTitle("No heading here", "test.md"); got != "test" {
		t.Errorf("extractTitle fallback = %q", got)
	}

	sections := extractSections("# Title\n## Section 1\nContent\n## Section 2\n### Sub\n")
	want := []string{"Section 1", "Section 2", "Sub"}
	if len(sections) != len(want) {
		t.Fatalf("extractSections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Errorf("extractSections[%d] = %q, want %q", i, sections[i], want[i])
		}
	}
}
