package extract

import (
	"testing"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/types"
)

type fakeGoParser struct {
	results map[string]*ParseResult
}

func (f *fakeGoParser) Parse(path string, content []byte) (*ParseResult, error) {
	if r, ok := f.results[path]; ok {
		return r, nil
	}
	return &ParseResult{}, nil
}

func TestGraphExtractorCallsAndImports(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go": "package main\n\nfunc main() { helper() }\n",
		"util.go": "package main\n\nfunc helper() {}\n",
	})

	st := newTestStore(t)
	cfg := config.Default()

	if _, err := NewStructureExtractor(root).Extract(st, cfg); err != nil {
		t.Fatalf("structure extract: %v", err)
	}
	if err := st.SetCheckpoint(gitCheckpointKey, "deadbeef"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}

	parser := &fakeGoParser{results: map[string]*ParseResult{
		"main.go": {
			Definitions: []Definition{{Name: "main", QualifiedName: "main.main", Kind: "function"}},
			References:  []Reference{{Name: "helper", ContainingDef: "main.main"}},
		},
		"util.go": {
			Definitions: []Definition{{Name: "helper", QualifiedName: "main.helper", Kind: "function"}},
		},
	}}

	ex := NewGraphExtractor(root, map[string]SourceParser{"go": parser})
	stats, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", stats.Errors)
	}

	mainFn, err := st.FindNode(types.NodeFunction, "main.main")
	if err != nil {
		t.Fatalf("main.main not found: %v", err)
	}
	helperFn, err := st.FindNode(types.NodeFunction, "main.helper")
	if err != nil {
		t.Fatalf("main.helper not found: %v", err)
	}

	edges, err := st.EdgesInvolving(mainFn.ID, types.EdgeCalls)
	if err != nil {
		t.Fatalf("EdgesInvolving: %v", err)
	}
	found := false
	for _, e := range edges {
		for _, m := range e.Members {
			if m.NodeID == helperFn.ID {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("expected a Calls edge from main.main to main.helper")
	}
}

func TestGraphExtractorHasWork(t *testing.T) {
	st := newTestStore(t)
	ex := NewGraphExtractor(t.TempDir(), nil)

	work, err := ex.HasWork(st)
	if err != nil {
		t.Fatalf("HasWork: %v", err)
	}
	if !work {
		t.Errorf("expected work with no checkpoints")
	}

	if err := st.SetCheckpoint(gitCheckpointKey, "abc"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	if err := st.SetCheckpoint(graphCheckpointKey, "abc"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	work, err = ex.HasWork(st)
	if err != nil {
		t.Fatalf("HasWork: %v", err)
	}
	if work {
		t.Errorf("expected no work once checkpoints match")
	}
}
