package extract

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/types"
)

type testRepo struct {
	dir  string
	repo *git.Repository
	wt   *git.Worktree
	sig  *object.Signature
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	return &testRepo{
		dir:  dir,
		repo: repo,
		wt:   wt,
		sig:  &object.Signature{Name: "Alice", Email: "alice@example.com", When: time.Now()},
	}
}

func (tr *testRepo) write(t *testing.T, path, content string) {
	t.Helper()
	full := filepath.Join(tr.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := tr.wt.Add(path); err != nil {
		t.Fatalf("add %s: %v", path, err)
	}
}

func (tr *testRepo) remove(t *testing.T, path string) {
	t.Helper()
	if _, err := tr.wt.Remove(path); err != nil {
		t.Fatalf("remove %s: %v", path, err)
	}
}

func (tr *testRepo) commit(t *testing.T, msg string) string {
	t.Helper()
	h, err := tr.wt.Commit(msg, &git.CommitOptions{Author: tr.sig})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return h.String()
}

func (tr *testRepo) tag(t *testing.T, name string) {
	t.Helper()
	head, err := tr.repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := tr.repo.CreateTag(name, head.Hash(), nil); err != nil {
		t.Fatalf("tag %s: %v", name, err)
	}
}

func TestGitExtractorBasic(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "main.go", "package main\n")
	tr.commit(t, "initial commit")
	tr.write(t, "main.go", "package main\n\nfunc main() {}\n")
	tr.commit(t, "update main")
	tr.tag(t, "v0.1.0")

	st := newTestStore(t)
	cfg := config.Default()
	ex := NewGitExtractor(tr.dir)

	stats, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", stats.Errors)
	}
	if stats.NodesCreated == 0 {
		t.Errorf("expected nodes to be created")
	}

	if _, err := st.FindNode(types.NodeContributor, "alice@example.com"); err != nil {
		t.Errorf("contributor not found: %v", err)
	}
	if _, err := st.FindNode(types.NodeRelease, "v0.1.0"); err != nil {
		t.Errorf("release not found: %v", err)
	}
	if _, err := st.FindNode(types.NodeFile, "main.go"); err != nil {
		t.Errorf("file not found: %v", err)
	}

	nodes, err := st.FindNodes(types.NodeFilter{Kind: types.NodeCommit})
	if err != nil {
		t.Fatalf("FindNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("expected 2 commits, got %d", len(nodes))
	}
}

func TestGitExtractorHasWorkAndCheckpoint(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "a.go", "package a\n")
	tr.commit(t, "initial")

	st := newTestStore(t)
	cfg := config.Default()
	ex := NewGitExtractor(tr.dir)

	work, err := ex.HasWork(st)
	if err != nil {
		t.Fatalf("HasWork: %v", err)
	}
	if !work {
		t.Errorf("expected work before first extraction")
	}

	if _, err := ex.Extract(st, cfg); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	work, err = ex.HasWork(st)
	if err != nil {
		t.Fatalf("HasWork after extract: %v", err)
	}
	if work {
		t.Errorf("expected no work once checkpoint matches HEAD")
	}

	second, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if second.NodesCreated != 0 || second.EdgesCreated != 0 {
		t.Errorf("expected idempotent no-op re-extraction, got %+v", second)
	}

	tr.write(t, "b.go", "package a\n\nfunc B() {}\n")
	tr.commit(t, "add b")

	work, err = ex.HasWork(st)
	if err != nil {
		t.Fatalf("HasWork after new commit: %v", err)
	}
	if !work {
		t.Errorf("expected work after a new commit")
	}

	third, err := ex.Extract(st, cfg)
	if err != nil {
		t.Fatalf("third Extract: %v", err)
	}
	if third.NodesCreated == 0 {
		t.Errorf("expected new nodes from the new commit")
	}

	nodes, err := st.FindNodes(types.NodeFilter{Kind: types.NodeCommit})
	if err != nil {
		t.Fatalf("FindNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("expected 2 commits total, got %d", len(nodes))
	}
}

func TestGitExtractorRenameCreatesAlias(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "pkg/old/widget.go", "package widget\n\nfunc Do() {}\n")
	tr.commit(t, "add file")

	tr.remove(t, "pkg/old/widget.go")
	tr.write(t, "pkg/new/widget.go", "package widget\n\nfunc Do() {}\n")
	if _, err := tr.wt.Add("pkg/new/widget.go"); err != nil {
		t.Fatalf("add: %v", err)
	}
	tr.commit(t, "move file")

	st := newTestStore(t)
	cfg := config.Default()
	ex := NewGitExtractor(tr.dir)

	if _, err := ex.Extract(st, cfg); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	canonical, err := st.ResolveCanonical(string(types.NodeFile), "pkg/old/widget.go")
	if err != nil {
		t.Fatalf("ResolveCanonical: %v", err)
	}
	if canonical != "pkg/new/widget.go" {
		t.Errorf("expected canonical name pkg/new/widget.go, got %q", canonical)
	}
}

func TestGitExtractorReleaseIncludesEdges(t *testing.T) {
	tr := newTestRepo(t)
	tr.write(t, "a.go", "package a\n")
	tr.commit(t, "c1")
	tr.write(t, "a.go", "package a\n// v2\n")
	tr.commit(t, "c2")
	tr.tag(t, "v1.0.0")

	tr.write(t, "a.go", "package a\n// v3\n")
	tr.commit(t, "c3")
	tr.tag(t, "v2.0.0")

	st := newTestStore(t)
	cfg := config.Default()
	ex := NewGitExtractor(tr.dir)

	if _, err := ex.Extract(st, cfg); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	v2, err := st.FindNode(types.NodeRelease, "v2.0.0")
	if err != nil {
		t.Fatalf("release v2.0.0 not found: %v", err)
	}
	edges, err := st.EdgesInvolving(v2.ID, types.EdgeIncludes)
	if err != nil {
		t.Fatalf("EdgesInvolving: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("expected v2.0.0 to include exactly the commit between it and v1.0.0, got %d edges", len(edges))
	}
}
