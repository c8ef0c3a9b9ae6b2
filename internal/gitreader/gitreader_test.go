package gitreader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func createTestRepo(t *testing.T) string {
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

	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()}

	write := func(path, content string) {
		full := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		if _, err := wt.Add(path); err != nil {
			t.Fatalf("add %s: %v", path, err)
		}
	}

	write("src/main.go", "package main\n")
	if _, err := wt.Commit("initial commit", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	write("src/main.go", "package main\n\nfunc main() {}\n")
	if _, err := wt.Commit("update main", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	write("src/util.go", "package main\n\nfunc util() {}\n")
	if _, err := wt.Commit("add util", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("commit 3: %v", err)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := repo.CreateTag("v0.1.0", head.Hash(), nil); err != nil {
		t.Fatalf("create tag: %v", err)
	}

	return dir
}

func TestWalkSinceReturnsCommitsOldestFirst(t *testing.T) {
	dir := createTestRepo(t)
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	commits, err := r.WalkSince("", 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	if commits[0].Message != "initial commit" {
		t.Errorf("expected oldest commit first, got %q", commits[0].Message)
	}
	if commits[2].Message != "add util" {
		t.Errorf("expected newest commit last, got %q", commits[2].Message)
	}
}

func TestWalkSinceStopsAtCheckpoint(t *testing.T) {
	dir := createTestRepo(t)
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	all, err := r.WalkSince("", 0)
	if err != nil {
		t.Fatalf("walk all: %v", err)
	}
	checkpoint := all[0].SHA

	partial, err := r.WalkSince(checkpoint, 0)
	if err != nil {
		t.Fatalf("walk partial: %v", err)
	}
	if len(partial) != 2 {
		t.Fatalf("expected 2 commits after checkpoint, got %d", len(partial))
	}
}

func TestTagsResolveToTargetCommit(t *testing.T) {
	dir := createTestRepo(t)
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	tags, err := r.Tags()
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "v0.1.0" {
		t.Fatalf("expected one tag v0.1.0, got %v", tags)
	}

	head, err := r.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if tags[0].TargetSHA != head {
		t.Errorf("expected tag to point at HEAD %s, got %s", head, tags[0].TargetSHA)
	}
}

func TestIsAncestor(t *testing.T) {
	dir := createTestRepo(t)
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	all, err := r.WalkSince("", 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	head, err := r.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}

	ok, err := r.IsAncestor(head, all[0].SHA)
	if err != nil {
		t.Fatalf("is ancestor: %v", err)
	}
	if !ok {
		t.Error("expected first commit to be an ancestor of HEAD")
	}

	ok, err = r.IsAncestor(head, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatalf("is ancestor (missing): %v", err)
	}
	if ok {
		t.Error("expected a nonexistent SHA to not be an ancestor")
	}
}
