// Package gitreader implements Homer's GitReader capability (spec §6) over
// go-git: commit history, tags, and file diffs for the Git extractor.
package gitreader

import (
	"fmt"
	"io"
	"time"

	"github.com/go-git/go-git/v5"
	diffformat "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/homer-dev/homer/internal/homer/herrors"
)

// DiffStatus mirrors the original implementation's file-change classification.
type DiffStatus string

const (
	StatusAdded    DiffStatus = "added"
	StatusDeleted  DiffStatus = "deleted"
	StatusModified DiffStatus = "modified"
	StatusRenamed  DiffStatus = "renamed"
)

// FileDiff is one file's change within a commit.
type FileDiff struct {
	OldPath          string
	NewPath          string
	Status           DiffStatus
	LinesAdded       int
	LinesDeleted     int
	RenameSimilarity float64 // only set when Status == StatusRenamed
}

// Identity is a commit's author or committer identity.
type Identity struct {
	Name  string
	Email string
}

// Commit is one point in history, with its file-level diffs against its
// first parent (or against the empty tree, for the root commit).
type Commit struct {
	SHA        string
	ParentSHAs []string
	Author     Identity
	Committer  Identity
	Timestamp  time.Time
	Message    string
	FileDiffs  []FileDiff
}

// Tag is a lightweight or annotated tag resolved to its target commit.
type Tag struct {
	Name      string
	TargetSHA string
}

// Reader is the GitReader capability: HEAD, tags, and a commit walk bounded
// by an optional ancestor checkpoint. Walks visit commits in committer-time
// order; where commit timestamps are out of order, that order is not
// topological.
type Reader struct {
	repo *git.Repository
}

// Open opens the git repository rooted at path.
func Open(path string) (*Reader, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, herrors.Wrap(herrors.Capability, "opening git repository", err)
	}
	return &Reader{repo: repo}, nil
}

// Head returns the current HEAD commit SHA.
func (r *Reader) Head() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", herrors.Wrap(herrors.Capability, "resolving HEAD", err)
	}
	return ref.Hash().String(), nil
}

// IsAncestor reports whether candidateSHA is an ancestor of (or equal to)
// head, by walking head's history. Used to detect force-pushes: if the
// stored checkpoint is no longer an ancestor of HEAD, history was rewritten
// and the caller must fall back to a full re-extraction.
func (r *Reader) IsAncestor(headSHA, candidateSHA string) (bool, error) {
	head := plumbing.NewHash(headSHA)
	candidate := plumbing.NewHash(candidateSHA)

	iter, err := r.repo.Log(&git.LogOptions{From: head, Order: git.LogOrderCommitterTime})
	if err != nil {
		return false, herrors.Wrap(herrors.Capability, "walking history for ancestor check", err)
	}
	defer iter.Close()

	found := false
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == candidate {
			found = true
			return storerStop
		}
		return nil
	})
	if err != nil && err != storerStop {
		return false, err
	}
	return found, nil
}

// sentinel used to short-circuit object.Commit iteration.
var storerStop = fmt.Errorf("stop")

// WalkSince returns commits reachable from HEAD, oldest first, stopping at
// (and excluding) sinceSHA if it is found. If sinceSHA is empty, the whole
// history is returned. maxCommits caps the result (0 means unbounded).
func (r *Reader) WalkSince(sinceSHA string, maxCommits int) ([]*Commit, error) {
	headRef, err := r.repo.Head()
	if err != nil {
		return nil, herrors.Wrap(herrors.Capability, "resolving HEAD", err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: headRef.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, herrors.Wrap(herrors.Capability, "walking history", err)
	}
	defer iter.Close()

	var collected []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if sinceSHA != "" && c.Hash.String() == sinceSHA {
			return storerStop
		}
		collected = append(collected, c)
		if maxCommits > 0 && len(collected) >= maxCommits {
			return storerStop
		}
		return nil
	})
	if err != nil && err != storerStop {
		return nil, err
	}

	// collected is newest-first (go-git's default log order); reverse so
	// callers observe history oldest-first, parents before children.
	out := make([]*Commit, 0, len(collected))
	for i := len(collected) - 1; i >= 0; i-- {
		c, err := r.toCommit(collected[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Reader) toCommit(c *object.Commit) (*Commit, error) {
	out := &Commit{
		SHA:       c.Hash.String(),
		Author:    Identity{Name: c.Author.Name, Email: c.Author.Email},
		Committer: Identity{Name: c.Committer.Name, Email: c.Committer.Email},
		Timestamp: c.Author.When,
		Message:   c.Message,
	}
	for _, p := range c.ParentHashes {
		out.ParentSHAs = append(out.ParentSHAs, p.String())
	}

	diffs, err := r.diffAgainstFirstParent(c)
	if err != nil {
		return nil, err
	}
	out.FileDiffs = diffs
	return out, nil
}

func (r *Reader) diffAgainstFirstParent(c *object.Commit) ([]FileDiff, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, herrors.Wrap(herrors.Capability, "reading commit tree", err)
	}

	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, herrors.Wrap(herrors.Capability, "reading parent commit", err)
		}
		parentTree, err = parent.Tree()
		if err != nil {
			return nil, herrors.Wrap(herrors.Capability, "reading parent tree", err)
		}
	}

	var changes object.Changes
	if parentTree != nil {
		changes, err = parentTree.Diff(tree)
	} else {
		changes, err = (&object.Tree{}).Diff(tree)
	}
	if err != nil {
		return nil, herrors.Wrap(herrors.Capability, "diffing commit", err)
	}

	var out []FileDiff
	for _, ch := range changes {
		fd, err := fileDiffFromChange(ch)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return detectRenames(out), nil
}

// detectRenames pairs a deleted path with an added path sharing the same
// base file name, treating the pair as a rename with similarity derived
// from the ratio of their line counts. go-git's plain tree diff reports
// renames as a delete+add pair rather than a single rename change, so this
// mirrors what the original implementation gets for free from gix's rename
// detection.
func detectRenames(diffs []FileDiff) []FileDiff {
	var deleted, added, rest []FileDiff
	for _, d := range diffs {
		switch d.Status {
		case StatusDeleted:
			deleted = append(deleted, d)
		case StatusAdded:
			added = append(added, d)
		default:
			rest = append(rest, d)
		}
	}

	usedAdded := make([]bool, len(added))
	var out []FileDiff
	for _, del := range deleted {
		matched := -1
		for i, add := range added {
			if usedAdded[i] {
				continue
			}
			if baseName(add.NewPath) == baseName(del.OldPath) {
				matched = i
				break
			}
		}
		if matched == -1 {
			out = append(out, del)
			continue
		}
		usedAdded[matched] = true
		add := added[matched]
		similarity := renameSimilarity(del, add)
		out = append(out, FileDiff{
			OldPath:          del.OldPath,
			NewPath:          add.NewPath,
			Status:           StatusRenamed,
			LinesAdded:       add.LinesAdded,
			LinesDeleted:     del.LinesDeleted,
			RenameSimilarity: similarity,
		})
	}
	for i, add := range added {
		if !usedAdded[i] {
			out = append(out, add)
		}
	}
	return append(out, rest...)
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// renameSimilarity approximates content similarity from the line counts of
// the deleted and added files (the smaller divided by the larger): a move
// with little accompanying edit scores near 1.0, one that grew or shrank
// the file substantially scores lower. Line counts alone do not tell a
// same-size rewrite apart from a pure move.
func renameSimilarity(del, add FileDiff) float64 {
	oldSize := float64(del.LinesDeleted)
	newSize := float64(add.LinesAdded)
	if oldSize == 0 && newSize == 0 {
		return 1.0
	}
	if oldSize > newSize {
		return newSize / oldSize
	}
	return oldSize / newSize
}

func fileDiffFromChange(ch *object.Change) (FileDiff, error) {
	action, err := ch.Action()
	if err != nil {
		return FileDiff{}, herrors.Wrap(herrors.Input, "determining change action", err)
	}

	fd := FileDiff{}
	switch action {
	case merkletrie.Insert:
		fd.Status = StatusAdded
		fd.NewPath = ch.To.Name
	case merkletrie.Delete:
		fd.Status = StatusDeleted
		fd.OldPath = ch.From.Name
		fd.NewPath = ch.From.Name
	default:
		fd.Status = StatusModified
		fd.OldPath = ch.From.Name
		fd.NewPath = ch.To.Name
	}

	added, deleted, err := countLinesChanged(ch)
	if err == nil {
		fd.LinesAdded = added
		fd.LinesDeleted = deleted
	}
	return fd, nil
}

func countLinesChanged(ch *object.Change) (int, int, error) {
	patch, err := ch.Patch()
	if err != nil {
		return 0, 0, err
	}
	added, deleted := 0, 0
	for _, fp := range patch.FilePatches() {
		for _, chunk := range fp.Chunks() {
			lines := countNewlines(chunk.Content())
			switch chunk.Type() {
			case diffformat.Add:
				added += lines
			case diffformat.Delete:
				deleted += lines
			}
		}
	}
	return added, deleted, nil
}

func countNewlines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}

// AncestorsFrom returns the SHAs reachable from the given commit, newest
// first and including the commit itself. Used to walk backward from a
// release tag's target commit toward an earlier boundary.
func (r *Reader) AncestorsFrom(sha string) ([]string, error) {
	iter, err := r.repo.Log(&git.LogOptions{From: plumbing.NewHash(sha), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, herrors.Wrap(herrors.Capability, "walking ancestors", err)
	}
	defer iter.Close()

	var out []string
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, c.Hash.String())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Tags returns every tag resolved to its target commit SHA.
func (r *Reader) Tags() ([]Tag, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, herrors.Wrap(herrors.Capability, "listing tags", err)
	}
	defer iter.Close()

	var out []Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		// Resolve annotated tags to their target commit.
		if obj, err := r.repo.TagObject(ref.Hash()); err == nil {
			target = obj.Target
		}
		out = append(out, Tag{Name: ref.Name().Short(), TargetSHA: target.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BlobText returns the UTF-8 text content of a file at a given commit, or
// an error if the path is absent or the blob is too large/binary.
func (r *Reader) BlobText(commitSHA, path string) (string, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(commitSHA))
	if err != nil {
		return "", herrors.Wrap(herrors.Capability, "loading commit object", err)
	}
	f, err := c.File(path)
	if err != nil {
		return "", herrors.Wrap(herrors.NotFoundKind, "file not found at commit", err)
	}
	rc, err := f.Reader()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
