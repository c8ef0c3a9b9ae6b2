// Package render implements Homer's renderer framework: independent
// renderers that each own an output path and an idempotent render(store)
// -> string operation, merged against existing files through a
// preserve-block state machine (spec §4.9, §6, §9).
package render

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/homer-dev/homer/internal/homer/store"
)

const (
	preserveStart = "<!-- homer:preserve -->"
	preserveEnd   = "<!-- /homer:preserve -->"
)

// Renderer is the common interface every renderer satisfies (spec §4.9).
// OutputPath is relative to the repository root.
type Renderer interface {
	Name() string
	OutputPath() string
	Render(st *store.Store) (string, error)
}

// WriteResult reports what one Write call did.
type WriteResult struct {
	Path    string
	Content string
	Changed bool
}

// Write renders r against st, merges the result with any preserve regions
// already on disk at repoRoot/r.OutputPath(), and — unless dryRun — writes
// the merged content, creating parent directories as needed. Changed
// reports whether the final bytes differ from what was already on disk.
func Write(r Renderer, st *store.Store, repoRoot string, dryRun bool) (*WriteResult, error) {
	rendered, err := r.Render(st)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(repoRoot, r.OutputPath())
	existing, err := os.ReadFile(fullPath)
	merged := rendered
	if err == nil {
		merged = Merge(string(existing), rendered)
	}

	result := &WriteResult{Path: fullPath, Content: merged, Changed: merged != string(existing)}
	if dryRun || !result.Changed {
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(fullPath, []byte(merged), 0o644); err != nil {
		return nil, err
	}
	return result, nil
}

// segment is one run of lines from a parsed document: either ordinary
// generated content, or the verbatim body of a preserve block (excluding
// its delimiter lines).
type segment struct {
	preserve bool
	lines    []string
}

// parseSegments walks content line by line, splitting it into alternating
// generated/preserve segments. A delimiter encountered out of place (a
// start while already inside a block, an end while outside one) is
// malformed; per spec §9 malformed delimiters are kept as literal content
// rather than raising an error, so parsing never fails — it just stops
// treating that delimiter as structural.
func parseSegments(content string) []segment {
	var segments []segment
	cur := segment{}
	inPreserve := false

	flush := func() {
		if len(cur.lines) > 0 || len(segments) == 0 {
			segments = append(segments, cur)
		}
		cur = segment{preserve: inPreserve}
	}

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == preserveStart && !inPreserve:
			flush()
			inPreserve = true
			cur.preserve = true
		case trimmed == preserveEnd && inPreserve:
			flush()
			inPreserve = false
			cur.preserve = false
		default:
			cur.lines = append(cur.lines, line)
		}
	}
	segments = append(segments, cur)
	return segments
}

func joinSegments(segments []segment) string {
	var out []string
	for _, s := range segments {
		if s.preserve {
			out = append(out, preserveStart)
			out = append(out, s.lines...)
			out = append(out, preserveEnd)
		} else {
			out = append(out, s.lines...)
		}
	}
	return strings.Join(out, "\n")
}

// Merge combines a freshly rendered document with whatever preserve-block
// bodies already exist on disk: the Nth preserve block in newContent takes
// its body from the Nth preserve block in oldContent, if one exists, and
// otherwise keeps its own (first-render) default body. Everything outside
// preserve blocks always comes from newContent (spec §4.9, §9).
func Merge(oldContent, newContent string) string {
	oldSegments := parseSegments(oldContent)
	newSegments := parseSegments(newContent)

	var oldPreserve [][]string
	for _, s := range oldSegments {
		if s.preserve {
			oldPreserve = append(oldPreserve, s.lines)
		}
	}

	idx := 0
	merged := make([]segment, len(newSegments))
	for i, s := range newSegments {
		if s.preserve {
			if idx < len(oldPreserve) {
				s.lines = oldPreserve[idx]
			}
			idx++
		}
		merged[i] = s
	}
	return joinSegments(merged)
}
