package extract

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

const documentCheckpointKey = "document_last_sha"

const preserveMarker = "<!-- homer:preserve -->"

// DocumentExtractor indexes markdown documents (README, ADRs, runbooks,
// changelogs) and links their cross-references to File nodes (spec §4.3).
type DocumentExtractor struct {
	repoPath string
}

// NewDocumentExtractor constructs a Document extractor rooted at repoPath.
func NewDocumentExtractor(repoPath string) *DocumentExtractor {
	return &DocumentExtractor{repoPath: repoPath}
}

func (d *DocumentExtractor) Name() string { return "document" }

func (d *DocumentExtractor) HasWork(st *store.Store) (bool, error) {
	var docSHA, gitSHA string
	err := st.Checkpoint(documentCheckpointKey, &docSHA)
	if err != nil && !herrors.IsNotFound(err) {
		return false, err
	}
	docSet := err == nil

	err = st.Checkpoint(gitCheckpointKey, &gitSHA)
	if err != nil && !herrors.IsNotFound(err) {
		return false, err
	}
	return !docSet || docSHA != gitSHA, nil
}

func (d *DocumentExtractor) Extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	batch, err := st.BeginBatch()
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	stats, err := d.extract(batch.Store, cfg)
	if err != nil {
		batch.Rollback()
		return stats, err
	}
	if err := batch.Commit(); err != nil {
		return stats, fmt.Errorf("committing batch: %w", err)
	}
	return stats, nil
}

func (d *DocumentExtractor) extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	start := time.Now()
	stats := &ExtractStats{}

	if !cfg.Extraction.Documents.Enabled {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	paths, err := d.findDocumentFiles(cfg)
	if err != nil {
		return stats, err
	}

	for _, rel := range paths {
		if err := d.processDocument(st, stats, rel); err != nil {
			stats.recordError(rel, err)
		}
	}

	var gitSHA string
	if err := st.Checkpoint(gitCheckpointKey, &gitSHA); err != nil && !herrors.IsNotFound(err) {
		return stats, err
	}
	if err := st.SetCheckpoint(documentCheckpointKey, gitSHA); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (d *DocumentExtractor) findDocumentFiles(cfg *config.Config) ([]string, error) {
	var matched []string
	err := filepath.WalkDir(d.repoPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(d.repoPath, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if rel != "." && cfg.IsExcludedPath(rel+"/_probe_") {
				return filepath.SkipDir
			}
			return nil
		}
		if cfg.IsIncludedDocPath(rel) {
			matched = append(matched, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matched)
	return matched, nil
}

func (d *DocumentExtractor) processDocument(st *store.Store, stats *ExtractStats, rel string) error {
	content, err := os.ReadFile(filepath.Join(d.repoPath, rel))
	if err != nil {
		return herrors.Wrap(herrors.Transient, "reading document", err)
	}
	text := string(content)

	hash := contentHash(content)
	meta := map[string]any{
		"doc_type":   classifyDocument(rel),
		"title":      extractTitle(text, rel),
		"sections":   extractSections(text),
		"word_count": len(strings.Fields(text)),
	}
	if strings.Contains(text, preserveMarker) {
		meta["has_preserve_markers"] = true
	}

	docID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeDocument, Name: rel, ContentHash: &hash, Metadata: meta})
	if err != nil {
		return err
	}
	trackResultID(stats, res, docID)

	for _, xref := range extractCrossReferences(text, d.repoPath) {
		target, err := st.FindNode(types.NodeFile, xref.targetPath)
		if herrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}

		_, created, err := st.UpsertHyperedge(&types.Hyperedge{
			Kind: types.EdgeDocuments,
			Members: []types.HyperedgeMember{
				{NodeID: docID, Role: "document", Position: 0},
				{NodeID: target.ID, Role: "subject", Position: 1},
			},
			Confidence: xref.confidence,
			Metadata:   map[string]any{"ref_type": xref.refType},
		})
		if err != nil {
			return err
		}
		if created {
			stats.EdgesCreated++
		}
	}

	preview := text
	if len(preview) > 2000 {
		preview = preview[:2000]
	}
	return st.IndexText(docID, "document", preview)
}

func classifyDocument(rel string) string {
	name := strings.ToUpper(filepath.Base(rel))
	lower := strings.ToLower(rel)
	switch {
	case strings.HasPrefix(name, "README"):
		return "readme"
	case strings.HasPrefix(name, "CONTRIBUTING"):
		return "contributing"
	case strings.HasPrefix(name, "ARCHITECTURE"), strings.HasPrefix(name, "DESIGN"):
		return "architecture"
	case strings.HasPrefix(name, "CHANGELOG"), strings.HasPrefix(name, "CHANGES"):
		return "changelog"
	case strings.HasPrefix(name, "AGENTS"):
		return "runbook"
	case strings.Contains(lower, "adr/"):
		return "adr"
	case strings.Contains(lower, "doc/"), strings.Contains(lower, "docs/"):
		return "guide"
	default:
		return "other"
	}
}

func extractTitle(content, rel string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if heading, ok := strings.CutPrefix(trimmed, "# "); ok {
			return strings.TrimSpace(heading)
		}
	}
	base := filepath.Base(rel)
	if ext := filepath.Ext(base); ext != "" {
		return strings.TrimSuffix(base, ext)
	}
	return "Untitled"
}

func extractSections(content string) []string {
	var sections []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if heading, ok := strings.CutPrefix(trimmed, "## "); ok {
			sections = append(sections, strings.TrimSpace(heading))
		} else if heading, ok := strings.CutPrefix(trimmed, "### "); ok {
			sections = append(sections, strings.TrimSpace(heading))
		}
	}
	return sections
}

type crossReference struct {
	targetPath string
	refType    string
	confidence float64
}

// extractCrossReferences finds markdown links, backtick paths, and bare
// path mentions that resolve to a real file under repoRoot, deduplicated
// by target path.
func extractCrossReferences(content, repoRoot string) []crossReference {
	var refs []crossReference
	for _, line := range strings.Split(content, "\n") {
		extractLinkRefs(line, repoRoot, &refs)
		extractBacktickRefs(line, repoRoot, &refs)
		extractPathMentions(line, repoRoot, &refs)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].targetPath < refs[j].targetPath })
	var deduped []crossReference
	seen := map[string]bool{}
	for _, r := range refs {
		if seen[r.targetPath] {
			continue
		}
		seen[r.targetPath] = true
		deduped = append(deduped, r)
	}
	return deduped
}

func extractLinkRefs(line, repoRoot string, refs *[]crossReference) {
	rest := line
	for {
		start := strings.Index(rest, "](")
		if start == -1 {
			return
		}
		after := rest[start+2:]
		end := strings.IndexByte(after, ')')
		if end == -1 {
			return
		}
		target := after[:end]
		if !strings.HasPrefix(target, "http") && !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "mailto:") {
			pathPart, _, _ := strings.Cut(target, "#")
			if pathPart != "" && fileExists(repoRoot, pathPart) {
				*refs = append(*refs, crossReference{targetPath: normalizeDocPath(pathPart), refType: "link", confidence: 0.95})
			}
		}
		rest = after[end:]
	}
}

func extractBacktickRefs(line, repoRoot string, refs *[]crossReference) {
	rest := line
	for {
		start := strings.IndexByte(rest, '`')
		if start == -1 {
			return
		}
		after := rest[start+1:]
		end := strings.IndexByte(after, '`')
		if end == -1 {
			return
		}
		inside := after[:end]
		if looksLikePath(inside) && fileExists(repoRoot, inside) {
			*refs = append(*refs, crossReference{targetPath: normalizeDocPath(inside), refType: "backtick_path", confidence: 0.85})
		}
		rest = after[end+1:]
	}
}

func extractPathMentions(line, repoRoot string, refs *[]crossReference) {
	for _, word := range strings.Fields(line) {
		cleaned := strings.Trim(word, ",.:;")
		if looksLikePath(cleaned) && !strings.HasPrefix(cleaned, "http") && !strings.HasPrefix(cleaned, "#") && fileExists(repoRoot, cleaned) {
			*refs = append(*refs, crossReference{targetPath: normalizeDocPath(cleaned), refType: "path_mention", confidence: 0.7})
		}
	}
}

func looksLikePath(s string) bool {
	if len(s) < 3 {
		return false
	}
	if !strings.ContainsAny(s, "/.") {
		return false
	}
	if strings.HasPrefix(s, "http") || strings.HasPrefix(s, "mailto:") {
		return false
	}
	if strings.Contains(s, "e.g") || strings.Contains(s, "i.e") {
		return false
	}
	return true
}

func fileExists(repoRoot, rel string) bool {
	info, err := os.Stat(filepath.Join(repoRoot, rel))
	return err == nil && !info.IsDir()
}

func normalizeDocPath(p string) string {
	p = strings.TrimPrefix(p, "./")
	return filepath.ToSlash(p)
}
