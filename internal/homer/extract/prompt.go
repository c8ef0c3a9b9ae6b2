package extract

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// PromptExtractor indexes agent rule files (AGENTS.md and similar editor
// context files, always extracted since they're committed to the repo)
// and, opt-in, agent session transcripts correlated against commits
// (spec §4.3).
type PromptExtractor struct {
	repoPath string
}

// NewPromptExtractor constructs a Prompt extractor rooted at repoPath.
func NewPromptExtractor(repoPath string) *PromptExtractor {
	return &PromptExtractor{repoPath: repoPath}
}

func (p *PromptExtractor) Name() string { return "prompt" }

// HasWork always reports true: agent rule files are cheap to re-scan, and
// per-file content hashing inside UpsertNode skips anything unchanged.
func (p *PromptExtractor) HasWork(st *store.Store) (bool, error) {
	return true, nil
}

func (p *PromptExtractor) Extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	batch, err := st.BeginBatch()
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	stats, err := p.runExtraction(batch.Store, cfg)
	if err != nil {
		batch.Rollback()
		return stats, err
	}
	if err := batch.Commit(); err != nil {
		return stats, fmt.Errorf("committing batch: %w", err)
	}
	return stats, nil
}

func (p *PromptExtractor) runExtraction(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	start := time.Now()
	stats := &ExtractStats{}

	p.extractAgentRules(st, cfg, stats)

	if !cfg.Extraction.Prompts.Enabled {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	p.extractSessions(st, cfg, stats)
	p.correlateSessionsWithCommits(st, stats)

	stats.Duration = time.Since(start)
	return stats, nil
}

// ── Agent rule extraction (always runs) ──────────────────────────

func (p *PromptExtractor) extractAgentRules(st *store.Store, cfg *config.Config, stats *ExtractStats) {
	ruleFiles, err := p.matchGlobs(cfg.Extraction.Prompts.RuleGlobs)
	if err != nil {
		stats.recordError("agent_rules", err)
		return
	}
	for _, rel := range ruleFiles {
		if err := p.processAgentRule(st, stats, rel); err != nil {
			stats.recordError(rel, err)
		}
	}
}

func (p *PromptExtractor) processAgentRule(st *store.Store, stats *ExtractStats, rel string) error {
	content, err := os.ReadFile(filepath.Join(p.repoPath, rel))
	if err != nil {
		return herrors.Wrap(herrors.Transient, "reading agent rule", err)
	}

	hash := contentHash(content)
	if existing, err := st.FindNode(types.NodeAgentRule, rel); err == nil {
		if existing.ContentHash != nil && *existing.ContentHash == hash {
			return nil
		}
	} else if !herrors.IsNotFound(err) {
		return err
	}

	refs := extractFileReferences(string(content))
	meta := map[string]any{
		"source":           classifyRuleSource(rel),
		"size_bytes":       len(content),
		"referenced_files": refs,
	}

	ruleID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeAgentRule, Name: rel, ContentHash: &hash, Metadata: meta})
	if err != nil {
		return err
	}
	trackResultID(stats, res, ruleID)

	for _, ref := range refs {
		target, err := st.FindNode(types.NodeFile, ref)
		if herrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		_, created, err := st.UpsertHyperedge(&types.Hyperedge{
			Kind: types.EdgePromptReferences,
			Members: []types.HyperedgeMember{
				{NodeID: ruleID, Role: "rule", Position: 0},
				{NodeID: target.ID, Role: "file", Position: 1},
			},
			Confidence: 0.8,
		})
		if err != nil {
			return err
		}
		if created {
			stats.EdgesCreated++
		}
	}
	return nil
}

func classifyRuleSource(rel string) string {
	lower := strings.ToLower(rel)
	base := filepath.Base(rel)
	switch {
	case strings.Contains(lower, ".cursor/"):
		return "cursor"
	case strings.Contains(lower, ".windsurf/"):
		return "windsurf"
	case strings.Contains(lower, ".clinerules/"):
		return "cline"
	case strings.EqualFold(base, "AGENTS.md"):
		return "agents-md"
	default:
		return "unknown"
	}
}

// extractFileReferences finds backtick-quoted source paths mentioned in
// rule/doc content, deduplicated and sorted.
func extractFileReferences(content string) []string {
	seen := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		rest := line
		for {
			start := strings.IndexByte(rest, '`')
			if start == -1 {
				break
			}
			after := rest[start+1:]
			end := strings.IndexByte(after, '`')
			if end == -1 {
				break
			}
			inside := after[:end]
			if looksLikeSourcePath(inside) {
				seen[normalizeFilePath(inside)] = true
			}
			rest = after[end+1:]
		}
	}

	out := make([]string, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

func looksLikeSourcePath(s string) bool {
	if len(s) < 3 || len(s) > 200 {
		return false
	}
	hasSlash := strings.Contains(s, "/")
	hasExt := strings.Contains(s, ".")
	noSpaces := !strings.Contains(s, " ")
	noURL := !strings.HasPrefix(s, "http") && !strings.HasPrefix(s, "mailto:")
	return (hasSlash || hasExt) && noSpaces && noURL
}

// normalizeFilePath strips a leading "./", collapses an absolute path
// down to a repo-relative tail anchored on "/src/" (or its last three
// components otherwise), and converts backslashes to forward slashes.
func normalizeFilePath(path string) string {
	cleaned := strings.TrimPrefix(path, "./")
	if strings.HasPrefix(cleaned, "/") {
		if idx := strings.Index(cleaned, "/src/"); idx != -1 {
			return cleaned[idx+1:]
		}
		parts := strings.Split(cleaned, "/")
		if len(parts) > 3 {
			return strings.Join(parts[len(parts)-3:], "/")
		}
	}
	return strings.ReplaceAll(cleaned, "\\", "/")
}

// ── Agent session extraction (opt-in) ─────────────────────────────

type agentInteraction struct {
	sessionID       string
	referencedFiles []string
	modifiedFiles   []string
	timestamp       time.Time
	hadCorrection   bool
	toolUses        int
}

func (p *PromptExtractor) extractSessions(st *store.Store, cfg *config.Config, stats *ExtractStats) {
	var usesAgentCLI bool
	for _, s := range cfg.Extraction.Prompts.Sources {
		if s == "agent-cli" {
			usesAgentCLI = true
		}
	}
	if !usesAgentCLI {
		return
	}

	sessionFiles, err := p.matchGlobs(cfg.Extraction.Prompts.SessionGlobs)
	if err != nil {
		stats.recordError("agent_sessions", err)
		return
	}
	for _, rel := range sessionFiles {
		if err := p.processSessionFile(st, cfg, stats, rel); err != nil {
			stats.recordError(rel, err)
		}
	}
}

func (p *PromptExtractor) processSessionFile(st *store.Store, cfg *config.Config, stats *ExtractStats, rel string) error {
	content, err := os.ReadFile(filepath.Join(p.repoPath, rel))
	if err != nil {
		return herrors.Wrap(herrors.Transient, "reading session log", err)
	}

	interactions := parseSessionJSONL(content)
	if len(interactions) == 0 {
		return nil
	}

	sessionID := interactions[0].sessionID
	displayID := sessionID
	if cfg.Extraction.Prompts.HashSessionIDs {
		displayID = "session:" + hexHash(contentHash([]byte(sessionID)))
	}

	hash := contentHash(content)
	if existing, err := st.FindNode(types.NodeAgentSession, displayID); err == nil {
		if existing.ContentHash != nil && *existing.ContentHash == hash {
			return nil
		}
	} else if !herrors.IsNotFound(err) {
		return err
	}

	meta := buildSessionMetadata(interactions)
	sessionNodeID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeAgentSession, Name: displayID, ContentHash: &hash, Metadata: meta})
	if err != nil {
		return err
	}
	trackResultID(stats, res, sessionNodeID)

	return p.createSessionEdges(st, cfg, stats, interactions, sessionID, sessionNodeID)
}

func (p *PromptExtractor) createSessionEdges(st *store.Store, cfg *config.Config, stats *ExtractStats, interactions []agentInteraction, sessionID string, sessionNodeID types.NodeID) error {
	referenced := map[string]bool{}
	modified := map[string]bool{}
	for _, in := range interactions {
		for _, f := range in.referencedFiles {
			referenced[f] = true
		}
		for _, f := range in.modifiedFiles {
			modified[f] = true
		}
	}

	if err := linkSessionFiles(st, stats, sessionNodeID, referenced, types.EdgePromptReferences, 0.9); err != nil {
		return err
	}
	if err := linkSessionFiles(st, stats, sessionNodeID, modified, types.EdgePromptModifiedFiles, 1.0); err != nil {
		return err
	}

	if !cfg.Extraction.Prompts.StoreFullText {
		return nil
	}
	for _, in := range interactions {
		promptName := sessionID + ":" + in.timestamp.UTC().Format(time.RFC3339Nano)
		_, res, err := st.UpsertNode(&types.Node{
			Kind: types.NodePrompt,
			Name: promptName,
			Metadata: map[string]any{
				"referenced_files": in.referencedFiles,
				"modified_files":   in.modifiedFiles,
				"had_correction":   in.hadCorrection,
			},
		})
		if err != nil {
			return err
		}
		trackResult(stats, res)
	}
	return nil
}

func linkSessionFiles(st *store.Store, stats *ExtractStats, sessionNodeID types.NodeID, files map[string]bool, kind types.HyperedgeKind, confidence float64) error {
	for f := range files {
		target, err := st.FindNode(types.NodeFile, f)
		if herrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		_, created, err := st.UpsertHyperedge(&types.Hyperedge{
			Kind: kind,
			Members: []types.HyperedgeMember{
				{NodeID: sessionNodeID, Role: "session", Position: 0},
				{NodeID: target.ID, Role: "file", Position: 1},
			},
			Confidence: confidence,
		})
		if err != nil {
			return err
		}
		if created {
			stats.EdgesCreated++
		}
	}
	return nil
}

func buildSessionMetadata(interactions []agentInteraction) map[string]any {
	corrections := 0
	referenced := map[string]bool{}
	modified := map[string]bool{}
	var totalTools int
	earliest := interactions[0].timestamp
	for _, in := range interactions {
		if in.hadCorrection {
			corrections++
		}
		for _, f := range in.referencedFiles {
			referenced[f] = true
		}
		for _, f := range in.modifiedFiles {
			modified[f] = true
		}
		totalTools += in.toolUses
		if in.timestamp.Before(earliest) {
			earliest = in.timestamp
		}
	}

	rate := 0.0
	if len(interactions) > 0 {
		rate = float64(corrections) / float64(len(interactions))
	}

	return map[string]any{
		"source":            "agent-cli",
		"interaction_count": len(interactions),
		"correction_count":  corrections,
		"correction_rate":   rate,
		"tool_uses":         totalTools,
		"files_referenced":  len(referenced),
		"files_modified":    len(modified),
		"timestamp":         earliest.UTC().Format(time.RFC3339Nano),
	}
}

// ── JSONL parsing ──────────────────────────────────────────────────

type sessionMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp string          `json:"timestamp"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Text  string          `json:"text"`
	Input json.RawMessage `json:"input"`
}

// parseSessionJSONL parses a role/content/tool_use transcript into one
// interaction per assistant message that used at least one tool, whether or
// not that tool use referenced or modified a file.
func parseSessionJSONL(content []byte) []agentInteraction {
	lines := strings.Split(string(content), "\n")
	sessionID := hexHash(contentHash(content))

	var interactions []agentInteraction
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		var msg sessionMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Role != "assistant" {
			continue
		}

		var blocks []contentBlock
		_ = json.Unmarshal(msg.Content, &blocks)

		var referenced, modified []string
		toolCount := 0
		for _, block := range blocks {
			if block.Type != "tool_use" {
				continue
			}
			toolCount++
			extractToolFileRefs(block.Name, block.Input, &referenced, &modified)
		}

		timestamp := time.Now().UTC()
		if msg.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
				timestamp = ts.UTC()
			}
		}

		currentModified := map[string]bool{}
		for _, f := range modified {
			currentModified[f] = true
		}
		hadCorrection := detectCorrection(lines, i, currentModified)

		if len(referenced) > 0 || len(modified) > 0 || toolCount > 0 {
			interactions = append(interactions, agentInteraction{
				sessionID:       sessionID,
				referencedFiles: referenced,
				modifiedFiles:   modified,
				timestamp:       timestamp,
				hadCorrection:   hadCorrection,
				toolUses:        toolCount,
			})
		}
	}
	return interactions
}

func extractToolFileRefs(toolName string, input json.RawMessage, referenced, modified *[]string) {
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return
	}
	path, _ := fields["file_path"].(string)
	if path == "" {
		path, _ = fields["path"].(string)
	}

	switch toolName {
	case "Read", "read_file":
		if path != "" {
			*referenced = append(*referenced, normalizeFilePath(path))
		}
	case "Edit", "edit_file", "Write", "write_file":
		if path != "" {
			norm := normalizeFilePath(path)
			*modified = append(*modified, norm)
			*referenced = append(*referenced, norm)
		}
	case "Grep", "Glob", "search":
		if path != "" {
			*referenced = append(*referenced, normalizeFilePath(path))
		}
	}
}

var correctionMarkers = []string{"no,", "wrong", "that's not", "revert", "undo", "instead", "actually"}

// detectCorrection looks at the next few lines for a user message
// containing an explicit correction marker, or one that mentions a file
// just modified.
func detectCorrection(lines []string, assistantIdx int, currentModified map[string]bool) bool {
	limit := assistantIdx + 4
	if limit > len(lines) {
		limit = len(lines)
	}
	for _, raw := range lines[assistantIdx+1 : limit] {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		var msg sessionMessage
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			continue
		}
		if msg.Role != "user" {
			break
		}

		var text string
		_ = json.Unmarshal(msg.Content, &text)
		if text == "" {
			var blocks []contentBlock
			if err := json.Unmarshal(msg.Content, &blocks); err == nil && len(blocks) > 0 {
				text = blocks[0].Text
			}
		}

		lower := strings.ToLower(text)
		for _, marker := range correctionMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
		for f := range currentModified {
			if f != "" && strings.Contains(text, f) {
				return true
			}
		}
		break
	}
	return false
}

// ── Correlation ─────────────────────────────────────────────────────

func (p *PromptExtractor) correlateSessionsWithCommits(st *store.Store, stats *ExtractStats) {
	sessions, err := st.FindNodes(types.NodeFilter{Kind: types.NodeAgentSession})
	if err != nil {
		stats.recordError("correlate_sessions", err)
		return
	}
	commits, err := st.FindNodes(types.NodeFilter{Kind: types.NodeCommit})
	if err != nil {
		stats.recordError("correlate_sessions", err)
		return
	}
	if len(sessions) == 0 || len(commits) == 0 {
		return
	}

	for i := range sessions {
		if err := p.correlateOneSession(st, stats, &sessions[i], commits); err != nil {
			stats.recordError(sessions[i].Name, err)
		}
	}
}

func (p *PromptExtractor) correlateOneSession(st *store.Store, stats *ExtractStats, session *types.Node, commits []types.Node) error {
	// The session node's metadata only carries a files_modified count; the
	// actual paths live on the PromptModifiedFiles edges created alongside it.
	edges, err := st.EdgesInvolving(session.ID, types.EdgePromptModifiedFiles)
	if err != nil {
		return err
	}
	var sessionFiles []string
	for _, e := range edges {
		for _, m := range e.Members {
			if m.Role != "file" {
				continue
			}
			node, err := st.GetNode(m.NodeID)
			if err != nil {
				continue
			}
			sessionFiles = append(sessionFiles, node.Name)
		}
	}
	if len(sessionFiles) == 0 {
		return nil
	}

	var sessionTS time.Time
	hasTS := false
	if ts, ok := session.Metadata["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			sessionTS = parsed
			hasTS = true
		}
	}

	for _, commit := range commits {
		commitFiles, err := p.commitFilesChanged(st, commit.ID)
		if err != nil {
			return err
		}
		shared := intersect(sessionFiles, commitFiles)
		if len(shared) == 0 {
			continue
		}

		if hasTS {
			diff := commit.LastExtracted.Sub(sessionTS)
			if diff < 0 || diff > 24*time.Hour {
				continue
			}
		}

		confidence := float64(len(shared)) / float64(max(len(sessionFiles), 1))
		_, created, err := st.UpsertHyperedge(&types.Hyperedge{
			Kind: types.EdgeRelatedPrompts,
			Members: []types.HyperedgeMember{
				{NodeID: session.ID, Role: "session", Position: 0},
				{NodeID: commit.ID, Role: "commit", Position: 1},
			},
			Confidence: confidence,
			Metadata:   map[string]any{"shared_files": shared},
		})
		if err != nil {
			return err
		}
		if created {
			stats.EdgesCreated++
		}
	}
	return nil
}

func (p *PromptExtractor) commitFilesChanged(st *store.Store, commitID types.NodeID) ([]string, error) {
	edges, err := st.EdgesInvolving(commitID, types.EdgeModifies)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range edges {
		for _, m := range e.Members {
			if m.Role != "file" {
				continue
			}
			node, err := st.GetNode(m.NodeID)
			if err != nil {
				continue
			}
			files = append(files, node.Name)
		}
	}
	return files, nil
}

func intersect(a, b []string) []string {
	set := map[string]bool{}
	for _, s := range b {
		set[s] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, s := range a {
		if set[s] && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// matchGlobs walks the repository and returns every relative path matching
// any of the given doublestar patterns, sorted and deduplicated.
func (p *PromptExtractor) matchGlobs(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	var matched []string
	err := filepath.WalkDir(p.repoPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(p.repoPath, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				if !seen[rel] {
					seen[rel] = true
					matched = append(matched, rel)
				}
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matched)
	return matched, nil
}

func hexHash(h uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return string(buf)
}
