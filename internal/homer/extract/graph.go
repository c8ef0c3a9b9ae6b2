package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

const graphCheckpointKey = "graph_last_sha"

// Definition is one function or type definition a SourceParser found.
type Definition struct {
	Name          string
	QualifiedName string
	Kind          string // "function" or "type"
	Span          [2]int
}

// Reference is one name use a SourceParser found, attributed to the
// qualified name of its enclosing definition (empty if at file scope).
type Reference struct {
	Name          string
	ContainingDef string
	Span          [2]int
}

// Import is one import statement a SourceParser found, resolved to a file
// path when the parser could determine one (e.g. a same-module import).
type Import struct {
	FromPath     string
	ImportedName string
	TargetPath   string
	Confidence   float64
}

// DocComment is the doc comment attached to a definition, keyed by the
// definition's bare name.
type DocComment struct {
	Text  string
	Hash  uint64
	Style string
}

// ParseResult is what a SourceParser returns for one file (spec §6).
type ParseResult struct {
	Definitions []Definition
	References  []Reference
	Imports     []Import
	DocComments map[string]DocComment
}

// SourceParser is the per-language parsing capability the Graph extractor
// dispatches to. Implementations live outside this package (e.g.
// internal/sourceparser) and must be deterministic for identical inputs.
type SourceParser interface {
	Parse(path string, content []byte) (*ParseResult, error)
}

// GraphExtractor dispatches source files to a per-language SourceParser and
// turns the results into Function/Type nodes plus Calls/Imports/Inherits
// edges (spec §4.3).
type GraphExtractor struct {
	repoPath string
	parsers  map[string]SourceParser // keyed by config language name
}

// NewGraphExtractor constructs a Graph extractor over the given repo root,
// dispatching to parsers by the language name registered in config.
func NewGraphExtractor(repoPath string, parsers map[string]SourceParser) *GraphExtractor {
	return &GraphExtractor{repoPath: repoPath, parsers: parsers}
}

func (g *GraphExtractor) Name() string { return "graph" }

// HasWork reruns whenever the graph checkpoint is missing or stale relative
// to the git checkpoint; unlike the Git extractor this never compares
// against a live repository handle, since its scope is the store's own
// File nodes, not the working tree directly.
func (g *GraphExtractor) HasWork(st *store.Store) (bool, error) {
	var graphSHA, gitSHA string
	err := st.Checkpoint(graphCheckpointKey, &graphSHA)
	if err != nil && !herrors.IsNotFound(err) {
		return false, err
	}
	graphSet := err == nil

	err = st.Checkpoint(gitCheckpointKey, &gitSHA)
	if err != nil && !herrors.IsNotFound(err) {
		return false, err
	}
	return !graphSet || graphSHA != gitSHA, nil
}

// definitionEntry is one resolved definition, tracked across the whole pass
// so that calls and inheritance can resolve across file boundaries.
type definitionEntry struct {
	id   types.NodeID
	kind string
}

func (g *GraphExtractor) Extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	batch, err := st.BeginBatch()
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	stats, err := g.extract(batch.Store, cfg)
	if err != nil {
		batch.Rollback()
		return stats, err
	}
	if err := batch.Commit(); err != nil {
		return stats, fmt.Errorf("committing batch: %w", err)
	}
	return stats, nil
}

func (g *GraphExtractor) extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	start := time.Now()
	stats := &ExtractStats{}

	fileNodes, err := st.FindNodes(types.NodeFilter{Kind: types.NodeFile})
	if err != nil {
		return stats, err
	}

	parsed := make(map[types.NodeID]*ParseResult, len(fileNodes))
	byQualified := make(map[string]definitionEntry)
	byName := make(map[string][]definitionEntry)

	for _, fn := range fileNodes {
		lang := cfg.LanguageFor(filepath.Ext(fn.Name))
		parser, ok := g.parsers[lang]
		if !ok {
			continue
		}

		content, err := os.ReadFile(filepath.Join(g.repoPath, fn.Name))
		if err != nil {
			stats.recordError(fn.Name, herrors.Wrap(herrors.Transient, "reading file", err))
			continue
		}

		result, err := parser.Parse(fn.Name, content)
		if err != nil {
			stats.recordError(fn.Name, herrors.Wrap(herrors.Input, "parsing file", err))
			continue
		}
		parsed[fn.ID] = result

		for _, def := range result.Definitions {
			nodeKind := types.NodeFunction
			if def.Kind == "type" {
				nodeKind = types.NodeType
			}

			meta := map[string]any{"span_start": def.Span[0], "span_end": def.Span[1], "file": fn.Name}
			if doc, ok := result.DocComments[def.Name]; ok {
				meta["doc_text"] = doc.Text
				meta["doc_hash"] = doc.Hash
				meta["doc_style"] = doc.Style
			}

			defID, res, err := st.UpsertNode(&types.Node{Kind: nodeKind, Name: def.QualifiedName, Metadata: meta})
			if err != nil {
				stats.recordError(def.QualifiedName, err)
				continue
			}
			trackResult(stats, res)

			entry := definitionEntry{id: defID, kind: def.Kind}
			byQualified[def.QualifiedName] = entry
			byName[def.Name] = append(byName[def.Name], entry)
		}
	}

	for _, fn := range fileNodes {
		result, ok := parsed[fn.ID]
		if !ok {
			continue
		}
		if err := g.storeReferences(st, stats, result, byQualified, byName); err != nil {
			stats.recordError(fn.Name, err)
		}
		if err := g.storeImports(st, stats, fn, result); err != nil {
			stats.recordError(fn.Name, err)
		}
	}

	var gitSHA string
	if err := st.Checkpoint(gitCheckpointKey, &gitSHA); err != nil && !herrors.IsNotFound(err) {
		return stats, err
	}
	if err := st.SetCheckpoint(graphCheckpointKey, gitSHA); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// storeReferences resolves each reference to a target definition by bare
// name, splitting ambiguous matches' confidence across the candidates, and
// classifies the edge as Inherits when both the referencing and referenced
// definitions are types, Calls otherwise.
func (g *GraphExtractor) storeReferences(st *store.Store, stats *ExtractStats, result *ParseResult, byQualified map[string]definitionEntry, byName map[string][]definitionEntry) error {
	for _, ref := range result.References {
		if ref.ContainingDef == "" {
			continue
		}
		caller, ok := byQualified[ref.ContainingDef]
		if !ok {
			continue
		}
		candidates := byName[ref.Name]
		if len(candidates) == 0 {
			continue
		}
		confidence := 1.0 / float64(len(candidates))

		for _, target := range candidates {
			kind := types.EdgeCalls
			members := []types.HyperedgeMember{
				{NodeID: caller.id, Role: "caller", Position: 0},
				{NodeID: target.id, Role: "callee", Position: 1},
			}
			if caller.kind == "type" && target.kind == "type" {
				kind = types.EdgeInherits
				members = []types.HyperedgeMember{
					{NodeID: caller.id, Role: "child", Position: 0},
					{NodeID: target.id, Role: "parent", Position: 1},
				}
			}

			_, created, err := st.UpsertHyperedge(&types.Hyperedge{
				Kind:       kind,
				Members:    members,
				Confidence: confidence,
			})
			if err != nil {
				return err
			}
			if created {
				stats.EdgesCreated++
			}
		}
	}
	return nil
}

func (g *GraphExtractor) storeImports(st *store.Store, stats *ExtractStats, fileNode types.Node, result *ParseResult) error {
	for _, imp := range result.Imports {
		var targetID types.NodeID
		if imp.TargetPath != "" {
			target, err := st.FindNode(types.NodeFile, imp.TargetPath)
			if herrors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			targetID = target.ID
		} else {
			depID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeExternalDep, Name: imp.ImportedName})
			if err != nil {
				return err
			}
			trackResult(stats, res)
			targetID = depID
		}

		_, created, err := st.UpsertHyperedge(&types.Hyperedge{
			Kind: types.EdgeImports,
			Members: []types.HyperedgeMember{
				{NodeID: fileNode.ID, Role: "importer", Position: 0},
				{NodeID: targetID, Role: "imported", Position: 1},
			},
			Confidence: imp.Confidence,
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
