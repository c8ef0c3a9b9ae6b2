package extract

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/modfile"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
	"lukechampine.com/blake3"
)

const (
	structureCheckpointKey = "structure_last_sha"
)

// StructureExtractor walks the working tree under the configured
// include/exclude globs, creating File/Module nodes and BelongsTo edges,
// and parses recognized manifests into ExternalDep/DependsOn edges
// (spec §4.3).
type StructureExtractor struct {
	rootPath string
}

// NewStructureExtractor constructs a structure extractor rooted at rootPath.
func NewStructureExtractor(rootPath string) *StructureExtractor {
	return &StructureExtractor{rootPath: rootPath}
}

func (s *StructureExtractor) Name() string { return "structure" }

// HasWork is gated on git_last_sha: the working tree only needs rescanning
// once the Git extractor has observed a new HEAD.
func (s *StructureExtractor) HasWork(st *store.Store) (bool, error) {
	var gitSHA string
	err := st.Checkpoint(gitCheckpointKey, &gitSHA)
	if herrors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var structureSHA string
	err = st.Checkpoint(structureCheckpointKey, &structureSHA)
	if herrors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return structureSHA != gitSHA, nil
}

func (s *StructureExtractor) Extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	batch, err := st.BeginBatch()
	if err != nil {
		return nil, fmt.Errorf("beginning batch: %w", err)
	}
	stats, err := s.extract(batch.Store, cfg)
	if err != nil {
		batch.Rollback()
		return stats, err
	}
	if err := batch.Commit(); err != nil {
		return stats, fmt.Errorf("committing batch: %w", err)
	}
	return stats, nil
}

func (s *StructureExtractor) extract(st *store.Store, cfg *config.Config) (*ExtractStats, error) {
	start := time.Now()
	stats := &ExtractStats{}

	rootName := filepath.Base(s.rootPath)
	if rootName == "." || rootName == "/" {
		rootName = "root"
	}
	rootModuleID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeModule, Name: rootName})
	if err != nil {
		return stats, err
	}
	trackResult(stats, res)

	dirModules := map[string]types.NodeID{"": rootModuleID}

	err = filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			stats.recordError(path, herrors.Wrap(herrors.Transient, "walking tree", err))
			return nil
		}
		rel, relErr := filepath.Rel(s.rootPath, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			// Probe with a synthetic child so "**/dir/**"-style exclude
			// globs, which require a path segment after dir, still match
			// the directory itself.
			if cfg.IsExcludedPath(rel + "/_probe_") {
				return filepath.SkipDir
			}
			return nil
		}

		if !cfg.IsIncludedPath(rel) {
			return nil
		}
		if err := s.processFile(st, stats, path, rel, rootModuleID, dirModules); err != nil {
			stats.recordError(rel, err)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := s.extractManifests(st, stats, rootModuleID); err != nil {
		stats.recordError("manifests", err)
	}

	var gitSHA string
	if err := st.Checkpoint(gitCheckpointKey, &gitSHA); err != nil && !herrors.IsNotFound(err) {
		return stats, err
	}
	if err := st.SetCheckpoint(structureCheckpointKey, gitSHA); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func (s *StructureExtractor) processFile(st *store.Store, stats *ExtractStats, fullPath, relPath string, rootModuleID types.NodeID, dirModules map[string]types.NodeID) error {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return herrors.Wrap(herrors.Transient, "reading file", err)
	}
	hash := contentHash(content)

	meta := map[string]any{"size_bytes": len(content)}
	if lang := languageForPath(relPath); lang != "" {
		meta["language"] = lang
	}

	fileID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeFile, Name: relPath, ContentHash: &hash, Metadata: meta})
	if err != nil {
		return err
	}
	trackResultID(stats, res, fileID)

	dir := filepath.ToSlash(filepath.Dir(relPath))
	if dir == "." {
		dir = ""
	}
	moduleID, err := s.ensureModule(st, stats, dir, rootModuleID, dirModules)
	if err != nil {
		return err
	}

	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeBelongsTo,
		Members: []types.HyperedgeMember{
			{NodeID: fileID, Role: "member", Position: 0},
			{NodeID: moduleID, Role: "container", Position: 1},
		},
		Confidence: 1.0,
	})
	if err != nil {
		return err
	}
	if created {
		stats.EdgesCreated++
	}

	preview := content
	if len(preview) > 1000 {
		preview = preview[:1000]
	}
	return st.IndexText(fileID, "source_code", string(preview))
}

func (s *StructureExtractor) ensureModule(st *store.Store, stats *ExtractStats, dir string, rootModuleID types.NodeID, dirModules map[string]types.NodeID) (types.NodeID, error) {
	if id, ok := dirModules[dir]; ok {
		return id, nil
	}

	moduleID, res, err := st.UpsertNode(&types.Node{Kind: types.NodeModule, Name: dir})
	if err != nil {
		return 0, err
	}
	trackResult(stats, res)

	parent := filepath.ToSlash(filepath.Dir(dir))
	if parent == "." {
		parent = ""
	}
	parentID := rootModuleID
	if parent != "" {
		parentID, err = s.ensureModule(st, stats, parent, rootModuleID, dirModules)
		if err != nil {
			return 0, err
		}
	}

	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeBelongsTo,
		Members: []types.HyperedgeMember{
			{NodeID: moduleID, Role: "member", Position: 0},
			{NodeID: parentID, Role: "container", Position: 1},
		},
		Confidence: 1.0,
	})
	if err != nil {
		return 0, err
	}
	if created {
		stats.EdgesCreated++
	}

	dirModules[dir] = moduleID
	return moduleID, nil
}

// extractManifests parses go.mod, when present, into ExternalDep nodes and
// DependsOn edges from the root module.
func (s *StructureExtractor) extractManifests(st *store.Store, stats *ExtractStats, rootModuleID types.NodeID) error {
	gomodPath := filepath.Join(s.rootPath, "go.mod")
	data, err := os.ReadFile(gomodPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return herrors.Wrap(herrors.Transient, "reading go.mod", err)
	}

	mf, err := modfile.Parse(gomodPath, data, nil)
	if err != nil {
		return herrors.Wrap(herrors.Input, "parsing go.mod", err)
	}

	for _, req := range mf.Require {
		if err := s.storeDependency(st, stats, req.Mod.Path, req.Mod.Version, req.Indirect, rootModuleID); err != nil {
			return err
		}
	}

	if mf.Module != nil {
		root, err := st.GetNode(rootModuleID)
		if err != nil {
			return err
		}
		if root.Metadata == nil {
			root.Metadata = map[string]any{}
		}
		root.Metadata["build_systems"] = []string{"go"}
		root.Metadata["go_module_path"] = mf.Module.Mod.Path
		if _, _, err := st.UpsertNode(root); err != nil {
			return err
		}
	}
	return nil
}

func (s *StructureExtractor) storeDependency(st *store.Store, stats *ExtractStats, name, version string, indirect bool, rootModuleID types.NodeID) error {
	depID, res, err := st.UpsertNode(&types.Node{
		Kind: types.NodeExternalDep,
		Name: name,
		Metadata: map[string]any{
			"version":  version,
			"indirect": indirect,
		},
	})
	if err != nil {
		return err
	}
	trackResult(stats, res)

	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind: types.EdgeDependsOn,
		Members: []types.HyperedgeMember{
			{NodeID: rootModuleID, Role: "dependent", Position: 0},
			{NodeID: depID, Role: "dependency", Position: 1},
		},
		Confidence: 1.0,
	})
	if err != nil {
		return err
	}
	if created {
		stats.EdgesCreated++
	}
	return nil
}

// contentHash reduces a blake3-256 digest to the 64-bit content hash the
// store expects, taking the first 8 bytes of the digest.
func contentHash(content []byte) uint64 {
	sum := blake3.Sum256(content)
	return binary.BigEndian.Uint64(sum[:8])
}

var languageExtensions = map[string]string{
	".go": "go", ".js": "javascript", ".jsx": "javascript", ".mjs": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".py": "python",
	".rs": "rust", ".java": "java", ".rb": "ruby", ".c": "c", ".h": "c",
	".cpp": "cpp", ".hpp": "cpp", ".md": "markdown", ".yaml": "yaml", ".yml": "yaml",
}

func languageForPath(path string) string {
	return languageExtensions[strings.ToLower(filepath.Ext(path))]
}
