package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config represents Homer's configuration.
type Config struct {
	Extraction ExtractionConfig `yaml:"extraction"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Forge      ForgeConfig      `yaml:"forge"`
	LLM        LLMConfig        `yaml:"llm"`
	Languages  []LanguageConfig `yaml:"languages"`
}

// ExtractionConfig governs the Git and Structure extractors.
type ExtractionConfig struct {
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
	// MaxCommits bounds a single Git extractor pass; 0 means unbounded.
	MaxCommits int `yaml:"max_commits"`
	// ConcurrentForgeRequests bounds I/O-bound fanout for forge/LLM calls (spec §5).
	ConcurrentForgeRequests int             `yaml:"concurrent_forge_requests"`
	Documents               DocumentsConfig `yaml:"documents"`
	Prompts                 PromptsConfig   `yaml:"prompts"`
}

// DocumentsConfig governs the Document extractor.
type DocumentsConfig struct {
	Enabled      bool     `yaml:"enabled"`
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

// PromptsConfig governs the Prompt extractor's opt-in agent-session
// ingestion. Agent rule files are always extracted regardless of this
// section; only session log parsing and correlation are gated by Enabled.
type PromptsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Sources lists which session log formats to parse; currently only
	// "agent-cli" (role/content/tool_use JSONL transcripts) is supported.
	Sources        []string `yaml:"sources"`
	HashSessionIDs bool     `yaml:"hash_session_ids"`
	StoreFullText  bool     `yaml:"store_full_text"`
	SessionGlobs   []string `yaml:"session_globs"`
	RuleGlobs      []string `yaml:"rule_globs"`
}

// CoChangeConfig tunes the behavioral analyzer's seed-and-grow co-change
// clustering (spec §4.6).
type CoChangeConfig struct {
	SeedThreshold   float64 `yaml:"seed_threshold"`
	MinConfidence   float64 `yaml:"min_confidence"`
	MinMarginalGain float64 `yaml:"min_marginal_gain"`
	MaxGroupSize    int     `yaml:"max_group_size"`
	MinClusterSize  int     `yaml:"min_cluster_size"`
}

// SalienceWeights is the fixed convex combination used by composite
// salience (spec §4.7). Must sum to 1.0.
type SalienceWeights struct {
	PageRank    float64 `yaml:"page_rank"`
	Betweenness float64 `yaml:"betweenness"`
	Authority   float64 `yaml:"authority"`
	Churn       float64 `yaml:"churn"`
	BusFactor   float64 `yaml:"bus_factor"`
}

// AnalysisConfig tunes the behavioral, centrality, and community analyzers.
type AnalysisConfig struct {
	CoChange                   CoChangeConfig  `yaml:"co_change"`
	Salience                   SalienceWeights `yaml:"salience"`
	PageRankDamping            float64         `yaml:"page_rank_damping"`
	PageRankConvergence        float64         `yaml:"page_rank_convergence"`
	PageRankMaxIterations      int             `yaml:"page_rank_max_iterations"`
	BetweennessApproxThreshold int             `yaml:"betweenness_approx_threshold"`
}

// SnapshotConfig tunes the snapshotter's count-labeled auto-N policy.
type SnapshotConfig struct {
	AutoEveryCommits int `yaml:"auto_every_commits"`
}

// ForgeConfig enables and addresses a forge extractor. An empty Provider
// leaves the forge extractor out of the run; an empty Token is not checked,
// and requests are then sent without authentication.
type ForgeConfig struct {
	Provider string `yaml:"provider"` // "github", "gitlab", or "" (disabled)
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	Token    string `yaml:"token"`
	BaseURL  string `yaml:"base_url"`
}

// LLMConfig addresses the optional Summarizer capability.
type LLMConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Model                 string `yaml:"model"`
	PromptTemplateVersion string `yaml:"prompt_template_version"`
	BaseURL                string `yaml:"base_url"`
	APIKey                string `yaml:"api_key"`
}

// LanguageConfig registers a SourceParser backend for a set of extensions.
type LanguageConfig struct {
	Name       string   `yaml:"name"`
	Extensions []string `yaml:"extensions"`
}

// Default returns a Config with the defaults spec.md names explicitly.
func Default() *Config {
	return &Config{
		Extraction: ExtractionConfig{
			IncludeGlobs:            []string{"**/*"},
			ExcludeGlobs:            []string{"**/.git/**", "**/node_modules/**", "**/vendor/**", "**/.homer/**", "**/*.min.js", "**/*.lock"},
			MaxCommits:              0,
			ConcurrentForgeRequests: 5,
			Documents: DocumentsConfig{
				Enabled:      true,
				IncludeGlobs: []string{"**/*.md", "**/*.mdx", "**/README*", "**/AGENTS.md", "**/CHANGELOG*"},
				ExcludeGlobs: []string{"**/.git/**", "**/node_modules/**", "**/vendor/**", "**/.homer/**"},
			},
			Prompts: PromptsConfig{
				Enabled:        false,
				Sources:        []string{"agent-cli"},
				HashSessionIDs: true,
				StoreFullText:  false,
				SessionGlobs:   []string{".agent/sessions/**/*.jsonl"},
				RuleGlobs:      []string{"AGENTS.md", ".cursor/rules/*.mdc", ".cursor/rules/*.md", ".windsurf/rules/*.md", ".clinerules/*.md"},
			},
		},
		Analysis: AnalysisConfig{
			CoChange: CoChangeConfig{
				SeedThreshold:   0.5,
				MinConfidence:   0.3,
				MinMarginalGain: 0.05,
				MaxGroupSize:    8,
				MinClusterSize:  3,
			},
			Salience: SalienceWeights{
				PageRank:    0.30,
				Betweenness: 0.15,
				Authority:   0.15,
				Churn:       0.25,
				BusFactor:   0.15,
			},
			PageRankDamping:            0.85,
			PageRankConvergence:        1e-6,
			PageRankMaxIterations:      100,
			BetweennessApproxThreshold: 50000,
		},
		Snapshot: SnapshotConfig{
			AutoEveryCommits: 100,
		},
		Forge: ForgeConfig{},
		LLM: LLMConfig{
			Enabled:               false,
			PromptTemplateVersion: "v1",
		},
		Languages: []LanguageConfig{
			{Name: "go", Extensions: []string{".go"}},
			{Name: "javascript", Extensions: []string{".js", ".jsx", ".mjs"}},
			{Name: "typescript", Extensions: []string{".ts", ".tsx"}},
			{Name: "python", Extensions: []string{".py"}},
		},
	}
}

// Load reads configuration from file, falling back to defaults. If
// configPath is empty, it looks for homer.yaml in the current directory.
// Values present in the config file replace defaults section-by-section
// (no per-field merging).
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = "homer.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, err
	}

	defaults.Merge(&fileCfg)
	return defaults, nil
}

// LoadFromDir loads configuration from the specified directory.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, "homer.yaml"))
}

// Merge combines another config into this one, with other's non-zero
// sections taking precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Extraction.IncludeGlobs) > 0 {
		c.Extraction.IncludeGlobs = other.Extraction.IncludeGlobs
	}
	if len(other.Extraction.ExcludeGlobs) > 0 {
		c.Extraction.ExcludeGlobs = other.Extraction.ExcludeGlobs
	}
	if other.Extraction.MaxCommits != 0 {
		c.Extraction.MaxCommits = other.Extraction.MaxCommits
	}
	if other.Extraction.ConcurrentForgeRequests != 0 {
		c.Extraction.ConcurrentForgeRequests = other.Extraction.ConcurrentForgeRequests
	}
	if len(other.Extraction.Documents.IncludeGlobs) > 0 || len(other.Extraction.Documents.ExcludeGlobs) > 0 || other.Extraction.Documents.Enabled {
		c.Extraction.Documents = other.Extraction.Documents
	}
	if len(other.Extraction.Prompts.Sources) > 0 || len(other.Extraction.Prompts.SessionGlobs) > 0 || other.Extraction.Prompts.Enabled {
		c.Extraction.Prompts = other.Extraction.Prompts
	}

	if other.Analysis.CoChange != (CoChangeConfig{}) {
		c.Analysis.CoChange = other.Analysis.CoChange
	}
	if other.Analysis.Salience != (SalienceWeights{}) {
		c.Analysis.Salience = other.Analysis.Salience
	}
	if other.Analysis.PageRankDamping != 0 {
		c.Analysis.PageRankDamping = other.Analysis.PageRankDamping
	}
	if other.Analysis.PageRankConvergence != 0 {
		c.Analysis.PageRankConvergence = other.Analysis.PageRankConvergence
	}
	if other.Analysis.PageRankMaxIterations != 0 {
		c.Analysis.PageRankMaxIterations = other.Analysis.PageRankMaxIterations
	}
	if other.Analysis.BetweennessApproxThreshold != 0 {
		c.Analysis.BetweennessApproxThreshold = other.Analysis.BetweennessApproxThreshold
	}

	if other.Snapshot.AutoEveryCommits != 0 {
		c.Snapshot.AutoEveryCommits = other.Snapshot.AutoEveryCommits
	}

	if other.Forge.Provider != "" {
		c.Forge = other.Forge
	}

	if other.LLM.Model != "" || other.LLM.Enabled {
		c.LLM = other.LLM
	}

	if len(other.Languages) > 0 {
		c.Languages = other.Languages
	}
}

// IsIncludedPath reports whether path matches the include globs and none of
// the exclude globs (exclude wins on conflict).
func (c *Config) IsIncludedPath(path string) bool {
	included := len(c.Extraction.IncludeGlobs) == 0
	for _, g := range c.Extraction.IncludeGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, g := range c.Extraction.ExcludeGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			return false
		}
	}
	return true
}

// IsExcludedPath reports whether path matches any exclude glob, independent
// of the include globs. Used to prune whole directories during a tree walk
// before any file beneath them is considered.
func (c *Config) IsExcludedPath(path string) bool {
	for _, g := range c.Extraction.ExcludeGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// IsIncludedDocPath reports whether path matches the Document extractor's
// include globs and none of its exclude globs.
func (c *Config) IsIncludedDocPath(path string) bool {
	included := false
	for _, g := range c.Extraction.Documents.IncludeGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, g := range c.Extraction.Documents.ExcludeGlobs {
		if ok, _ := doublestar.Match(g, path); ok {
			return false
		}
	}
	return true
}

// LanguageFor returns the language name registered for a file extension, or
// "" if no SourceParser backend claims it.
func (c *Config) LanguageFor(ext string) string {
	for _, l := range c.Languages {
		for _, e := range l.Extensions {
			if e == ext {
				return l.Name
			}
		}
	}
	return ""
}
