package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/forge"
	"github.com/homer-dev/homer/internal/homer/analyze"
	"github.com/homer-dev/homer/internal/homer/extract"
	"github.com/homer-dev/homer/internal/homer/pipeline"
	"github.com/homer-dev/homer/internal/homer/render"
	"github.com/homer-dev/homer/internal/homer/types"
	"github.com/homer-dev/homer/internal/llm"
	"github.com/homer-dev/homer/internal/sourceparser"
)

var (
	runDBPath     string
	runDryRun     bool
	forceAnalysis bool
	forceSemantic bool
)

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Mine a repository into the knowledge graph and render its artifacts",
	Long: `run executes the full extract -> snapshot -> invalidate -> analyze ->
render pipeline against the repository at path (default ".").

A second run against the same repository re-extracts only what changed
since the last checkpoint and re-analyzes only what the change
invalidated, rather than rebuilding from scratch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot := "."
		if len(args) > 0 {
			repoRoot = args[0]
		}
		absRoot, err := filepath.Abs(repoRoot)
		if err != nil {
			return fmt.Errorf("resolving repository path: %w", err)
		}

		st, err := openStore(absRoot, runDBPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		cfg := GetConfig()

		if forceAnalysis {
			for _, kind := range types.AllAnalysisKinds {
				if err := st.ClearByKind(kind); err != nil {
					return fmt.Errorf("clearing %s: %w", kind, err)
				}
			}
		} else if forceSemantic {
			for _, kind := range types.SemanticKinds {
				if err := st.ClearByKind(kind); err != nil {
					return fmt.Errorf("clearing %s: %w", kind, err)
				}
			}
		}

		extractors := []extract.Extractor{
			extract.NewGitExtractor(absRoot),
			extract.NewStructureExtractor(absRoot),
			extract.NewGraphExtractor(absRoot, sourceparser.Registry()),
			extract.NewDocumentExtractor(absRoot),
		}
		if forgeClient, err := forge.New(cfg); err != nil {
			return fmt.Errorf("configuring forge client: %w", err)
		} else if forgeClient != nil {
			extractors = append(extractors, extract.NewForgeExtractor(forgeClient))
		}
		extractors = append(extractors, extract.NewPromptExtractor(absRoot))

		analyzers := []analyze.Analyzer{
			analyze.NewBehavioralAnalyzer(),
			analyze.NewCentralityAnalyzer(),
			analyze.NewCommunityAnalyzer(),
			analyze.NewTemporalAnalyzer(),
			analyze.NewConventionAnalyzer(),
			analyze.NewTaskPatternAnalyzer(),
			analyze.NewSemanticAnalyzer(summarizerFor(cfg)),
		}

		renderers := []render.Renderer{
			render.NewAgentsRenderer(),
			render.NewRiskMapRenderer(),
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		result, err := pipeline.Run(ctx, st, cfg, pipeline.Options{RepoRoot: absRoot, DryRun: runDryRun}, extractors, analyzers, renderers)
		if err != nil {
			return fmt.Errorf("running pipeline: %w", err)
		}

		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s: %v\n", e.Component, e)
		}
		for name, out := range result.Rendered {
			if out.Changed {
				fmt.Printf("wrote %s (%s)\n", out.Path, name)
			}
		}

		exitCode = result.ExitCode()
		return nil
	},
}

// summarizerFor builds the Summarizer the semantic analyzer runs against:
// a caching OpenAI-backed summarizer when LLM summarization is enabled and
// credentialed, a Noop one otherwise (spec §6, §7's Capability error kind).
func summarizerFor(cfg *config.Config) llm.Summarizer {
	if !cfg.LLM.Enabled || cfg.LLM.APIKey == "" {
		return llm.NoopSummarizer{}
	}
	return llm.NewCachingSummarizer(llm.NewOpenAISummarizer(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL))
}

func init() {
	runCmd.Flags().StringVar(&runDBPath, "db", "", "database path override (default: $HOMER_DB_PATH or <repo>/.homer/homer.db)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "compute renderer output without writing it to disk")
	runCmd.Flags().BoolVar(&forceAnalysis, "force-analysis", false, "clear every analysis result before running")
	runCmd.Flags().BoolVar(&forceSemantic, "force-semantic", false, "clear only LLM-derived analysis results before running")
	rootCmd.AddCommand(runCmd)
}
