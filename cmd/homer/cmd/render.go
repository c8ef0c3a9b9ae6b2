package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/homer-dev/homer/internal/homer/render"
)

var (
	renderDBPath string
	renderDryRun bool
)

var renderCmd = &cobra.Command{
	Use:   "render [path]",
	Short: "Render AGENTS.md and the risk map from the current graph",
	Long: `render writes both of Homer's output artifacts — AGENTS.md and
.homer/risk_map.json — from whatever analysis results already exist in
the store, without running the extract/analyze stages first.`,
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

		st, err := openStore(absRoot, renderDBPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		renderers := []render.Renderer{render.NewAgentsRenderer(), render.NewRiskMapRenderer()}
		for _, r := range renderers {
			out, err := render.Write(r, st, absRoot, renderDryRun)
			if err != nil {
				return fmt.Errorf("rendering %s: %w", r.Name(), err)
			}
			if out.Changed {
				fmt.Printf("wrote %s\n", out.Path)
			} else {
				fmt.Printf("unchanged %s\n", out.Path)
			}
		}
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderDBPath, "db", "", "database path override (default: $HOMER_DB_PATH or <repo>/.homer/homer.db)")
	renderCmd.Flags().BoolVar(&renderDryRun, "dry-run", false, "compute output without writing to disk")
	rootCmd.AddCommand(renderCmd)
}
