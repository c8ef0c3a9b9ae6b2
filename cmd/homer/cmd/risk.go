package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/homer-dev/homer/internal/homer/render"
)

var riskDBPath string

var riskCmd = &cobra.Command{
	Use:   "risk [path]",
	Short: "Render the risk-map JSON artifact from the current graph",
	Long: `risk renders .homer/risk_map.json from whatever analysis results
already exist in the store, without running the extract/analyze stages
first. Run "homer run" beforehand to populate or refresh them.`,
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

		st, err := openStore(absRoot, riskDBPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		out, err := render.Write(render.NewRiskMapRenderer(), st, absRoot, false)
		if err != nil {
			return fmt.Errorf("rendering risk map: %w", err)
		}
		fmt.Println(out.Path)
		return nil
	},
}

func init() {
	riskCmd.Flags().StringVar(&riskDBPath, "db", "", "database path override (default: $HOMER_DB_PATH or <repo>/.homer/homer.db)")
	rootCmd.AddCommand(riskCmd)
}
