package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
)

var (
	cfgFile string
	cfg     *config.Config
	// exitCode carries the process exit code a subcommand's RunE computed
	// (spec §6/§7: 0 success, 10 completed-with-errors, 1 cancelled/failed)
	// past cobra's own error-only Execute() contract.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "homer",
	Short: "Homer mines a Git repository's history, code, and docs into a queryable knowledge graph",
	Long: `Homer builds a content-addressed hypergraph of a repository's commits,
contributors, source definitions, documents, forge activity, and agent
sessions, then runs behavioral, centrality, and community analyzers over
it to surface salience, risk, and ownership signal.

It persists everything to an embedded SQLite store under .homer/ and
renders the results as an AGENTS.md knowledge section and a risk-map
JSON artifact.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

// Execute runs the CLI and returns the process exit code (spec §6/§7).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./homer.yaml)")
}

// GetConfig returns the configuration loaded by PersistentPreRunE.
func GetConfig() *config.Config {
	return cfg
}

// openStore resolves and opens the repository's store, honoring spec §6's
// override precedence: explicit CLI flag > HOMER_DB_PATH env var > the
// store's own <repo>/.homer/homer.db default.
func openStore(repoRoot, flagPath string) (*store.Store, error) {
	switch {
	case flagPath != "":
		return store.OpenPath(flagPath)
	case os.Getenv("HOMER_DB_PATH") != "":
		return store.OpenPath(os.Getenv("HOMER_DB_PATH"))
	default:
		return store.Open(repoRoot)
	}
}
