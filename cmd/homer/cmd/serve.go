package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/homer-dev/homer/internal/homer/query"
)

var (
	servePort   int
	serveDBPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve [path]",
	Short: "Serve read-only queries over the knowledge graph via HTTP",
	Long: `serve opens the store and exposes node lookup, full-text search, and
analysis-result retrieval over a small JSON HTTP API, until interrupted.
It does not run the pipeline — run "homer run" first to populate the
store it queries.`,
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

		st, err := openStore(absRoot, serveDBPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		srv := query.New(query.Config{Port: servePort, Store: st})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := srv.Serve(ctx); err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8420, "HTTP listen port")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "database path override (default: $HOMER_DB_PATH or <repo>/.homer/homer.db)")
	rootCmd.AddCommand(serveCmd)
}
