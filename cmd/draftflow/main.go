// Command draftflow runs the content lifecycle server and operates on the
// local item store from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flag values.
var (
	flagConfig  string
	flagDataDir string
	flagJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "draftflow",
	Short: "draftflow moves drafts through refinement, artifacts and publication",
	Long: `draftflow manages machine-generated drafts: an inbox of new items,
staging and refinement rounds for multi-step types, rendered artifacts and
the final output copy. "serve" exposes the HTTP API; the other commands act
on the same data directory directly. Background jobs run in one process at a
time: while serve is running, "refine" and "artifacts" go through the API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (overrides data_dir)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(serveCmd, migrateCmd, ingestCmd, inboxCmd, refinementCmd, showCmd)
	rootCmd.AddCommand(actionCommands()...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
