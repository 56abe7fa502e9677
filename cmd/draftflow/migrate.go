package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/draftflow/internal/migrate"
	"github.com/yangwenmai/draftflow/internal/model"
	"github.com/yangwenmai/draftflow/internal/store"
)

var flagStateFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rewrite legacy status tokens and import a legacy state file",
	Long: `Migrate renames legacy status tokens in the item store to the current
vocabulary and, when a state file is given, rewrites it in place and imports
its records. Running it again is a no-op.

Every other command runs the same migration before reading items.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&flagStateFile, "state", "", "legacy state.json (overrides legacy_state_path)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	path := a.cfg.LegacyStatePath
	if flagStateFile != "" {
		path = flagStateFile
	}
	rep, err := migrate.NewRunner(a.items, migrate.WithStateFile(path), migrate.WithLogger(a.logger)).Run(ctx)
	if err != nil {
		return err
	}
	counts, err := a.items.CountByStatus(ctx)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(map[string]any{"report": rep, "counts": counts})
	}

	if rep.StateFile != "" {
		state := "unchanged"
		if rep.StateRewritten {
			state = "rewritten"
		}
		fmt.Printf("state file %s: %d records, %s, %d imported\n", rep.StateFile, rep.StateRecords, state, rep.Imported)
	}
	for _, token := range migrate.LegacyTokens() {
		if n := rep.Renamed[token]; n > 0 {
			fmt.Printf("renamed %s: %d\n", token, n)
		}
	}
	printCounts(counts)
	return nil
}

func printCounts(counts store.StatusCounts) {
	statuses := make([]string, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Printf("%s %d\n", statusBadge(model.Status(st)), counts[model.Status(st)])
	}
}
