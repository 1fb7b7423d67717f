package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/feed/sqlite"
	"github.com/newthinker/augur/internal/rules"
)

var rulesDB string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and import strategy rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Compile a rules file and report problems",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesCheck,
}

var rulesImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load a rules file into the SQLite rule store",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesImport,
}

func init() {
	rulesImportCmd.Flags().StringVar(&rulesDB, "db", "", "SQLite database (defaults to the configured rules or data path)")

	rulesCmd.AddCommand(rulesCheckCmd, rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)
}

func strategyIDs(f *rules.File) []string {
	ids := make([]string, 0, len(f.Strategies))
	for id := range f.Strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	f, err := rules.LoadFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, id := range strategyIDs(f) {
		rs, err := rules.Compile(f.Strategies[id])
		if err != nil {
			return fmt.Errorf("strategy %s: %w", id, err)
		}
		fmt.Fprintf(out, "%s: %d active rules\n", id, rs.Len())
		for _, w := range rs.Warnings() {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
	}
	return nil
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	f, err := rules.LoadFile(args[0])
	if err != nil {
		return err
	}

	path := rulesDB
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Rules.Type == "sqlite" {
			path = cfg.RulesPath()
		} else if cfg.Data.Type == "sqlite" {
			path = cfg.Data.Path
		}
	}
	if path == "" {
		return core.Errorf(core.ErrConfigMissing, "no SQLite database; pass --db")
	}

	st, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	for _, id := range strategyIDs(f) {
		if _, err := rules.Compile(f.Strategies[id]); err != nil {
			return fmt.Errorf("strategy %s: %w", id, err)
		}
		n, err := st.ReplaceRules(ctx, id, f.Strategies[id])
		if err != nil {
			return fmt.Errorf("importing %s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules imported\n", id, n)
	}
	return nil
}
