package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/runner"
)

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run every backtest in a batch file",
	Long:  "Run the backtests listed in a YAML batch file in parallel and print one line per run",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	b, err := runner.LoadBatch(args[0])
	if err != nil {
		return err
	}

	a, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	results, err := a.RunBatch(ctx, b.Runs)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRUN\tSTATUS\tRETURN %\tMAX DD %\tSHARPE\tTRADES\tERROR")
	failed := 0
	for i, res := range results {
		name := b.Runs[i].DisplayName()
		if res.Status != backtest.StatusCompleted {
			failed++
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t-\t-\t%s\n", name, res.ID, res.Status, res.Error.Code)
			continue
		}
		m := res.Metrics
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%d\t\n",
			name, res.ID, res.Status, m.TotalReturn, m.MaxDrawdown, m.SharpeRatio, m.TotalTrades)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(results))
	}
	return nil
}
