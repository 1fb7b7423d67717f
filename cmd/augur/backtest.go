package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newthinker/augur/internal/backtest"
	"github.com/newthinker/augur/internal/report"
	"github.com/newthinker/augur/internal/runner"
)

var (
	backtestModel     string
	backtestStrategy  string
	backtestFrom      string
	backtestTo        string
	backtestCapital   float64
	backtestMaxPos    int
	backtestThreshold float64
	backtestJSON      bool
	backtestHTML      string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run one backtest",
	Long:  "Replay a model's predictions over a date range and show performance statistics",
	Args:  cobra.NoArgs,
	RunE:  runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestModel, "model", "", "Model ID (defaults to backtest.model_id)")
	backtestCmd.Flags().StringVar(&backtestStrategy, "strategy", "", "Strategy ID for rules")
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "Start date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "End date YYYY-MM-DD (required)")
	backtestCmd.Flags().Float64Var(&backtestCapital, "capital", 0, "Initial capital")
	backtestCmd.Flags().IntVar(&backtestMaxPos, "max-positions", 0, "Maximum concurrent positions")
	backtestCmd.Flags().Float64Var(&backtestThreshold, "threshold", 0, "Minimum prediction confidence")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "Print the full result as JSON")
	backtestCmd.Flags().StringVar(&backtestHTML, "html", "", "Write an HTML report to this file")

	backtestCmd.MarkFlagRequired("from")
	backtestCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	a, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	spec := runner.Spec{
		Name:       "cli",
		ModelID:    backtestModel,
		StrategyID: backtestStrategy,
		StartDate:  backtestFrom,
		EndDate:    backtestTo,
	}
	if cmd.Flags().Changed("capital") {
		spec.InitialCapital = &backtestCapital
	}
	if cmd.Flags().Changed("max-positions") {
		spec.MaxPositions = &backtestMaxPos
	}
	if cmd.Flags().Changed("threshold") {
		spec.ConfidenceThreshold = &backtestThreshold
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.Run(ctx, spec)
	if err != nil {
		return err
	}

	if backtestJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	} else if err := report.Summary(cmd.OutOrStdout(), res); err != nil {
		return err
	}

	if backtestHTML != "" && res.Status == backtest.StatusCompleted {
		if err := writeHTML(backtestHTML, res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", backtestHTML)
	}

	if res.Status == backtest.StatusFailed {
		return res.Error
	}
	return nil
}

func writeHTML(path string, res *backtest.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := report.Render(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
