package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newthinker/augur/internal/core"
	"github.com/newthinker/augur/internal/report"
)

var (
	reportOut  string
	reportList bool
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Render an archived run",
	Long:  "Print the summary of an archived run and optionally render its charts to HTML",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "output", "o", "", "Write an HTML report to this file")
	reportCmd.Flags().BoolVar(&reportList, "list", false, "List archived run IDs")

	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	a, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer a.Close()

	results := a.Results()
	if results == nil {
		return core.Errorf(core.ErrConfigMissing, "archive is disabled; set archive.enabled in the config")
	}

	ctx, cancel := signalContext()
	defer cancel()

	if reportList || len(args) == 0 {
		ids, err := results.IDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}

	res, err := results.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if err := report.Summary(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if reportOut != "" {
		if err := writeHTML(reportOut, res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", reportOut)
	}
	return nil
}
