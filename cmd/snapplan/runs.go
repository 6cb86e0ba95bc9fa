package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clarencejohnson126/SnapPlanApp/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs stored in the local database",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the stored result of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsShowCmd.Flags().String("output", "", "output file path (default: stdout)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tFILE\tSTATUS\tOUTCOME\tAREA m²\tDOORS\tCREATED")
	for _, r := range runs {
		status := string(r.Status)
		if r.Partial {
			status += " (partial)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%d\t%s\n",
			r.RunID, r.Filename, status, r.Outcome, r.TotalAreaM2, r.Doors, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.GetResult(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no run %s in %s", args[0], storePath())
	}
	if err != nil {
		return err
	}
	return writeJSON(cmd, res)
}
