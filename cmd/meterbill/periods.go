package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/artpar/meterbill/pkg/wire"
	"github.com/spf13/cobra"
)

var periodsCmd = &cobra.Command{
	Use:   "periods <tenant-id>",
	Short: "List a tenant's billing periods",
	Long: `Split a tenant's plan history into billing periods, newest first.

Monthly plans produce calendar-month periods anchored on the plan start;
plans with a yearly unit produce yearly periods.

Examples:
  meterbill periods t1
  meterbill periods t1 -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPeriods,
}

func init() {
	rootCmd.AddCommand(periodsCmd)
}

func runPeriods(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	segs, err := a.Billing.PlanPeriods(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("plan periods: %w", err)
	}

	out := wire.FromSegments(segs)
	return render(cmd.OutOrStdout(), out, func(w *tabwriter.Writer) {
		if len(out) == 0 {
			fmt.Fprintln(w, "No billing periods.")
			return
		}
		fmt.Fprintln(w, "LABEL\tPLAN\tSTART\tEND")
		for _, s := range out {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Label, s.PlanID, formatTime(s.Start), formatTime(s.End))
		}
	})
}
