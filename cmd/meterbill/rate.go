package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/pkg/wire"
	"github.com/spf13/cobra"
)

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Rate a tenant's usage against a plan",
	Long: `Compute the line items and per-currency totals of a plan for one
period, using the usage counters of the configured sources.

The plan comes from the plan source (--plan) or from a local file
(--plan-file, JSON or YAML).

Examples:
  meterbill rate --tenant t1 --plan basic --start 2024-01-01 --end 2024-01-31
  meterbill rate --tenant t1 --plan-file draft.yaml --start 1704034800 --end 1706713199 -o json`,
	RunE: runRate,
}

var (
	rateTenant   string
	ratePlanID   string
	ratePlanFile string
	rateStart    string
	rateEnd      string
)

func init() {
	rootCmd.AddCommand(rateCmd)

	rateCmd.Flags().StringVar(&rateTenant, "tenant", "", "tenant ID (required)")
	rateCmd.Flags().StringVar(&ratePlanID, "plan", "", "plan ID in the plan source")
	rateCmd.Flags().StringVar(&ratePlanFile, "plan-file", "", "plan definition file (JSON or YAML)")
	rateCmd.Flags().StringVar(&rateStart, "start", "", "period start (required)")
	rateCmd.Flags().StringVar(&rateEnd, "end", "", "period end (required)")
	rateCmd.MarkFlagRequired("tenant")
	rateCmd.MarkFlagRequired("start")
	rateCmd.MarkFlagRequired("end")
	rateCmd.MarkFlagsMutuallyExclusive("plan", "plan-file")
	rateCmd.MarkFlagsOneRequired("plan", "plan-file")
}

func runRate(cmd *cobra.Command, args []string) error {
	start, err := parseTime(rateStart)
	if err != nil {
		return err
	}
	end, err := parseTime(rateEnd)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()

	var plan pricing.Plan
	if ratePlanFile != "" {
		plan, err = readPlanFile(ratePlanFile)
	} else {
		plan, err = a.Sources.Plans.GetPlan(ctx, ratePlanID)
	}
	if err != nil {
		return err
	}

	result, err := a.Rating.Rate(ctx, rateTenant, start, end, plan)
	if err != nil {
		return fmt.Errorf("rate: %w", err)
	}

	out := wire.FromResult(result)
	return render(cmd.OutOrStdout(), out, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "MENU\tUNIT\tTYPE\tMETERING UNIT\tCOUNT\tAMOUNT\tCURRENCY")
		for _, li := range out.LineItems {
			metered := li.MeteringUnitName
			if metered == "" {
				metered = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				li.FunctionMenuName,
				li.PricingUnitDisplayName,
				li.MeteringUnitType,
				metered,
				li.PeriodCount,
				li.PeriodAmount.Decimal().String(),
				li.Currency,
			)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "CURRENCY\tTOTAL")
		for _, t := range out.Totals {
			fmt.Fprintf(w, "%s\t%s\n", t.Currency, t.TotalAmount.Decimal().String())
		}
	})
}
