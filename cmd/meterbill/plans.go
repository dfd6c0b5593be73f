package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/pkg/wire"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage pricing plans",
	Long: `Inspect and load pricing plans.

Examples:
  meterbill plans list
  meterbill plans get basic -o yaml
  meterbill plans import basic.yaml pro.json`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	RunE:  runPlansList,
}

var plansGetCmd = &cobra.Command{
	Use:   "get <plan-id>",
	Short: "Get plan details",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansGet,
}

var plansImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Store plan definitions in the local database",
	Long: `Read plan definitions (JSON or YAML, one plan per file) and store them
in the local database, replacing plans with the same ID.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlansImport,
}

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansGetCmd)
	plansCmd.AddCommand(plansImportCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	plans, err := a.Sources.Plans.ListPlans(context.Background())
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}

	out := make([]wire.Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, wire.FromPlan(p))
	}

	return render(cmd.OutOrStdout(), out, func(w *tabwriter.Writer) {
		if len(plans) == 0 {
			fmt.Fprintln(w, "No plans found.")
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Load one with: meterbill plans import plan.yaml")
			return
		}
		fmt.Fprintln(w, "ID\tNAME\tMENUS\tUNITS\tYEARLY")
		for _, p := range plans {
			units := 0
			for _, m := range p.Menus {
				units += len(m.Units)
			}
			yearly := "no"
			if pricing.PlanHasYearlyUnit(p) {
				yearly = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", p.ID, p.DisplayName, len(p.Menus), units, yearly)
		}
	})
}

func runPlansGet(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.Sources.Plans.GetPlan(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}

	return render(cmd.OutOrStdout(), wire.FromPlan(p), func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "ID:\t%s\n", p.ID)
		fmt.Fprintf(w, "Name:\t%s\n", p.DisplayName)
		if p.Description != "" {
			fmt.Fprintf(w, "Description:\t%s\n", p.Description)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "MENU\tUNIT\tTYPE\tINTERVAL\tCURRENCY\tMETERING UNIT")
		for _, m := range p.Menus {
			for _, u := range m.Units {
				wu := wire.FromUnit(u)
				metered := wu.MeteringUnitName
				if metered == "" {
					metered = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.DisplayName, wu.DisplayName, wu.Type, wu.RecurringInterval, wu.Currency, metered)
			}
		}
	})
}

func runPlansImport(cmd *cobra.Command, args []string) error {
	plans := make([]pricing.Plan, 0, len(args))
	for _, path := range args {
		p, err := readPlanFile(path)
		if err != nil {
			return err
		}
		plans = append(plans, p)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := requireLocal(a); err != nil {
		return err
	}

	ctx := context.Background()
	for _, p := range plans {
		if err := a.Local.Plans.PutPlan(ctx, p); err != nil {
			return fmt.Errorf("store plan %s: %w", p.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported plan %s (%s)\n", p.ID, p.DisplayName)
	}
	return nil
}

// readPlanFile loads one plan definition from a JSON or YAML file.
func readPlanFile(path string) (pricing.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pricing.Plan{}, fmt.Errorf("read plan: %w", err)
	}
	data, err = yamlToJSON(data)
	if err != nil {
		return pricing.Plan{}, fmt.Errorf("%s: %w", path, err)
	}
	p, err := wire.DecodePlan(data)
	if err != nil {
		return pricing.Plan{}, fmt.Errorf("%s: %w", path, err)
	}
	if p.ID == "" {
		return pricing.Plan{}, fmt.Errorf("%s: plan id is required", path)
	}
	return p, nil
}

// yamlToJSON converts a YAML document to JSON so the wire decoders apply.
// JSON input passes through unchanged in meaning since JSON is YAML.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return json.Marshal(doc)
}
