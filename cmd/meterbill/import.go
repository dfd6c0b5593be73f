package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/artpar/meterbill/pkg/wire"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <dataset-file>",
	Short: "Load plans, tax rates and tenants into the local database",
	Long: `Load a dataset into the local database. Records replace existing
records with the same ID.

Dataset format (YAML or JSON):

  plans:
    - id: basic
      display_name: Basic
      pricing_menus: [...]
  tax_rates:
    - id: jp10
      display_name: Consumption tax
      percentage: 10
  tenants:
    - id: t1
      name: Acme
      plan_id: basic
      plan_histories:
        - plan_id: basic
          plan_applied_at: 1704034800
          tax_rate_id: jp10

Examples:
  meterbill import seed.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// dataset is the document read by the import command.
type dataset struct {
	Plans    []wire.Plan    `json:"plans"`
	TaxRates []wire.TaxRate `json:"tax_rates"`
	Tenants  []wire.Tenant  `json:"tenants"`
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func readDataset(path string) (dataset, error) {
	var ds dataset
	data, err := os.ReadFile(path)
	if err != nil {
		return ds, fmt.Errorf("read dataset: %w", err)
	}
	data, err = yamlToJSON(data)
	if err != nil {
		return ds, fmt.Errorf("%s: %w", path, err)
	}
	if err := json.Unmarshal(data, &ds); err != nil {
		return ds, fmt.Errorf("%s: decode dataset: %w", path, err)
	}
	return ds, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ds, err := readDataset(args[0])
	if err != nil {
		return err
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
	for _, wp := range ds.Plans {
		p, err := wp.ToDomain()
		if err != nil {
			return fmt.Errorf("plan %s: %w", wp.ID, err)
		}
		if err := a.Local.Plans.PutPlan(ctx, p); err != nil {
			return fmt.Errorf("store plan %s: %w", wp.ID, err)
		}
	}
	for _, r := range ds.TaxRates {
		if err := a.Local.Plans.PutTaxRate(ctx, r.ToDomain()); err != nil {
			return fmt.Errorf("store tax rate %s: %w", r.ID, err)
		}
	}
	for _, t := range ds.Tenants {
		if err := a.Local.Tenants.PutTenant(ctx, t.ToDomain()); err != nil {
			return fmt.Errorf("store tenant %s: %w", t.ID, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d plans, %d tax rates, %d tenants\n",
		len(ds.Plans), len(ds.TaxRates), len(ds.Tenants))
	return nil
}
