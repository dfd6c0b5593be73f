package main

import (
	"fmt"
	"os"

	"github.com/artpar/meterbill/config"
	"github.com/artpar/meterbill/domain/pricing"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [plan-file]...",
	Short: "Validate configuration and plan definitions",
	Long: `Validate the meterbill configuration file and, optionally, plan
definition files.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Each plan file decodes and every unit type is known

Examples:
  meterbill validate
  meterbill validate --config /etc/meterbill/config.yaml basic.yaml`,
	RunE: runValidate,
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(cfgFile); statErr == nil {
		fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)
		cfg, err = config.Load(cfgFile)
	} else {
		fmt.Fprintf(out, "Validating environment configuration (%s not found)...\n\n", cfgFile)
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)
	fmt.Fprintf(out, "  %s Sources: %s\n", checkMark, cfg.Sources.Mode)
	if cfg.Sources.Mode == config.ModeLocal {
		fmt.Fprintf(out, "  %s Database: %s\n", checkMark, cfg.Database.DSN)
		fmt.Fprintf(out, "  %s Tokens configured: %d\n", checkMark, len(cfg.Auth.Tokens))
	} else {
		fmt.Fprintf(out, "  %s Pricing: %s\n", checkMark, cfg.Sources.Pricing.URL)
		fmt.Fprintf(out, "  %s Auth: %s\n", checkMark, cfg.Sources.Auth.URL)
	}
	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Server.Addr())

	failed := 0
	for _, path := range args {
		p, err := readPlanFile(path)
		if err != nil {
			fmt.Fprintf(out, "  %s Plan %s\n", crossMark, path)
			fmt.Fprintf(out, "      Error: %v\n", err)
			failed++
			continue
		}
		granularity := "monthly"
		if pricing.PlanHasYearlyUnit(p) {
			granularity = "yearly"
		}
		fmt.Fprintf(out, "  %s Plan %s (%s, %s periods)\n", checkMark, path, p.ID, granularity)
	}

	fmt.Fprintln(out)
	if failed > 0 {
		return fmt.Errorf("%d of %d plan files invalid", failed, len(args))
	}
	fmt.Fprintln(out, "Validation passed")
	return nil
}
