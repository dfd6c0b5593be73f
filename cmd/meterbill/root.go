package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/artpar/meterbill/bootstrap"
	"github.com/artpar/meterbill/config"
	"github.com/artpar/meterbill/domain/period"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	cfgFile      string
	envFile      string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meterbill",
	Short: "Usage rating and billing period engine",
	Long: `meterbill rates tenant usage against pricing plans and splits a
tenant's plan history into billing periods.

Quick start:
  meterbill plans import plan.yaml   # Load a pricing plan (local mode)
  meterbill serve                    # Start the billing API

Offline:
  meterbill rate --tenant t1 --plan basic --start 2024-01-01 --end 2024-01-31
  meterbill periods t1
  meterbill validate`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "meterbill.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to export before loading config (default .env when present)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
}

// loadConfig loads the config file, or the environment when the file is absent.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp builds the application for a one-shot command. Logs go to stderr
// so they never mix with command output.
func openApp() (*bootstrap.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg, bootstrap.Options{LogOutput: os.Stderr, Version: version})
}

// requireLocal fails for commands that write to the local database.
func requireLocal(a *bootstrap.App) error {
	if a.Local == nil {
		return fmt.Errorf("this command needs sources.mode=%s (got %s)", config.ModeLocal, a.Config.Sources.Mode)
	}
	return nil
}

// render writes v in the selected output format. table is called for the
// table format only.
func render(w io.Writer, v any, table func(tw *tabwriter.Writer)) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)

	case "yaml":
		// Round trip through JSON so the wire field names apply.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()

	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
}

// parseTime accepts epoch seconds, RFC 3339 or a YYYY-MM-DD date, which is
// read as midnight in the billing time zone.
func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, period.JST); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want epoch seconds, RFC 3339 or YYYY-MM-DD", s)
}

func formatTime(epoch int64) string {
	if epoch == 0 {
		return "-"
	}
	return time.Unix(epoch, 0).In(period.JST).Format(time.RFC3339)
}
