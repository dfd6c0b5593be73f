package main

import (
	"context"
	"fmt"
	"os"

	"github.com/artpar/meterbill/bootstrap"
	"github.com/artpar/meterbill/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the billing API server",
	Long: `Start the meterbill HTTP API.

The server will:
  - Load configuration from meterbill.yaml (or --config)
  - Or load configuration from METERBILL_* environment variables
  - Open the local database or connect to the remote sources
  - Serve the billing dashboard, plan periods and metering endpoints

With a config file and --hot-reload (default), auth tokens and the log
level are reloaded on file change or SIGHUP.

Examples:
  meterbill serve
  meterbill serve --config /etc/meterbill/config.yaml
  METERBILL_SOURCES_MODE=remote METERBILL_PRICING_URL=... METERBILL_AUTH_URL=... meterbill serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload auth tokens and log level on config change")
}

func runServe(cmd *cobra.Command, args []string) error {
	var (
		cfg    *config.Config
		holder *config.Holder
		err    error
	)

	if _, statErr := os.Stat(cfgFile); statErr == nil && hotReload {
		holder, err = config.NewHolder(cfgFile, zerolog.New(os.Stderr).With().Timestamp().Str("component", "config").Logger())
		if err != nil {
			return err
		}
		cfg = holder.Get()
	} else {
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
	}

	app, err := bootstrap.New(cfg, bootstrap.Options{LogOutput: os.Stderr, Holder: holder, Version: version})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	return app.Run(context.Background())
}
