package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Overridden with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

func currentVersion() versionInfo {
	info := versionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	}
	if commit != "none" {
		return info
	}
	// go install builds carry VCS stamps instead of ldflags.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
			case "vcs.time":
				info.BuildDate = s.Value
			}
		}
	}
	return info
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := currentVersion()
		return render(cmd.OutOrStdout(), v, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "meterbill\t%s\n", v.Version)
			fmt.Fprintf(tw, "commit\t%s\n", v.Commit)
			fmt.Fprintf(tw, "built\t%s\n", v.BuildDate)
			fmt.Fprintf(tw, "go\t%s\n", v.GoVersion)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
