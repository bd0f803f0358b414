package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	config    string
	logLevel  string
	logPretty bool
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "tally",
		Short: "Camera tally bridge and tally light nodes",
		Long: `tally distributes switcher program/preview state to camera tally lights.

The bridge follows a video switcher and pushes per-camera display states to every
registered light. A light discovers the bridge, registers its camera number and
shows the state it is sent, reconnecting on its own when the link drops.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.config, "config", "", "config file (default is ./tally.yaml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&flags.logPretty, "log-pretty", false, "human readable console logs")

	cmd.AddCommand(
		bridgeCmd(flags),
		lightCmd(flags),
		simCmd(flags),
		versionCmd(),
	)
	return cmd
}
