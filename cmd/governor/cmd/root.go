// Package cmd provides the CLI commands for the governor binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/governed/governor/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "governor",
	Short: "Governor - AI agent action governance engine",
	Long: `Governor mediates AI agent actions (tool calls, outbound messages,
session starts) against a declarative policy set, producing an
allow/deny/escalate verdict together with a risk assessment, a trust
update, and a tamper-evident audit record.

Quick start:
  1. Create a config file: governor.yaml
  2. Validate it:          governor validate
  3. Evaluate one event:   governor evaluate < event.json
  4. Run the status/metrics surface: governor serve

Configuration is loaded from governor.yaml in the current directory,
$HOME/.governor/, or /etc/governor/. Environment variables can override
config values with the GOVERNOR_ prefix, e.g. GOVERNOR_FAILMODE=open.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./governor.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
