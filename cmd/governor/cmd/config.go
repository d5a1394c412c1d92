package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/governed/governor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Load the configuration the engine would run with (file, environment
overrides, and defaults applied) and print it as YAML.

Useful to confirm what a GOVERNOR_-prefixed environment variable actually
overrode, or to bootstrap a config file from the built-in defaults:
  governor config > governor.yaml`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if used := config.ConfigFileUsed(); used != "" {
		fmt.Fprintf(os.Stderr, "# loaded from %s\n", used)
	} else {
		fmt.Fprintln(os.Stderr, "# no config file found; defaults and environment only")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
