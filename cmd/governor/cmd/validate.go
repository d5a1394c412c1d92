package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/governed/governor/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a policy bundle without starting the engine",
	Long: `Load the configured YAML policy bundle, apply defaults, and run the
full validator (struct tags plus cross-field checks: duplicate ids, dangling
time-window references, inverted trust-tier ranges, target-less escalations).

Exits non-zero and prints the errors found without starting the engine:
every struct-tag violation together, otherwise the first failing
cross-field check. This is safe to run in CI before deploying a new
policy bundle.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("policy bundle is invalid: %w", err)
	}

	if _, err := config.ToDomain(cfg.Policies, cfg.TimeWindows); err != nil {
		return fmt.Errorf("policy bundle is invalid: %w", err)
	}

	fmt.Printf("OK: %d policies declared, %d time windows\n", len(cfg.Policies), len(cfg.TimeWindows))
	return nil
}
