package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/governed/governor/internal/adapter/inbound/hook"
	"github.com/governed/governor/internal/config"
	"github.com/governed/governor/internal/wiring"
)

var evaluateEventFile string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one hook event against the configured policy bundle",
	Long: `Read a single JSON-encoded hook event from stdin (or --event file),
run it through the full evaluation pipeline exactly as an embedded engine
would for a host's pre-action hook, and print the resulting verdict as JSON.

This is a one-shot offline tool for local testing of policy bundles: it
loads the trust store and audit log under the configured workspace, applies
one evaluation, flushes state, and exits.

Example event:
  {"hook":"before_tool_call","agent_id":"forge","session_key":"agent:forge:main","tool_name":"exec","tool_params":{"command":"ls"}}`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateEventFile, "event", "", "path to a JSON hook event (default: read from stdin)")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var data []byte
	if evaluateEventFile != "" {
		data, err = os.ReadFile(evaluateEventFile)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read hook event: %w", err)
	}

	event, err := hook.DecodeEvent(data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	built, err := wiring.Build(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := built.Engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() { _ = built.Engine.Stop(ctx) }()

	builder := hook.NewBuilder(cfg.Timezone, cfg.Performance.MaxContextMessages)
	evalCtx := builder.Build(event)

	verdict := built.Engine.Evaluate(ctx, evalCtx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(verdict)
}
