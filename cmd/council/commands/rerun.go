package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kylenewm/mvp-buildkit/internal/config"
	"github.com/kylenewm/mvp-buildkit/internal/printer"
	"github.com/kylenewm/mvp-buildkit/internal/resolver"
)

var rerunCmd = &cobra.Command{
	Use:   "rerun <run-id>",
	Short: "Re-deliberate a rejected run with the reviewer's feedback",
	Long: `Start a fresh deliberation from a rejected run.

The new run uses the rejected run's briefing with the rejection feedback
appended, so the council sees what the reviewer objected to.`,
	Args: cobra.ExactArgs(1),
	RunE: runRerun,
}

func init() {
	rootCmd.AddCommand(rerunCmd)
}

func runRerun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	client, env, err := newLedgerClient()
	if err != nil {
		return err
	}
	defer client.Close()

	coord, err := buildCoordinator(client, env, cfg)
	if err != nil {
		return err
	}

	runID, err := resolver.ResolveRunID(ctx, client, args[0])
	if err != nil {
		return err
	}

	printer.Step("Re-deliberating from rejected run %s...\n", printer.ShortRef(runID))

	run, err := coord.RespawnFromRejection(ctx, runID)
	if err != nil {
		if run != nil {
			return printer.ErrorWithContext("Deliberation failed", err.Error(),
				map[string]string{"run": run.ID, "status": string(run.Status)},
				[]string{fmt.Sprintf("Inspect artifacts with 'council show %s'", printer.ShortRef(run.ID))})
		}
		return err
	}

	printer.Success("Run %s is waiting for approval\n", run.ID)
	printer.Info("Review it with 'council show %s'\n", printer.ShortRef(run.ID))
	return nil
}
