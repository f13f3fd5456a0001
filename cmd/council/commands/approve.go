package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kylenewm/mvp-buildkit/internal/council"
	"github.com/kylenewm/mvp-buildkit/internal/printer"
	"github.com/kylenewm/mvp-buildkit/internal/resolver"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

var (
	approveEditFile string
	approveReject   bool
	approveFeedback string
)

var approveCmd = &cobra.Command{
	Use:   "approve <run-id>",
	Short: "Record a human decision on a waiting run",
	Long: `Record a human decision on a run that is waiting for approval.

By default the chair synthesis is approved as-is. Pass --edit-file to
approve a hand-edited synthesis instead, or --reject with --feedback to
fail the run. Approval triggers output validation; a run that passes
becomes ready to commit, one that fails is marked validation_failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().StringVar(&approveEditFile, "edit-file", "", "Approve an edited synthesis read from this file")
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "Reject the run")
	approveCmd.Flags().StringVar(&approveFeedback, "feedback", "", "Reviewer feedback (required with --reject)")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if approveReject && approveEditFile != "" {
		return printer.Error("Conflicting flags", "--reject and --edit-file cannot be combined",
			[]string{"Use --reject --feedback '...' or --edit-file <path>, not both"})
	}
	if approveReject && approveFeedback == "" {
		return printer.Error("Missing feedback", "rejections must explain what the council should do differently",
			[]string{"Add --feedback 'reason for rejection'"})
	}

	client, _, err := newLedgerClient()
	if err != nil {
		return err
	}
	defer client.Close()

	runID, err := resolver.ResolveRunID(ctx, client, args[0])
	if err != nil {
		return err
	}

	decision := ledger.DecisionApprove
	edited := ""
	switch {
	case approveReject:
		decision = ledger.DecisionReject
	case approveEditFile != "":
		data, err := os.ReadFile(approveEditFile)
		if err != nil {
			return fmt.Errorf("failed to read edited synthesis: %w", err)
		}
		decision = ledger.DecisionEditApprove
		edited = string(data)
	}

	approval, result, err := council.Review(ctx, client, runID, decision, edited, approveFeedback)
	if err != nil {
		return err
	}

	if decision == ledger.DecisionReject {
		printer.Warning("Run %s rejected\n", printer.ShortRef(runID))
		printer.Info("Re-run the deliberation with 'council rerun %s' to fold in your feedback\n", printer.ShortRef(runID))
		return nil
	}

	if result != nil && !result.Valid {
		return printer.ErrorWithContext("Output validation failed",
			result.Details(),
			map[string]string{"run": runID, "decision": string(approval.Decision)},
			[]string{"Fix the synthesis and approve again with --edit-file"})
	}

	printer.Success("Run %s approved and validated\n", printer.ShortRef(runID))
	printer.Info("Commit it with 'council commit %s'\n", printer.ShortRef(runID))
	return nil
}
