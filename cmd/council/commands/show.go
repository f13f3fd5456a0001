package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kylenewm/mvp-buildkit/internal/printer"
	"github.com/kylenewm/mvp-buildkit/internal/resolver"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

var (
	showArtifact string
	showFinal    bool
)

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's details and artifacts",
	Long: `Show a run's lifecycle state, its artifacts, and the latest human
decision on it.

By default prints a summary of every artifact. Pass --artifact <kind> to
print one artifact's full content, or --final to print the run's final
output (the approved output, falling back to the edited or raw
synthesis).`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showArtifact, "artifact", "", "Print the full content of artifacts of this kind")
	showCmd.Flags().BoolVar(&showFinal, "final", false, "Print the run's final output content")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := newLedgerClient()
	if err != nil {
		return err
	}
	defer client.Close()

	runID, err := resolver.ResolveRunID(ctx, client, args[0])
	if err != nil {
		return err
	}

	run, err := client.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if showFinal {
		final, err := client.FinalOutput(ctx, runID)
		if err != nil {
			return err
		}
		printer.Printf("%s\n", final.Content)
		return nil
	}

	if showArtifact != "" {
		kind := ledger.Kind(showArtifact)
		if err := kind.Validate(); err != nil {
			return printer.Error("Unknown artifact kind", err.Error(), nil)
		}
		artifacts, err := client.GetArtifacts(ctx, runID, kind)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			printer.Warning("Run %s has no %s artifacts\n", printer.ShortRef(runID), kind)
			return nil
		}
		for i, artifact := range artifacts {
			if len(artifacts) > 1 {
				printer.Printf("--- %s %d/%d (%s) ---\n", kind, i+1, len(artifacts), artifact.Model)
			}
			printer.Printf("%s\n", artifact.Content)
		}
		return nil
	}

	printer.Printf("Run:     %s\n", run.ID)
	printer.Printf("Task:    %s\n", run.TaskType)
	printer.Printf("Status:  %s\n", run.Status)
	if run.ParentRunID != "" {
		printer.Printf("Parent:  %s\n", run.ParentRunID)
	}
	printer.Printf("Created: %s\n", time.UnixMilli(run.CreatedAtMs).Format(time.RFC3339))
	printer.Printf("Updated: %s\n", time.UnixMilli(run.UpdatedAtMs).Format(time.RFC3339))

	artifacts, err := client.GetArtifacts(ctx, runID, "")
	if err != nil {
		return err
	}
	if len(artifacts) > 0 {
		printer.Println()
		printer.Printf("%-18s %-28s %-10s %s\n", "KIND", "MODEL", "SIZE", "CREATED")
		for _, artifact := range artifacts {
			model := artifact.Model
			if model == "" {
				model = "-"
			}
			printer.Printf("%-18s %-28s %-10s %s\n",
				artifact.Kind, model,
				fmt.Sprintf("%dB", len(artifact.Content)),
				time.UnixMilli(artifact.CreatedAtMs).Format("15:04:05"))
		}
	}

	approval, err := client.LatestApproval(ctx, runID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil
		}
		return err
	}
	printer.Println()
	printer.Printf("Latest decision: %s\n", approval.Decision)
	if approval.Feedback != "" {
		printer.Printf("Feedback: %s\n", approval.Feedback)
	}
	return nil
}
