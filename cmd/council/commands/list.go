package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kylenewm/mvp-buildkit/internal/printer"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

var (
	listJSON   bool
	listTask   string
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deliberation runs",
	Long: `List deliberation runs in the current namespace, newest first.

For each run, displays:
  • Run ID (short form)
  • Task type
  • Status
  • Parent run (for council runs)
  • Age

Use --task and --status to filter, --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().StringVar(&listTask, "task", "", "Filter by task type")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Show at most this many runs")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, env, err := newLedgerClient()
	if err != nil {
		return err
	}
	defer client.Close()

	runs, err := client.ListRuns(ctx, ledger.RunFilter{
		TaskType: ledger.TaskType(listTask),
		Status:   ledger.Status(listStatus),
		Limit:    listLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		if listJSON {
			fmt.Println("[]")
		} else {
			fmt.Printf("No runs found in namespace %q.\n", env.Namespace)
			fmt.Println()
			fmt.Println("Start one with 'council run plan --brief \"...\"'.")
		}
		return nil
	}

	if listJSON {
		outputJSON(runs)
	} else {
		outputTable(runs)
	}

	return nil
}

func formatAge(createdAtMs int64) string {
	d := time.Since(time.UnixMilli(createdAtMs)).Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	} else {
		return fmt.Sprintf("%ds", seconds)
	}
}

func outputJSON(runs []*ledger.Run) {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputTable(runs []*ledger.Run) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("RUN", "TASK", "STATUS", "PARENT", "AGE")

	for _, run := range runs {
		parent := "-"
		if run.ParentRunID != "" {
			parent = printer.ShortRef(run.ParentRunID)
		}
		table.Append([]string{
			printer.ShortRef(run.ID),
			string(run.TaskType),
			string(run.Status),
			parent,
			formatAge(run.CreatedAtMs),
		})
	}

	table.Render()
}
