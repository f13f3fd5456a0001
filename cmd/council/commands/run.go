package commands

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kylenewm/mvp-buildkit/internal/config"
	"github.com/kylenewm/mvp-buildkit/internal/council"
	"github.com/kylenewm/mvp-buildkit/internal/participant"
	"github.com/kylenewm/mvp-buildkit/internal/printer"
	"github.com/kylenewm/mvp-buildkit/internal/resolver"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

var (
	runFromPlan  string
	runBrief     string
	runBriefFile string
)

var runCmd = &cobra.Command{
	Use:   "run <task-type>",
	Short: "Start a deliberation run",
	Long: `Start a deliberation run for one task type.

Plan runs need a briefing (--brief or --brief-file) describing the MVP.
Council runs (spec, invariants, tracker, prompts, cursor_rules) need an
approved plan run via --from-plan; their upstream inputs are resolved
from the newest approved sibling runs automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFromPlan, "from-plan", "", "Approved plan run ID (full or prefix)")
	runCmd.Flags().StringVar(&runBrief, "brief", "", "Briefing text for the deliberation")
	runCmd.Flags().StringVar(&runBriefFile, "brief-file", "", "Read the briefing from a file")
	rootCmd.AddCommand(runCmd)
}

// buildCoordinator assembles the roster from council.yml and the API key
// from the environment.
func buildCoordinator(client *ledger.Client, env *config.Env, cfg *config.CouncilConfig) (*council.Coordinator, error) {
	if err := env.RequireAPIKey(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Participants))
	for name := range cfg.Participants {
		names = append(names, name)
	}
	sort.Strings(names)

	roster := make([]participant.Participant, 0, len(names))
	for _, name := range names {
		roster = append(roster, participant.NewAnthropic(env.AnthropicAPIKey, cfg.Participants[name].Model))
	}
	chair := participant.NewAnthropic(env.AnthropicAPIKey, cfg.ChairModel())

	return council.New(client, roster, chair, cfg.Timeouts)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	taskType := ledger.TaskType(args[0])
	if err := taskType.Validate(); err != nil {
		return printer.Error("Unknown task type", err.Error(),
			[]string{"Valid types: plan, spec, invariants, tracker, prompts, cursor_rules"})
	}

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

	brief := runBrief
	if runBriefFile != "" {
		data, err := os.ReadFile(runBriefFile)
		if err != nil {
			return fmt.Errorf("failed to read briefing: %w", err)
		}
		brief = string(data)
	}

	parentID := ""
	if runFromPlan != "" {
		parentID, err = resolver.ResolveRunID(ctx, client, runFromPlan)
		if err != nil {
			return err
		}
	}

	printer.Step("Deliberating %s with %d participants (chair: %s)...\n",
		taskType, len(cfg.Participants), cfg.Chair)

	run, err := coord.Run(ctx, taskType, parentID, brief)
	if err != nil {
		if run != nil {
			return printer.ErrorWithContext("Deliberation failed", err.Error(),
				map[string]string{"run": run.ID, "status": string(run.Status)},
				[]string{fmt.Sprintf("Inspect artifacts with 'council show %s'", printer.ShortRef(run.ID))})
		}
		return err
	}

	printer.Success("Run %s is waiting for approval\n", run.ID)
	printer.Info("Review it with 'council show %s', then 'council approve %s'\n", printer.ShortRef(run.ID), printer.ShortRef(run.ID))
	return nil
}
