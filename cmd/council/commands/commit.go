package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	commitpkg "github.com/kylenewm/mvp-buildkit/internal/commit"
	"github.com/kylenewm/mvp-buildkit/internal/config"
	"github.com/kylenewm/mvp-buildkit/internal/gitcheck"
	"github.com/kylenewm/mvp-buildkit/internal/printer"
	"github.com/kylenewm/mvp-buildkit/internal/resolver"
)

var (
	commitPack bool
	commitRepo string
)

var commitCmd = &cobra.Command{
	Use:   "commit <run-id>",
	Short: "Write an approved run's output into the target repository",
	Long: `Write an approved run's output files into the target repository.

Only runs that passed validation (ready_to_commit) can be committed.
Writes are additive: existing files are never overwritten, paths must be
canonical per the artifact registry, and the working tree must be clean.
Every commit also writes a timestamped snapshot under versions/ with a
manifest of file hashes.

With --pack, <run-id> names an approved plan run and the newest approved
run of every pack type under that plan is committed in one operation.`,
	Args: cobra.ExactArgs(1),
	RunE: runCommit,
}

func init() {
	commitCmd.Flags().BoolVar(&commitPack, "pack", false, "Commit the full pack under an approved plan run")
	commitCmd.Flags().StringVar(&commitRepo, "repo", "", "Target repository (defaults to target_repo in council.yml)")
	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	repoDir := commitRepo
	if repoDir == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		repoDir = cfg.TargetRepo
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

	engine := commitpkg.NewEngine(client, gitcheck.NewChecker())

	printer.Step("Committing to %s...\n", repoDir)

	var manifest *commitpkg.Manifest
	if commitPack {
		manifest, err = engine.CommitPack(ctx, runID, repoDir)
	} else {
		manifest, err = engine.CommitRun(ctx, runID, repoDir)
	}
	if err != nil {
		var be *commitpkg.BlockedError
		if errors.As(err, &be) {
			return printer.CommitBlocked(be, repoDir)
		}
		return err
	}

	printer.Success("Wrote %d files\n", len(manifest.StablePathsWritten))
	for _, path := range manifest.StablePathsWritten {
		printer.Printf("  %s\n", path)
	}
	printer.Info("Snapshot: %s\n", manifest.SnapshotPath)
	return nil
}
