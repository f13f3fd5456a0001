package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kylenewm/mvp-buildkit/internal/config"
	"github.com/kylenewm/mvp-buildkit/pkg/ledger"
)

var (
	version string
	commit  string
	date    string
)

// configPath is shared by every command that reads council.yml.
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Council - multi-model deliberation for MVP build artifacts",
	Long: `Council orchestrates multi-model deliberations that produce the canonical
build artifacts of an MVP project: plan, spec, invariants, tracker,
prompt templates, and editor rules.

Each run fans a briefing out to several models for parallel drafts and
critiques, has a chair model synthesize the result, and gates the output
behind human approval before committing it to a target repository.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "council.yml", "Path to council configuration")
}

// newLedgerClient connects to Redis using environment settings.
func newLedgerClient() (*ledger.Client, *config.Env, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, nil, err
	}

	client, err := ledger.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPassword,
		DB:       env.RedisDB,
	}, env.Namespace)
	if err != nil {
		return nil, nil, err
	}
	return client, env, nil
}
