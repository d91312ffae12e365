// Command deploywatch is the deploy supervisor. It runs beside the
// dashboard server, polls the git remote for new revisions, and
// health-checks each deploy, rolling back to the previous revision when the
// restarted server does not come up healthy.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"homeboard/server/deploy"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "deploywatch",
		Short:        "Deploy supervisor for the homeboard dashboard",
		Long: `deploywatch polls a git remote for new revisions of the dashboard,
updates the working copy when the tracked branch moves, restarts the server,
and verifies the new revision against the health endpoint. A deploy that
fails its health checks is rolled back to the previously verified revision.

Every flag can also be set through the environment with the HOMEBOARD_
prefix (e.g., HOMEBOARD_HEALTH_RETRIES=3).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := deploy.Config{
				RepoDir:        v.GetString("repo"),
				Branch:         v.GetString("branch"),
				PollInterval:   v.GetDuration("interval"),
				HealthURL:      v.GetString("health-url"),
				HealthRetries:  v.GetInt("health-retries"),
				HealthDelay:    v.GetDuration("health-delay"),
				RestartCommand: v.GetStringSlice("restart-cmd"),
				ReloadURL:      v.GetString("reload-url"),
			}
			if cfg.RepoDir == "" {
				return errors.New("--repo is required")
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return deploy.New(cfg, logger).Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.String("repo", "", "path to the dashboard working copy (required)")
	flags.String("branch", deploy.DefaultBranch, "remote branch to track")
	flags.Duration("interval", deploy.DefaultPollInterval, "remote poll interval")
	flags.String("health-url", "http://127.0.0.1:9753/health", "dashboard health endpoint")
	flags.Int("health-retries", deploy.DefaultHealthRetries, "health check attempts per deploy")
	flags.Duration("health-delay", deploy.DefaultHealthDelay, "delay between health check attempts")
	flags.StringSlice("restart-cmd", nil, "command that restarts the dashboard process")
	flags.String("reload-url", "http://127.0.0.1:9753/api/trigger-refresh", "endpoint that broadcasts a client reload")

	v.SetEnvPrefix("HOMEBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	cobra.CheckErr(v.BindPFlags(flags))

	return cmd
}
