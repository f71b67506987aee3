package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	"github.com/smallbiznis/reviewdesk/internal/ledger"
	"github.com/smallbiznis/reviewdesk/internal/migration"
	"github.com/smallbiznis/reviewdesk/internal/observability"
	"github.com/smallbiznis/reviewdesk/internal/redis"
	"github.com/smallbiznis/reviewdesk/internal/scheduler"
	"github.com/smallbiznis/reviewdesk/internal/server"
	"github.com/smallbiznis/reviewdesk/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "reviewdesk",
		Short:   "Review reply service with metered AI credits",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newSchedulerCmd(), newRolloverCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(2*time.Minute, migration.Module)
		},
	}
}

func newServeCmd() *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{
				migration.Module,
				redis.Module,
				server.Module,
			}
			if withScheduler {
				opts = append(opts, scheduler.Module, scheduler.RunLoop)
			}
			fx.New(append(coreModules(), opts...)...).Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", true, "run the cycle rollover loop in-process")
	return cmd
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the cycle rollover loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(append(coreModules(),
				ledger.Module,
				scheduler.Module,
				scheduler.RunLoop,
			)...).Run()
			return nil
		},
	}
}

func newRolloverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Reset every pool whose cycle has ended, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(timeout,
				ledger.Module,
				scheduler.Module,
				fx.Invoke(func(lc fx.Lifecycle, sched *scheduler.Scheduler) {
					lc.Append(fx.Hook{
						OnStart: func(ctx context.Context) error {
							return sched.RunOnce(ctx)
						},
					})
				}),
			)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "upper bound for the whole run")
	return cmd
}

func coreModules() []fx.Option {
	return []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
	}
}

// runOnce starts an app for its OnStart side effects and stops it again.
func runOnce(timeout time.Duration, opts ...fx.Option) error {
	app := fx.New(append(coreModules(), opts...)...)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(context.Background())
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
