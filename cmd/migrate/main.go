package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jrmce/VersionLifecycle-sub000/internal/app/migrate"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/config"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or inspect the version lifecycle schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), timeout, "up", func(ctx context.Context, runner migrate.Runner) error {
				return runner.Ensure(ctx)
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), timeout, "status", func(ctx context.Context, runner migrate.Runner) error {
				migrations, err := runner.Status(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), migrations)
				return nil
			})
		},
	})

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration, or down to --target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), timeout, "down", func(ctx context.Context, runner migrate.Runner) error {
				return runner.Down(ctx, target)
			})
		},
	}
	down.Flags().Int64Var(&target, "target", 0, "target version (optional)")
	root.AddCommand(down)
	return root
}

func withRunner(parent context.Context, timeout time.Duration, command string, fn func(context.Context, migrate.Runner) error) error {
	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return err
	}
	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		log.Error("failed to configure migration runner", "error", err)
		return err
	}
	defer runner.Close()

	if err := fn(ctx, runner); err != nil {
		log.Error("migration command failed", "command", command, "error", err)
		return fmt.Errorf("%s: %w", command, err)
	}
	log.Info("migration command completed", "command", command)
	return nil
}

func printStatus(w io.Writer, migrations []migrate.Migration) {
	for _, m := range migrations {
		state := "pending"
		if m.Applied {
			state = "applied " + m.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%05d\t%s\t%s\n", m.Version, state, m.Path)
	}
}
