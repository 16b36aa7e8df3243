package main

import (
	"context"
	"fmt"

	"github.com/MrEthical07/hrauth/internal/store/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	for _, sub := range []struct {
		use, short string
	}{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the most recent migration"},
		{"status", "Print the migration status"},
	} {
		command := sub.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), opts, command)
			},
		})
	}
	return cmd
}

func runMigrate(ctx context.Context, opts *rootOptions, command string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}

	pool, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.PoolConfig{MaxConns: 2, MinConns: 1})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool, command); err != nil {
		return err
	}
	log.Info().Str("command", command).Msg("migrations done")
	return nil
}
