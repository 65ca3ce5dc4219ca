package main

import (
	"fmt"

	pg "policy-brief-pipeline/internal/infra/db/postgres"
	"policy-brief-pipeline/internal/infra/logging"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := pg.NewPgxPool(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()
			defer logging.TraceDuration(logger, "migrate")()
			return pg.Migrate(ctx, pool, logger)
		},
	}
}
