package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/persistence"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var bootstrap bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the backup module migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, err := root.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			pool, err := connectDB(ctx, root.dsn)
			if err != nil {
				return err
			}
			defer pool.Close()

			if bootstrap {
				if err := persistence.Bootstrap(ctx, pool, catalog.Workshop()); err != nil {
					return withCode(exitDBWrite, fmt.Errorf("bootstrap schema: %w", err))
				}
			}
			if err := persistence.Migrate(ctx, pool, logger); err != nil {
				return withCode(exitDBWrite, fmt.Errorf("migrate: %w", err))
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"status": "migrated", "bootstrap": bootstrap})
		},
	}
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "Also create the workshop tables (development databases)")
	return cmd
}
