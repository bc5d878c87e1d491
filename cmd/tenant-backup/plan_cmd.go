package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/services"
)

func newPlanCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the order in which a replace import deletes tenant data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSONLine(cmd.OutOrStdout(), services.Plan(catalog.Workshop()))
		},
	}
}
