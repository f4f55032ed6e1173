package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded settlement schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApplication(cmd.Context(), *global, appOptions{migrate: true})
			if err != nil {
				return err
			}
			defer app.Close()
			app.logger.Info("migrations applied", "driver", app.config.Database.Driver)
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", app.config.Database.Driver)
			return nil
		},
	}
}
