package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <reconciliation-id>",
		Short: "Calculate and persist totals for one reconciliation record",
		Long: `Sums completed payments and refunds for the record's day (and agency, when
scoped), overwrites the stored totals and announces a reconciliation.calculated
webhook event. Prints the totals as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context(), *global, appOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			totals, err := app.bus.CalculateReconciliation(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", args[0], err)
			}
			return writeIndentedJSON(cmd, map[string]any{"totals": totals})
		},
	}
}
