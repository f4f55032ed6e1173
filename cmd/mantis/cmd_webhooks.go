package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newWebhooksCmd(global *globalOptions) *cobra.Command {
	webhooksCmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Operate the webhook delivery dispatcher",
	}
	webhooksCmd.AddCommand(newWebhooksProcessCmd(global))
	webhooksCmd.AddCommand(newWebhooksRedeliverCmd(global))
	return webhooksCmd
}

func newWebhooksProcessCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one dispatcher pass over pending and retrying deliveries",
		Long: `Claims up to webhooks.batch_size due deliveries, posts each signed payload and
records the outcome. Individual delivery failures are reported in the results
and do not make the command fail; only a failed batch claim does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApplication(cmd.Context(), *global, appOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.bus.ProcessPendingWebhooks(cmd.Context())
			if err != nil {
				return fmt.Errorf("webhooks process: %w", err)
			}
			return writeIndentedJSON(cmd, result)
		},
	}
}

func newWebhooksRedeliverCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redeliver <delivery-id>",
		Short: "Move a failed delivery back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(cmd.Context(), *global, appOptions{})
			if err != nil {
				return err
			}
			defer app.Close()

			delivery, err := app.bus.RedeliverWebhook(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("webhooks redeliver %s: %w", args[0], err)
			}
			return writeIndentedJSON(cmd, map[string]any{
				"id":            delivery.ID,
				"status":        delivery.Status,
				"attempt_count": delivery.AttemptCount,
			})
		},
	}
}

func writeIndentedJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
