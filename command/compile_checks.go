package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[CalculateReconciliationMessage]   = (*CalculateReconciliationCommand)(nil)
	_ gocmd.Commander[ProcessPendingWebhooksMessage]    = (*ProcessPendingWebhooksCommand)(nil)
	_ gocmd.Commander[PublishWebhookEventMessage]       = (*PublishWebhookEventCommand)(nil)
	_ gocmd.Commander[RedeliverWebhookMessage]          = (*RedeliverWebhookCommand)(nil)
	_ gocmd.Commander[CreateWebhookSubscriptionMessage] = (*CreateWebhookSubscriptionCommand)(nil)
)
