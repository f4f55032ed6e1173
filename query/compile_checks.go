package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-mantis/core"
)

var (
	_ gocmd.Querier[GetReconciliationMessage, core.ReconciliationRecord] = (*GetReconciliationQuery)(nil)
	_ gocmd.Querier[GetWebhookDeliveryMessage, core.WebhookDelivery]     = (*GetWebhookDeliveryQuery)(nil)
	_ gocmd.Querier[ListWebhookDeliveriesMessage, core.DeliveryPage]     = (*ListWebhookDeliveriesQuery)(nil)
)
