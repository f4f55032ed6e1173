package sqlstore

import "github.com/goliatone/go-mantis/core"

var (
	_ core.ReconciliationStore      = (*ReconciliationStore)(nil)
	_ core.PaymentLedger            = (*PaymentLedgerStore)(nil)
	_ core.WebhookSubscriptionStore = (*WebhookSubscriptionStore)(nil)
	_ core.WebhookSubscriptionStore = (*CachedWebhookSubscriptionStore)(nil)
	_ core.WebhookDeliveryStore     = (*WebhookDeliveryStore)(nil)
	_ core.StoreProvider            = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory   = (*RepositoryFactory)(nil)
)
