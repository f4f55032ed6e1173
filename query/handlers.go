package query

import (
	"context"

	"github.com/goliatone/go-mantis/core"
)

type ReconciliationReader interface {
	GetReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationRecord, error)
}

type WebhookDeliveryReader interface {
	GetWebhookDelivery(ctx context.Context, deliveryID string) (core.WebhookDelivery, error)
	ListWebhookDeliveries(ctx context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error)
}

type GetReconciliationQuery struct {
	reader ReconciliationReader
}

func NewGetReconciliationQuery(reader ReconciliationReader) *GetReconciliationQuery {
	return &GetReconciliationQuery{reader: reader}
}

func (q *GetReconciliationQuery) Query(ctx context.Context, msg GetReconciliationMessage) (core.ReconciliationRecord, error) {
	if q == nil || q.reader == nil {
		return core.ReconciliationRecord{}, core.DependencyMissingError("query", "reconciliation reader")
	}
	return q.reader.GetReconciliation(ctx, msg.ReconciliationID)
}

type GetWebhookDeliveryQuery struct {
	reader WebhookDeliveryReader
}

func NewGetWebhookDeliveryQuery(reader WebhookDeliveryReader) *GetWebhookDeliveryQuery {
	return &GetWebhookDeliveryQuery{reader: reader}
}

func (q *GetWebhookDeliveryQuery) Query(ctx context.Context, msg GetWebhookDeliveryMessage) (core.WebhookDelivery, error) {
	if q == nil || q.reader == nil {
		return core.WebhookDelivery{}, core.DependencyMissingError("query", "webhook delivery reader")
	}
	return q.reader.GetWebhookDelivery(ctx, msg.DeliveryID)
}

type ListWebhookDeliveriesQuery struct {
	reader WebhookDeliveryReader
}

func NewListWebhookDeliveriesQuery(reader WebhookDeliveryReader) *ListWebhookDeliveriesQuery {
	return &ListWebhookDeliveriesQuery{reader: reader}
}

func (q *ListWebhookDeliveriesQuery) Query(
	ctx context.Context,
	msg ListWebhookDeliveriesMessage,
) (core.DeliveryPage, error) {
	if q == nil || q.reader == nil {
		return core.DeliveryPage{}, core.DependencyMissingError("query", "webhook delivery reader")
	}
	return q.reader.ListWebhookDeliveries(ctx, msg.Filter)
}
