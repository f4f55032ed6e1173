package query

import (
	"strings"

	"github.com/goliatone/go-mantis/core"
)

const (
	TypeGetReconciliation     = "mantis.query.reconciliation.get"
	TypeGetWebhookDelivery    = "mantis.query.webhooks.delivery.get"
	TypeListWebhookDeliveries = "mantis.query.webhooks.delivery.list"
)

type GetReconciliationMessage struct {
	ReconciliationID string
}

func (GetReconciliationMessage) Type() string { return TypeGetReconciliation }

func (m GetReconciliationMessage) Validate() error {
	if strings.TrimSpace(m.ReconciliationID) == "" {
		return core.FieldValidationError("query", "reconciliation_id", "reconciliation id is required")
	}
	return nil
}

type GetWebhookDeliveryMessage struct {
	DeliveryID string
}

func (GetWebhookDeliveryMessage) Type() string { return TypeGetWebhookDelivery }

func (m GetWebhookDeliveryMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return core.FieldValidationError("query", "delivery_id", "delivery id is required")
	}
	return nil
}

type ListWebhookDeliveriesMessage struct {
	Filter core.DeliveryFilter
}

func (ListWebhookDeliveriesMessage) Type() string { return TypeListWebhookDeliveries }

func (m ListWebhookDeliveriesMessage) Validate() error {
	if m.Filter.Page < 0 || m.Filter.PerPage < 0 {
		return core.FieldValidationError("query", "page", "page and per_page must not be negative")
	}
	if strings.TrimSpace(string(m.Filter.Status)) == "" {
		return nil
	}
	_, err := core.ParseDeliveryStatus(string(m.Filter.Status))
	return core.InvalidInputError(err, "query: invalid delivery status filter")
}
