package command

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-mantis/core"
)

const (
	TypeCalculateReconciliation   = "mantis.command.reconciliation.calculate"
	TypeProcessPendingWebhooks    = "mantis.command.webhooks.process"
	TypePublishWebhookEvent       = "mantis.command.webhooks.publish"
	TypeRedeliverWebhook          = "mantis.command.webhooks.redeliver"
	TypeCreateWebhookSubscription = "mantis.command.webhooks.subscription.create"
)

type CalculateReconciliationMessage struct {
	ReconciliationID string
}

func (CalculateReconciliationMessage) Type() string { return TypeCalculateReconciliation }

func (m CalculateReconciliationMessage) Validate() error {
	if strings.TrimSpace(m.ReconciliationID) == "" {
		return core.FieldValidationError("command", "reconciliation_id", "reconciliation id is required")
	}
	return nil
}

type ProcessPendingWebhooksMessage struct{}

func (ProcessPendingWebhooksMessage) Type() string { return TypeProcessPendingWebhooks }

func (ProcessPendingWebhooksMessage) Validate() error { return nil }

type PublishWebhookEventMessage struct {
	EventType string
	Payload   []byte
}

func (PublishWebhookEventMessage) Type() string { return TypePublishWebhookEvent }

func (m PublishWebhookEventMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return core.FieldValidationError("command", "event_type", "event type is required")
	}
	if !json.Valid(m.Payload) {
		return core.FieldValidationError("command", "payload", "payload must be valid json")
	}
	return nil
}

type RedeliverWebhookMessage struct {
	DeliveryID string
}

func (RedeliverWebhookMessage) Type() string { return TypeRedeliverWebhook }

func (m RedeliverWebhookMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return core.FieldValidationError("command", "delivery_id", "delivery id is required")
	}
	return nil
}

type CreateWebhookSubscriptionMessage struct {
	Input core.CreateWebhookInput
}

func (CreateWebhookSubscriptionMessage) Type() string { return TypeCreateWebhookSubscription }

func (m CreateWebhookSubscriptionMessage) Validate() error {
	return core.InvalidInputError(m.Input.Validate(), "command: invalid webhook subscription")
}
