package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-mantis/core"
	"github.com/goliatone/go-mantis/webhooks"
)

type MutatingService interface {
	CalculateReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationTotals, error)
	ProcessPendingWebhooks(ctx context.Context) (core.ProcessResult, error)
	PublishWebhookEvent(ctx context.Context, eventType string, payload []byte) (core.PublishResult, error)
	RedeliverWebhook(ctx context.Context, deliveryID string) (core.WebhookDelivery, error)
	CreateWebhookSubscription(ctx context.Context, in core.CreateWebhookInput) (core.WebhookSubscription, error)
}

type ReconciliationReader interface {
	GetReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationRecord, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event webhooks.Event) (core.PublishResult, error)
}

type CalculateReconciliationCommand struct {
	service   MutatingService
	reader    ReconciliationReader
	publisher EventPublisher
	logger    core.Logger
}

func NewCalculateReconciliationCommand(service MutatingService) *CalculateReconciliationCommand {
	return &CalculateReconciliationCommand{service: service}
}

// WithCalculatedEvents announces every successful calculation as a
// reconciliation.calculated webhook event. Publish failures are logged and do
// not fail the command.
func (c *CalculateReconciliationCommand) WithCalculatedEvents(
	reader ReconciliationReader,
	publisher EventPublisher,
	logger core.Logger,
) *CalculateReconciliationCommand {
	if c == nil {
		return nil
	}
	c.reader = reader
	c.publisher = publisher
	c.logger = logger
	return c
}

func (c *CalculateReconciliationCommand) Execute(ctx context.Context, msg CalculateReconciliationMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyMissingError("command", "reconciliation service")
	}
	totals, err := c.service.CalculateReconciliation(ctx, msg.ReconciliationID)
	if err != nil {
		return err
	}
	storeResult(ctx, totals)
	c.announce(ctx, msg.ReconciliationID, totals)
	return nil
}

func (c *CalculateReconciliationCommand) announce(ctx context.Context, reconciliationID string, totals core.ReconciliationTotals) {
	if c.reader == nil || c.publisher == nil {
		return
	}
	record, err := c.reader.GetReconciliation(ctx, reconciliationID)
	if err == nil {
		_, err = c.publisher.Publish(ctx, webhooks.NewReconciliationCalculated(record, totals))
	}
	if err != nil && c.logger != nil {
		c.logger.Warn("reconciliation event publish failed",
			"reconciliation_id", reconciliationID,
			"error", err.Error(),
		)
	}
}

type ProcessPendingWebhooksCommand struct {
	service MutatingService
}

func NewProcessPendingWebhooksCommand(service MutatingService) *ProcessPendingWebhooksCommand {
	return &ProcessPendingWebhooksCommand{service: service}
}

func (c *ProcessPendingWebhooksCommand) Execute(ctx context.Context, _ ProcessPendingWebhooksMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyMissingError("command", "webhook service")
	}
	out, err := c.service.ProcessPendingWebhooks(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PublishWebhookEventCommand struct {
	service MutatingService
}

func NewPublishWebhookEventCommand(service MutatingService) *PublishWebhookEventCommand {
	return &PublishWebhookEventCommand{service: service}
}

func (c *PublishWebhookEventCommand) Execute(ctx context.Context, msg PublishWebhookEventMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyMissingError("command", "webhook service")
	}
	out, err := c.service.PublishWebhookEvent(ctx, msg.EventType, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RedeliverWebhookCommand struct {
	service MutatingService
}

func NewRedeliverWebhookCommand(service MutatingService) *RedeliverWebhookCommand {
	return &RedeliverWebhookCommand{service: service}
}

func (c *RedeliverWebhookCommand) Execute(ctx context.Context, msg RedeliverWebhookMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyMissingError("command", "webhook service")
	}
	out, err := c.service.RedeliverWebhook(ctx, msg.DeliveryID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateWebhookSubscriptionCommand struct {
	service MutatingService
}

func NewCreateWebhookSubscriptionCommand(service MutatingService) *CreateWebhookSubscriptionCommand {
	return &CreateWebhookSubscriptionCommand{service: service}
}

func (c *CreateWebhookSubscriptionCommand) Execute(ctx context.Context, msg CreateWebhookSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyMissingError("command", "webhook service")
	}
	out, err := c.service.CreateWebhookSubscription(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
