package gocommand

import (
	"context"
	"fmt"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	mantiscommand "github.com/goliatone/go-mantis/command"
	"github.com/goliatone/go-mantis/core"
	"github.com/goliatone/go-mantis/query"
)

// Service is everything the bus routes messages to.
type Service interface {
	mantiscommand.MutatingService
	query.ReconciliationReader
	query.WebhookDeliveryReader
}

type BusOption func(*busConfig)

type busConfig struct {
	registry      *command.Registry
	queueRegistry *jobqueuecommand.Registry
	publisher     mantiscommand.EventPublisher
	logger        core.Logger
	runnerOpts    []runner.Option
}

func WithCommandRegistry(registry *command.Registry) BusOption {
	return func(cfg *busConfig) {
		cfg.registry = registry
	}
}

// WithQueueRegistry mirrors the registered commands into a go-job queue
// registry so they can be scheduled as jobs.
func WithQueueRegistry(registry *jobqueuecommand.Registry) BusOption {
	return func(cfg *busConfig) {
		cfg.queueRegistry = registry
	}
}

func WithCalculatedEventPublisher(publisher mantiscommand.EventPublisher, logger core.Logger) BusOption {
	return func(cfg *busConfig) {
		cfg.publisher = publisher
		cfg.logger = logger
	}
}

func WithRunnerOptions(opts ...runner.Option) BusOption {
	return func(cfg *busConfig) {
		cfg.runnerOpts = append(cfg.runnerOpts, opts...)
	}
}

// Bus owns the dispatcher subscriptions for every mantis command and query.
type Bus struct {
	reg *registrar
}

func NewBus(service Service, opts ...BusOption) (*Bus, error) {
	if service == nil {
		return nil, fmt.Errorf("gocommand: mantis service is required")
	}
	cfg := busConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	bus := &Bus{reg: newRegistrar(cfg.registry, cfg.runnerOpts)}
	if cfg.queueRegistry != nil {
		if err := bus.reg.mirrorToQueue(cfg.queueRegistry); err != nil {
			return nil, err
		}
	}

	calculate := mantiscommand.NewCalculateReconciliationCommand(service)
	if cfg.publisher != nil {
		calculate.WithCalculatedEvents(service, cfg.publisher, cfg.logger)
	}

	reg := bus.reg
	handlers := []func() error{
		func() error { return handleCommand[mantiscommand.CalculateReconciliationMessage](reg, calculate) },
		func() error {
			return handleCommand[mantiscommand.ProcessPendingWebhooksMessage](reg, mantiscommand.NewProcessPendingWebhooksCommand(service))
		},
		func() error {
			return handleCommand[mantiscommand.PublishWebhookEventMessage](reg, mantiscommand.NewPublishWebhookEventCommand(service))
		},
		func() error {
			return handleCommand[mantiscommand.RedeliverWebhookMessage](reg, mantiscommand.NewRedeliverWebhookCommand(service))
		},
		func() error {
			return handleCommand[mantiscommand.CreateWebhookSubscriptionMessage](reg, mantiscommand.NewCreateWebhookSubscriptionCommand(service))
		},
		func() error {
			return handleQuery[query.GetReconciliationMessage, core.ReconciliationRecord](reg, query.NewGetReconciliationQuery(service))
		},
		func() error {
			return handleQuery[query.GetWebhookDeliveryMessage, core.WebhookDelivery](reg, query.NewGetWebhookDeliveryQuery(service))
		},
		func() error {
			return handleQuery[query.ListWebhookDeliveriesMessage, core.DeliveryPage](reg, query.NewListWebhookDeliveriesQuery(service))
		},
	}
	for _, register := range handlers {
		if err := register(); err != nil {
			bus.Close()
			return nil, err
		}
	}
	if err := reg.initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) Registry() *command.Registry {
	if b == nil || b.reg == nil {
		return nil
	}
	return b.reg.registry
}

// Close removes every dispatcher subscription held by the bus.
func (b *Bus) Close() {
	if b == nil || b.reg == nil {
		return
	}
	b.reg.close()
}

func (b *Bus) CalculateReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationTotals, error) {
	return dispatchResult[mantiscommand.CalculateReconciliationMessage, core.ReconciliationTotals](ctx,
		mantiscommand.CalculateReconciliationMessage{ReconciliationID: reconciliationID})
}

func (b *Bus) ProcessPendingWebhooks(ctx context.Context) (core.ProcessResult, error) {
	return dispatchResult[mantiscommand.ProcessPendingWebhooksMessage, core.ProcessResult](ctx,
		mantiscommand.ProcessPendingWebhooksMessage{})
}

func (b *Bus) PublishWebhookEvent(ctx context.Context, eventType string, payload []byte) (core.PublishResult, error) {
	return dispatchResult[mantiscommand.PublishWebhookEventMessage, core.PublishResult](ctx,
		mantiscommand.PublishWebhookEventMessage{EventType: eventType, Payload: payload})
}

func (b *Bus) RedeliverWebhook(ctx context.Context, deliveryID string) (core.WebhookDelivery, error) {
	return dispatchResult[mantiscommand.RedeliverWebhookMessage, core.WebhookDelivery](ctx,
		mantiscommand.RedeliverWebhookMessage{DeliveryID: deliveryID})
}

func (b *Bus) CreateWebhookSubscription(ctx context.Context, in core.CreateWebhookInput) (core.WebhookSubscription, error) {
	return dispatchResult[mantiscommand.CreateWebhookSubscriptionMessage, core.WebhookSubscription](ctx,
		mantiscommand.CreateWebhookSubscriptionMessage{Input: in})
}

func (b *Bus) GetReconciliation(ctx context.Context, reconciliationID string) (core.ReconciliationRecord, error) {
	return commanddispatcher.Query[query.GetReconciliationMessage, core.ReconciliationRecord](ctx,
		query.GetReconciliationMessage{ReconciliationID: reconciliationID})
}

func (b *Bus) GetWebhookDelivery(ctx context.Context, deliveryID string) (core.WebhookDelivery, error) {
	return commanddispatcher.Query[query.GetWebhookDeliveryMessage, core.WebhookDelivery](ctx,
		query.GetWebhookDeliveryMessage{DeliveryID: deliveryID})
}

func (b *Bus) ListWebhookDeliveries(ctx context.Context, filter core.DeliveryFilter) (core.DeliveryPage, error) {
	return commanddispatcher.Query[query.ListWebhookDeliveriesMessage, core.DeliveryPage](ctx,
		query.ListWebhookDeliveriesMessage{Filter: filter})
}

var _ Service = (*Bus)(nil)
