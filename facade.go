package mantis

import (
	"fmt"

	mantiscommand "github.com/goliatone/go-mantis/command"
	"github.com/goliatone/go-mantis/core"
	mantisquery "github.com/goliatone/go-mantis/query"
	"github.com/goliatone/go-mantis/webhooks"
)

type CommandQueryService interface {
	mantiscommand.MutatingService
	mantisquery.ReconciliationReader
	mantisquery.WebhookDeliveryReader
}

type Commands struct {
	CalculateReconciliation   *mantiscommand.CalculateReconciliationCommand
	ProcessPendingWebhooks    *mantiscommand.ProcessPendingWebhooksCommand
	PublishWebhookEvent       *mantiscommand.PublishWebhookEventCommand
	RedeliverWebhook          *mantiscommand.RedeliverWebhookCommand
	CreateWebhookSubscription *mantiscommand.CreateWebhookSubscriptionCommand
}

type Queries struct {
	GetReconciliation     *mantisquery.GetReconciliationQuery
	GetWebhookDelivery    *mantisquery.GetWebhookDeliveryQuery
	ListWebhookDeliveries *mantisquery.ListWebhookDeliveriesQuery
}

type Facade struct {
	service   CommandQueryService
	publisher *webhooks.Publisher
	commands  Commands
	queries   Queries
	bundles   map[string]any
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	calculatedEvents bool
	logger           core.Logger
	hooks            *ExtensionHooks
}

// WithCalculatedEvents publishes a reconciliation.calculated webhook event
// after every successful calculation.
func WithCalculatedEvents(logger core.Logger) FacadeOption {
	return func(options *facadeOptions) {
		options.calculatedEvents = true
		options.logger = logger
	}
}

// WithExtensionHooks builds the registered command/query bundles against the
// facade service.
func WithExtensionHooks(hooks *ExtensionHooks) FacadeOption {
	return func(options *facadeOptions) {
		options.hooks = hooks
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("mantis: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	publisher, err := webhooks.NewPublisher(service)
	if err != nil {
		return nil, err
	}

	calculate := mantiscommand.NewCalculateReconciliationCommand(service)
	if cfg.calculatedEvents {
		calculate.WithCalculatedEvents(service, publisher, cfg.logger)
	}

	facade := &Facade{service: service, publisher: publisher}
	facade.commands = Commands{
		CalculateReconciliation:   calculate,
		ProcessPendingWebhooks:    mantiscommand.NewProcessPendingWebhooksCommand(service),
		PublishWebhookEvent:       mantiscommand.NewPublishWebhookEventCommand(service),
		RedeliverWebhook:          mantiscommand.NewRedeliverWebhookCommand(service),
		CreateWebhookSubscription: mantiscommand.NewCreateWebhookSubscriptionCommand(service),
	}
	facade.queries = Queries{
		GetReconciliation:     mantisquery.NewGetReconciliationQuery(service),
		GetWebhookDelivery:    mantisquery.NewGetWebhookDeliveryQuery(service),
		ListWebhookDeliveries: mantisquery.NewListWebhookDeliveriesQuery(service),
	}
	if cfg.hooks != nil {
		bundles, err := cfg.hooks.BuildCommandQueryBundles(service)
		if err != nil {
			return nil, err
		}
		facade.bundles = bundles
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Publisher fans typed domain events out to the facade service.
func (f *Facade) Publisher() *webhooks.Publisher {
	if f == nil {
		return nil
	}
	return f.publisher
}

func (f *Facade) Bundle(name string) (any, bool) {
	if f == nil || f.bundles == nil {
		return nil, false
	}
	bundle, ok := f.bundles[name]
	return bundle, ok
}
