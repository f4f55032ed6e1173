package core

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

// serviceDeps collects what options inject. Service embeds it once NewService
// has filled the gaps, so handlers read s.deliveryStore and friends directly.
type serviceDeps struct {
	runtimeConfig       Config
	logger              Logger
	loggerProvider      LoggerProvider
	metricsRecorder     MetricsRecorder
	errorFactory        ErrorFactory
	errorMapper         ErrorMapper
	persistenceClient   any
	repositoryFactory   RepositoryStoreFactory
	configProvider      ConfigProvider
	optionsResolver     OptionsResolver
	signer              PayloadSigner
	sender              DeliverySender
	policy              PolicyEvaluator
	reconciliationStore ReconciliationStore
	paymentLedger       PaymentLedger
	subscriptionStore   WebhookSubscriptionStore
	deliveryStore       WebhookDeliveryStore
	now                 func() time.Time
}

type Option func(*serviceDeps)

func WithLogger(logger Logger) Option {
	return func(d *serviceDeps) { d.logger = logger }
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(d *serviceDeps) { d.loggerProvider = provider }
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(d *serviceDeps) { d.metricsRecorder = recorder }
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(d *serviceDeps) { d.errorFactory = factory }
}

// WithErrorMapper replaces the mapping of store and domain errors onto the
// go-errors envelope returned by every service method.
func WithErrorMapper(mapper ErrorMapper) Option {
	return func(d *serviceDeps) { d.errorMapper = mapper }
}

// WithPersistenceClient hands the repository factory the client its stores
// are built from, usually a *bun.DB.
func WithPersistenceClient(client any) Option {
	return func(d *serviceDeps) { d.persistenceClient = client }
}

func WithRepositoryFactory(factory RepositoryStoreFactory) Option {
	return func(d *serviceDeps) { d.repositoryFactory = factory }
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(d *serviceDeps) { d.configProvider = provider }
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(d *serviceDeps) { d.optionsResolver = resolver }
}

func WithSigner(signer PayloadSigner) Option {
	return func(d *serviceDeps) { d.signer = signer }
}

func WithDeliverySender(sender DeliverySender) Option {
	return func(d *serviceDeps) { d.sender = sender }
}

func WithPolicy(policy PolicyEvaluator) Option {
	return func(d *serviceDeps) { d.policy = policy }
}

// Explicit stores win over the ones a repository factory builds.

func WithReconciliationStore(store ReconciliationStore) Option {
	return func(d *serviceDeps) { d.reconciliationStore = store }
}

func WithPaymentLedger(ledger PaymentLedger) Option {
	return func(d *serviceDeps) { d.paymentLedger = ledger }
}

func WithWebhookSubscriptionStore(store WebhookSubscriptionStore) Option {
	return func(d *serviceDeps) { d.subscriptionStore = store }
}

func WithWebhookDeliveryStore(store WebhookDeliveryStore) Option {
	return func(d *serviceDeps) { d.deliveryStore = store }
}

func WithClock(now func() time.Time) Option {
	return func(d *serviceDeps) { d.now = now }
}

// fillDefaults replaces every unset collaborator. Options may pass nil to
// reset one, so this runs after all options.
func (d *serviceDeps) fillDefaults() {
	provider, logger := glog.Resolve("mantis", d.loggerProvider, d.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("mantis"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	d.loggerProvider, d.logger = provider, logger

	if d.metricsRecorder == nil {
		d.metricsRecorder = NopMetricsRecorder{}
	}
	if d.errorFactory == nil {
		d.errorFactory = goerrors.New
	}
	if d.errorMapper == nil {
		d.errorMapper = serviceErrorMapper
	}
	if d.configProvider == nil {
		d.configProvider = NewCfgxConfigProvider(nil)
	}
	if d.optionsResolver == nil {
		d.optionsResolver = GoOptionsResolver{}
	}
	if d.signer == nil {
		d.signer = HMACSigner{}
	}
	if d.policy == nil {
		d.policy = DefaultRolePolicy()
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
}

// attachStores fills stores from the repository factory where no explicit
// store was given.
func (d *serviceDeps) attachStores() error {
	if d.repositoryFactory == nil {
		return nil
	}
	stores, err := d.repositoryFactory.BuildStores(d.persistenceClient)
	if err != nil || stores == nil {
		return err
	}
	if d.reconciliationStore == nil {
		d.reconciliationStore = stores.ReconciliationStore()
	}
	if d.paymentLedger == nil {
		d.paymentLedger = stores.PaymentLedger()
	}
	if d.subscriptionStore == nil {
		d.subscriptionStore = stores.WebhookSubscriptionStore()
	}
	if d.deliveryStore == nil {
		d.deliveryStore = stores.WebhookDeliveryStore()
	}
	return nil
}
