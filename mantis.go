package mantis

import (
	"github.com/goliatone/go-mantis/core"
	"github.com/goliatone/go-mantis/transport"
)

type Config = core.Config

type ReconciliationConfig = core.ReconciliationConfig

type WebhookConfig = core.WebhookConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type ReconciliationStore = core.ReconciliationStore
type PaymentLedger = core.PaymentLedger
type WebhookSubscriptionStore = core.WebhookSubscriptionStore
type WebhookDeliveryStore = core.WebhookDeliveryStore
type DeliverySender = core.DeliverySender
type PayloadSigner = core.PayloadSigner
type PolicyEvaluator = core.PolicyEvaluator

type ReconciliationTotals = core.ReconciliationTotals

type DeliveryResult = core.DeliveryResult

type ProcessResult = core.ProcessResult

var (
	WithLogger                   = core.WithLogger
	WithLoggerProvider           = core.WithLoggerProvider
	WithMetricsRecorder          = core.WithMetricsRecorder
	WithErrorFactory             = core.WithErrorFactory
	WithErrorMapper              = core.WithErrorMapper
	WithPersistenceClient        = core.WithPersistenceClient
	WithRepositoryFactory        = core.WithRepositoryFactory
	WithConfigProvider           = core.WithConfigProvider
	WithOptionsResolver          = core.WithOptionsResolver
	WithSigner                   = core.WithSigner
	WithDeliverySender           = core.WithDeliverySender
	WithPolicy                   = core.WithPolicy
	WithReconciliationStore      = core.WithReconciliationStore
	WithPaymentLedger            = core.WithPaymentLedger
	WithWebhookSubscriptionStore = core.WithWebhookSubscriptionStore
	WithWebhookDeliveryStore     = core.WithWebhookDeliveryStore
	WithClock                    = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// Setup builds a service that delivers webhooks over HTTP unless an option
// supplies another sender.
func Setup(cfg Config, opts ...Option) (*Service, error) {
	withDefaults := append([]Option{WithDeliverySender(DefaultDeliverySender())}, opts...)
	return core.Setup(cfg, withDefaults...)
}

// DefaultDeliverySender is the REST transport wrapped by the given
// interceptors, first one outermost.
func DefaultDeliverySender(interceptors ...transport.Interceptor) DeliverySender {
	return transport.Chain(transport.NewHTTPSender(nil), interceptors...)
}
