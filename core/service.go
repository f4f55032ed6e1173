package core

import (
	"context"
	"fmt"
	"strings"
)

// Service is the mantis application facade. It owns the reconciliation
// calculator and the webhook dispatcher and routes every operation through
// authorization, error mapping and observability.
type Service struct {
	serviceDeps
	config     Config
	calculator *ReconciliationCalculator
	dispatcher *WebhookDispatcher
}

// ServiceDependencies is a read-only view of what the service was built with.
type ServiceDependencies struct {
	Logger              Logger
	LoggerProvider      LoggerProvider
	MetricsRecorder     MetricsRecorder
	ErrorFactory        ErrorFactory
	ErrorMapper         ErrorMapper
	PersistenceClient   any
	RepositoryFactory   RepositoryStoreFactory
	ConfigProvider      ConfigProvider
	OptionsResolver     OptionsResolver
	Signer              PayloadSigner
	Sender              DeliverySender
	Policy              PolicyEvaluator
	ReconciliationStore ReconciliationStore
	PaymentLedger       PaymentLedger
	SubscriptionStore   WebhookSubscriptionStore
	DeliveryStore       WebhookDeliveryStore
}

// NewService resolves config as defaults < provider < cfg and wires the
// calculator and dispatcher when their stores are present. A service without
// them still answers, failing the affected operations as not configured.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	deps := serviceDeps{runtimeConfig: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}
	deps.fillDefaults()

	defaults := DefaultConfig()
	loaded, err := deps.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(deps.errorMapper, err)
	}
	resolved, err := deps.optionsResolver.Resolve(defaults, loaded, deps.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(deps.errorMapper, err)
	}
	if err := deps.attachStores(); err != nil {
		return nil, mapBuildError(deps.errorMapper, err)
	}

	svc := &Service{serviceDeps: deps, config: resolved}
	if err := svc.wireEngines(); err != nil {
		return nil, mapBuildError(deps.errorMapper, err)
	}
	return svc, nil
}

func (s *Service) wireEngines() error {
	if s.reconciliationStore != nil && s.paymentLedger != nil {
		calculator, err := NewReconciliationCalculator(s.reconciliationStore, s.paymentLedger, s.config.Reconciliation)
		if err != nil {
			return err
		}
		calculator.now = s.now
		s.calculator = calculator
	}
	if s.deliveryStore != nil && s.subscriptionStore != nil && s.sender != nil {
		dispatcher, err := NewWebhookDispatcher(s.deliveryStore, s.subscriptionStore, s.sender, s.config.Webhooks,
			WithDispatcherSigner(s.signer),
			WithDispatcherLogger(s.logger),
			WithDispatcherMetrics(s.metricsRecorder),
			WithDispatcherClock(s.now),
		)
		if err != nil {
			return err
		}
		s.dispatcher = dispatcher
	}
	return nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// ApplyWebhookConfig re-applies dispatcher settings after a config reload.
func (s *Service) ApplyWebhookConfig(cfg WebhookConfig) error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.UpdateConfig(cfg); err != nil {
			return s.mapError(err)
		}
	}
	s.config.Webhooks = cfg.Normalized()
	return nil
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:              s.logger,
		LoggerProvider:      s.loggerProvider,
		MetricsRecorder:     s.metricsRecorder,
		ErrorFactory:        s.errorFactory,
		ErrorMapper:         s.errorMapper,
		PersistenceClient:   s.persistenceClient,
		RepositoryFactory:   s.repositoryFactory,
		ConfigProvider:      s.configProvider,
		OptionsResolver:     s.optionsResolver,
		Signer:              s.signer,
		Sender:              s.sender,
		Policy:              s.policy,
		ReconciliationStore: s.reconciliationStore,
		PaymentLedger:       s.paymentLedger,
		SubscriptionStore:   s.subscriptionStore,
		DeliveryStore:       s.deliveryStore,
	}
}

// Authorize evaluates the configured policy and returns a permission error on denial.
func (s *Service) Authorize(ctx context.Context, actor Actor, action Action, resource Resource) error {
	if s == nil || s.policy == nil {
		return PermissionDeniedError(action, resource)
	}
	if !s.policy.Can(ctx, actor, action, resource) {
		s.logWithLevel(ctx, "warn", "permission denied", map[string]any{
			"actor_id":      strings.TrimSpace(actor.ID),
			"actor_role":    strings.TrimSpace(actor.Role),
			"action":        string(action),
			"resource_kind": resource.Kind,
			"resource_id":   resource.ID,
		})
		return PermissionDeniedError(action, resource)
	}
	return nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil {
		return err
	}
	return mapBuildError(s.errorMapper, err)
}

func (s *Service) notConfigured(component string) error {
	return s.mapError(fmt.Errorf("core: %s is not configured", component))
}
